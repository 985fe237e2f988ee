//go:build embed_openapi

package api

import "fleetroute/openapi"

// openAPILoad returns the document compiled into the binary.
func openAPILoad() ([]byte, error) { return openapi.Spec, nil }
