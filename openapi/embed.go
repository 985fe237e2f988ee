// Package openapi carries the API contract so release builds can serve
// it without a working directory dependency.
package openapi

import _ "embed"

//go:embed openapi.yaml
var Spec []byte
