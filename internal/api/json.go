package api

import (
	"encoding/json"
	"net/http"
)

// Problem is the RFC 7807 error body every non-2xx response uses.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func encode(w http.ResponseWriter, contentType string, status int, v any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	encode(w, "application/json", status, v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	encode(w, "application/problem+json", status, Problem{
		Type:     "about:blank",
		Status:   status,
		Title:    title,
		Detail:   detail,
		Instance: instance,
	})
}
