package api

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Minimal GraphQL-like HTTP handler for demo purposes.
// Supports queries:
// - solutions: list solve history for tenant
// - solution(id: $id): get one solution by id
// Variables may contain {"id":"..."}
func (s *Server) GraphQLHTTPHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Query     string         `json:"query"`
		Variables map[string]any `json:"variables"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	q := strings.ToLower(body.Query)
	_, tenant := s.withTenant(r)
	switch {
	case strings.Contains(q, "solution("):
		id := ""
		if body.Variables != nil {
			if v, ok := body.Variables["id"].(string); ok {
				id = v
			}
		}
		if id == "" {
			writeProblem(w, http.StatusBadRequest, "Missing id", "", r.URL.Path)
			return
		}
		rec, err := s.Store.GetSolution(r.Context(), tenant, id)
		if err != nil {
			writeProblem(w, http.StatusNotFound, "Not Found", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"solution": rec}})
	case strings.Contains(q, "solutions"):
		items, next, err := s.Store.ListSolutions(r.Context(), tenant, "", "", 100)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List solutions failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"solutions": items, "nextCursor": next}})
	default:
		writeProblem(w, http.StatusBadRequest, "Unsupported query", "", r.URL.Path)
	}
}
