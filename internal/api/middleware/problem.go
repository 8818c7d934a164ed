package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// writeProblem writes an RFC 7807 problem response without importing the
// api package.
func writeProblem(w http.ResponseWriter, r *http.Request, status int, title, detail, correlationID string) error {
	problem := map[string]any{
		"type":           fmt.Sprintf("https://triage.io/problems/%d", status),
		"title":          title,
		"status":         status,
		"detail":         detail,
		"instance":       r.URL.Path,
		"correlation_id": correlationID,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	return json.NewEncoder(w).Encode(problem)
}
