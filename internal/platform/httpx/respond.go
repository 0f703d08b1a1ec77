// Package httpx provides the JSON response envelope shared by all document
// endpoints: {"success": true, ...} on 2xx, {"success": false, "error": ...}
// plus machine-readable fields on failure.
package httpx

import (
	"encoding/json"
	"net/http"
)

// OK sends a success envelope. Payload keys are merged beside "success".
func OK(w http.ResponseWriter, status int, payload map[string]any) {
	body := map[string]any{"success": true}
	for k, v := range payload {
		body[k] = v
	}
	writeJSON(w, status, body)
}

// Fail sends a failure envelope with a single human-readable message and any
// machine-readable fields.
func Fail(w http.ResponseWriter, status int, message string, fields map[string]any) {
	body := map[string]any{"success": false, "error": message}
	for k, v := range fields {
		body[k] = v
	}
	writeJSON(w, status, body)
}

// DecodeJSON decodes the request body into target.
func DecodeJSON(r *http.Request, target any) error {
	return json.NewDecoder(r.Body).Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
