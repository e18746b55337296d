package utilities

import (
	"encoding/json"
	"net/http"
)

// WriteJSON writes v as a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes {"error": msg}. msg may be a string or a list of strings.
func WriteError(w http.ResponseWriter, status int, msg any) {
	WriteJSON(w, status, map[string]any{"error": msg})
}
