package handler

import (
	"encoding/json"
	"net/http"

	"github.com/tiffinworks/dabba/internal/fault"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the engine's error kinds onto HTTP statuses for
// interactive callers. Webhook and scheduler paths never use this: they log
// and continue.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case fault.IsValidation(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case fault.IsNotFound(err):
		http.Error(w, err.Error(), http.StatusNotFound)
	case fault.IsGateway(err):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
