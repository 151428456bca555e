package api

import (
	"encoding/json"
	"net/http"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{
		"success":     false,
		"error":       message,
		"status_code": status,
	})
}

// respondValidation is for request-shape failures; detail names the field.
func respondValidation(w http.ResponseWriter, detail string) {
	respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"success":     false,
		"error":       "validation failed",
		"detail":      detail,
		"status_code": http.StatusUnprocessableEntity,
	})
}
