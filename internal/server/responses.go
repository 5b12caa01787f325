// responses.go -- Package-wide HTTP response helpers.
//
// Shared by all handlers. Bodies are always JSON; writeJSON is the single
// encoding path so the Content-Type header can't be forgotten.
package server

import (
	"encoding/json"
	"net/http"
)

// writeJSON encodes v as the response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// OK returns a 200 JSON response with the given message.
func OK(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, struct {
		Message string `json:"message"`
	}{message})
}

// BadRequest returns a 400 JSON response with the given detail.
// Use for client input validation failures.
func BadRequest(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusBadRequest, struct {
		Detail string `json:"detail"`
	}{detail})
}

// Unauthorized returns a 401 JSON response with the given detail.
func Unauthorized(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusUnauthorized, struct {
		Detail string `json:"detail"`
	}{detail})
}

// InternalServerError logs the error and returns a 500 JSON response carrying
// the error message in the detail field.
func InternalServerError(w http.ResponseWriter, r *http.Request, err error) {
	logError(r, "internal server error", "error", err)
	writeJSON(w, http.StatusInternalServerError, struct {
		Detail string `json:"detail"`
	}{err.Error()})
}
