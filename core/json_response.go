// Package core holds the shared HTTP response envelope and error types used
// by every module router.
package core

import (
	"encoding/json"
	"errors"
	"net/http"
)

// JSONResponse is the standard response envelope.
type JSONResponse struct {
	Code    string         `json:"code,omitempty"`
	Message string         `json:"message,omitempty"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
	Error   *ErrorDetail   `json:"error,omitempty"`
}

// ErrorDetail carries machine-readable error information.
type ErrorDetail struct {
	Code    string              `json:"code,omitempty"`
	Message string              `json:"message,omitempty"`
	Details map[string][]string `json:"details,omitempty"`
}

// JSON writes a success envelope with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, JSONResponse{Code: "ok", Data: data})
}

// JSONMessage writes a success envelope carrying only a human message.
func JSONMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, JSONResponse{Code: "ok", Message: message})
}

// JSONError writes an error envelope. HTTPError values select their own
// status code and key; anything else becomes a 500 with a generic message so
// internal details never leak to clients.
func JSONError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	message := http.StatusText(status)

	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		status = httpErr.Code
		code = httpErr.Key
		message = httpErr.Message
		if message == "" {
			message = http.StatusText(status)
		}
	}

	writeJSON(w, status, JSONResponse{
		Code:  code,
		Error: &ErrorDetail{Code: code, Message: message},
	})
}

// JSONValidationError writes a 422 envelope with per-field messages.
func JSONValidationError(w http.ResponseWriter, details map[string][]string) {
	writeJSON(w, http.StatusUnprocessableEntity, JSONResponse{
		Code: "validation_error",
		Error: &ErrorDetail{
			Code:    "validation_error",
			Message: "validation failed",
			Details: details,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, body JSONResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// DecodeJSON reads the request body into dst, rejecting unknown fields.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return NewHTTPError(http.StatusBadRequest, "invalid_request_body")
	}
	return nil
}
