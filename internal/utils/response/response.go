// Package response provides helpers for writing consistent JSON HTTP
// responses.
//
// Success responses carry the resource itself (a person or a list).
// Error responses always look like:
//
//	{ "status": "error", "error": "field Name is required" }
//
// Not-found and delete responses carry no body at all.
package response

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Response is the standard envelope returned for error cases.
type Response struct {
	Status string `json:"status"` // "ok" or "error"
	Error  string `json:"error,omitempty"`
}

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// WriteJSON writes data as JSON with the given status code.
// Header() must be set before WriteHeader(); once the status line is
// written the headers are locked.
func WriteJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteEmpty writes a status code with no body, e.g. 404 or 204.
func WriteEmpty(w http.ResponseWriter, status int) {
	w.WriteHeader(status)
}

// GeneralError wraps any Go error into the standard Response shape.
func GeneralError(err error) Response {
	return Response{
		Status: StatusError,
		Error:  err.Error(),
	}
}

// OK is the body of a successful health check.
func OK() Response {
	return Response{Status: StatusOK}
}

// ValidationError converts validator field errors into one readable
// Response, e.g. "field Name is required, field Name must be at most 100 characters".
func ValidationError(errs validator.ValidationErrors) Response {
	var errMessages []string

	for _, e := range errs {
		switch e.ActualTag() {
		case "required":
			errMessages = append(errMessages,
				fmt.Sprintf("field %s is required", e.Field()))
		case "max":
			errMessages = append(errMessages,
				fmt.Sprintf("field %s must be at most %s characters", e.Field(), e.Param()))
		default:
			errMessages = append(errMessages,
				fmt.Sprintf("field %s is invalid", e.Field()))
		}
	}

	return Response{
		Status: StatusError,
		Error:  strings.Join(errMessages, ", "),
	}
}
