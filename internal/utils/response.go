package utils

import (
	"encoding/json"
	"net/http"
	"time"

	"ms-booking/internal/apperr"
)

type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Code      string      `json:"code,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func SuccessResponse(message string, data interface{}) APIResponse {
	return APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

func ErrorResponse(message, error string) APIResponse {
	return APIResponse{
		Success:   false,
		Message:   message,
		Error:     error,
		Timestamp: time.Now().UTC(),
	}
}

// WriteJSON encodes resp with the given status.
func WriteJSON(w http.ResponseWriter, status int, resp APIResponse) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(resp)
}

// WriteError answers with the status and code of the domain error carried by
// err. Anything else is a 500 without internal detail.
func WriteError(w http.ResponseWriter, err error) error {
	status := apperr.StatusCode(err)
	resp := ErrorResponse(http.StatusText(status), "internal error")
	if e, ok := apperr.From(err); ok {
		resp.Code = e.Code
		resp.Error = err.Error()
		if status == http.StatusServiceUnavailable {
			resp.Error = e.Message
		}
	}
	return WriteJSON(w, status, resp)
}
