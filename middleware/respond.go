package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/credcore/credcore"
)

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

// StatusFor maps an error kind to an HTTP status.
func StatusFor(kind credcore.ErrorKind) int {
	switch kind {
	case credcore.KindValidation:
		return http.StatusBadRequest
	case credcore.KindConflict:
		return http.StatusConflict
	case credcore.KindUnauthorized:
		return http.StatusUnauthorized
	case credcore.KindForbidden:
		return http.StatusForbidden
	case credcore.KindNotFound:
		return http.StatusNotFound
	case credcore.KindDelivery:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err as an [ErrorBody]. Only the public message of err
// reaches the client.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusFor(credcore.KindOf(err))
	WriteJSON(w, status, ErrorBody{
		StatusCode: status,
		Error:      http.StatusText(status),
		Message:    credcore.PublicMessage(err),
	})
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
