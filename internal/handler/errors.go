// internal/handler/errors.go
package handler

import (
	"errors"
	"net/http"

	"github.com/SyedDaiam9101/leaf-disease-service/internal/inference"
	"github.com/SyedDaiam9101/leaf-disease-service/internal/preprocess"
)

const (
	kindDecode     = "decode"
	kindModelInput = "model_input"
	kindInference  = "inference"
	kindUnknown    = "unknown"
)

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// httpError maps classification errors to an HTTP status and a client-safe
// message. Only decode failures carry detail; server faults stay generic.
func httpError(err error) (int, string) {
	var decodeErr *preprocess.DecodeError
	var inputErr *inference.ModelInputError
	var failure *inference.InferenceFailure

	switch {
	case errors.As(err, &decodeErr):
		return http.StatusBadRequest, "invalid image: " + decodeErr.Error()
	case errors.As(err, &inputErr):
		return http.StatusInternalServerError, "internal error"
	case errors.As(err, &failure):
		return http.StatusInternalServerError, "prediction failed"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// errorKind labels err for metrics and logs.
func errorKind(err error) string {
	var decodeErr *preprocess.DecodeError
	var inputErr *inference.ModelInputError
	var failure *inference.InferenceFailure

	switch {
	case errors.As(err, &decodeErr):
		return kindDecode
	case errors.As(err, &inputErr):
		return kindModelInput
	case errors.As(err, &failure):
		return kindInference
	default:
		return kindUnknown
	}
}

// writeError writes an ErrorResponse with the given status.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}
