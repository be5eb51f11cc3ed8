package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/target/mmk-scan-api/internal/errors"
)

// statusClientClosedRequest is logged when the caller went away before the response.
const statusClientClosedRequest = 499

// errorResponder renders service errors as {"error","message"} bodies.
type errorResponder struct {
	logger *slog.Logger
	// dev exposes internal error text in 5xx responses.
	dev bool
}

// statusForError maps an application error to its HTTP status and wire code.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, string(apperrors.ErrCodeTimeout)
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, string(apperrors.ErrCodeCanceled)
	}

	switch code := apperrors.GetCode(err); code {
	case apperrors.ErrCodeValidation:
		return http.StatusBadRequest, string(code)
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound, string(code)
	case apperrors.ErrCodeConflict:
		return http.StatusConflict, string(code)
	case apperrors.ErrCodeRunnerUnavailable:
		return http.StatusBadGateway, string(code)
	case apperrors.ErrCodeTimeout:
		return http.StatusGatewayTimeout, string(code)
	case apperrors.ErrCodeCanceled:
		return statusClientClosedRequest, string(code)
	default:
		return http.StatusInternalServerError, string(apperrors.ErrCodeInternal)
	}
}

func (e errorResponder) write(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusForError(err)

	if status < http.StatusInternalServerError {
		WriteError(w, ErrorParams{
			Code:    status,
			ErrCode: code,
			Err:     errors.New(apperrors.PublicMessage(err, http.StatusText(status))),
		})
		return
	}

	e.logger.ErrorContext(r.Context(), "request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"error", err,
	)
	msg := publicServerMessage(status)
	if e.dev {
		msg = err.Error()
	}
	WriteError(w, ErrorParams{Code: status, ErrCode: code, Err: errors.New(msg)})
}

func publicServerMessage(status int) string {
	switch status {
	case http.StatusBadGateway:
		return "scan runner unavailable"
	case http.StatusGatewayTimeout:
		return "request timed out"
	default:
		return "internal server error"
	}
}
