package errors

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrBadRequest       = errors.New("bad request")
	ErrInternalServer   = errors.New("internal server error")
	ErrValidation       = errors.New("validation failed")
	ErrNeedsIdentity    = errors.New("identity required")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrIndexMissing     = errors.New("index missing for query")
	ErrPermission       = errors.New("permission denied")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrInvalidToken     = errors.New("invalid token")
	ErrRoomNotFound     = errors.New("room not found")
	ErrMessageNotFound  = errors.New("message not found")
)

type APIError struct {
	Message string `json:"error"`
	Code    int    `json:"code"`
}

func (e *APIError) Error() string {
	return e.Message
}

func NewAPIError(message string, code int) *APIError {
	return &APIError{
		Message: message,
		Code:    code,
	}
}

// ValidationError - ошибка ввода с готовым текстом для пользователя
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func NewValidationError(message string) error {
	return &ValidationError{Message: message}
}

// Is позволяет сравнивать через errors.Is без импорта стандартного пакета под другим именем
func Is(err, target error) bool {
	return errors.Is(err, target)
}

func HTTPStatusFromError(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}

	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrRoomNotFound), errors.Is(err, ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNeedsIdentity):
		return http.StatusPreconditionRequired
	case errors.Is(err, ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, ErrIndexMissing):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage - текст для баннера ошибки в чате
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNeedsIdentity):
		return "Please enter your username or email to continue."
	case errors.Is(err, ErrPermission):
		return "Message failed: the store rejected this operation due to access rules."
	case errors.Is(err, ErrIndexMissing):
		return "This chat query needs an index on the store. Ask an administrator to create it."
	case errors.Is(err, ErrStoreUnavailable):
		return "Chat is currently unreachable. Check your connection and try again."
	case errors.Is(err, ErrRateLimited):
		return "You are sending messages too fast. Please wait a moment."
	case errors.Is(err, ErrValidation):
		var ve *ValidationError
		if errors.As(err, &ve) {
			return ve.Message
		}
		return err.Error()
	default:
		return "Something went wrong. Please try again."
	}
}
