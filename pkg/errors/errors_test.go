package errors

import (
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusFromError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("get message: %w", ErrMessageNotFound), http.StatusNotFound},
		{fmt.Errorf("send: %w", ErrValidation), http.StatusBadRequest},
		{ErrNeedsIdentity, http.StatusPreconditionRequired},
		{fmt.Errorf("redis: %w", ErrStoreUnavailable), http.StatusServiceUnavailable},
		{ErrPermission, http.StatusForbidden},
		{ErrRateLimited, http.StatusTooManyRequests},
		{NewAPIError("teapot", http.StatusTeapot), http.StatusTeapot},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatusFromError(tc.err); got != tc.want {
			t.Errorf("HTTPStatusFromError(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestUserMessage(t *testing.T) {
	if got := UserMessage(nil); got != "" {
		t.Fatalf("UserMessage(nil) = %q, want empty", got)
	}
	wrapped := fmt.Errorf("%w: message text is empty", ErrValidation)
	if got := UserMessage(wrapped); got != wrapped.Error() {
		t.Fatalf("validation message should be passed through, got %q", got)
	}
	if got := UserMessage(fmt.Errorf("x: %w", ErrStoreUnavailable)); got == "" {
		t.Fatalf("expected banner text for store unavailable")
	}
}

func TestValidationErrorKeepsUserText(t *testing.T) {
	err := fmt.Errorf("send: %w", NewValidationError("Please type a message before sending."))
	if !Is(err, ErrValidation) {
		t.Fatal("validation error must match ErrValidation")
	}
	if got := UserMessage(err); got != "Please type a message before sending." {
		t.Fatalf("UserMessage = %q", got)
	}
	if got := HTTPStatusFromError(err); got != http.StatusBadRequest {
		t.Fatalf("status = %d", got)
	}
}
