package shared

import (
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestAPIError_ToHTTP(t *testing.T) {
	httpErr := NewAPIError("code", "message").ToHTTP(http.StatusTeapot)

	if httpErr.Code != http.StatusTeapot {
		t.Errorf("expected status %d, got %d", http.StatusTeapot, httpErr.Code)
	}
	msg, ok := httpErr.Message.(*APIError)
	if !ok {
		t.Fatal("expected message to be *APIError")
	}
	if msg.Code != "code" || msg.Message != "message" {
		t.Errorf("unexpected body %+v", msg)
	}
}

func TestHelpers(t *testing.T) {
	tests := []struct {
		name   string
		err    *echo.HTTPError
		status int
	}{
		{"bad request", BadRequest("c", "m"), http.StatusBadRequest},
		{"not found", NotFound("c", "m"), http.StatusNotFound},
		{"internal", InternalError("c", "m"), http.StatusInternalServerError},
		{"unavailable", ServiceUnavailable("c", "m"), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.status {
				t.Errorf("status = %d, want %d", tt.err.Code, tt.status)
			}
			if _, ok := tt.err.Message.(*APIError); !ok {
				t.Errorf("message type = %T", tt.err.Message)
			}
		})
	}
}
