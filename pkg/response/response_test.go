package response

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
)

func TestErrorIs(t *testing.T) {
	a := NewError(http.StatusBadRequest, "bad input")
	b := NewError(http.StatusBadRequest, "bad input")
	c := NewError(http.StatusBadGateway, "bad input")

	if !errors.Is(a, b) {
		t.Error("Expected equal code and message to match")
	}
	if errors.Is(a, c) {
		t.Error("Expected different codes not to match")
	}
}

func TestWrapKeepsCause(t *testing.T) {
	err := Wrap(http.StatusBadGateway, io.ErrUnexpectedEOF)

	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("Expected wrapped cause to be reachable")
	}
	var re *Error
	if !errors.As(err, &re) || re.Code != http.StatusBadGateway {
		t.Errorf("Expected *Error with 502, got %v", err)
	}
	if err.Error() != io.ErrUnexpectedEOF.Error() {
		t.Errorf("Expected message passthrough, got %q", err.Error())
	}
	if Wrap(http.StatusBadGateway, nil) != nil {
		t.Error("Expected nil for nil error")
	}
}

func TestErrorf(t *testing.T) {
	err := Errorf(http.StatusBadRequest, "mode %q", "x")
	if err.Error() != `mode "x"` {
		t.Errorf("Unexpected message %q", err.Error())
	}
}

func TestRemote(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"upstream failure", errors.New("connection refused"), http.StatusBadGateway},
		{"deadline", fmt.Errorf("vision call: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"already classified", NewError(http.StatusBadRequest, "bad mode"), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var re *Error
			if !errors.As(Remote(tt.err), &re) || re.Code != tt.code {
				t.Errorf("Expected %d, got %v", tt.code, re)
			}
		})
	}
	if Remote(nil) != nil {
		t.Error("Expected nil for nil error")
	}
	var re *Error
	if !errors.As(BadRequest(io.EOF), &re) || re.Code != http.StatusBadRequest {
		t.Error("Expected 400 from BadRequest")
	}
}
