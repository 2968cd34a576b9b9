package api

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/matheus3301/gigline/internal/channel"
	"github.com/matheus3301/gigline/internal/conversation"
	"github.com/matheus3301/gigline/internal/gateway"
	"google.golang.org/grpc/codes"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"unauthenticated", gateway.ErrUnauthenticated, codes.Unauthenticated},
		{"refresh failure", &gateway.RefreshError{Err: errors.New("status 401")}, codes.Unauthenticated},
		{"login rejected", fmt.Errorf("%w: bad password", gateway.ErrLoginRejected), codes.Unauthenticated},
		{"channel rejected", fmt.Errorf("open: %w", channel.ErrChannelRejected), codes.Unauthenticated},
		{"not connected", fmt.Errorf("send message: %w", channel.ErrNotConnected), codes.FailedPrecondition},
		{"empty message", conversation.ErrEmptyMessage, codes.InvalidArgument},
		{"gateway transient", &gateway.TransientError{Op: "GET /x", Err: errors.New("reset")}, codes.Unavailable},
		{"channel transient", &channel.TransientError{Op: "read", Err: errors.New("eof")}, codes.Unavailable},
		{"deadline", fmt.Errorf("x: %w", context.DeadlineExceeded), codes.DeadlineExceeded},
		{"not found", &gateway.StatusError{StatusCode: 404, Method: "GET", Path: "/chat/history/9"}, codes.NotFound},
		{"server error", &gateway.StatusError{StatusCode: 500, Method: "GET", Path: "/chat/contacts"}, codes.Internal},
		{"other", errors.New("boom"), codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := codeOf(tt.err); got != tt.want {
				t.Errorf("codeOf(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}
