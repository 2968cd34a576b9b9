package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/matheus3301/gigline/internal/channel"
	"github.com/matheus3301/gigline/internal/conversation"
	"github.com/matheus3301/gigline/internal/gateway"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// toStatus maps a domain error onto a gRPC status carrying op as context.
func toStatus(op string, err error) error {
	return grpcstatus.Errorf(codeOf(err), "%s: %v", op, err)
}

func codeOf(err error) codes.Code {
	var (
		gwTransient *gateway.TransientError
		chTransient *channel.TransientError
		statusErr   *gateway.StatusError
	)
	switch {
	case errors.Is(err, gateway.ErrUnauthenticated),
		errors.Is(err, gateway.ErrLoginRejected),
		channel.IsRejected(err):
		return codes.Unauthenticated
	case errors.Is(err, channel.ErrNotConnected), errors.Is(err, channel.ErrClosed):
		return codes.FailedPrecondition
	case errors.Is(err, conversation.ErrEmptyMessage), errors.Is(err, conversation.ErrNoPeer):
		return codes.InvalidArgument
	case errors.As(err, &gwTransient), errors.As(err, &chTransient):
		return codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound:
		return codes.NotFound
	default:
		return codes.Internal
	}
}
