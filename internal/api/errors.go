package api

import (
	"context"
	"errors"

	"github.com/creativecareer/ccai/internal/backend"
	"github.com/creativecareer/ccai/internal/conn"
	"github.com/creativecareer/ccai/internal/delivery"
	"github.com/creativecareer/ccai/internal/messenger"
	"github.com/creativecareer/ccai/internal/store"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// toStatus maps domain errors onto gRPC codes.
func toStatus(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		se *delivery.SendError
		fe *backend.FetchError
	)
	code := codes.Internal
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.FromContextError(err).Err()
	case errors.Is(err, messenger.ErrUnknownConversation), errors.Is(err, store.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, delivery.ErrEmptyContent):
		code = codes.InvalidArgument
	case errors.Is(err, delivery.ErrNoConversation), errors.Is(err, messenger.ErrNotReady):
		code = codes.FailedPrecondition
	case errors.Is(err, delivery.ErrSendInFlight):
		code = codes.Aborted
	case errors.Is(err, delivery.ErrOffline), errors.Is(err, conn.ErrNotConnected):
		code = codes.Unavailable
	case errors.As(err, &se), errors.As(err, &fe):
		code = codes.Unavailable
	}
	return grpcstatus.Errorf(code, "%s: %v", op, err)
}
