package nbi

import (
	"errors"

	"github.com/signalsfoundry/netlab-simulator/internal/nbi/types"
	"github.com/signalsfoundry/netlab-simulator/internal/sim/engine"
	"github.com/signalsfoundry/netlab-simulator/kb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrNotFound is a package-level sentinel used when an entity cannot be located.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a package-level sentinel used for client-side validation failures.
	ErrInvalidArgument = errors.New("invalid argument")
)

// ToStatusError maps simulator errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, kb.ErrSessionNotFound):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, types.ErrMalformed),
		errors.Is(err, kb.ErrInvalidScenario),
		errors.Is(err, kb.ErrInvalidSession),
		errors.Is(err, kb.ErrMessageNotFound),
		errors.Is(err, engine.ErrInvalidSpeed),
		errors.Is(err, engine.ErrMissingSession):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, kb.ErrNoNodes),
		errors.Is(err, kb.ErrNoActiveConnections),
		errors.Is(err, kb.ErrNoMessages):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, engine.ErrShuttingDown):
		return status.Error(codes.Unavailable, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
