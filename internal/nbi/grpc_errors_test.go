package nbi

import (
	"errors"
	"fmt"
	"testing"

	"github.com/signalsfoundry/netlab-simulator/internal/nbi/types"
	"github.com/signalsfoundry/netlab-simulator/internal/sim/engine"
	"github.com/signalsfoundry/netlab-simulator/kb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestToStatusError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		code    codes.Code
		wantNil bool
	}{
		{name: "nil", err: nil, wantNil: true},
		{name: "status passthrough", err: status.Error(codes.PermissionDenied, "denied"), code: codes.PermissionDenied},
		{name: "invalid argument sentinel", err: fmt.Errorf("%w: bad speed", ErrInvalidArgument), code: codes.InvalidArgument},
		{name: "malformed struct", err: fmt.Errorf("decode: %w", types.ErrMalformed), code: codes.InvalidArgument},
		{name: "invalid speed", err: fmt.Errorf("%w: 11", engine.ErrInvalidSpeed), code: codes.InvalidArgument},
		{name: "bad scenario", err: kb.ErrInvalidScenario, code: codes.InvalidArgument},
		{name: "unknown message", err: kb.ErrMessageNotFound, code: codes.InvalidArgument},
		{name: "session not found", err: fmt.Errorf("%w: \"lab\"", kb.ErrSessionNotFound), code: codes.NotFound},
		{name: "run not found", err: ErrNotFound, code: codes.NotFound},
		{name: "no active connections", err: kb.ErrNoActiveConnections, code: codes.FailedPrecondition},
		{name: "shutting down", err: engine.ErrShuttingDown, code: codes.Unavailable},
		{name: "fallback", err: errors.New("boom"), code: codes.Internal},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := ToStatusError(tc.err)
			if tc.wantNil {
				if got != nil {
					t.Fatalf("ToStatusError(nil) = %v, want nil", got)
				}
				return
			}

			if got == nil {
				t.Fatalf("ToStatusError(%v) = nil, want error", tc.err)
			}
			if code := status.Code(got); code != tc.code {
				t.Fatalf("ToStatusError(%v) code = %v, want %v", tc.err, code, tc.code)
			}
		})
	}
}
