package timectrl

import (
	"context"
	"math"
	"sync"
	"time"
)

// Clock is the time source that paces a simulation. Sleep is the only
// place a simulation blocks; it must return ctx.Err() promptly when ctx is
// cancelled.
type Clock interface {
	// Now returns the current simulation time.
	Now() time.Time
	// Sleep suspends the caller for d of simulation time.
	Sleep(ctx context.Context, d time.Duration) error
}

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime waits on the wall clock so viewers see packets move.
	RealTime Mode = iota
	// Accelerated advances simulation time instantly, for offline runs.
	Accelerated
)

func (m Mode) String() string {
	switch m {
	case RealTime:
		return "real-time"
	case Accelerated:
		return "accelerated"
	default:
		return "unknown"
	}
}

// TimeController is the production Clock. In RealTime mode simulation time
// is wall time; in Accelerated mode every Sleep adds to a virtual offset
// instead of waiting.
type TimeController struct {
	Mode Mode

	mu     sync.Mutex
	offset time.Duration
	now    func() time.Time
}

// NewTimeController constructs a controller in the given mode.
func NewTimeController(mode Mode) *TimeController {
	return &TimeController{Mode: mode, now: time.Now}
}

// Now returns the current simulation time. Implements Clock.
func (tc *TimeController) Now() time.Time {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.now().Add(tc.offset)
}

// Sleep implements Clock.
func (tc *TimeController) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}

	if tc.Mode == Accelerated {
		tc.mu.Lock()
		tc.offset += d
		tc.mu.Unlock()
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Millis converts a fractional millisecond count into a Duration.
// Negative and non-finite inputs yield zero.
func Millis(ms float64) time.Duration {
	if math.IsNaN(ms) || math.IsInf(ms, 0) || ms <= 0 {
		return 0
	}
	return time.Duration(ms * float64(time.Millisecond))
}

// Scale divides d by a playback speed multiplier. A non-positive speed
// leaves d unchanged.
func Scale(d time.Duration, speed float64) time.Duration {
	if speed <= 0 || math.IsNaN(speed) || math.IsInf(speed, 0) {
		return d
	}
	return time.Duration(float64(d) / speed)
}
