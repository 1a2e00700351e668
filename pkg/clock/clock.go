// Package clock re-exports k8s.io/utils/clock so that no azslurmd
// business logic calls time.Now()/time.NewTicker() directly. Tests
// inject a fake clock instead of sleeping real time; every
// time-dependent component takes an explicit Clock rather than reading
// process-wide mutable time.
package clock

import "k8s.io/utils/clock"

// Clock is the interface every time-dependent component (the
// reconciler loop, the resume-dispatcher wait loop, retry backoff)
// takes as a constructor argument instead of calling time.Now().
type Clock = clock.Clock

// PassiveClock is the read-only subset of Clock (Now/Since), used by
// code that only needs to observe the time, never to sleep or tick.
type PassiveClock = clock.PassiveClock

// New returns the real, wall-clock Clock used in production.
func New() Clock {
	return clock.RealClock{}
}
