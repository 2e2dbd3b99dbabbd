// Package guard provides cooldown flags that keep a session from echoing
// state it just applied on behalf of its peer.
package guard

import (
	"time"

	"k8s.io/utils/clock"
)

// Guard is armed for a fixed cooldown. It is an expiry timestamp rather than
// a timer, so arming never schedules work.
type Guard struct {
	clock    clock.PassiveClock
	cooldown time.Duration
	until    time.Time
}

// New returns a disarmed guard.
func New(c clock.PassiveClock, cooldown time.Duration) *Guard {
	return &Guard{clock: c, cooldown: cooldown}
}

// Arm starts or extends the cooldown from now.
func (g *Guard) Arm() {
	g.until = g.clock.Now().Add(g.cooldown)
}

// Active reports whether the cooldown is still running.
func (g *Guard) Active() bool {
	return g.clock.Now().Before(g.until)
}

// Disarm ends the cooldown immediately.
func (g *Guard) Disarm() { g.until = time.Time{} }

// Cooldown returns the configured duration.
func (g *Guard) Cooldown() time.Duration { return g.cooldown }
