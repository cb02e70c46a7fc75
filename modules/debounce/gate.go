// Package debounce coalesces bursts of change notifications per watch group.
//
// The policy is leading-edge with a fixed cooldown: the first notification
// while a group is quiescent runs the group's callback right away, then the
// group stays closed for QuietPeriod. Notifications during the cooldown are
// dropped and do not extend it. Changes that land inside the cooldown are
// therefore never built on their own; only the next notification after the
// cooldown expires triggers again.
package debounce

import (
	"sync"
	"time"
)

// QuietPeriod is the cooldown applied after a triggered callback.
const QuietPeriod = 3000 * time.Millisecond

type group struct {
	fn     func()
	closed bool // callback running or cooldown armed
	timer  *time.Timer
}

// Gate tracks independent cooldown state for any number of groups.
type Gate struct {
	mu     sync.Mutex
	quiet  time.Duration
	groups map[string]*group
}

// New returns a gate using the given cooldown; zero or negative selects
// QuietPeriod.
func New(quiet time.Duration) *Gate {
	if quiet <= 0 {
		quiet = QuietPeriod
	}
	return &Gate{
		quiet:  quiet,
		groups: make(map[string]*group),
	}
}

// QuietPeriod reports the cooldown used by this gate.
func (g *Gate) QuietPeriod() time.Duration {
	return g.quiet
}

// Register binds fn to id, replacing any earlier callback.
func (g *Gate) Register(id string, fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if old, ok := g.groups[id]; ok && old.timer != nil {
		old.timer.Stop()
	}
	g.groups[id] = &group{fn: fn}
}

// Unregister drops id and stops its pending cooldown.
func (g *Gate) Unregister(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if grp, ok := g.groups[id]; ok {
		if grp.timer != nil {
			grp.timer.Stop()
		}
		delete(g.groups, id)
	}
}

// Notify records a change for id. It runs the callback synchronously and
// returns true when the group was quiescent; otherwise it returns false and
// does nothing. The cooldown starts once the callback returns.
func (g *Gate) Notify(id string) bool {
	g.mu.Lock()
	grp, ok := g.groups[id]
	if !ok || grp.closed {
		g.mu.Unlock()
		return false
	}
	grp.closed = true
	fn := grp.fn
	g.mu.Unlock()

	defer g.arm(id, grp)
	fn()
	return true
}

func (g *Gate) arm(id string, grp *group) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.groups[id] != grp {
		return
	}
	grp.timer = time.AfterFunc(g.quiet, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		grp.closed = false
		grp.timer = nil
	})
}

// Quiescent reports whether the next notification for id would fire.
func (g *Gate) Quiescent(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	grp, ok := g.groups[id]
	return ok && !grp.closed
}
