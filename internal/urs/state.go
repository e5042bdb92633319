package urs

import "undoengine/pkg/assert"

// State is URS.state (spec.md §3): CLEAN → DIRTY → CLOSED, with every
// other transition illegal. Modeled as a runtime-checked int rather than a
// type-level sum, matching the teacher's own preference (src/storage/page)
// for assertions over compile-time state encoding — Go has no sum types to
// reach for here anyway.
type State int

const (
	StateClean State = iota
	StateDirty
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateClean:
		return "clean"
	case StateDirty:
		return "dirty"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// transitionToDirty enforces CLEAN -> DIRTY on first insert.
func (u *URS) transitionToDirty() {
	assert.Assert(u.state == StateClean || u.state == StateDirty,
		"illegal state transition to dirty from %s", u.state)
	u.state = StateDirty
}

// transitionToClosed enforces DIRTY -> CLOSED on mark_closed.
func (u *URS) transitionToClosed() {
	assert.Assert(u.state == StateDirty, "illegal state transition to closed from %s", u.state)
	u.state = StateClosed
}
