package app

import "github.com/cbrcs/studysession/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
)

// Policy decides what happens to a member whose send queue overflowed.
type Policy interface {
	OnBackPressure(room core.RoomService, member core.MemberSession) BackpressureAction
}

// SimplePolicy kicks every slow member. A client that misses a roster or
// negotiation frame cannot recover without rejoining anyway.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.RoomService, core.MemberSession) BackpressureAction {
	return KickMember
}
