package app

import "github.com/dkeye/Stagehand/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
)

// Policy decides what happens to a connection whose send buffer is full.
type Policy interface {
	OnBackPressure(room *core.Room, sid core.SessionID) BackpressureAction
}

// SimplePolicy kicks slow connections. The client reconnects and catches up
// from a fresh snapshot.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(room *core.Room, sid core.SessionID) BackpressureAction {
	return KickMember
}

// LenientPolicy drops the frame and keeps the connection.
type LenientPolicy struct{}

func (LenientPolicy) OnBackPressure(room *core.Room, sid core.SessionID) BackpressureAction {
	return NoAction
}

// PolicyByName maps the backpressure config value to a Policy.
func PolicyByName(name string) Policy {
	if name == "drop" {
		return LenientPolicy{}
	}
	return SimplePolicy{}
}
