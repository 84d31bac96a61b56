package app

import "github.com/dkeye/Dial/internal/protocol"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

// Policy decides what happens when a recipient's send queue is full.
type Policy interface {
	OnBackPressure(typ protocol.Type) BackpressureAction
}

// SimplePolicy drops chat frames and disconnects a recipient that falls
// behind on call signaling.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(typ protocol.Type) BackpressureAction {
	if typ.Chat() {
		return DropFrame
	}
	return KickMember
}
