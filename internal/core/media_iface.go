package core

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
)

// ErrMediaUnavailable wraps permission and hardware failures of local capture.
var ErrMediaUnavailable = errors.New("local media unavailable")

// PeerConnection is the slice of a WebRTC peer connection the negotiation
// engine drives. Callbacks fire on pion goroutines.
type PeerConnection interface {
	// AddLocalTrack attaches a local track; must precede offer/answer creation.
	AddLocalTrack(webrtc.TrackLocal) error
	SetRemoteDescription(webrtc.SessionDescription) error
	// CreateOffer creates an offer and applies it as the local description.
	CreateOffer(iceRestart bool) (*webrtc.SessionDescription, error)
	// CreateAnswer creates an answer and applies it as the local description.
	CreateAnswer() (*webrtc.SessionDescription, error)
	AddICECandidate(webrtc.ICECandidateInit) error

	OnICECandidate(func(webrtc.ICECandidateInit))
	OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))

	// Close is idempotent.
	Close() error
	IsClosed() bool
}

type PeerFactory interface {
	NewPeerConnection() (PeerConnection, error)
}

// LocalStream is a live audio+video capture.
type LocalStream interface {
	Tracks() []webrtc.TrackLocal
	// Stop releases the capture; safe to call more than once.
	Stop()
}

type MediaSource interface {
	Acquire(ctx context.Context) (LocalStream, error)
}
