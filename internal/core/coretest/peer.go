// Package coretest provides in-memory implementations of the core ports for
// tests. Every fake is safe for concurrent use.
package coretest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/dkeye/Dial/internal/core"
	"github.com/pion/webrtc/v4"
)

var (
	ErrNoRemoteDescription = errors.New("remote description not set")
	ErrPeerClosed          = errors.New("peer connection closed")
)

// Op names recorded by Peer, in call order.
const (
	OpAddTrack     = "add_track"
	OpSetRemote    = "set_remote"
	OpCreateOffer  = "create_offer"
	OpRestartOffer = "create_offer:restart"
	OpCreateAnswer = "create_answer"
	OpAddCandidate = "add_candidate"
	OpClose        = "close"
)

// Peer records the operations applied to it. AddICECandidate fails until a
// remote description is set, like a real peer connection.
type Peer struct {
	mu         sync.Mutex
	ops        []string
	candidates []string
	remoteSet  bool
	closed     bool

	remoteErr    error
	candidateErr map[string]error

	onICE   func(webrtc.ICECandidateInit)
	onTrack func(context.Context, *webrtc.TrackRemote, *webrtc.RTPReceiver)
	onState func(webrtc.PeerConnectionState)
}

// FailRemote makes SetRemoteDescription return err until cleared with nil.
func (p *Peer) FailRemote(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remoteErr = err
}

// FailCandidate makes AddICECandidate return err for one candidate string.
func (p *Peer) FailCandidate(candidate string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.candidateErr == nil {
		p.candidateErr = make(map[string]error)
	}
	p.candidateErr[candidate] = err
}

func (p *Peer) record(op string) {
	p.ops = append(p.ops, op)
}

func (p *Peer) AddLocalTrack(webrtc.TrackLocal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPeerClosed
	}
	p.record(OpAddTrack)
	return nil
}

func (p *Peer) SetRemoteDescription(sd webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPeerClosed
	}
	if p.remoteErr != nil {
		return p.remoteErr
	}
	p.record(OpSetRemote + ":" + sd.Type.String())
	p.remoteSet = true
	return nil
}

func (p *Peer) CreateOffer(iceRestart bool) (*webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPeerClosed
	}
	op := OpCreateOffer
	if iceRestart {
		op = OpRestartOffer
	}
	p.record(op)
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 " + op}, nil
}

func (p *Peer) CreateAnswer() (*webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPeerClosed
	}
	if !p.remoteSet {
		return nil, ErrNoRemoteDescription
	}
	p.record(OpCreateAnswer)
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (p *Peer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPeerClosed
	}
	if !p.remoteSet {
		return ErrNoRemoteDescription
	}
	if err := p.candidateErr[c.Candidate]; err != nil {
		return err
	}
	p.record(OpAddCandidate)
	p.candidates = append(p.candidates, c.Candidate)
	return nil
}

func (p *Peer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onICE = fn
}

func (p *Peer) OnTrack(fn func(context.Context, *webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = fn
}

func (p *Peer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

func (p *Peer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.record(OpClose)
	return nil
}

func (p *Peer) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Ops returns the recorded operations in order.
func (p *Peer) Ops() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.ops)
}

// Candidates returns the applied remote candidates in order.
func (p *Peer) Candidates() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.candidates)
}

// EmitCandidate simulates a locally gathered candidate.
func (p *Peer) EmitCandidate(c webrtc.ICECandidateInit) {
	p.mu.Lock()
	fn := p.onICE
	p.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

// EmitState simulates a connection state change.
func (p *Peer) EmitState(s webrtc.PeerConnectionState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// PeerFactory hands out Peers and remembers them.
type PeerFactory struct {
	mu    sync.Mutex
	peers []*Peer
	// Err fails NewPeerConnection when set.
	Err error
}

func (f *PeerFactory) NewPeerConnection() (core.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	p := &Peer{}
	f.peers = append(f.peers, p)
	return p, nil
}

func (f *PeerFactory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}

// Last returns the most recently created peer, or nil.
func (f *PeerFactory) Last() *Peer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.peers) == 0 {
		return nil
	}
	return f.peers[len(f.peers)-1]
}

// Peer returns the i-th created peer.
func (f *PeerFactory) Peer(i int) *Peer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.peers) {
		panic(fmt.Sprintf("coretest: peer %d not created (have %d)", i, len(f.peers)))
	}
	return f.peers[i]
}
