package negotiation

import (
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/Dial/internal/core/coretest"
	"github.com/dkeye/Dial/internal/domain"
	"github.com/dkeye/Dial/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outbox struct {
	mu   sync.Mutex
	envs []protocol.Envelope
	err  error
}

func (o *outbox) send(env protocol.Envelope) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.envs = append(o.envs, env)
	return nil
}

func (o *outbox) types() []protocol.Type {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]protocol.Type, 0, len(o.envs))
	for _, e := range o.envs {
		out = append(out, e.Type)
	}
	return out
}

func cand(s string) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: s}
}

func offerSDP() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}
}

func answerSDP() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}
}

func TestCallerOfferAfterTracks(t *testing.T) {
	out := &outbox{}
	nc := New("c1", "u2", domain.CallerRole, out.send)
	pc := &coretest.Peer{}

	assert.ErrorIs(t, nc.Offer(), ErrNotAttached)

	require.NoError(t, nc.Attach(coretest.NewStream(), pc))
	require.NoError(t, nc.Offer())

	assert.Equal(t, []string{coretest.OpAddTrack, coretest.OpAddTrack, coretest.OpCreateOffer}, pc.Ops())
	require.Len(t, out.envs, 1)
	env := out.envs[0]
	assert.Equal(t, protocol.TypeOffer, env.Type)
	assert.Equal(t, domain.CallID("c1"), env.CallID)
	assert.Equal(t, domain.UserID("u2"), env.Target)
	require.NotNil(t, env.SDP)
	assert.Equal(t, webrtc.SDPTypeOffer, env.SDP.Type)
}

func TestCalleeAnswerAfterRemote(t *testing.T) {
	out := &outbox{}
	nc := New("c1", "u1", domain.CalleeRole, out.send)
	pc := &coretest.Peer{}
	require.NoError(t, nc.Attach(coretest.NewStream(), pc))

	require.NoError(t, nc.AcceptOffer(offerSDP()))
	assert.Equal(t, []string{
		coretest.OpAddTrack, coretest.OpAddTrack,
		coretest.OpSetRemote + ":offer",
		coretest.OpCreateAnswer,
	}, pc.Ops())
	assert.Equal(t, []protocol.Type{protocol.TypeAnswer}, out.types())
}

func TestAcceptOfferFailureSendsNothing(t *testing.T) {
	out := &outbox{}
	nc := New("c1", "u1", domain.CalleeRole, out.send)
	pc := &coretest.Peer{}
	pc.FailRemote(errors.New("bad sdp"))
	require.NoError(t, nc.Attach(coretest.NewStream(), pc))

	assert.Error(t, nc.AcceptOffer(offerSDP()))
	assert.Empty(t, out.types())
}

func TestRoleGuards(t *testing.T) {
	out := &outbox{}
	caller := New("c1", "u2", domain.CallerRole, out.send)
	require.NoError(t, caller.Attach(coretest.NewStream(), &coretest.Peer{}))
	assert.ErrorIs(t, caller.AcceptOffer(offerSDP()), ErrWrongRole)

	callee := New("c1", "u1", domain.CalleeRole, out.send)
	require.NoError(t, callee.Attach(coretest.NewStream(), &coretest.Peer{}))
	assert.ErrorIs(t, callee.Offer(), ErrWrongRole)
	assert.ErrorIs(t, callee.ApplyAnswer(answerSDP()), ErrWrongRole)
}

func TestEarlyCandidatesFlushInOrder(t *testing.T) {
	out := &outbox{}
	nc := New("c1", "u1", domain.CalleeRole, out.send)

	// Before the peer connection exists.
	nc.AddRemoteCandidate(cand("a"))
	pc := &coretest.Peer{}
	pc.FailCandidate("b", errors.New("malformed"))
	require.NoError(t, nc.Attach(coretest.NewStream(), pc))
	// After attach but before the remote description.
	nc.AddRemoteCandidate(cand("b"))
	nc.AddRemoteCandidate(cand("c"))
	assert.Equal(t, 3, nc.Pending())
	assert.Empty(t, pc.Candidates())

	require.NoError(t, nc.AcceptOffer(offerSDP()))
	assert.Equal(t, 0, nc.Pending())
	// "b" fails on its own and does not stop "c".
	assert.Equal(t, []string{"a", "c"}, pc.Candidates())

	nc.AddRemoteCandidate(cand("d"))
	assert.Equal(t, []string{"a", "c", "d"}, pc.Candidates())

	ops := pc.Ops()
	assert.Less(t, indexOf(ops, coretest.OpSetRemote+":offer"), indexOf(ops, coretest.OpAddCandidate))
}

func TestCallerFlushesOnAnswer(t *testing.T) {
	out := &outbox{}
	nc := New("c1", "u2", domain.CallerRole, out.send)
	pc := &coretest.Peer{}
	require.NoError(t, nc.Attach(coretest.NewStream(), pc))
	require.NoError(t, nc.Offer())

	nc.AddRemoteCandidate(cand("x"))
	assert.Equal(t, 1, nc.Pending())
	require.NoError(t, nc.ApplyAnswer(answerSDP()))
	assert.Equal(t, []string{"x"}, pc.Candidates())
}

func TestHeldOffer(t *testing.T) {
	nc := New("c1", "u1", domain.CalleeRole, (&outbox{}).send)
	_, ok := nc.TakeHeldOffer()
	assert.False(t, ok)

	nc.HoldOffer(offerSDP())
	sdp, ok := nc.TakeHeldOffer()
	require.True(t, ok)
	assert.Equal(t, webrtc.SDPTypeOffer, sdp.Type)
	_, ok = nc.TakeHeldOffer()
	assert.False(t, ok)
}

func TestRestartICEOnce(t *testing.T) {
	out := &outbox{}
	nc := New("c1", "u2", domain.CallerRole, out.send)
	pc := &coretest.Peer{}
	require.NoError(t, nc.Attach(coretest.NewStream(), pc))
	require.NoError(t, nc.Offer())
	require.NoError(t, nc.ApplyAnswer(answerSDP()))

	require.NoError(t, nc.RestartICE())
	assert.True(t, nc.Restarting())
	assert.Contains(t, pc.Ops(), coretest.OpRestartOffer)
	assert.Equal(t, []protocol.Type{protocol.TypeOffer, protocol.TypeOffer}, out.types())

	nc.Recovered()
	assert.False(t, nc.Restarting())
	assert.ErrorIs(t, nc.RestartICE(), ErrRestartSpent)
}

func TestCalleeRestartWaitsForOffer(t *testing.T) {
	out := &outbox{}
	nc := New("c1", "u1", domain.CalleeRole, out.send)
	require.NoError(t, nc.Attach(coretest.NewStream(), &coretest.Peer{}))
	require.NoError(t, nc.AcceptOffer(offerSDP()))

	require.NoError(t, nc.RestartICE())
	assert.True(t, nc.Restarting())
	assert.Equal(t, []protocol.Type{protocol.TypeAnswer}, out.types())

	require.NoError(t, nc.AcceptOffer(offerSDP()))
	assert.Equal(t, []protocol.Type{protocol.TypeAnswer, protocol.TypeAnswer}, out.types())
}

func TestCloseIdempotent(t *testing.T) {
	out := &outbox{}
	nc := New("c1", "u2", domain.CallerRole, out.send)
	stream := coretest.NewStream()
	pc := &coretest.Peer{}
	require.NoError(t, nc.Attach(stream, pc))
	nc.AddRemoteCandidate(cand("a"))

	nc.Close()
	nc.Close()

	assert.True(t, nc.Closed())
	assert.True(t, stream.Stopped())
	assert.True(t, pc.IsClosed())
	assert.Equal(t, 0, nc.Pending())
	assert.ErrorIs(t, nc.Offer(), ErrClosed)
	assert.ErrorIs(t, nc.SendLocalCandidate(cand("l")), ErrClosed)

	// Closing before anything was attached is fine too.
	New("c2", "u2", domain.CallerRole, out.send).Close()
}

func TestAttachAfterCloseReleases(t *testing.T) {
	nc := New("c1", "u2", domain.CallerRole, (&outbox{}).send)
	nc.Close()

	stream := coretest.NewStream()
	pc := &coretest.Peer{}
	assert.ErrorIs(t, nc.Attach(stream, pc), ErrClosed)
	assert.True(t, stream.Stopped())
	assert.True(t, pc.IsClosed())
}

func TestSendLocalCandidate(t *testing.T) {
	out := &outbox{}
	nc := New("c1", "u2", domain.CallerRole, out.send)
	require.NoError(t, nc.SendLocalCandidate(cand("host")))
	require.Len(t, out.envs, 1)
	assert.Equal(t, protocol.TypeICECandidate, out.envs[0].Type)
	assert.Equal(t, domain.UserID("u2"), out.envs[0].Target)
	assert.Equal(t, "host", out.envs[0].Candidate.Candidate)
}

func indexOf(ops []string, op string) int {
	for i, o := range ops {
		if o == op {
			return i
		}
	}
	return -1
}
