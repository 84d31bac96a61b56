// Package orch is the call session state machine of one identity.
//
// All call state lives on the goroutine running Orchestrator.Run. Inbound
// envelopes, caller intents and internal events (peer connection callbacks,
// media results, timers) are serialized through it, so nothing here takes a
// lock.
package orch

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Dial/internal/app/billing"
	"github.com/dkeye/Dial/internal/app/chat"
	"github.com/dkeye/Dial/internal/app/negotiation"
	"github.com/dkeye/Dial/internal/core"
	"github.com/dkeye/Dial/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrCallInProgress     = errors.New("another call is in progress")
	ErrNotAvailable       = errors.New("remote is not available")
	ErrUnknownCall        = errors.New("unknown call")
	ErrNoCall             = errors.New("no current call")
	ErrStopped            = errors.New("orchestrator stopped")
	ErrSelfCall           = errors.New("cannot call yourself")
	ErrNegotiationTimeout = errors.New("negotiation timed out")
	ErrConnectionFailed   = errors.New("peer connection failed")
	ErrRelay              = errors.New("relay rejected envelope")
)

// Hooks are invoked on the control goroutine and must not block.
// Any of them may be nil.
type Hooks struct {
	// OnPhase reports every phase change, terminal ones included.
	OnPhase func(domain.Call)
	// OnIncoming reports a call request, whether it became the current call
	// or was queued behind it.
	OnIncoming func(call domain.Call, caller domain.User)
	OnChat     func(domain.ChatEntry)
	// OnRemoteTrack hands over a remote track; ctx ends with the connection.
	OnRemoteTrack func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	OnCallEnded   func(billing.Receipt)
	OnError       func(error)
}

type Config struct {
	NegotiationTimeout time.Duration
	ICERestartGrace    time.Duration
	APITimeout         time.Duration
}

func DefaultConfig() Config {
	return Config{
		NegotiationTimeout: 30 * time.Second,
		ICERestartGrace:    10 * time.Second,
		APITimeout:         10 * time.Second,
	}
}

// Deps are the ports an Orchestrator drives.
type Deps struct {
	Transport core.Transport
	API       core.CallAPI
	Media     core.MediaSource
	Peers     core.PeerFactory
}

type Orchestrator struct {
	self   domain.UserID
	deps   Deps
	hooks  Hooks
	cfg    Config
	logger zerolog.Logger

	intents chan func()
	events  chan func()
	done    chan struct{}
	runCtx  context.Context

	// Owned by the Run goroutine.
	call         *domain.Call
	gen          uint64
	neg          *negotiation.Context
	early        []webrtc.ICECandidateInit
	earlyOffer   *webrtc.SessionDescription
	queue        []incoming
	transcript   chat.Transcript
	timeout      *time.Timer
	restartTimer *time.Timer
}

func New(self domain.UserID, deps Deps, hooks Hooks, cfg Config) *Orchestrator {
	def := DefaultConfig()
	if cfg.NegotiationTimeout <= 0 {
		cfg.NegotiationTimeout = def.NegotiationTimeout
	}
	if cfg.ICERestartGrace <= 0 {
		cfg.ICERestartGrace = def.ICERestartGrace
	}
	if cfg.APITimeout <= 0 {
		cfg.APITimeout = def.APITimeout
	}
	return &Orchestrator{
		self:    self,
		deps:    deps,
		hooks:   hooks,
		cfg:     cfg,
		logger:  log.With().Str("module", "orch").Str("user", string(self)).Logger(),
		intents: make(chan func()),
		events:  make(chan func(), 64),
		done:    make(chan struct{}),
	}
}

// Run processes envelopes, intents and events until ctx ends or the transport
// closes. A call still open when ctx ends is hung up; a call open when the
// transport closes fails.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.runCtx = ctx
	defer close(o.done)

	o.logger.Info().Msg("orchestrator running")
	inbound := o.deps.Transport.Inbound()
	for {
		select {
		case <-ctx.Done():
			o.drop()
			if o.call != nil {
				o.hangup(context.Background())
			}
			o.logger.Info().Msg("orchestrator stopped")
			return ctx.Err()
		case env, ok := <-inbound:
			if !ok {
				o.logger.Warn().Msg("signal transport closed")
				o.drop()
				o.finish(domain.PhaseFailed, core.ErrTransportClosed)
				return core.ErrTransportClosed
			}
			o.dispatch(env)
		case fn := <-o.intents:
			fn()
		case fn := <-o.events:
			fn()
		}
	}
}

// Done is closed once Run has returned.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// do runs fn on the control goroutine and waits for its result.
func (o *Orchestrator) do(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	select {
	case o.intents <- func() { reply <- fn() }:
	case <-o.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	// Once accepted, fn runs to completion on the loop.
	return <-reply
}

// post queues an internal event. It reports false when Run has returned.
func (o *Orchestrator) post(fn func()) bool {
	select {
	case o.events <- fn:
		return true
	case <-o.done:
		return false
	}
}

// current reports whether an event posted for generation gen still applies.
func (o *Orchestrator) current(gen uint64) bool {
	return o.call != nil && o.gen == gen
}

func (o *Orchestrator) apiContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.cfg.APITimeout)
}

func (o *Orchestrator) callLogger() *zerolog.Logger {
	l := o.logger.With().Logger()
	if o.call != nil {
		l = l.With().Str("call_id", string(o.call.ID)).Str("remote", string(o.call.Remote)).Logger()
	}
	return &l
}

func (o *Orchestrator) report(err error) {
	o.callLogger().Warn().Err(err).Msg("call error")
	if o.hooks.OnError != nil {
		o.hooks.OnError(err)
	}
}

func (o *Orchestrator) notifyPhase() {
	if o.hooks.OnPhase != nil && o.call != nil {
		o.hooks.OnPhase(*o.call)
	}
}

// drop forgets queued requests when the loop exits.
func (o *Orchestrator) drop() {
	o.queue = nil
}
