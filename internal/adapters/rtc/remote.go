package rtc

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Source yields RTP packets. *webrtc.TrackRemote satisfies it.
type Source interface {
	ID() string
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Sink consumes RTP packets. *webrtc.TrackLocalStaticRTP satisfies it.
type Sink interface {
	WriteRTP(*rtp.Packet) error
}

type SinkState int32

const (
	SinkStateOk SinkState = iota
	SinkStateMuted
	SinkStateDelete
)

// Output is one sink attached to a remote stream.
type Output struct {
	Sink  Sink
	state atomic.Int32 // Zero by default (SinkStateOk)
}

func NewOutput(s Sink) *Output {
	return &Output{Sink: s}
}

func (o *Output) State() SinkState { return SinkState(o.state.Load()) }
func (o *Output) MarkOk()          { o.state.Store(int32(SinkStateOk)) }
func (o *Output) MarkMuted()       { o.state.Store(int32(SinkStateMuted)) }
func (o *Output) MarkDelete()      { o.state.Store(int32(SinkStateDelete)) }

// RemoteStream reads one remote track and forwards every packet to its
// outputs.
type RemoteStream struct {
	Src Source

	mu      sync.RWMutex
	outputs map[string]*Output

	cancel context.CancelFunc
	done   chan struct{}
}

func NewRemoteStream(src Source, cancel context.CancelFunc) *RemoteStream {
	return &RemoteStream{
		Src:     src,
		outputs: make(map[string]*Output),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Done is closed when the read loop exits.
func (r *RemoteStream) Done() <-chan struct{} { return r.done }

func (r *RemoteStream) loop(ctx context.Context, logger *zerolog.Logger) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("stream ctx done, dropping outputs")
			r.markAllDelete()
			return
		default:
		}
		pkt, _, err := r.Src.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).Msg("read RTP ended")
			r.markAllDelete()
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *RemoteStream) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := maps.Clone(r.outputs)
	r.mu.RUnlock()

	var dirty []string
	for name, o := range snapshot {
		switch o.State() {
		case SinkStateDelete:
			dirty = append(dirty, name)
		case SinkStateMuted:
		case SinkStateOk:
			if err := o.Sink.WriteRTP(pkt); err != nil {
				logger.Warn().Err(err).Str("sink", name).Msg("write RTP error, dropping sink")
				o.MarkDelete()
				dirty = append(dirty, name)
			}
		}
	}

	if len(dirty) > 0 {
		r.mu.Lock()
		for _, name := range dirty {
			delete(r.outputs, name)
		}
		r.mu.Unlock()
	}
}

func (r *RemoteStream) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.outputs {
		o.MarkDelete()
	}
}

func (r *RemoteStream) Attach(name string, o *Output) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs[name] = o
}

func (r *RemoteStream) Output(name string) (*Output, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.outputs[name]
	return o, ok
}

// StreamManager owns the remote streams of the current call, keyed by track
// id.
type StreamManager struct {
	mu      sync.RWMutex
	streams map[string]*RemoteStream
}

func NewStreamManager() *StreamManager {
	return &StreamManager{streams: make(map[string]*RemoteStream)}
}

// Start begins reading src. An existing stream with the same id is replaced.
func (m *StreamManager) Start(ctx context.Context, src Source) *RemoteStream {
	logger := log.With().Str("module", "rtc.stream").Str("track", src.ID()).Logger()

	streamCtx, cancel := context.WithCancel(ctx)
	s := NewRemoteStream(src, cancel)

	m.mu.Lock()
	if old, ok := m.streams[src.ID()]; ok {
		logger.Info().Msg("replacing existing stream")
		old.markAllDelete()
		old.cancel()
	}
	m.streams[src.ID()] = s
	m.mu.Unlock()

	go s.loop(streamCtx, &logger)
	return s
}

// Attach adds a sink to the stream of track id.
func (m *StreamManager) Attach(id, name string, sink Sink) bool {
	m.mu.RLock()
	s, ok := m.streams[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	s.Attach(name, NewOutput(sink))
	return true
}

func (m *StreamManager) Mute(id, name string, muted bool) {
	m.mu.RLock()
	s, ok := m.streams[id]
	m.mu.RUnlock()
	if !ok {
		return
	}
	o, ok := s.Output(name)
	if !ok {
		return
	}
	if muted {
		o.MarkMuted()
	} else {
		o.MarkOk()
	}
}

// Stop cancels the stream. The read loop exits at the next packet or when the
// track ends.
func (m *StreamManager) Stop(id string) {
	m.mu.Lock()
	s, ok := m.streams[id]
	if ok {
		delete(m.streams, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	s.markAllDelete()
	s.cancel()
}

// StopAll is called when the call ends.
func (m *StreamManager) StopAll() {
	m.mu.Lock()
	old := m.streams
	m.streams = make(map[string]*RemoteStream)
	m.mu.Unlock()
	for _, s := range old {
		s.markAllDelete()
		s.cancel()
	}
}

func (m *StreamManager) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.streams[id]
	return ok
}

// Counter is a sink that counts packets and bytes.
type Counter struct {
	packets atomic.Int64
	bytes   atomic.Int64
}

func (c *Counter) WriteRTP(p *rtp.Packet) error {
	c.packets.Add(1)
	c.bytes.Add(int64(len(p.Payload)))
	return nil
}

func (c *Counter) Packets() int64 { return c.packets.Load() }
func (c *Counter) Bytes() int64   { return c.bytes.Load() }
