package coretest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Dial/internal/core"
	"github.com/pion/webrtc/v4"
)

// Stream is a LocalStream with one audio and one video track.
type Stream struct {
	tracks []webrtc.TrackLocal
	stops  atomic.Int32
}

func NewStream() *Stream {
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "coretest")
	if err != nil {
		panic(fmt.Sprintf("coretest: audio track: %v", err))
	}
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "coretest")
	if err != nil {
		panic(fmt.Sprintf("coretest: video track: %v", err))
	}
	return &Stream{tracks: []webrtc.TrackLocal{audio, video}}
}

func (s *Stream) Tracks() []webrtc.TrackLocal { return s.tracks }

func (s *Stream) Stop() { s.stops.Add(1) }

// Stopped reports whether Stop was called at least once.
func (s *Stream) Stopped() bool { return s.stops.Load() > 0 }

// Media is a MediaSource. When Gate is set, Acquire blocks until a value is
// sent on it (or it is closed).
type Media struct {
	mu      sync.Mutex
	streams []*Stream
	calls   int

	Err  error
	Gate chan struct{}
}

func (m *Media) Acquire(ctx context.Context) (core.LocalStream, error) {
	m.mu.Lock()
	m.calls++
	gate := m.Gate
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrMediaUnavailable, m.Err)
	}
	s := NewStream()
	m.streams = append(m.streams, s)
	return s, nil
}

func (m *Media) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Last returns the most recently handed out stream, or nil.
func (m *Media) Last() *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.streams) == 0 {
		return nil
	}
	return m.streams[len(m.streams)-1]
}
