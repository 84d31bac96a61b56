package media

import (
	"context"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticTracks(t *testing.T) {
	ls, err := Static{}.Acquire(context.Background())
	require.NoError(t, err)
	s := ls.(*StaticStream)

	tracks := s.Tracks()
	require.Len(t, tracks, 2)
	assert.Equal(t, webrtc.RTPCodecTypeAudio, tracks[0].Kind())
	assert.Equal(t, webrtc.RTPCodecTypeVideo, tracks[1].Kind())
	for _, tr := range tracks {
		assert.Equal(t, s.ID(), tr.StreamID())
	}

	time.Sleep(3 * audioFrame)
	done := make(chan struct{})
	go func() {
		s.Stop()
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestStaticStreamsAreDistinct(t *testing.T) {
	a, err := Static{}.Acquire(context.Background())
	require.NoError(t, err)
	defer a.Stop()
	b, err := Static{}.Acquire(context.Background())
	require.NoError(t, err)
	defer b.Stop()
	assert.NotEqual(t, a.Tracks()[0].StreamID(), b.Tracks()[0].StreamID())
}

func TestStaticCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Static{}.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
