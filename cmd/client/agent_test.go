package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Dial/internal/adapters/rtc"
	"github.com/dkeye/Dial/internal/app/chat"
	"github.com/dkeye/Dial/internal/app/orch"
	"github.com/dkeye/Dial/internal/core/coretest"
	"github.com/dkeye/Dial/internal/domain"
	"github.com/dkeye/Dial/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fakeDirectory struct {
	mu     sync.Mutex
	status []domain.Presence
	pros   []domain.User
}

func (d *fakeDirectory) SetStatus(_ context.Context, p domain.Presence) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = append(d.status, p)
	return nil
}

func (d *fakeDirectory) Professionals(context.Context) ([]domain.User, error) {
	return d.pros, nil
}

type fixture struct {
	a   *agent
	out *syncBuffer
	dir *fakeDirectory
	tr  *coretest.Transport
	api *coretest.CallAPI
}

func newFixture(t *testing.T, saveDir string) *fixture {
	t.Helper()
	f := &fixture{
		out: &syncBuffer{},
		dir: &fakeDirectory{},
		tr:  coretest.NewTransport(),
		api: coretest.NewCallAPI(),
	}
	f.a = newAgent("alice", f.dir, rtc.NewStreamManager(), saveDir, f.out)
	f.a.orch = orch.New("alice", orch.Deps{
		Transport: f.tr,
		API:       f.api,
		Media:     &coretest.Media{},
		Peers:     &coretest.PeerFactory{},
	}, f.a.hooks(), orch.Config{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = f.a.orch.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-f.a.orch.Done()
	})
	return f
}

func (f *fixture) exec(t *testing.T, line string) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return f.a.exec(ctx, line)
}

func TestUsage(t *testing.T) {
	f := newFixture(t, "")
	for _, line := range []string{"dance", "call", "accept", "reject ", "file"} {
		assert.ErrorIs(t, f.exec(t, line), errUsage, line)
	}
	assert.NoError(t, f.exec(t, "   "))
}

func TestCallChatEnd(t *testing.T) {
	f := newFixture(t, "")
	f.api.SetPresence("bob", domain.PresenceOnline)

	require.NoError(t, f.exec(t, "call bob"))
	assert.Contains(t, f.out.String(), "calling bob: c1")
	assert.Contains(t, f.out.String(), "[c1] outgoing_pending with bob")

	require.NoError(t, f.exec(t, "chat  hello there "))
	sent := f.tr.SentOf(protocol.TypeChatMessage)
	require.Len(t, sent, 1)
	assert.Equal(t, "hello there", sent[0].Message)
	assert.Contains(t, f.out.String(), "alice: hello there")

	require.NoError(t, f.exec(t, "status"))
	assert.Equal(t, 2, strings.Count(f.out.String(), "[c1] outgoing_pending with bob"))

	require.NoError(t, f.exec(t, "end"))
	assert.Contains(t, f.out.String(), "[c1] ended with bob")
	assert.Contains(t, f.api.Calls(), "end:c1")
}

func TestStatusAndDirectory(t *testing.T) {
	f := newFixture(t, "")
	f.dir.pros = []domain.User{{ID: "bob", Username: "Bob", Status: domain.PresenceOnline, PricePerMinute: 2}}

	require.NoError(t, f.exec(t, "status"))
	require.NoError(t, f.exec(t, "pending"))
	require.NoError(t, f.exec(t, "pros"))
	require.NoError(t, f.exec(t, "status busy"))
	assert.Error(t, f.exec(t, "status away"))

	out := f.out.String()
	assert.Contains(t, out, "idle")
	assert.Contains(t, out, "no pending calls")
	assert.Contains(t, out, "bob Bob online 2.00/min")
	assert.Equal(t, []domain.Presence{domain.PresenceBusy}, f.dir.status)
}

func TestChatWithoutCall(t *testing.T) {
	f := newFixture(t, "")
	assert.ErrorIs(t, f.exec(t, "chat hi"), orch.ErrNoCall)
	assert.Error(t, f.exec(t, "file /does/not/exist"))
}

func TestReceivedFileIsSaved(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, dir)

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	att, err := chat.NewAttachment("../../pic.png", png)
	require.NoError(t, err)
	f.a.onChat(domain.ChatEntry{From: "bob", Timestamp: time.Now(), File: &att})

	got, err := os.ReadFile(filepath.Join(dir, "pic.png"))
	require.NoError(t, err)
	assert.Equal(t, png, got)
	assert.Contains(t, f.out.String(), "saved ")

	// Own echoes are not written back to disk.
	own, err := chat.NewAttachment("mine.png", png)
	require.NoError(t, err)
	f.a.onChat(domain.ChatEntry{From: "alice", Timestamp: time.Now(), File: &own})
	_, err = os.Stat(filepath.Join(dir, "mine.png"))
	assert.True(t, os.IsNotExist(err))
}
