package calls

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Dial/internal/app"
	"github.com/dkeye/Dial/internal/app/billing"
	"github.com/dkeye/Dial/internal/domain"
	"github.com/dkeye/Dial/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	to  domain.UserID
	env protocol.Envelope
}

type notifier struct {
	mu  sync.Mutex
	out []sent
}

func (n *notifier) Notify(to domain.UserID, env protocol.Envelope) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.out = append(n.out, sent{to: to, env: env})
	return nil
}

func (n *notifier) last() sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.out[len(n.out)-1]
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func setup(t *testing.T) (*Manager, *app.Registry, *notifier, *clock) {
	t.Helper()
	reg := app.NewRegistry(
		domain.User{ID: "alice", TokenBalance: 100},
		domain.User{ID: "bob", Role: domain.RoleProfessional, PricePerMinute: 5},
		domain.User{ID: "poor", TokenBalance: 5},
	)
	require.NoError(t, reg.SetPresence("bob", domain.PresenceOnline))
	n := &notifier{}
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(reg, n, billing.DefaultTariff(), 1)
	m.now = c.now
	return m, reg, n, c
}

func TestInitiateNotifiesProfessional(t *testing.T) {
	m, reg, n, _ := setup(t)

	id, err := m.Initiate("alice", "bob")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	bob, _ := reg.User("bob")
	assert.Equal(t, domain.PresenceBusy, bob.Status)

	s := n.last()
	assert.Equal(t, domain.UserID("bob"), s.to)
	assert.Equal(t, protocol.TypeCallRequest, s.env.Type)
	assert.Equal(t, id, s.env.CallID)
	require.NotNil(t, s.env.Caller)
	assert.Equal(t, domain.UserID("alice"), s.env.Caller.ID)

	rec, ok := m.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusPending, rec.Status)
}

func TestInitiateRefusals(t *testing.T) {
	m, reg, _, _ := setup(t)

	_, err := m.Initiate("alice", "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = m.Initiate("alice", "alice")
	assert.ErrorIs(t, err, ErrSelfCall)

	_, err = m.Initiate("poor", "bob")
	assert.ErrorIs(t, err, ErrInsufficientTokens)

	require.NoError(t, reg.SetPresence("bob", domain.PresenceBusy))
	_, err = m.Initiate("alice", "bob")
	assert.ErrorIs(t, err, ErrNotAvailable)
}

func TestAcceptOnlyByProfessional(t *testing.T) {
	m, _, n, _ := setup(t)
	id, err := m.Initiate("alice", "bob")
	require.NoError(t, err)

	assert.ErrorIs(t, m.Accept("alice", id), ErrForbidden)
	assert.ErrorIs(t, m.Accept("bob", "nope"), ErrCallNotFound)

	require.NoError(t, m.Accept("bob", id))
	s := n.last()
	assert.Equal(t, domain.UserID("alice"), s.to)
	assert.Equal(t, protocol.TypeCallAccepted, s.env.Type)
	assert.Equal(t, id, s.env.CallID)

	assert.ErrorIs(t, m.Accept("bob", id), ErrAlreadyAccepted)
}

func TestEndSettles(t *testing.T) {
	m, reg, n, c := setup(t)
	id, err := m.Initiate("alice", "bob")
	require.NoError(t, err)
	require.NoError(t, m.Accept("bob", id))

	c.t = c.t.Add(3 * time.Minute)
	res, err := m.End("alice", id)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, res.Duration, 1e-9)
	// 3 minutes at 5 tokens.
	assert.Equal(t, 15, res.Cost)

	alice, _ := reg.User("alice")
	bob, _ := reg.User("bob")
	assert.Equal(t, 85, alice.TokenBalance)
	assert.Equal(t, 12, bob.TokenBalance)
	assert.Equal(t, domain.PresenceOnline, bob.Status)

	s := n.last()
	assert.Equal(t, domain.UserID("bob"), s.to)
	assert.Equal(t, protocol.TypeCallEnded, s.env.Type)
	require.NotNil(t, s.env.Cost)
	assert.Equal(t, 15, *s.env.Cost)

	_, ok := m.Get(id)
	assert.False(t, ok)
	_, err = m.End("bob", id)
	assert.ErrorIs(t, err, ErrCallNotFound)
}

func TestEndBeforeAcceptIsFree(t *testing.T) {
	m, reg, n, _ := setup(t)
	id, err := m.Initiate("alice", "bob")
	require.NoError(t, err)

	_, err = m.End("mallory", id)
	assert.ErrorIs(t, err, ErrForbidden)

	res, err := m.End("bob", id)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	alice, _ := reg.User("alice")
	assert.Equal(t, 100, alice.TokenBalance)
	assert.Equal(t, domain.UserID("alice"), n.last().to)
}

func TestShortCallCostsMinimum(t *testing.T) {
	m, _, _, c := setup(t)
	id, err := m.Initiate("alice", "bob")
	require.NoError(t, err)
	require.NoError(t, m.Accept("bob", id))
	c.t = c.t.Add(10 * time.Second)

	res, err := m.End("bob", id)
	require.NoError(t, err)
	assert.Equal(t, 10, res.Cost)
}

func TestDisconnectEndsCalls(t *testing.T) {
	m, reg, n, _ := setup(t)
	id, err := m.Initiate("alice", "bob")
	require.NoError(t, err)

	m.Disconnect("alice")
	_, ok := m.Get(id)
	assert.False(t, ok)
	s := n.last()
	assert.Equal(t, domain.UserID("bob"), s.to)
	assert.Equal(t, protocol.TypeCallEnded, s.env.Type)
	bob, _ := reg.User("bob")
	assert.Equal(t, domain.PresenceOnline, bob.Status)
}

func TestConcurrentInitiateReservesOnce(t *testing.T) {
	const callers = 8
	seed := []domain.User{{ID: "bob", Role: domain.RoleProfessional, PricePerMinute: 5}}
	for i := range callers {
		seed = append(seed, domain.User{ID: domain.UserID(fmt.Sprintf("c%d", i)), TokenBalance: 100})
	}
	reg := app.NewRegistry(seed...)
	require.NoError(t, reg.SetPresence("bob", domain.PresenceOnline))
	n := &notifier{}
	m := NewManager(reg, n, billing.DefaultTariff(), 1)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		ok   int
		busy int
	)
	start := make(chan struct{})
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := m.Initiate(domain.UserID(fmt.Sprintf("c%d", i)), "bob")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrNotAvailable):
				busy++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, callers-1, busy)
	n.mu.Lock()
	assert.Len(t, n.out, 1, "one call_request only")
	n.mu.Unlock()
}
