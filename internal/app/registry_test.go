package app

import (
	"context"
	"testing"

	"github.com/dkeye/Dial/internal/core"
	"github.com/dkeye/Dial/internal/domain"
	"github.com/dkeye/Dial/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopConn struct{ closed bool }

func (c *nopConn) TrySend(core.Frame) error { return nil }
func (c *nopConn) Close()                   { c.closed = true }

func TestSeedAndCreate(t *testing.T) {
	r := NewRegistry(
		domain.User{ID: "pro", Role: domain.RoleProfessional, Status: domain.PresenceOnline},
		domain.User{ID: ""},
	)
	pro, ok := r.User("pro")
	require.True(t, ok)
	assert.Equal(t, domain.PresenceOffline, pro.Status)
	assert.Equal(t, "pro", pro.Username)

	_, ok = r.User("u1")
	assert.False(t, ok)
	u := r.GetOrCreateUser("u1")
	assert.Equal(t, domain.RoleUser, u.Role)
	assert.Equal(t, u, r.GetOrCreateUser("u1"))
}

func TestPresenceAndBalance(t *testing.T) {
	r := NewRegistry(domain.User{ID: "u1", TokenBalance: 20})

	require.NoError(t, r.SetPresence("u1", domain.PresenceBusy))
	assert.ErrorIs(t, r.SetPresence("u1", "away"), domain.ErrInvalidPresence)
	assert.ErrorIs(t, r.SetPresence("ghost", domain.PresenceOnline), ErrUnknownUser)

	bal, err := r.AdjustBalance("u1", -15)
	require.NoError(t, err)
	assert.Equal(t, 5, bal)
	_, err = r.AdjustBalance("u1", -6)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	assert.ErrorIs(t, r.UpdateUsername("u1", ""), domain.ErrUsernameEmpty)
	require.NoError(t, r.UpdateUsername("u1", "Ann"))
	u, _ := r.User("u1")
	assert.Equal(t, "Ann", u.Username)
}

func TestReserve(t *testing.T) {
	r := NewRegistry(domain.User{ID: "pro", Role: domain.RoleProfessional})

	assert.False(t, r.Reserve("pro"), "offline")
	assert.False(t, r.Reserve("ghost"))

	require.NoError(t, r.SetPresence("pro", domain.PresenceOnline))
	assert.True(t, r.Reserve("pro"))
	u, _ := r.User("pro")
	assert.Equal(t, domain.PresenceBusy, u.Status)
	assert.False(t, r.Reserve("pro"), "already busy")
}

func TestProfessionalsListsReachable(t *testing.T) {
	r := NewRegistry(
		domain.User{ID: "b", Role: domain.RoleProfessional},
		domain.User{ID: "a", Role: domain.RoleProfessional},
		domain.User{ID: "c", Role: domain.RoleProfessional},
		domain.User{ID: "d", ProfessionalMode: true},
		domain.User{ID: "u"},
	)
	for _, id := range []domain.UserID{"a", "b", "d", "u"} {
		require.NoError(t, r.SetPresence(id, domain.PresenceOnline))
	}
	require.NoError(t, r.SetPresence("b", domain.PresenceBusy))

	var ids []domain.UserID
	for _, u := range r.Professionals() {
		ids = append(ids, u.ID)
	}
	assert.Equal(t, []domain.UserID{"a", "b", "d"}, ids)
}

func TestRebindCancelsPrevious(t *testing.T) {
	r := NewRegistry()
	ctx1, cancel1 := context.WithCancel(context.Background())
	first := r.BindSignal("u1", &nopConn{}, cancel1)

	conn2 := &nopConn{}
	_, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	second := r.BindSignal("u1", conn2, cancel2)
	assert.ErrorIs(t, ctx1.Err(), context.Canceled)

	// The stale connection cannot unbind its successor.
	assert.False(t, r.Unbind("u1", first))
	got, ok := r.Signal("u1")
	require.True(t, ok)
	assert.Same(t, conn2, got)

	assert.True(t, r.Unbind("u1", second))
	_, ok = r.Signal("u1")
	assert.False(t, ok)
	assert.False(t, r.Cancel("u1"))
}

func TestSimplePolicy(t *testing.T) {
	p := SimplePolicy{}
	assert.Equal(t, DropFrame, p.OnBackPressure(protocol.TypeChatMessage))
	assert.Equal(t, DropFrame, p.OnBackPressure(protocol.TypeFileMessage))
	assert.Equal(t, KickMember, p.OnBackPressure(protocol.TypeOffer))
	assert.Equal(t, KickMember, p.OnBackPressure(protocol.TypeCallEnded))
}
