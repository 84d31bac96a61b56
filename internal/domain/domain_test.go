package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUser(t *testing.T) {
	asserts := assert.New(t)

	u, err := NewUser("alice")
	require.NoError(t, err)
	asserts.Equal("alice", u.Username)
	asserts.NotEmpty(u.ID)
	asserts.Equal(RoleUser, u.Role)
	asserts.Equal(PresenceOffline, u.Status)

	_, err = NewUser("")
	asserts.ErrorIs(err, ErrUsernameEmpty)

	_, err = NewUser(strings.Repeat("x", MaxUsernameLen+1))
	asserts.ErrorIs(err, ErrUsernameTooLong)
}

func TestValidateUserID(t *testing.T) {
	assert.NoError(t, ValidateUserID("u1"))
	assert.ErrorIs(t, ValidateUserID(""), ErrUserIDEmpty)
	assert.ErrorIs(t, ValidateUserID(UserID(strings.Repeat("a", MaxUserIDLen+1))), ErrUserIDTooLong)
}

func TestParsePresence(t *testing.T) {
	for _, s := range []string{"online", "offline", "busy"} {
		p, err := ParsePresence(s)
		require.NoError(t, err)
		assert.Equal(t, s, string(p))
	}
	_, err := ParsePresence("away")
	assert.ErrorIs(t, err, ErrInvalidPresence)
}

func TestUserCallable(t *testing.T) {
	u := User{ID: "p1", Role: RoleProfessional, Status: PresenceOnline}
	assert.True(t, u.Callable())
	assert.True(t, u.IsProfessional())

	u.Status = PresenceBusy
	assert.False(t, u.Callable())
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Phase
		ok       bool
	}{
		{PhaseIdle, PhaseOutgoingPending, true},
		{PhaseIdle, PhaseIncomingPending, true},
		{PhaseIdle, PhaseNegotiating, false},
		{PhaseOutgoingPending, PhaseNegotiating, true},
		{PhaseOutgoingPending, PhaseActive, false},
		{PhaseIncomingPending, PhaseRejected, true},
		{PhaseIncomingPending, PhaseCancelled, true},
		{PhaseNegotiating, PhaseActive, true},
		{PhaseNegotiating, PhaseRejected, false},
		{PhaseActive, PhaseNegotiating, false},
		{PhaseActive, PhaseFailed, true},
		{PhaseActive, PhaseEnded, true},
		{PhaseEnded, PhaseEnded, false},
		{PhaseFailed, PhaseIdle, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to))
		})
	}
}

func TestPhaseClassification(t *testing.T) {
	for _, p := range []Phase{PhaseEnded, PhaseRejected, PhaseCancelled, PhaseFailed} {
		assert.True(t, p.Terminal(), p)
		assert.False(t, p.Negotiating(), p)
	}
	for _, p := range []Phase{PhaseIdle, PhaseOutgoingPending, PhaseIncomingPending} {
		assert.False(t, p.Terminal(), p)
		assert.False(t, p.Negotiating(), p)
	}
	assert.True(t, PhaseNegotiating.Negotiating())
	assert.True(t, PhaseActive.Negotiating())
}

func TestCallTransition(t *testing.T) {
	c := Call{ID: "c1", Phase: PhaseOutgoingPending}
	require.NoError(t, c.Transition(PhaseNegotiating))
	assert.ErrorIs(t, c.Transition(PhaseOutgoingPending), ErrInvalidTransition)
	assert.Equal(t, PhaseNegotiating, c.Phase)
}

func TestChatEntryValidate(t *testing.T) {
	assert.NoError(t, ChatEntry{Message: "hi"}.Validate())
	assert.NoError(t, ChatEntry{File: &FileAttachment{Name: "a.png"}}.Validate())
	assert.ErrorIs(t, ChatEntry{}.Validate(), ErrChatEntryShape)
	assert.ErrorIs(t, ChatEntry{Message: "hi", File: &FileAttachment{}}.Validate(), ErrChatEntryShape)
}
