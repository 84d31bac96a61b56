package app

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/dkeye/Dial/internal/core"
	"github.com/dkeye/Dial/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnknownUser         = errors.New("user not found")
	ErrInsufficientBalance = errors.New("balance would go negative")
)

type signalEntry struct {
	ConnID string
	Conn   core.SignalConnection
	Cancel context.CancelFunc
}

// Registry maps identities to their profile and their live signal connection.
// Profiles outlive connections; there is no persistence.
type Registry struct {
	mu      sync.RWMutex
	signals map[domain.UserID]*signalEntry
	users   map[domain.UserID]*domain.User
}

// NewRegistry creates a registry preloaded with seed users. Seeded users start
// offline until they connect.
func NewRegistry(seed ...domain.User) *Registry {
	r := &Registry{
		signals: make(map[domain.UserID]*signalEntry),
		users:   make(map[domain.UserID]*domain.User),
	}
	for _, u := range seed {
		if domain.ValidateUserID(u.ID) != nil {
			log.Warn().Str("module", "app.registry").Str("user", string(u.ID)).Msg("seed user with bad id skipped")
			continue
		}
		u.Status = domain.PresenceOffline
		if u.Role == "" {
			u.Role = domain.RoleUser
		}
		if u.Username == "" {
			u.Username = string(u.ID)
		}
		r.users[u.ID] = &u
	}
	return r
}

// GetOrCreateUser returns the profile of id, creating a plain user on first
// sight.
func (r *Registry) GetOrCreateUser(id domain.UserID) domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		return *u
	}
	u := &domain.User{ID: id, Username: string(id), Role: domain.RoleUser, Status: domain.PresenceOffline}
	r.users[id] = u
	log.Info().Str("module", "app.registry").Str("user", string(id)).Msg("created new user")
	return *u
}

func (r *Registry) User(id domain.UserID) (domain.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if u, ok := r.users[id]; ok {
		return *u, true
	}
	return domain.User{}, false
}

func (r *Registry) UpdateUsername(id domain.UserID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return ErrUnknownUser
	}
	if err := u.SetUsername(name); err != nil {
		return err
	}
	log.Info().Str("module", "app.registry").Str("user", string(id)).Str("username", name).Msg("updated username")
	return nil
}

func (r *Registry) SetPresence(id domain.UserID, p domain.Presence) error {
	if _, err := domain.ParsePresence(string(p)); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return ErrUnknownUser
	}
	if u.Status != p {
		log.Info().Str("module", "app.registry").Str("user", string(id)).
			Str("from", string(u.Status)).Str("to", string(p)).Msg("presence")
	}
	u.Status = p
	return nil
}

// Reserve flips id from online to busy in one step. It reports false when id
// is unknown or not online.
func (r *Registry) Reserve(id domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok || !u.Callable() {
		return false
	}
	u.Status = domain.PresenceBusy
	log.Info().Str("module", "app.registry").Str("user", string(id)).Msg("reserved")
	return true
}

// AdjustBalance adds delta tokens to id and returns the new balance. A debit
// larger than the balance is refused.
func (r *Registry) AdjustBalance(id domain.UserID, delta int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return 0, ErrUnknownUser
	}
	if u.TokenBalance+delta < 0 {
		return u.TokenBalance, ErrInsufficientBalance
	}
	u.TokenBalance += delta
	return u.TokenBalance, nil
}

// Professionals lists professionals that are online or busy, by id.
func (r *Registry) Professionals() []domain.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.User, 0, len(r.users))
	for _, u := range r.users {
		if u.IsProfessional() && u.Status != domain.PresenceOffline {
			out = append(out, *u)
		}
	}
	slices.SortFunc(out, func(a, b domain.User) int { return strings.Compare(string(a.ID), string(b.ID)) })
	return out
}

// BindSignal makes conn the live connection of id and returns its connection
// id. A previous connection of the same identity is cancelled.
func (r *Registry) BindSignal(id domain.UserID, conn core.SignalConnection, cancel context.CancelFunc) string {
	connID := uuid.NewString()
	r.mu.Lock()
	prev := r.signals[id]
	r.signals[id] = &signalEntry{ConnID: connID, Conn: conn, Cancel: cancel}
	r.mu.Unlock()

	if prev != nil && prev.Cancel != nil {
		log.Info().Str("module", "app.registry").Str("user", string(id)).Str("conn", prev.ConnID).Msg("replaced signal")
		prev.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("user", string(id)).Str("conn", connID).Msg("bound signal")
	return connID
}

// Signal returns the live connection of id.
func (r *Registry) Signal(id domain.UserID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.signals[id]; ok {
		return e.Conn, true
	}
	return nil, false
}

// Unbind forgets the connection connID of id. It reports false when a newer
// connection has replaced it, so a late disconnect cannot unbind its successor.
func (r *Registry) Unbind(id domain.UserID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.signals[id]
	if !ok || e.ConnID != connID {
		return false
	}
	delete(r.signals, id)
	log.Info().Str("module", "app.registry").Str("user", string(id)).Str("conn", connID).Msg("unbind signal")
	return true
}

func (r *Registry) Cancel(id domain.UserID) bool {
	r.mu.RLock()
	e, ok := r.signals[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("user", string(id)).Msg("canceled signal")
	return true
}
