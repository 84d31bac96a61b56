// Package calls is the call-management service: it opens, accepts and settles
// calls between a user and a professional and tells the other party over the
// signaling channel.
package calls

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Dial/internal/app/billing"
	"github.com/dkeye/Dial/internal/domain"
	"github.com/dkeye/Dial/internal/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrCallNotFound       = errors.New("call not found")
	ErrNotAvailable       = errors.New("professional is not available")
	ErrInsufficientTokens = errors.New("insufficient tokens")
	ErrSelfCall           = errors.New("cannot call yourself")
	ErrForbidden          = errors.New("not a participant of this call")
	ErrAlreadyAccepted    = errors.New("call already accepted")
)

// Users is the profile store the manager reads and updates.
type Users interface {
	User(id domain.UserID) (domain.User, bool)
	SetPresence(id domain.UserID, p domain.Presence) error
	// Reserve marks a callable user busy and reports whether it did.
	Reserve(id domain.UserID) bool
	AdjustBalance(id domain.UserID, delta int) (int, error)
}

// Notifier delivers server-originated envelopes to a connected identity.
type Notifier interface {
	Notify(to domain.UserID, env protocol.Envelope) error
}

type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
)

// Record is a call in flight. It is dropped once settled.
type Record struct {
	ID           domain.CallID
	Caller       domain.UserID
	Professional domain.UserID
	Status       Status
	CreatedAt    time.Time
	StartedAt    time.Time
}

func (r Record) Party(id domain.UserID) bool {
	return id == r.Caller || id == r.Professional
}

// Other returns the party that is not id.
func (r Record) Other(id domain.UserID) domain.UserID {
	if id == r.Caller {
		return r.Professional
	}
	return r.Caller
}

// Result is what End reports to the party that ended the call.
type Result struct {
	Duration float64 `json:"duration"`
	Cost     int     `json:"cost"`
}

type Manager struct {
	mu    sync.Mutex
	calls map[domain.CallID]*Record

	users        Users
	notify       Notifier
	tariff       billing.Tariff
	defaultPrice float64
	now          func() time.Time
}

// NewManager builds a manager. defaultPrice applies to professionals without
// a price of their own.
func NewManager(users Users, notify Notifier, tariff billing.Tariff, defaultPrice float64) *Manager {
	return &Manager{
		calls:        make(map[domain.CallID]*Record),
		users:        users,
		notify:       notify,
		tariff:       tariff,
		defaultPrice: defaultPrice,
		now:          time.Now,
	}
}

// Initiate opens a call from caller to professional, marks the professional
// busy and sends them a call_request.
func (m *Manager) Initiate(caller, professional domain.UserID) (domain.CallID, error) {
	if caller == professional {
		return "", ErrSelfCall
	}
	from, ok := m.users.User(caller)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUserNotFound, caller)
	}
	pro, ok := m.users.User(professional)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUserNotFound, professional)
	}
	if !pro.Callable() {
		return "", ErrNotAvailable
	}
	if !m.tariff.CanAfford(from.TokenBalance) {
		return "", fmt.Errorf("%w: need %d", ErrInsufficientTokens, m.tariff.MinBalance)
	}
	if !m.users.Reserve(professional) {
		return "", ErrNotAvailable
	}

	rec := &Record{
		ID:           domain.CallID(uuid.NewString()),
		Caller:       caller,
		Professional: professional,
		Status:       StatusPending,
		CreatedAt:    m.now(),
	}
	m.mu.Lock()
	m.calls[rec.ID] = rec
	m.mu.Unlock()

	log.Info().Str("module", "app.calls").Str("call_id", string(rec.ID)).
		Str("caller", string(caller)).Str("professional", string(professional)).Msg("call initiated")

	m.send(professional, protocol.NewCallRequest(rec.ID, from))
	return rec.ID, nil
}

// Accept starts the billed part of a call. Only the professional may accept.
func (m *Manager) Accept(user domain.UserID, id domain.CallID) error {
	m.mu.Lock()
	rec, ok := m.calls[id]
	if !ok {
		m.mu.Unlock()
		return ErrCallNotFound
	}
	if rec.Professional != user {
		m.mu.Unlock()
		return ErrForbidden
	}
	if rec.Status != StatusPending {
		m.mu.Unlock()
		return ErrAlreadyAccepted
	}
	rec.Status = StatusActive
	rec.StartedAt = m.now()
	caller := rec.Caller
	m.mu.Unlock()

	log.Info().Str("module", "app.calls").Str("call_id", string(id)).Msg("call accepted")
	m.send(caller, protocol.NewCallAccepted(id))
	return nil
}

// End settles a call on behalf of one of its parties and notifies the other
// one with call_ended.
func (m *Manager) End(user domain.UserID, id domain.CallID) (Result, error) {
	m.mu.Lock()
	rec, ok := m.calls[id]
	if !ok {
		m.mu.Unlock()
		return Result{}, ErrCallNotFound
	}
	if !rec.Party(user) {
		m.mu.Unlock()
		return Result{}, ErrForbidden
	}
	delete(m.calls, id)
	m.mu.Unlock()

	res := m.settle(*rec)
	m.send(rec.Other(user), protocol.NewCallEnded(id, res.Duration, res.Cost))
	return res, nil
}

// Disconnect settles every call user takes part in, as if they had ended it.
func (m *Manager) Disconnect(user domain.UserID) {
	m.mu.Lock()
	var gone []Record
	for id, rec := range m.calls {
		if rec.Party(user) {
			gone = append(gone, *rec)
			delete(m.calls, id)
		}
	}
	m.mu.Unlock()

	for _, rec := range gone {
		log.Info().Str("module", "app.calls").Str("call_id", string(rec.ID)).Str("user", string(user)).Msg("party disconnected")
		res := m.settle(rec)
		m.send(rec.Other(user), protocol.NewCallEnded(rec.ID, res.Duration, res.Cost))
	}
}

// Get returns a copy of a call in flight.
func (m *Manager) Get(id domain.CallID) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.calls[id]; ok {
		return *rec, true
	}
	return Record{}, false
}

func (m *Manager) settle(rec Record) Result {
	started := !rec.StartedAt.IsZero()
	var minutes float64
	if started {
		minutes = m.now().Sub(rec.StartedAt).Minutes()
	}
	price := m.defaultPrice
	if pro, ok := m.users.User(rec.Professional); ok && pro.PricePerMinute > 0 {
		price = pro.PricePerMinute
	}
	s := m.tariff.Settle(started, minutes, price)

	l := log.With().Str("module", "app.calls").Str("call_id", string(rec.ID)).Logger()
	if s.Cost > 0 {
		if _, err := m.users.AdjustBalance(rec.Caller, -s.Cost); err != nil {
			// The caller is charged what is left.
			l.Warn().Err(err).Int("cost", s.Cost).Msg("debit caller")
			if u, ok := m.users.User(rec.Caller); ok && u.TokenBalance > 0 {
				_, _ = m.users.AdjustBalance(rec.Caller, -u.TokenBalance)
			}
		}
		if _, err := m.users.AdjustBalance(rec.Professional, s.Payout); err != nil {
			l.Warn().Err(err).Int("payout", s.Payout).Msg("credit professional")
		}
	}
	if err := m.users.SetPresence(rec.Professional, domain.PresenceOnline); err != nil {
		l.Warn().Err(err).Msg("mark online")
	}
	l.Info().Float64("minutes", minutes).Int("cost", s.Cost).Int("payout", s.Payout).Msg("call settled")
	return Result{Duration: minutes, Cost: s.Cost}
}

func (m *Manager) send(to domain.UserID, env protocol.Envelope) {
	if m.notify == nil {
		return
	}
	if err := m.notify.Notify(to, env); err != nil {
		log.Warn().Err(err).Str("module", "app.calls").Str("user", string(to)).Str("type", string(env.Type)).Msg("notify")
	}
}
