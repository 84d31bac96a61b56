// Package signal is the server end of the per-identity signaling WebSocket:
// it relays call signaling and chat between identities and pushes
// call-management notifications.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Dial/internal/app"
	"github.com/dkeye/Dial/internal/app/calls"
	"github.com/dkeye/Dial/internal/config"
	"github.com/dkeye/Dial/internal/core"
	"github.com/dkeye/Dial/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/juju/ratelimit"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure  = errors.New("backpressure")
	ErrConnClosed    = errors.New("connection closed")
	ErrTargetOffline = errors.New("target offline")
)

// Error reasons sent back to a client in {"type":"error"} envelopes.
const (
	ReasonBadPayload    = "bad_payload"
	ReasonMissingTarget = "missing_target"
	ReasonTargetOffline = "target_offline"
	ReasonRateLimited   = "rate_limited"
)

type SignalWSController struct {
	Registry *app.Registry
	// Calls is told about disconnects so open calls get settled. May be nil.
	Calls  *calls.Manager
	Policy app.Policy

	readLimit  int64
	pingPeriod time.Duration
	sendQueue  int
	rate       float64
	burst      int64
	now        func() time.Time
}

func NewSignalWSController(reg *app.Registry, calls *calls.Manager, policy app.Policy, cfg *config.Config) *SignalWSController {
	ctl := &SignalWSController{
		Registry:   reg,
		Calls:      calls,
		Policy:     policy,
		readLimit:  cfg.ReadLimit,
		pingPeriod: cfg.PingPeriod,
		sendQueue:  cfg.Signal.SendQueue,
		rate:       cfg.Signal.Rate,
		burst:      cfg.Signal.Burst,
		now:        time.Now,
	}
	if ctl.pingPeriod <= 0 {
		ctl.pingPeriod = 54 * time.Second
	}
	if ctl.sendQueue <= 0 {
		ctl.sendQueue = 32
	}
	return ctl
}

type WsSignalConn struct {
	conn   *websocket.Conn
	send   chan core.Frame
	bucket *ratelimit.Bucket

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// allow takes one token from the connection's inbound bucket.
func (c *WsSignalConn) allow() bool {
	return c.bucket == nil || c.bucket.TakeAvailable(1) == 1
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades /api/ws/:user_id. A new connection for an identity
// replaces the previous one.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	uid := domain.UserID(c.Param("user_id"))
	if err := domain.ValidateUserID(uid); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	log.Info().Str("module", "signal").Str("user", string(uid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.sendQueue),
	}
	if ctl.rate > 0 {
		conn.bucket = ratelimit.NewBucketWithRate(ctl.rate, max(ctl.burst, 1))
	}

	user := ctl.Registry.GetOrCreateUser(uid)
	if user.Status == domain.PresenceOffline {
		if err := ctl.Registry.SetPresence(uid, domain.PresenceOnline); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("user", string(uid)).Msg("mark online")
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	connID := ctl.Registry.BindSignal(uid, conn, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, uid, connID, conn)
}

// disconnected runs once the read pump of connID exits. Only the current
// connection of an identity takes it offline.
func (ctl *SignalWSController) disconnected(uid domain.UserID, connID string) {
	if !ctl.Registry.Unbind(uid, connID) {
		return
	}
	if ctl.Calls != nil {
		ctl.Calls.Disconnect(uid)
	}
	if err := ctl.Registry.SetPresence(uid, domain.PresenceOffline); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("user", string(uid)).Msg("mark offline")
	}
}
