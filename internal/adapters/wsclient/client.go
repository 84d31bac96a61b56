// Package wsclient is the client end of the per-identity signaling socket.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/Dial/internal/core"
	"github.com/dkeye/Dial/internal/domain"
	"github.com/dkeye/Dial/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrBackpressure = errors.New("send queue full")

const writeWait = 5 * time.Second

type Options struct {
	// SendQueue bounds outbound envelopes not yet written.
	SendQueue int
	// PingPeriod enables application-level ping envelopes. Zero disables them.
	PingPeriod time.Duration
	// ReadLimit caps inbound frame size.
	ReadLimit int64
	Dialer    *websocket.Dialer
}

// URL maps an http(s) server base to the signaling endpoint of uid.
func URL(base string, uid domain.UserID) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u.JoinPath("api", "ws", string(uid)).String(), nil
}

// Client implements core.Transport over one WebSocket. Inbound is closed
// when the socket drops.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	in     chan protocol.Envelope
	logger zerolog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func Dial(ctx context.Context, base string, uid domain.UserID, opts Options) (*Client, error) {
	if err := domain.ValidateUserID(uid); err != nil {
		return nil, err
	}
	target, err := URL(base, uid)
	if err != nil {
		return nil, err
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	if opts.SendQueue <= 0 {
		opts.SendQueue = 64
	}
	if opts.ReadLimit > 0 {
		conn.SetReadLimit(opts.ReadLimit)
	}

	c := &Client{
		conn:   conn,
		send:   make(chan []byte, opts.SendQueue),
		in:     make(chan protocol.Envelope, opts.SendQueue),
		logger: log.With().Str("module", "wsclient").Str("user", string(uid)).Logger(),
		done:   make(chan struct{}),
	}
	go c.writePump(opts.PingPeriod)
	go c.readPump()
	c.logger.Info().Str("url", target).Msg("signaling connected")
	return c, nil
}

// Send queues env without blocking.
func (c *Client) Send(env protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrTransportClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *Client) Inbound() <-chan protocol.Envelope { return c.in }

// Done is closed once the socket is closed.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close is idempotent. Inbound closes once the read pump exits.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	close(c.done)
	_ = c.conn.Close()
}

func (c *Client) writePump(pingPeriod time.Duration) {
	var tick <-chan time.Time
	if pingPeriod > 0 {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer c.Close()

	ping, _ := protocol.Encode(protocol.Envelope{Type: protocol.TypePing})
	for {
		select {
		case <-tick:
			if err := c.write(ping); err != nil {
				c.logger.Warn().Err(err).Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}
			if err := c.write(data); err != nil {
				c.logger.Error().Err(err).Msg("writePump write error")
				return
			}
		}
	}
}

func (c *Client) write(data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readPump() {
	defer func() {
		close(c.in)
		c.Close()
		c.logger.Info().Msg("readPump closing")
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("readPump read error")
			}
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("skipping invalid frame")
			continue
		}
		if env.Type == protocol.TypePong {
			continue
		}
		select {
		case c.in <- env:
		case <-c.done:
			return
		}
	}
}
