package signal

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/Dial/internal/app"
	"github.com/dkeye/Dial/internal/core"
	"github.com/dkeye/Dial/internal/domain"
	"github.com/dkeye/Dial/internal/protocol"
	"github.com/rs/zerolog/log"
)

// handleRelay forwards env to its target, as sent, with "from" set to the
// sender and, for chat, "timestamp" set to the server time.
func (ctl *SignalWSController) handleRelay(uid domain.UserID, c *WsSignalConn, env protocol.Envelope, data []byte) {
	if env.Target == "" {
		ctl.sendError(c, ReasonMissingTarget)
		return
	}
	frame, err := ctl.stamp(data, uid, env.Type)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("stamp relay frame")
		ctl.sendError(c, ReasonBadPayload)
		return
	}
	err = ctl.deliver(env.Target, env.Type, frame)
	switch {
	case err == nil:
		log.Debug().Str("module", "signal").Str("user", string(uid)).Str("target", string(env.Target)).
			Str("type", string(env.Type)).Msg("relayed")
	case errors.Is(err, ErrTargetOffline), errors.Is(err, ErrConnClosed):
		ctl.sendError(c, ReasonTargetOffline)
	default:
		log.Warn().Err(err).Str("module", "signal").Str("target", string(env.Target)).Str("type", string(env.Type)).Msg("relay")
	}
}

// stamp rewrites the raw object so fields the server does not model survive.
func (ctl *SignalWSController) stamp(data []byte, from domain.UserID, typ protocol.Type) (core.Frame, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	b, err := json.Marshal(from)
	if err != nil {
		return nil, err
	}
	raw["from"] = b
	if typ.Chat() {
		ts, err := json.Marshal(ctl.now().UTC())
		if err != nil {
			return nil, err
		}
		raw["timestamp"] = ts
	}
	return json.Marshal(raw)
}

// deliver queues frame on the live connection of to, applying the
// backpressure policy when its queue is full.
func (ctl *SignalWSController) deliver(to domain.UserID, typ protocol.Type, frame core.Frame) error {
	conn, ok := ctl.Registry.Signal(to)
	if !ok {
		return ErrTargetOffline
	}
	err := conn.TrySend(frame)
	if !errors.Is(err, ErrBackpressure) {
		return err
	}
	switch ctl.Policy.OnBackPressure(typ) {
	case app.KickMember:
		log.Warn().Str("module", "signal").Str("user", string(to)).Str("type", string(typ)).Msg("backpressure: kick")
		ctl.Registry.Cancel(to)
		conn.Close()
	case app.DropFrame:
		log.Warn().Str("module", "signal").Str("user", string(to)).Str("type", string(typ)).Msg("backpressure: drop")
	}
	return err
}

// Notify pushes a server-originated envelope to an identity.
func (ctl *SignalWSController) Notify(to domain.UserID, env protocol.Envelope) error {
	frame, err := protocol.Encode(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Type, err)
	}
	return ctl.deliver(to, env.Type, frame)
}
