// Package protocol defines the signaling envelope exchanged over the
// per-identity WebSocket. Envelopes are JSON objects discriminated by "type".
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Dial/internal/domain"
	"github.com/pion/webrtc/v4"
)

var (
	ErrMissingType  = errors.New("envelope without type")
	ErrMissingField = errors.New("envelope missing required field")
)

type Type string

const (
	TypeCallRequest  Type = "call_request"
	TypeCallAccepted Type = "call_accepted"
	TypeOffer        Type = "offer"
	TypeAnswer       Type = "answer"
	TypeICECandidate Type = "ice-candidate"
	TypeChatMessage  Type = "chat_message"
	TypeFileMessage  Type = "file_message"
	TypeCallEnded    Type = "call_ended"
	TypePing         Type = "ping"
	TypePong         Type = "pong"
	TypeError        Type = "error"
)

// Relayed reports whether the server forwards envelopes of type t between peers.
func (t Type) Relayed() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeICECandidate, TypeChatMessage, TypeFileMessage:
		return true
	}
	return false
}

// Chat reports whether t belongs to the chat side-channel.
func (t Type) Chat() bool {
	return t == TypeChatMessage || t == TypeFileMessage
}

// Envelope is the tagged union. Which fields are set depends on Type.
type Envelope struct {
	Type      Type                       `json:"type"`
	CallID    domain.CallID              `json:"call_id,omitempty"`
	Target    domain.UserID              `json:"target,omitempty"`
	From      domain.UserID              `json:"from,omitempty"`
	Caller    *domain.User               `json:"caller,omitempty"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Message   string                     `json:"message,omitempty"`
	File      *domain.FileAttachment     `json:"file,omitempty"`
	Timestamp *time.Time                 `json:"timestamp,omitempty"`
	// Duration is in minutes, as the billing collaborator reports it.
	Duration *float64 `json:"duration,omitempty"`
	Cost     *int     `json:"cost,omitempty"`
	Error    string   `json:"error,omitempty"`
}

func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, ErrMissingType
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func Encode(env Envelope) ([]byte, error) {
	if env.Type == "" {
		return nil, ErrMissingType
	}
	return json.Marshal(env)
}

// Validate checks the required fields of the message catalog. Addressing
// (target/from) is not checked here since it depends on direction.
func (e Envelope) Validate() error {
	missing := func(field string) error {
		return fmt.Errorf("%w: %s needs %s", ErrMissingField, e.Type, field)
	}
	switch e.Type {
	case TypeCallRequest:
		if e.CallID == "" {
			return missing("call_id")
		}
		if e.Caller == nil {
			return missing("caller")
		}
	case TypeCallAccepted:
		if e.CallID == "" {
			return missing("call_id")
		}
	case TypeOffer, TypeAnswer:
		if e.SDP == nil || e.SDP.SDP == "" {
			return missing("sdp")
		}
	case TypeICECandidate:
		if e.Candidate == nil {
			return missing("candidate")
		}
	case TypeChatMessage:
		if e.Message == "" {
			return missing("message")
		}
	case TypeFileMessage:
		if e.File == nil {
			return missing("file")
		}
	}
	return nil
}

func NewOffer(callID domain.CallID, target domain.UserID, sdp webrtc.SessionDescription) Envelope {
	return Envelope{Type: TypeOffer, CallID: callID, Target: target, SDP: &sdp}
}

func NewAnswer(callID domain.CallID, target domain.UserID, sdp webrtc.SessionDescription) Envelope {
	return Envelope{Type: TypeAnswer, CallID: callID, Target: target, SDP: &sdp}
}

func NewCandidate(callID domain.CallID, target domain.UserID, c webrtc.ICECandidateInit) Envelope {
	return Envelope{Type: TypeICECandidate, CallID: callID, Target: target, Candidate: &c}
}

func NewChat(target domain.UserID, message string) Envelope {
	return Envelope{Type: TypeChatMessage, Target: target, Message: message}
}

func NewFile(target domain.UserID, file domain.FileAttachment) Envelope {
	return Envelope{Type: TypeFileMessage, Target: target, File: &file}
}

func NewCallRequest(callID domain.CallID, caller domain.User) Envelope {
	return Envelope{Type: TypeCallRequest, CallID: callID, Caller: &caller}
}

func NewCallAccepted(callID domain.CallID) Envelope {
	return Envelope{Type: TypeCallAccepted, CallID: callID}
}

func NewCallEnded(callID domain.CallID, durationMinutes float64, cost int) Envelope {
	return Envelope{Type: TypeCallEnded, CallID: callID, Duration: &durationMinutes, Cost: &cost}
}

func NewError(reason string) Envelope {
	return Envelope{Type: TypeError, Error: reason}
}
