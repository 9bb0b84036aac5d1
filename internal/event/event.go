// Package event defines the JSON frames exchanged over the push channel.
// Every frame is an envelope {type, payload}; the payload shape depends on
// the type.
package event

import (
	"encoding/json"
	"errors"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

// Client → server types.
const (
	TypeIdentify    = "identify"
	TypeSendMessage = "send_message"
	TypePing        = "ping"
)

// Server → client types.
const (
	TypeIdentified      = "identified"
	TypeNewMessage      = "new_message"
	TypePresenceChanged = "presence_changed"
	TypeError           = "error"
	TypePong            = "pong"
)

// Event is an outbound frame.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Inbound is a frame read from a client; Payload is decoded lazily once the
// type is known.
type Inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrNoPayload is returned by Decode when the frame carries no payload.
var ErrNoPayload = errors.New("event: missing payload")

// Decode unmarshals the payload into dst.
func (in Inbound) Decode(dst any) error {
	if len(in.Payload) == 0 || string(in.Payload) == "null" {
		return ErrNoPayload
	}
	return json.Unmarshal(in.Payload, dst)
}

// IdentifyPayload binds a connection to the holder of Token.
type IdentifyPayload struct {
	Token string `json:"token"`
}

// SendMessagePayload mirrors the body of POST /messages.
type SendMessagePayload struct {
	Recipient string                  `json:"recipient"`
	Content   *string                 `json:"content,omitempty"`
	Media     *domain.MediaDescriptor `json:"media,omitempty"`
}

// IdentifiedPayload acknowledges a successful identify.
type IdentifiedPayload struct {
	Username string `json:"username"`
}

// PresencePayload carries the full online list plus the user whose
// connection triggered the change. Exactly one of Joined/Left is set.
type PresencePayload struct {
	Online []string `json:"online"`
	Joined string   `json:"joined,omitempty"`
	Left   string   `json:"left,omitempty"`
}

// ErrorPayload reports a rejected client frame. Codes match the HTTP API.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewMessage wraps a persisted message for delivery.
func NewMessage(v domain.MessageView) Event {
	return Event{Type: TypeNewMessage, Payload: v}
}

// Identified acknowledges an identify frame.
func Identified(username string) Event {
	return Event{Type: TypeIdentified, Payload: IdentifiedPayload{Username: username}}
}

// Joined announces that username came online.
func Joined(online []string, username string) Event {
	return Event{Type: TypePresenceChanged, Payload: PresencePayload{Online: online, Joined: username}}
}

// Left announces that username went offline.
func Left(online []string, username string) Event {
	return Event{Type: TypePresenceChanged, Payload: PresencePayload{Online: online, Left: username}}
}

// Error builds an error frame.
func Error(code, msg string) Event {
	return Event{Type: TypeError, Payload: ErrorPayload{Code: code, Message: msg}}
}

// Pong answers a ping.
func Pong() Event { return Event{Type: TypePong} }
