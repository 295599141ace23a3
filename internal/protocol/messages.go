package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeChatMessage   MessageType = "chat_message"
	TypeClientControl MessageType = "client_control"
	TypeChatReply     MessageType = "chat_reply"
	TypeSystemEvent   MessageType = "system_event"
	TypeErrorEvent    MessageType = "error_event"
)

// Client control actions.
const (
	ActionPing = "ping"
)

// DefaultUserID is used when a chat_message omits user_id.
const DefaultUserID int64 = 1

var (
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrInvalidUserID   = errors.New("user_id must be an integer")
)

type Envelope struct {
	Type MessageType `json:"type"`
}

type ChatMessage struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Message   string      `json:"message"`
	UserID    int64       `json:"user_id"`
}

type ClientControl struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
}

type ChatReply struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	UserID    int64       `json:"user_id"`
	Response  string      `json:"response"`
	Emotion   string      `json:"emotion"`
}

type SystemEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Detail    string      `json:"detail"`
}

// ParseClientMessage decodes one websocket frame from a client into a
// ChatMessage or ClientControl value.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeChatMessage:
		var msg struct {
			RequestID string          `json:"request_id"`
			Message   json.RawMessage `json:"message"`
			UserID    json.RawMessage `json:"user_id"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("invalid chat_message: %w", err)
		}
		var text string
		if len(msg.Message) == 0 || string(msg.Message) == "null" || json.Unmarshal(msg.Message, &text) != nil {
			return nil, errors.New("invalid chat_message: message must be a string")
		}
		userID, err := ParseUserID(msg.UserID)
		if err != nil {
			return nil, fmt.Errorf("invalid chat_message: %w", err)
		}
		return ChatMessage{
			Type:      TypeChatMessage,
			RequestID: strings.TrimSpace(msg.RequestID),
			Message:   text,
			UserID:    userID,
		}, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// ParseUserID coerces a raw user_id value. An absent value is DefaultUserID.
// Integers, integral floats such as 2.0 and integer strings such as "2" are
// accepted; null, fractions, booleans and other strings are not.
func ParseUserID(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return DefaultUserID, nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, ErrInvalidUserID
		}
		id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return 0, ErrInvalidUserID
		}
		return id, nil
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return 0, ErrInvalidUserID
		}
		if id, err := n.Int64(); err == nil {
			return id, nil
		}
		f, err := n.Float64()
		if err != nil || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, ErrInvalidUserID
		}
		return int64(f), nil
	default:
		return 0, ErrInvalidUserID
	}
}
