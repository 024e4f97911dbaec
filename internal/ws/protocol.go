package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"persona-chat/backend/internal/chat"
)

// Inbound message types.
const (
	TypeChat      = "chat"
	TypeJoin      = "join"
	TypeLeave     = "leave"
	TypeTyping    = "typing"
	TypeHeartbeat = "heartbeat"
)

// Outbound message types.
const (
	TypeSystem            = "system"
	TypeJoinSuccess       = "join_success"
	TypeUserJoined        = "user_joined"
	TypeUserLeft          = "user_left"
	TypeTypingIndicator   = "typing_indicator"
	TypeOnlineCount       = "online_count"
	TypeError             = "error"
	TypeHeartbeatResponse = "heartbeat_response"
	TypeChatResponse      = "chat_response"
)

// MessageTypeVoice marks a chat message whose audio should be transcribed.
const MessageTypeVoice = "voice"

var (
	// ErrUnknownType is returned for a well-formed envelope whose type is
	// not handled; callers drop such messages.
	ErrUnknownType = errors.New("unknown message type")
	// ErrMalformed wraps every decoding failure of a known type.
	ErrMalformed = errors.New("malformed message")
)

// Inbound is one decoded client message; the concrete type is the variant.
type Inbound interface {
	inboundType() string
}

type ChatMessage struct {
	UserID      uint   `json:"userId"`
	PersonaID   uint   `json:"personaId"`
	SessionID   string `json:"sessionId"`
	Message     string `json:"message"`
	MessageType string `json:"messageType"`
	// Audio is base64 encoded and only read for voice messages.
	Audio []byte `json:"audio"`
}

type JoinMessage struct {
	UserID uint `json:"userId"`
}

type LeaveMessage struct {
	UserID uint `json:"userId"`
}

type TypingMessage struct {
	UserID   uint `json:"userId"`
	IsTyping bool `json:"isTyping"`
}

type HeartbeatMessage struct{}

func (ChatMessage) inboundType() string      { return TypeChat }
func (JoinMessage) inboundType() string      { return TypeJoin }
func (LeaveMessage) inboundType() string     { return TypeLeave }
func (TypingMessage) inboundType() string    { return TypeTyping }
func (HeartbeatMessage) inboundType() string { return TypeHeartbeat }

// DecodeInbound parses one frame into its variant.
func DecodeInbound(data []byte) (Inbound, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch head.Type {
	case TypeChat:
		var m ChatMessage
		if err := decodeInto(data, &m); err != nil {
			return nil, err
		}
		if m.MessageType == MessageTypeVoice && len(m.Audio) == 0 {
			return nil, fmt.Errorf("%w: voice message without audio", ErrMalformed)
		}
		return m, nil
	case TypeJoin:
		var m JoinMessage
		if err := decodeInto(data, &m); err != nil {
			return nil, err
		}
		if m.UserID == 0 {
			return nil, fmt.Errorf("%w: userId is required", ErrMalformed)
		}
		return m, nil
	case TypeLeave:
		var m LeaveMessage
		if err := decodeInto(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeTyping:
		var m TypingMessage
		if err := decodeInto(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeHeartbeat:
		return HeartbeatMessage{}, nil
	case "":
		return nil, fmt.Errorf("%w: type is required", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}
}

func decodeInto(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// Envelope is every server-to-client frame.
type Envelope struct {
	Type        string             `json:"type"`
	Timestamp   time.Time          `json:"timestamp"`
	SessionID   string             `json:"sessionId,omitempty"`
	UserID      uint               `json:"userId,omitempty"`
	Message     string             `json:"message,omitempty"`
	OnlineCount *int               `json:"onlineCount,omitempty"`
	Count       *int               `json:"count,omitempty"`
	IsTyping    *bool              `json:"isTyping,omitempty"`
	Response    *chat.TurnResponse `json:"response,omitempty"`
}

// Encode marshals the envelope.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func intPtr(n int) *int    { return &n }
func boolPtr(b bool) *bool { return &b }
