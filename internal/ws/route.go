package ws

import (
	"context"
	"errors"
	"strings"

	"persona-chat/backend/internal/chat"
)

// Route decodes one inbound frame from connID and dispatches it. Unknown
// types are logged and dropped; malformed frames get an error reply.
func (r *Registry) Route(ctx context.Context, connID string, data []byte) {
	msg, err := DecodeInbound(data)
	switch {
	case errors.Is(err, ErrUnknownType):
		r.log.Warn("Dropping message of unknown type", "connection_id", connID, "error", err.Error())
		return
	case err != nil:
		r.log.Info("Rejected malformed message", "connection_id", connID, "error", err.Error())
		r.SendTo(connID, Envelope{Type: TypeError, Message: err.Error()})
		return
	}

	switch m := msg.(type) {
	case JoinMessage:
		if err := r.Join(connID, m.UserID); err != nil {
			r.SendTo(connID, Envelope{Type: TypeError, Message: err.Error()})
		}
	case LeaveMessage:
		userID := m.UserID
		if userID == 0 {
			userID, _ = r.BoundUser(connID)
		}
		r.Leave(connID, userID)
	case TypingMessage:
		userID := m.UserID
		if userID == 0 {
			userID, _ = r.BoundUser(connID)
		}
		if userID == 0 {
			r.SendTo(connID, Envelope{Type: TypeError, Message: "join before sending typing updates"})
			return
		}
		r.Broadcast(Envelope{Type: TypeTypingIndicator, UserID: userID, IsTyping: boolPtr(m.IsTyping)}, connID)
	case HeartbeatMessage:
		r.SendTo(connID, Envelope{Type: TypeHeartbeatResponse})
	case ChatMessage:
		r.handleChat(ctx, connID, m)
	}
}

func (r *Registry) handleChat(ctx context.Context, connID string, m ChatMessage) {
	if r.turns == nil {
		r.SendTo(connID, Envelope{Type: TypeError, Message: "chat is not available"})
		return
	}

	req := chat.TurnRequest{
		UserID:    m.UserID,
		PersonaID: m.PersonaID,
		SessionID: strings.TrimSpace(m.SessionID),
		Message:   m.Message,
	}
	if req.UserID == 0 {
		req.UserID, _ = r.BoundUser(connID)
	}
	if req.SessionID == "" {
		req.SessionID = connID
	}

	processing := chat.Processing(req, r.now().UTC())
	r.SendTo(connID, Envelope{Type: TypeChatResponse, SessionID: req.SessionID, Response: &processing})

	var resp chat.TurnResponse
	if m.MessageType == MessageTypeVoice {
		resp = r.turns.HandleVoice(ctx, m.Audio, req)
	} else {
		resp = r.turns.HandleText(ctx, req)
	}

	if !r.SendTo(connID, Envelope{Type: TypeChatResponse, SessionID: req.SessionID, Response: &resp}) {
		r.log.Info("Connection gone before reply was delivered", "connection_id", connID, "status", string(resp.Status))
	}
}
