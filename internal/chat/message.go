package chat

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/pelusa-v/duochat/internal/errs"
	"github.com/pelusa-v/duochat/internal/models"
)

type FrameType string

const (
	FrameJoin        FrameType = "join"
	FrameEdit        FrameType = "edit"
	FrameDelete      FrameType = "delete"
	FrameReaction    FrameType = "reaction"
	FrameLoadMore    FrameType = "load_more"
	FrameTypingStart FrameType = "typing_start"
	FrameTypingStop  FrameType = "typing_stop"
	FrameMarkRead    FrameType = "mark_read"
	FramePing        FrameType = "ping"
	FrameChat        FrameType = "chat"
)

// Frame is one decoded inbound frame. The set of implementations is closed;
// anything Decode does not recognise becomes a ChatFrame.
type Frame interface {
	Type() FrameType
}

type JoinFrame struct {
	User models.Participant
}

type EditFrame struct {
	ID      string
	Content string
}

type DeleteFrame struct {
	ID string
}

type ReactionFrame struct {
	MessageID  string
	ReactionID string
	UserID     string
	Emoji      string
	Action     models.ReactionAction
}

type LoadMoreFrame struct {
	LastTimestamp string
	LastID        string
}

type TypingFrame struct {
	UserID   string
	Username string
	IsTyping bool
}

type MarkReadFrame struct {
	MessageID string
}

type PingFrame struct {
	Timestamp json.RawMessage
}

// ChatFrame carries a new conversation message (or ephemeral signaling when
// the message is not persistable).
type ChatFrame struct {
	Message models.Message
}

func (JoinFrame) Type() FrameType     { return FrameJoin }
func (EditFrame) Type() FrameType     { return FrameEdit }
func (DeleteFrame) Type() FrameType   { return FrameDelete }
func (ReactionFrame) Type() FrameType { return FrameReaction }
func (LoadMoreFrame) Type() FrameType { return FrameLoadMore }
func (MarkReadFrame) Type() FrameType { return FrameMarkRead }
func (PingFrame) Type() FrameType     { return FramePing }
func (ChatFrame) Type() FrameType     { return FrameChat }

func (f TypingFrame) Type() FrameType {
	if f.IsTyping {
		return FrameTypingStart
	}
	return FrameTypingStop
}

// wireFrame is the union of every tagged frame's fields.
type wireFrame struct {
	Type          string              `json:"type"`
	User          *models.Participant `json:"user"`
	ID            string              `json:"id"`
	Content       *string             `json:"content"`
	MessageID     string              `json:"messageId"`
	UserID        string              `json:"userId"`
	Username      string              `json:"username"`
	Emoji         string              `json:"emoji"`
	Action        string              `json:"action"`
	LastTimestamp string              `json:"lastTimestamp"`
	LastID        string              `json:"lastId"`
	Timestamp     json.RawMessage     `json:"timestamp"`
}

// Decode turns one text frame into a typed Frame. Non-JSON text is wrapped
// as a plain chat message.
func Decode(data []byte) (Frame, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errs.InvalidInput("empty frame")
	}
	if trimmed[0] != '{' {
		return ChatFrame{Message: models.Message{Content: string(trimmed)}}, nil
	}

	var w wireFrame
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return nil, errs.Wrap(errs.CodeInvalidInput, "malformed frame", err)
	}

	switch FrameType(w.Type) {
	case FrameJoin:
		if w.User == nil || strings.TrimSpace(w.User.ID) == "" {
			return nil, errs.InvalidInput("join requires user.id")
		}
		return JoinFrame{User: *w.User}, nil

	case FrameEdit:
		if w.ID == "" || w.Content == nil {
			return nil, errs.InvalidInput("edit requires id and content")
		}
		return EditFrame{ID: w.ID, Content: *w.Content}, nil

	case FrameDelete:
		if w.ID == "" {
			return nil, errs.InvalidInput("delete requires id")
		}
		return DeleteFrame{ID: w.ID}, nil

	case FrameReaction:
		if w.MessageID == "" || w.Emoji == "" || w.UserID == "" {
			return nil, errs.InvalidInput("reaction requires messageId, emoji and userId")
		}
		action := models.ReactionAction(w.Action)
		if action != models.ReactionAdd && action != models.ReactionRemove {
			return nil, errs.Newf(errs.CodeInvalidInput, "reaction action must be add or remove, got %q", w.Action)
		}
		return ReactionFrame{
			MessageID:  w.MessageID,
			ReactionID: w.ID,
			UserID:     w.UserID,
			Emoji:      w.Emoji,
			Action:     action,
		}, nil

	case FrameLoadMore:
		if w.LastTimestamp == "" {
			return nil, errs.InvalidInput("load_more requires lastTimestamp")
		}
		return LoadMoreFrame{LastTimestamp: w.LastTimestamp, LastID: w.LastID}, nil

	case FrameTypingStart, FrameTypingStop:
		return TypingFrame{
			UserID:   w.UserID,
			Username: w.Username,
			IsTyping: FrameType(w.Type) == FrameTypingStart,
		}, nil

	case FrameMarkRead:
		if w.MessageID == "" {
			return nil, errs.InvalidInput("mark_read requires messageId")
		}
		return MarkReadFrame{MessageID: w.MessageID}, nil

	case FramePing:
		return PingFrame{Timestamp: w.Timestamp}, nil
	}

	var msg models.Message
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return nil, errs.Wrap(errs.CodeInvalidInput, "malformed chat message", err)
	}
	return ChatFrame{Message: msg}, nil
}
