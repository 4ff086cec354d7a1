package chat

import (
	"encoding/json"

	"github.com/pelusa-v/duochat/internal/errs"
	"github.com/pelusa-v/duochat/internal/models"
	"github.com/pelusa-v/duochat/internal/presence"
)

// outbound event types
const (
	EventUserStatus     = "user_status"
	EventOnlineUsers    = "online_users"
	EventHistory        = "history"
	EventHistoryBatch   = "history_batch"
	EventHistoryEnd     = "history_end"
	EventEdit           = "edit"
	EventDelete         = "delete"
	EventReactionUpdate = "reaction_update"
	EventTypingUpdate   = "typing_update"
	EventReadUpdate     = "read_update"
	EventPong           = "pong"
	EventError          = "error"

	StatusOnline  = "online"
	StatusOffline = "offline"
)

type UserStatusEvent struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Status   string `json:"status"`
	LastSeen string `json:"lastSeen"`
}

type OnlineUsersEvent struct {
	Type  string           `json:"type"`
	Users []presence.Entry `json:"users"`
}

type HistoryEvent struct {
	Type     string           `json:"type"`
	Messages []models.Message `json:"messages"`
	HasMore  bool             `json:"hasMore"`
}

type HistoryEndEvent struct {
	Type string `json:"type"`
}

type EditEvent struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	Content  string `json:"content"`
	IsEdited bool   `json:"isEdited"`
	EditedAt string `json:"editedAt"`
}

type DeleteEvent struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	DeletedAt string `json:"deletedAt"`
}

// ReactionUpdateEvent carries the full resulting list, not a delta.
type ReactionUpdateEvent struct {
	Type      string            `json:"type"`
	MessageID string            `json:"messageId"`
	Reactions []models.Reaction `json:"reactions"`
}

type TypingEvent struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

type ReadEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	IsRead    bool   `json:"isRead"`
	ViewedAt  string `json:"viewedAt"`
}

type PongEvent struct {
	Type      string          `json:"type"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

type ErrorEvent struct {
	Type  string    `json:"type"`
	Code  errs.Code `json:"code"`
	Error string    `json:"error"`
}

func errorEvent(err error) ErrorEvent {
	return ErrorEvent{Type: EventError, Code: errs.CodeOf(err), Error: err.Error()}
}

func statusEvent(e presence.Entry, status string) UserStatusEvent {
	return UserStatusEvent{
		Type:     EventUserStatus,
		UserID:   e.UserID,
		Username: e.Username,
		Status:   status,
		LastSeen: models.FormatTime(e.LastSeen),
	}
}
