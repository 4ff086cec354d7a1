package models

import (
	"encoding/json"
	"reflect"
	"strings"
	"time"
)

// TimeLayout is the ISO-8601 form used for every timestamp on the wire and in storage.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// DeletedPlaceholder replaces the displayed content of a soft-deleted message.
const DeletedPlaceholder = "This message was deleted"

// BroadcastReceiver addresses everyone in the room.
const BroadcastReceiver = "all"

// Message is the full chat payload as received from a client. It is stored
// verbatim; the indexed columns of a Row are projected from it. Fields the
// struct does not name are kept in Extra and written back out unchanged.
type Message struct {
	ID         string       `json:"id"`
	Type       string       `json:"type,omitempty"`
	Content    string       `json:"content"`
	SenderID   string       `json:"senderId"`
	ReceiverID string       `json:"receiverId,omitempty"`
	Timestamp  string       `json:"timestamp"`
	Sender     *Participant `json:"sender,omitempty"`

	ImageData        string  `json:"imageData,omitempty"`
	AudioData        string  `json:"audioData,omitempty"`
	AudioDuration    float64 `json:"audioDuration,omitempty"`
	VideoStoragePath string  `json:"videoStoragePath,omitempty"`
	FileURL          string  `json:"fileUrl,omitempty"`
	ViewOnce         bool    `json:"viewOnce,omitempty"`
	ReplyToID        string  `json:"replyToId,omitempty"`

	Reactions []Reaction `json:"reactions,omitempty"`

	IsEdited  bool   `json:"isEdited,omitempty"`
	EditedAt  string `json:"editedAt,omitempty"`
	IsDeleted bool   `json:"isDeleted,omitempty"`
	DeletedAt string `json:"deletedAt,omitempty"`
	IsRead    bool   `json:"isRead,omitempty"`
	ViewedAt  string `json:"viewedAt,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// messageFields has Message's layout without its JSON methods.
type messageFields Message

// knownMessageKeys holds the lowercased JSON names of Message's fields.
// encoding/json matches names case-insensitively, so Extra must too.
var knownMessageKeys = func() map[string]bool {
	keys := map[string]bool{}
	t := reflect.TypeOf(messageFields{})
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name != "" && name != "-" {
			keys[strings.ToLower(name)] = true
		}
	}
	return keys
}()

func (m *Message) UnmarshalJSON(data []byte) error {
	var f messageFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for k := range all {
		if knownMessageKeys[strings.ToLower(k)] {
			delete(all, k)
		}
	}
	f.Extra = nil
	if len(all) > 0 {
		f.Extra = all
	}
	*m = Message(f)
	return nil
}

func (m Message) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(messageFields(m))
	if err != nil || len(m.Extra) == 0 {
		return base, err
	}
	out := make(map[string]json.RawMessage, len(m.Extra)+16)
	if err := json.Unmarshal(base, &out); err != nil {
		return nil, err
	}
	for k, v := range m.Extra {
		if knownMessageKeys[strings.ToLower(k)] {
			continue
		}
		out[k] = v
	}
	return json.Marshal(out)
}

// HasMedia reports whether any media field is set.
func (m *Message) HasMedia() bool {
	return m.ImageData != "" || m.AudioData != "" || m.VideoStoragePath != "" || m.FileURL != ""
}

// Persistable reports whether the message is conversation content rather
// than ephemeral signaling.
func (m *Message) Persistable() bool {
	if m.Type == "system" {
		return false
	}
	return m.Content != "" || m.HasMedia()
}

// CreatedAt parses Timestamp; ok is false when it is missing or malformed.
func (m *Message) CreatedAt() (time.Time, bool) {
	return ParseTime(m.Timestamp)
}

// Reaction is embedded in a message payload. At most one per (UserID, Emoji).
type Reaction struct {
	ID        string `json:"id"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Emoji     string `json:"emoji"`
	CreatedAt string `json:"createdAt"`
}

type ReactionAction string

const (
	ReactionAdd    ReactionAction = "add"
	ReactionRemove ReactionAction = "remove"
)

// Row is the persisted shape of a message: indexed projection plus payload.
type Row struct {
	ID             string       `json:"id"`
	Content        string       `json:"content"`
	SenderID       string       `json:"sender_id"`
	ReceiverID     string       `json:"receiver_id"`
	CreatedAt      string       `json:"created_at"`
	SenderSnapshot *Participant `json:"sender_snapshot,omitempty"`
	FullPayload    Message      `json:"full_payload"`
}

// FormatTime renders t in TimeLayout, always in UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts TimeLayout and any RFC 3339 variant.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
