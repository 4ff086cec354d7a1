package chat

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/pelusa-v/duochat/internal/errs"
	"github.com/pelusa-v/duochat/internal/history"
	"github.com/pelusa-v/duochat/internal/metrics"
	"github.com/pelusa-v/duochat/internal/models"
	"github.com/pelusa-v/duochat/internal/presence"
)

// MessageStore is the persistence the dispatcher needs.
type MessageStore interface {
	Insert(msg models.Message) (models.Row, error)
	Edit(id, content string) (models.Row, error)
	SoftDelete(id string) (models.Row, error)
	MutateReaction(messageID string, reaction models.Reaction, action models.ReactionAction) ([]models.Reaction, error)
	MarkRead(id string) (models.Row, error)
}

type Options struct {
	SendBuffer   int
	WriteTimeout time.Duration
	FrameRPS     float64
	FrameBurst   int
}

// Dispatcher owns the per-connection lifecycle and routes decoded frames to
// the store, presence registry and broadcaster.
type Dispatcher struct {
	store    MessageStore
	history  *history.Service
	presence *presence.Registry
	manager  *Manager
	metrics  *metrics.Metrics
	log      *slog.Logger
	opts     Options
	now      func() time.Time
}

func NewDispatcher(st MessageStore, hist *history.Service, reg *presence.Registry, mgr *Manager, m *metrics.Metrics, log *slog.Logger, opts Options) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		store:    st,
		history:  hist,
		presence: reg,
		manager:  mgr,
		metrics:  m,
		log:      log,
		opts:     opts,
		now:      time.Now,
	}
}

func (d *Dispatcher) Manager() *Manager { return d.manager }

func (d *Dispatcher) newClient(conn ConnLike) *Client {
	var limiter *rate.Limiter
	if d.opts.FrameRPS > 0 {
		burst := d.opts.FrameBurst
		if burst <= 0 {
			burst = int(d.opts.FrameRPS) + 1
		}
		limiter = rate.NewLimiter(rate.Limit(d.opts.FrameRPS), burst)
	}
	return NewClient(conn, d.opts.SendBuffer, limiter)
}

// Serve runs one connection until the peer disconnects. It blocks, and does
// not return while WritePump can still touch conn: the websocket layer
// recycles the connection as soon as the handler returns.
func (d *Dispatcher) Serve(conn ConnLike) {
	c := d.newClient(conn)
	d.Connect(c)
	go c.WritePump(d.opts.WriteTimeout, d.log)

	// Disconnect closes Send, which lets the writer finish.
	defer c.awaitWriter(d.opts.WriteTimeout)
	defer d.Disconnect(c)

	c.ReadPump(d.Handle)
}

// Connect registers c and queues the most recent history page for it.
func (d *Dispatcher) Connect(c *Client) {
	d.manager.Register(c)
	d.log.Info("ws_connected", "conn", c.Id)

	page, err := d.history.InitialPage(d.history.PageSize())
	if err != nil {
		d.metrics.StoreErrors.WithLabelValues("history").Inc()
		d.log.Error("initial_history_failed", "conn", c.Id, "error", err)
		return
	}
	d.manager.Send(c, HistoryEvent{Type: EventHistory, Messages: page.Messages, HasMore: page.HasMore})
}

// Disconnect unregisters c and, if it was the user's last connection,
// tells everyone else the user went offline.
func (d *Dispatcher) Disconnect(c *Client) {
	d.manager.Unregister(c)
	entry, offline := d.presence.Disconnect(c.Id)
	d.log.Info("ws_disconnected", "conn", c.Id, "user", entry.UserID)
	if offline {
		d.manager.Broadcast(statusEvent(entry, StatusOffline), nil)
	}
}

// Handle processes one inbound frame from c. Failures are reported to c
// alone and never tear the connection down.
func (d *Dispatcher) Handle(c *Client, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("frame_panic", "conn", c.Id, "panic", fmt.Sprint(r))
			d.reply(c, errs.New(errs.CodeInternal, "internal error"))
		}
	}()

	if !c.allow() {
		d.metrics.Frames.WithLabelValues("rate_limited").Inc()
		d.reply(c, errs.New(errs.CodeRateLimited, "too many frames"))
		return
	}

	f, err := Decode(data)
	if err != nil {
		d.metrics.Frames.WithLabelValues("invalid").Inc()
		d.log.Debug("frame_rejected", "conn", c.Id, "error", err)
		d.reply(c, err)
		return
	}
	d.metrics.Frames.WithLabelValues(string(f.Type())).Inc()

	switch f := f.(type) {
	case JoinFrame:
		d.join(c, f)
	case EditFrame:
		d.edit(c, f)
	case DeleteFrame:
		d.delete(c, f)
	case ReactionFrame:
		d.reaction(c, f)
	case LoadMoreFrame:
		d.loadMore(c, f)
	case TypingFrame:
		d.typing(c, f)
	case MarkReadFrame:
		d.markRead(c, f)
	case PingFrame:
		d.manager.Send(c, PongEvent{Type: EventPong, Timestamp: f.Timestamp})
	case ChatFrame:
		d.chat(c, f.Message)
	}
}

func (d *Dispatcher) reply(c *Client, err error) {
	d.manager.Send(c, errorEvent(err))
}

// storeFailed reports a failed store call to the originator. Not-found and
// bad input are expected; anything else is also counted.
func (d *Dispatcher) storeFailed(c *Client, op string, err error) {
	switch {
	case errors.Is(err, errs.ErrNotFound), errors.Is(err, errs.ErrInvalidInput):
		d.log.Debug("store_rejected", "op", op, "conn", c.Id, "error", err)
		d.reply(c, err)
	default:
		d.metrics.StoreErrors.WithLabelValues(op).Inc()
		d.log.Error("store_failed", "op", op, "conn", c.Id, "error", err)
		d.reply(c, errs.Wrap(errs.CodeStorageUnavailable, op+" failed", err))
	}
}

func (d *Dispatcher) join(c *Client, f JoinFrame) {
	entry := d.presence.Join(c.Id, f.User)
	d.log.Info("user_joined", "conn", c.Id, "user", entry.UserID, "username", entry.Username)
	d.manager.Broadcast(statusEvent(entry, StatusOnline), c)
	d.manager.Send(c, OnlineUsersEvent{Type: EventOnlineUsers, Users: d.presence.List()})
}

func (d *Dispatcher) edit(c *Client, f EditFrame) {
	row, err := d.store.Edit(f.ID, f.Content)
	if err != nil {
		d.storeFailed(c, "edit", err)
		return
	}
	d.manager.Broadcast(EditEvent{
		Type:     EventEdit,
		ID:       row.ID,
		Content:  f.Content,
		IsEdited: true,
		EditedAt: row.FullPayload.EditedAt,
	}, nil)
}

func (d *Dispatcher) delete(c *Client, f DeleteFrame) {
	row, err := d.store.SoftDelete(f.ID)
	if err != nil {
		d.storeFailed(c, "delete", err)
		return
	}
	d.manager.Broadcast(DeleteEvent{Type: EventDelete, ID: row.ID, DeletedAt: row.FullPayload.DeletedAt}, nil)
}

func (d *Dispatcher) reaction(c *Client, f ReactionFrame) {
	now := d.now()
	id := f.ReactionID
	if id == "" {
		id = strconv.FormatInt(now.UnixNano(), 36) + "-" + f.UserID
	}
	reactions, err := d.store.MutateReaction(f.MessageID, models.Reaction{
		ID:        id,
		MessageID: f.MessageID,
		UserID:    f.UserID,
		Emoji:     f.Emoji,
		CreatedAt: models.FormatTime(now),
	}, f.Action)
	if err != nil {
		d.storeFailed(c, "reaction", err)
		return
	}
	d.manager.Broadcast(ReactionUpdateEvent{Type: EventReactionUpdate, MessageID: f.MessageID, Reactions: reactions}, nil)
}

func (d *Dispatcher) loadMore(c *Client, f LoadMoreFrame) {
	page, err := d.history.OlderPage(f.LastTimestamp, f.LastID, d.history.PageSize())
	if err != nil {
		d.storeFailed(c, "history", err)
		return
	}
	if len(page.Messages) == 0 {
		d.manager.Send(c, HistoryEndEvent{Type: EventHistoryEnd})
		return
	}
	d.manager.Send(c, HistoryEvent{Type: EventHistoryBatch, Messages: page.Messages, HasMore: page.HasMore})
}

func (d *Dispatcher) typing(c *Client, f TypingFrame) {
	if e, ok := d.presence.Lookup(c.Id); ok {
		if f.UserID == "" {
			f.UserID = e.UserID
		}
		if f.Username == "" {
			f.Username = e.Username
		}
	}
	d.manager.Broadcast(TypingEvent{
		Type:     EventTypingUpdate,
		UserID:   f.UserID,
		Username: f.Username,
		IsTyping: f.IsTyping,
	}, c)
}

func (d *Dispatcher) markRead(c *Client, f MarkReadFrame) {
	row, err := d.store.MarkRead(f.MessageID)
	if err != nil {
		d.storeFailed(c, "mark_read", err)
		return
	}
	d.manager.Broadcast(ReadEvent{
		Type:      EventReadUpdate,
		MessageID: row.ID,
		IsRead:    true,
		ViewedAt:  row.FullPayload.ViewedAt,
	}, nil)
}

// chat stamps, persists and relays a message to everyone but its sender.
// The write completes before the broadcast so a peer never sees a message
// that is missing from history.
func (d *Dispatcher) chat(c *Client, msg models.Message) {
	if strings.TrimSpace(msg.ID) == "" {
		msg.ID = uuid.NewString()
	}
	if _, ok := msg.CreatedAt(); !ok {
		msg.Timestamp = models.FormatTime(d.now())
	}
	if msg.Type == "" {
		msg.Type = string(FrameChat)
	}
	if e, ok := d.presence.Lookup(c.Id); ok {
		if msg.SenderID == "" {
			msg.SenderID = e.UserID
		}
		if msg.Sender == nil && msg.SenderID == e.UserID {
			msg.Sender = &models.Participant{ID: e.UserID, Username: e.Username, Avatar: e.Avatar}
		}
	}

	if msg.Persistable() {
		row, err := d.store.Insert(msg)
		if err != nil {
			d.storeFailed(c, "insert", err)
			return
		}
		msg = row.FullPayload
	}
	d.manager.Broadcast(msg, c)
}
