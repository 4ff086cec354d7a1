package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/pelusa-v/duochat/internal/errs"
	"github.com/pelusa-v/duochat/internal/models"
)

const lockStripes = 64

// Store is the durable message table. Every mutation is a read-modify-write
// of one row under that row's lock; there are no cross-row locks.
type Store struct {
	db    *pebble.DB
	path  string
	log   *slog.Logger
	locks [lockStripes]sync.Mutex
	now   func() time.Time
}

// Open opens or creates the pebble database at path.
func Open(path string, log *slog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errs.StorageUnavailable("open store", errors.New("db path is required"))
	}
	if log == nil {
		log = slog.Default()
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		log.Error("pebble_open_failed", "path", path, "error", err)
		return nil, errs.StorageUnavailable("open store", err)
	}
	log.Info("store_opened", "path", path)
	return &Store{db: db, path: path, log: log, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) rowLock(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &s.locks[h.Sum32()%lockStripes]
}

// Insert upserts msg keyed by its id. A resend with the same id overwrites
// the stored row. A missing or malformed timestamp is replaced with now.
func (s *Store) Insert(msg models.Message) (models.Row, error) {
	if strings.TrimSpace(msg.ID) == "" {
		return models.Row{}, errs.InvalidInput("message id is required")
	}
	created, ok := msg.CreatedAt()
	if !ok {
		created = s.now()
	}
	// stored timestamps carry millisecond precision; the index must agree
	created = created.Truncate(time.Millisecond)
	msg.Timestamp = models.FormatTime(created)
	row := project(msg)

	mu := s.rowLock(msg.ID)
	mu.Lock()
	defer mu.Unlock()

	prev, err := s.get(msg.ID)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return models.Row{}, err
	}

	b := s.db.NewBatch()
	defer b.Close()
	if prev != nil && prev.CreatedAt != row.CreatedAt {
		if old, ok := models.ParseTime(prev.CreatedAt); ok {
			_ = b.Delete(createdKey(old, prev.ID), nil)
		}
	}
	if err := s.stage(b, row, created); err != nil {
		return models.Row{}, err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		s.log.Error("store_insert_failed", "id", msg.ID, "error", err)
		return models.Row{}, errs.StorageUnavailable("insert message", err)
	}
	s.log.Debug("store_insert_ok", "id", msg.ID, "overwrite", prev != nil)
	return row, nil
}

// Get returns the stored row for id.
func (s *Store) Get(id string) (models.Row, error) {
	row, err := s.get(id)
	if err != nil {
		return models.Row{}, err
	}
	return *row, nil
}

// Edit replaces the content of a message and flags it edited.
func (s *Store) Edit(id, content string) (models.Row, error) {
	return s.update(id, func(r *models.Row) bool {
		r.FullPayload.Content = content
		r.FullPayload.IsEdited = true
		r.FullPayload.EditedAt = models.FormatTime(s.now())
		if !r.FullPayload.IsDeleted {
			r.Content = content
		}
		return true
	})
}

// SoftDelete stamps deletedAt and tombstones the displayed content. The
// payload keeps the original content and media.
func (s *Store) SoftDelete(id string) (models.Row, error) {
	return s.update(id, func(r *models.Row) bool {
		if r.FullPayload.IsDeleted {
			return false
		}
		r.FullPayload.IsDeleted = true
		r.FullPayload.DeletedAt = models.FormatTime(s.now())
		r.Content = models.DeletedPlaceholder
		return true
	})
}

// MutateReaction adds or removes reaction on a message and returns the
// resulting reaction list. Adding an existing (user, emoji) pair and
// removing an absent one are both no-ops.
func (s *Store) MutateReaction(messageID string, reaction models.Reaction, action models.ReactionAction) ([]models.Reaction, error) {
	if reaction.UserID == "" || reaction.Emoji == "" {
		return nil, errs.InvalidInput("reaction requires userId and emoji")
	}
	if action != models.ReactionAdd && action != models.ReactionRemove {
		return nil, errs.Newf(errs.CodeInvalidInput, "unknown reaction action %q", action)
	}
	row, err := s.update(messageID, func(r *models.Row) bool {
		idx := -1
		for i, existing := range r.FullPayload.Reactions {
			if existing.UserID == reaction.UserID && existing.Emoji == reaction.Emoji {
				idx = i
				break
			}
		}
		switch action {
		case models.ReactionAdd:
			if idx >= 0 {
				return false
			}
			reaction.MessageID = messageID
			if reaction.CreatedAt == "" {
				reaction.CreatedAt = models.FormatTime(s.now())
			}
			r.FullPayload.Reactions = append(r.FullPayload.Reactions, reaction)
		case models.ReactionRemove:
			if idx < 0 {
				return false
			}
			rs := r.FullPayload.Reactions
			r.FullPayload.Reactions = append(rs[:idx:idx], rs[idx+1:]...)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	out := row.FullPayload.Reactions
	if out == nil {
		out = []models.Reaction{}
	}
	return out, nil
}

// MarkRead flags a message read. Already-read messages are returned unchanged.
func (s *Store) MarkRead(id string) (models.Row, error) {
	return s.update(id, func(r *models.Row) bool {
		if r.FullPayload.IsRead {
			return false
		}
		r.FullPayload.IsRead = true
		r.FullPayload.ViewedAt = models.FormatTime(s.now())
		return true
	})
}

// Latest returns up to limit messages, newest first.
func (s *Store) Latest(limit int) ([]models.Message, error) {
	return s.scanDesc(createdEnd(), limit)
}

// Before returns up to limit messages older than the cursor, newest first.
// With an empty id that is everything created strictly before t. With an id,
// messages sharing t's millisecond that sort before id are included too, so a
// page boundary inside one millisecond loses nothing.
func (s *Store) Before(t time.Time, id string, limit int) ([]models.Message, error) {
	if id == "" {
		return s.scanDesc(createdBound(t), limit)
	}
	return s.scanDesc(createdKey(t, id), limit)
}

func (s *Store) scanDesc(upper []byte, limit int) ([]models.Message, error) {
	if limit <= 0 {
		return []models.Message{}, nil
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(createdPrefix),
		UpperBound: upper,
	})
	if err != nil {
		return nil, errs.StorageUnavailable("open iterator", err)
	}
	defer iter.Close()

	ids := make([]string, 0, limit)
	for iter.Last(); iter.Valid() && len(ids) < limit; iter.Prev() {
		id, perr := idFromCreatedKey(iter.Key())
		if perr != nil {
			s.log.Warn("store_index_key_invalid", "error", perr)
			continue
		}
		ids = append(ids, id)
	}
	if err := iter.Error(); err != nil {
		return nil, errs.StorageUnavailable("scan index", err)
	}

	out := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		row, err := s.get(id)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				s.log.Warn("store_index_dangling", "id", id)
				continue
			}
			return nil, err
		}
		out = append(out, row.FullPayload)
	}
	return out, nil
}

func (s *Store) update(id string, mutate func(*models.Row) bool) (models.Row, error) {
	mu := s.rowLock(id)
	mu.Lock()
	defer mu.Unlock()

	row, err := s.get(id)
	if err != nil {
		return models.Row{}, err
	}
	if !mutate(row) {
		return *row, nil
	}
	created, ok := models.ParseTime(row.CreatedAt)
	if !ok {
		return models.Row{}, errs.Newf(errs.CodeInternal, "stored message %s has bad created_at %q", id, row.CreatedAt)
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := s.stage(b, *row, created); err != nil {
		return models.Row{}, err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		s.log.Error("store_update_failed", "id", id, "error", err)
		return models.Row{}, errs.StorageUnavailable("update message", err)
	}
	return *row, nil
}

func (s *Store) stage(b *pebble.Batch, row models.Row, created time.Time) error {
	val, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode message %s: %w", row.ID, err)
	}
	if err := b.Set(messageKey(row.ID), val, nil); err != nil {
		return errs.StorageUnavailable("stage message", err)
	}
	if err := b.Set(createdKey(created, row.ID), []byte(row.ID), nil); err != nil {
		return errs.StorageUnavailable("stage index", err)
	}
	return nil
}

func (s *Store) get(id string) (*models.Row, error) {
	if s.db == nil {
		return nil, errs.StorageUnavailable("get message", errors.New("store is closed"))
	}
	v, closer, err := s.db.Get(messageKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, errs.Newf(errs.CodeNotFound, "message %s not found", id)
		}
		s.log.Error("store_get_failed", "id", id, "error", err)
		return nil, errs.StorageUnavailable("get message", err)
	}
	defer closer.Close()
	var row models.Row
	if err := json.Unmarshal(v, &row); err != nil {
		return nil, fmt.Errorf("decode message %s: %w", id, err)
	}
	return &row, nil
}

// project extracts the indexed columns from a payload.
func project(msg models.Message) models.Row {
	receiver := msg.ReceiverID
	if receiver == "" {
		receiver = models.BroadcastReceiver
	}
	content := msg.Content
	if msg.IsDeleted {
		content = models.DeletedPlaceholder
	}
	var snapshot *models.Participant
	if msg.Sender != nil {
		cp := *msg.Sender
		snapshot = &cp
	}
	return models.Row{
		ID:             msg.ID,
		Content:        content,
		SenderID:       msg.SenderID,
		ReceiverID:     receiver,
		CreatedAt:      msg.Timestamp,
		SenderSnapshot: snapshot,
		FullPayload:    msg,
	}
}
