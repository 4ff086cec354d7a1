package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pelusa-v/duochat/internal/errs"
	"github.com/pelusa-v/duochat/internal/logger"
	"github.com/pelusa-v/duochat/internal/models"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	s.now = func() time.Time { return base.Add(time.Hour) }
	return s
}

func msgAt(id string, at time.Time, content string) models.Message {
	return models.Message{
		ID:        id,
		Type:      "chat",
		Content:   content,
		SenderID:  "alice",
		Timestamp: models.FormatTime(at),
		Sender:    &models.Participant{ID: "alice", Username: "Alice"},
	}
}

func TestInsertProjectsColumns(t *testing.T) {
	s := openTestStore(t)
	m := msgAt("m1", base, "hello")
	m.ImageData = "data:image/png;base64,AAAA"

	row, err := s.Insert(m)
	require.NoError(t, err)
	assert.Equal(t, "m1", row.ID)
	assert.Equal(t, "alice", row.SenderID)
	assert.Equal(t, models.BroadcastReceiver, row.ReceiverID)
	assert.Equal(t, "2026-03-01T12:00:00.000Z", row.CreatedAt)
	require.NotNil(t, row.SenderSnapshot)
	assert.Equal(t, "Alice", row.SenderSnapshot.Username)

	got, err := s.Get("m1")
	require.NoError(t, err)
	assert.Equal(t, row, got)
	assert.Equal(t, "data:image/png;base64,AAAA", got.FullPayload.ImageData)
}

func TestInsertWithoutTimestampUsesNow(t *testing.T) {
	s := openTestStore(t)
	row, err := s.Insert(models.Message{ID: "m1", Content: "x", SenderID: "a"})
	require.NoError(t, err)
	assert.Equal(t, models.FormatTime(base.Add(time.Hour)), row.CreatedAt)
}

func TestInsertRequiresID(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Insert(models.Message{Content: "x"})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestInsertUpsertReplacesIndexEntry(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Insert(msgAt("m1", base, "first"))
	require.NoError(t, err)
	_, err = s.Insert(msgAt("m1", base.Add(time.Minute), "retry"))
	require.NoError(t, err)

	page, err := s.Latest(10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "retry", page[0].Content)
}

func TestLatestIsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	for i, off := range []int{3, 1, 4, 0, 2} {
		_, err := s.Insert(msgAt(fmt.Sprintf("m%d", i), base.Add(time.Duration(off)*time.Second), ""))
		require.NoError(t, err)
	}
	page, err := s.Latest(3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, []string{"m2", "m0", "m4"}, []string{page[0].ID, page[1].ID, page[2].ID})
}

func TestBeforeIsStrict(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 5; i++ {
		_, err := s.Insert(msgAt(fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Second), ""))
		require.NoError(t, err)
	}
	page, err := s.Before(base.Add(2*time.Second), "", 10)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "m1", page[0].ID)
	assert.Equal(t, "m0", page[1].ID)

	empty, err := s.Before(base, "", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestBeforeBreaksTiesOnID(t *testing.T) {
	s := openTestStore(t)
	for _, id := range []string{"a", "b", "c", "d"} {
		_, err := s.Insert(msgAt(id, base, ""))
		require.NoError(t, err)
	}
	_, err := s.Insert(msgAt("old", base.Add(-time.Second), ""))
	require.NoError(t, err)

	page, err := s.Before(base, "c", 10)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, []string{"b", "a", "old"}, []string{page[0].ID, page[1].ID, page[2].ID})

	strict, err := s.Before(base, "", 10)
	require.NoError(t, err)
	require.Len(t, strict, 1)
	assert.Equal(t, "old", strict[0].ID)
}

func TestEdit(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Insert(msgAt("m1", base, "helo"))
	require.NoError(t, err)

	row, err := s.Edit("m1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", row.Content)
	assert.Equal(t, "hello", row.FullPayload.Content)
	assert.True(t, row.FullPayload.IsEdited)
	assert.NotEmpty(t, row.FullPayload.EditedAt)

	_, err = s.Edit("missing", "x")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestSoftDeleteKeepsPayload(t *testing.T) {
	s := openTestStore(t)
	m := msgAt("m1", base, "secret plans")
	m.AudioData = "data:audio/webm;base64,BBBB"
	_, err := s.Insert(m)
	require.NoError(t, err)

	_, err = s.SoftDelete("m1")
	require.NoError(t, err)

	got, err := s.Get("m1")
	require.NoError(t, err)
	assert.NotEmpty(t, got.FullPayload.DeletedAt)
	assert.True(t, got.FullPayload.IsDeleted)
	assert.Equal(t, models.DeletedPlaceholder, got.Content)
	assert.Equal(t, "secret plans", got.FullPayload.Content)
	assert.Equal(t, "data:audio/webm;base64,BBBB", got.FullPayload.AudioData)

	_, err = s.SoftDelete("missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestReactionAddIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Insert(msgAt("m1", base, "hi"))
	require.NoError(t, err)

	r := models.Reaction{ID: "r1", UserID: "bob", Emoji: "👍"}
	list, err := s.MutateReaction("m1", r, models.ReactionAdd)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "m1", list[0].MessageID)

	r.ID = "r2"
	list, err = s.MutateReaction("m1", r, models.ReactionAdd)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "r1", list[0].ID)

	list, err = s.MutateReaction("m1", models.Reaction{UserID: "bob", Emoji: "❤️"}, models.ReactionAdd)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = s.MutateReaction("m1", r, models.ReactionRemove)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "❤️", list[0].Emoji)

	list, err = s.MutateReaction("m1", r, models.ReactionRemove)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = s.MutateReaction("m1", models.Reaction{UserID: "bob", Emoji: "❤️"}, models.ReactionRemove)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestReactionErrors(t *testing.T) {
	s := openTestStore(t)
	_, err := s.MutateReaction("missing", models.Reaction{UserID: "u", Emoji: "x"}, models.ReactionAdd)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = s.MutateReaction("missing", models.Reaction{UserID: "u"}, models.ReactionAdd)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = s.MutateReaction("missing", models.Reaction{UserID: "u", Emoji: "x"}, "toggle")
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Insert(msgAt("m1", base, "hi"))
	require.NoError(t, err)

	first, err := s.MarkRead("m1")
	require.NoError(t, err)
	assert.True(t, first.FullPayload.IsRead)

	s.now = func() time.Time { return base.Add(48 * time.Hour) }
	second, err := s.MarkRead("m1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, err = s.MarkRead("missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestConcurrentReactionsOnSameRow(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Insert(msgAt("m1", base, "hi"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.MutateReaction("m1", models.Reaction{UserID: fmt.Sprintf("u%d", i), Emoji: "🔥"}, models.ReactionAdd)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	row, err := s.Get("m1")
	require.NoError(t, err)
	assert.Len(t, row.FullPayload.Reactions, 20)
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, logger.Discard())
	require.NoError(t, err)
	_, err = s.Insert(msgAt("m1", base, "persisted"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(dir, logger.Discard())
	require.NoError(t, err)
	defer s.Close()
	row, err := s.Get("m1")
	require.NoError(t, err)
	assert.Equal(t, "persisted", row.Content)
}
