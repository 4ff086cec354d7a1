package history

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pelusa-v/duochat/internal/errs"
	"github.com/pelusa-v/duochat/internal/logger"
	"github.com/pelusa-v/duochat/internal/models"
	"github.com/pelusa-v/duochat/internal/store"
)

func seed(t *testing.T, n int) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir(), logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	// insert out of chronological order to prove ordering comes from created_at
	for i := n - 1; i >= 0; i-- {
		_, err := s.Insert(models.Message{
			ID:        fmt.Sprintf("m%03d", i),
			Content:   fmt.Sprintf("message %d", i),
			SenderID:  "alice",
			Timestamp: models.FormatTime(base.Add(time.Duration(i) * time.Second)),
		})
		require.NoError(t, err)
	}
	return s
}

func assertAscending(t *testing.T, msgs []models.Message) {
	t.Helper()
	for i := 1; i < len(msgs); i++ {
		prev, _ := msgs[i-1].CreatedAt()
		cur, _ := msgs[i].CreatedAt()
		assert.False(t, cur.Before(prev), "message %d out of order", i)
	}
}

func TestInitialPageIsMostRecentAscending(t *testing.T) {
	svc := New(seed(t, 75), 30)

	page, err := svc.InitialPage(30)
	require.NoError(t, err)
	require.Len(t, page.Messages, 30)
	assert.True(t, page.HasMore)
	assert.Equal(t, "m045", page.Messages[0].ID)
	assert.Equal(t, "m074", page.Messages[29].ID)
	assertAscending(t, page.Messages)
}

func TestOlderPagesWalkWithoutGapsOrOverlap(t *testing.T) {
	svc := New(seed(t, 75), 30)

	// cursor starts just after the newest message so the first older page is the top 30
	first, err := svc.InitialPage(1)
	require.NoError(t, err)
	newest, _ := first.Messages[0].CreatedAt()
	cursor := models.FormatTime(newest.Add(time.Millisecond))

	seen := map[string]bool{}
	var sizes []int
	for {
		page, err := svc.OlderPage(cursor, "", 30)
		require.NoError(t, err)
		if len(page.Messages) == 0 {
			break
		}
		assertAscending(t, page.Messages)
		for _, m := range page.Messages {
			assert.False(t, seen[m.ID], "duplicate %s", m.ID)
			seen[m.ID] = true
		}
		sizes = append(sizes, len(page.Messages))
		cursor = page.Oldest()
	}
	assert.Equal(t, []int{30, 30, 15}, sizes)
	assert.Len(t, seen, 75)
}

func TestOlderPageFromInitialCursor(t *testing.T) {
	svc := New(seed(t, 75), 30)

	page, err := svc.InitialPage(30)
	require.NoError(t, err)

	var sizes []int
	cursor := page.Oldest()
	for i := 0; i < 3; i++ {
		older, err := svc.OlderPage(cursor, "", 30)
		require.NoError(t, err)
		sizes = append(sizes, len(older.Messages))
		cursor = older.Oldest()
		if cursor == "" {
			break
		}
	}
	assert.Equal(t, []int{30, 15, 0}, sizes)
}

func TestOlderPagesKeepSameMillisecondMessages(t *testing.T) {
	s, err := store.Open(t.TempDir(), logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	burst := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		_, err := s.Insert(models.Message{
			ID:        fmt.Sprintf("m%02d", i),
			Content:   "burst",
			SenderID:  "alice",
			Timestamp: models.FormatTime(burst),
		})
		require.NoError(t, err)
	}
	svc := New(s, 3)

	page, err := svc.InitialPage(3)
	require.NoError(t, err)
	seen := map[string]bool{}
	for _, m := range page.Messages {
		seen[m.ID] = true
	}
	for page.HasMore {
		page, err = svc.OlderPage(page.Oldest(), page.OldestID(), 3)
		require.NoError(t, err)
		for _, m := range page.Messages {
			assert.False(t, seen[m.ID], "duplicate %s", m.ID)
			seen[m.ID] = true
		}
	}
	assert.Len(t, seen, 7)

	// without the id the whole millisecond is skipped
	strict, err := svc.OlderPage(models.FormatTime(burst), "", 3)
	require.NoError(t, err)
	assert.Empty(t, strict.Messages)
}

func TestEmptyHistory(t *testing.T) {
	svc := New(seed(t, 0), 30)
	page, err := svc.InitialPage(0)
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
	assert.NotNil(t, page.Messages)
	assert.False(t, page.HasMore)
	assert.Equal(t, "", page.Oldest())
	assert.Equal(t, "", page.OldestID())
}

func TestOlderPageRejectsBadCursor(t *testing.T) {
	svc := New(seed(t, 1), 30)
	_, err := svc.OlderPage("yesterday", "", 30)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestLimitIsClampedToPageSize(t *testing.T) {
	svc := New(seed(t, 20), 10)
	page, err := svc.InitialPage(500)
	require.NoError(t, err)
	assert.Len(t, page.Messages, 10)
}
