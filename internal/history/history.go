package history

import (
	"time"

	"github.com/pelusa-v/duochat/internal/errs"
	"github.com/pelusa-v/duochat/internal/models"
)

// Source yields messages newest first.
type Source interface {
	Latest(limit int) ([]models.Message, error)
	Before(t time.Time, id string, limit int) ([]models.Message, error)
}

// Page is one chronologically ascending slice of history.
type Page struct {
	Messages []models.Message `json:"messages"`
	HasMore  bool             `json:"hasMore"`
}

// Oldest returns the cursor for the next older page, or "" for an empty page.
func (p Page) Oldest() string {
	if len(p.Messages) == 0 {
		return ""
	}
	return p.Messages[0].Timestamp
}

// OldestID pairs with Oldest to break ties between messages stamped in the
// same millisecond.
func (p Page) OldestID() string {
	if len(p.Messages) == 0 {
		return ""
	}
	return p.Messages[0].ID
}

// Service builds history pages keyed by a created_at cursor rather than an
// offset, so concurrent appends never shift a page.
type Service struct {
	src      Source
	pageSize int
}

func New(src Source, pageSize int) *Service {
	if pageSize <= 0 {
		pageSize = 30
	}
	return &Service{src: src, pageSize: pageSize}
}

func (s *Service) PageSize() int { return s.pageSize }

// InitialPage returns the most recent limit messages, oldest first.
func (s *Service) InitialPage(limit int) (Page, error) {
	msgs, err := s.src.Latest(s.clamp(limit))
	if err != nil {
		return Page{}, err
	}
	return s.page(msgs, limit), nil
}

// OlderPage returns up to limit messages older than the cursor. beforeID is
// optional; when set, messages in before's millisecond ordered ahead of it
// are returned as well.
func (s *Service) OlderPage(before, beforeID string, limit int) (Page, error) {
	t, ok := models.ParseTime(before)
	if !ok {
		return Page{}, errs.Newf(errs.CodeInvalidInput, "invalid cursor timestamp %q", before)
	}
	msgs, err := s.src.Before(t, beforeID, s.clamp(limit))
	if err != nil {
		return Page{}, err
	}
	return s.page(msgs, limit), nil
}

func (s *Service) clamp(limit int) int {
	if limit <= 0 || limit > s.pageSize {
		return s.pageSize
	}
	return limit
}

func (s *Service) page(newestFirst []models.Message, limit int) Page {
	n := len(newestFirst)
	out := make([]models.Message, n)
	for i, m := range newestFirst {
		out[n-1-i] = m
	}
	return Page{Messages: out, HasMore: n == s.clamp(limit)}
}
