package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/pelusa-v/duochat/internal/models"
)

// Entry is what peers see about a participant.
type Entry struct {
	UserID   string    `json:"userId"`
	Username string    `json:"username"`
	Avatar   string    `json:"avatar,omitempty"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}

type user struct {
	entry Entry
	conns map[string]struct{}
}

// Registry maps connections to participants. Offline users stay resident so
// their last-seen time can still be reported, until Evict drops them.
type Registry struct {
	mu     sync.RWMutex
	byConn map[string]string // conn id -> user id
	byUser map[string]*user
	now    func() time.Time
}

func New() *Registry {
	return &Registry{
		byConn: map[string]string{},
		byUser: map[string]*user{},
		now:    time.Now,
	}
}

// Join binds connID to p and marks p online. A connection that re-joins
// under a different identity is moved off its previous user.
func (r *Registry) Join(connID string, p models.Participant) Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byConn[connID]; ok && prev != p.ID {
		r.detach(connID, prev)
	}
	u, ok := r.byUser[p.ID]
	if !ok {
		u = &user{conns: map[string]struct{}{}}
		r.byUser[p.ID] = u
	}
	u.conns[connID] = struct{}{}
	u.entry = Entry{
		UserID:   p.ID,
		Username: p.Username,
		Avatar:   p.Avatar,
		IsOnline: true,
		LastSeen: r.now(),
	}
	r.byConn[connID] = p.ID
	return u.entry
}

// Disconnect forgets connID. When it was the user's last connection the user
// goes offline and wentOffline is true.
func (r *Registry) Disconnect(connID string) (e Entry, wentOffline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	uid, ok := r.byConn[connID]
	if !ok {
		return Entry{}, false
	}
	return r.detach(connID, uid)
}

func (r *Registry) detach(connID, uid string) (Entry, bool) {
	delete(r.byConn, connID)
	u, ok := r.byUser[uid]
	if !ok {
		return Entry{}, false
	}
	delete(u.conns, connID)
	if len(u.conns) > 0 {
		return u.entry, false
	}
	u.entry.IsOnline = false
	u.entry.LastSeen = r.now()
	return u.entry, true
}

// Lookup returns the participant bound to connID.
func (r *Registry) Lookup(connID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	uid, ok := r.byConn[connID]
	if !ok {
		return Entry{}, false
	}
	return r.byUser[uid].entry, true
}

// User returns the entry for userID, online or not.
func (r *Registry) User(userID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byUser[userID]
	if !ok {
		return Entry{}, false
	}
	return u.entry, true
}

// List returns every known participant, online first, then by username.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.byUser))
	for _, u := range r.byUser {
		out = append(out, u.entry)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsOnline != out[j].IsOnline {
			return out[i].IsOnline
		}
		if out[i].Username != out[j].Username {
			return out[i].Username < out[j].Username
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// Evict drops users that have been offline for longer than ttl and returns
// how many were removed.
func (r *Registry) Evict(ttl time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-ttl)
	n := 0
	for id, u := range r.byUser {
		if !u.entry.IsOnline && len(u.conns) == 0 && u.entry.LastSeen.Before(cutoff) {
			delete(r.byUser, id)
			n++
		}
	}
	return n
}
