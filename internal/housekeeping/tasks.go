package housekeeping

import (
	"context"
	"time"

	"github.com/pelusa-v/duochat/internal/metrics"
	"github.com/pelusa-v/duochat/internal/presence"
	"github.com/pelusa-v/duochat/internal/upload"
)

// ReapUploads drops chunked upload sessions idle for longer than olderThan.
func ReapUploads(a *upload.Assembler, olderThan time.Duration, m *metrics.Metrics) Task {
	return Task{
		Name: "reap_uploads",
		Run: func(context.Context) (int, error) {
			n, err := a.Reap(olderThan)
			if n > 0 {
				m.ReapedSessions.Add(float64(n))
			}
			return n, err
		},
	}
}

// EvictPresence forgets users that have been offline for longer than ttl.
func EvictPresence(r *presence.Registry, ttl time.Duration) Task {
	return Task{
		Name: "evict_presence",
		Run: func(context.Context) (int, error) {
			return r.Evict(ttl), nil
		},
	}
}
