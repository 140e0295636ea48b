package executor

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Permanent is the sentinel startTimeMs meaning "never expires" (spec.md
// §3, §4.5).
const Permanent int64 = 0

// History is a brokerId -> startTimeMs map with retention-based expiry and
// a permanent marker, used identically for demotion and removal tracking
// (spec.md §4.5).
type History struct {
	log       *zap.Logger
	name      string
	retention time.Duration

	mu      sync.RWMutex
	entries map[int32]int64
}

// NewHistory constructs an empty History with the given retention.
func NewHistory(log *zap.Logger, name string, retention time.Duration) *History {
	return &History{
		log:       log.Named("history").With(zap.String("history", name)),
		name:      name,
		retention: retention,
		entries:   make(map[int32]int64),
	}
}

// NoteStart records now as brokerID's start time, unless the broker already
// has a permanent marker (permanence is never overwritten by NoteStart).
func (h *History) NoteStart(brokerID int32, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.entries[brokerID]; ok && existing == Permanent {
		return
	}
	h.entries[brokerID] = now.UnixMilli()
	h.log.Debug("noted start", zap.Int32("brokerId", brokerID))
}

// MarkPermanent overwrites brokerIDs with the permanent sentinel.
func (h *History) MarkPermanent(brokerIDs []int32) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, b := range brokerIDs {
		h.entries[b] = Permanent
	}
	h.log.Debug("marked permanent", zap.Int32s("brokerIds", brokerIDs))
}

// Drop removes brokerIDs from history entirely.
func (h *History) Drop(brokerIDs []int32) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, b := range brokerIDs {
		delete(h.entries, b)
	}
	h.log.Debug("dropped", zap.Int32s("brokerIds", brokerIDs))
}

// Get returns brokerID's recorded start time and whether an entry exists.
func (h *History) Get(brokerID int32) (startTimeMs int64, ok bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	startTimeMs, ok = h.entries[brokerID]
	return
}

// Sweep removes entries older than retention, except permanent ones
// (spec.md §4.5, P5). Returns the number of entries removed.
func (h *History) Sweep(now time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	removed := 0
	for broker, startMs := range h.entries {
		if startMs == Permanent {
			continue
		}
		if now.Sub(time.UnixMilli(startMs)) > h.retention {
			delete(h.entries, broker)
			removed++
		}
	}
	if removed > 0 {
		h.log.Info("swept expired entries", zap.Int("removed", removed))
	}
	return removed
}

// Snapshot returns a copy of all entries, for observability.
func (h *History) Snapshot() map[int32]int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[int32]int64, len(h.entries))
	for k, v := range h.entries {
		out[k] = v
	}
	return out
}
