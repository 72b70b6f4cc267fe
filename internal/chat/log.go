package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultCapacity is the item cap when the caller passes none.
	DefaultCapacity = 500

	// reconcileWindow bounds how far apart a pending item and its
	// confirming broadcast may be and still be treated as the same item.
	reconcileWindow = 5 * time.Second
)

// Log accumulates the items of the currently selected conversation. It
// deduplicates by the relay's message identity token, reconciles optimistic
// pending items against their confirming broadcasts, and caps memory by
// dropping the oldest entries.
type Log struct {
	mu    sync.RWMutex
	cap   int
	items []Item
	seen  map[string]struct{}
}

func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		cap:  capacity,
		seen: make(map[string]struct{}),
	}
}

// Append stores a network-confirmed item. A repeated identity token is
// dropped (returns false). When the item confirms a pending one it takes
// that item's place and local id, so ordering and UI identity are stable.
// Items without an identity token are always stored; they can never be
// deduplicated against network data.
func (l *Log) Append(it Item) (Item, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if it.MessageID != "" {
		if _, dup := l.seen[it.MessageID]; dup {
			return Item{}, false
		}
		l.seen[it.MessageID] = struct{}{}
	}
	if it.LocalID == "" {
		it.LocalID = uuid.NewString()
	}
	it.Pending = false

	for i := range l.items {
		if it.matchesPending(l.items[i]) {
			it.LocalID = l.items[i].LocalID
			l.items[i] = it
			return it, true
		}
	}

	l.items = append(l.items, it)
	l.trim()
	return it, true
}

// AppendPending stores an optimistic local item.
func (l *Log) AppendPending(it Item) Item {
	l.mu.Lock()
	defer l.mu.Unlock()

	it.Pending = true
	if it.LocalID == "" {
		it.LocalID = uuid.NewString()
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now()
	}
	l.items = append(l.items, it)
	l.trim()
	return it
}

// Remove drops the item with the given local id, typically an optimistic
// entry whose upload failed. Returns false when no such item exists.
func (l *Log) Remove(localID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.items {
		if l.items[i].LocalID == localID {
			l.items = append(l.items[:i], l.items[i+1:]...)
			return true
		}
	}
	return false
}

// Clear drops all items and dedup state. Called on conversation switch.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = nil
	l.seen = make(map[string]struct{})
}

// Snapshot returns a copy of the items, oldest first.
func (l *Log) Snapshot() []Item {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Item, len(l.items))
	copy(out, l.items)
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// trim enforces the cap. Identity tokens of dropped items stay recorded so
// a late duplicate of an evicted item is still rejected.
func (l *Log) trim() {
	if over := len(l.items) - l.cap; over > 0 {
		l.items = append([]Item(nil), l.items[over:]...)
	}
}
