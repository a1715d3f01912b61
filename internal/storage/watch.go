package storage

import (
	"context"
	"sync"
	"time"

	apperrors "tasks/internal/errors"
)

// Change announces that a task row was inserted, updated or deleted.
// TaskID 0 means another process changed the database and the affected
// rows are unknown.
type Change struct {
	TaskID int64
}

// Affects reports whether a holder of task id should reload.
func (c Change) Affects(id int64) bool {
	return c.TaskID == 0 || c.TaskID == id
}

const subscriberBuffer = 16

type hub struct {
	mu     sync.Mutex
	next   int
	subs   map[int]chan Change
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[int]chan Change)}
}

func (h *hub) subscribe() (<-chan Change, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Change, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

// publish never blocks: a subscriber whose buffer is full misses the change.
func (h *hub) publish(c Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
	h.closed = true
}

// Subscribe returns a channel of task changes and a function that releases
// it. The channel is closed on release or when the store closes.
func (s *Store) Subscribe() (<-chan Change, func()) {
	return s.hub.subscribe()
}

// Watch polls SQLite's data_version until ctx is done and publishes a
// Change{TaskID: 0} whenever another connection committed. Commits made
// through this store are already published by the write methods.
func (s *Store) Watch(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	last, err := s.dataVersion(ctx)
	if err != nil {
		return err
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			v, err := s.dataVersion(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			if v != last {
				last = v
				s.hub.publish(Change{})
			}
		}
	}
}

func (s *Store) dataVersion(ctx context.Context) (int64, error) {
	var v int64
	if err := s.db.QueryRowContext(ctx, `PRAGMA data_version;`).Scan(&v); err != nil {
		return 0, apperrors.NewDatabaseError("read data_version", err)
	}
	return v, nil
}
