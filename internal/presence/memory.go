package presence

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"realtime-chat/internal/models"
	"realtime-chat/pkg/logger"
)

type entry struct {
	username  string
	expiresAt time.Time
}

// expiry is one heap slot. A slot is stale when the entry it points to has
// since been refreshed, overwritten or deleted; stale slots are dropped when
// they reach the top.
type expiry struct {
	userID    string
	expiresAt time.Time
}

type expiryHeap []expiry

func (h expiryHeap) Len() int            { return len(h) }
func (h expiryHeap) Less(i, j int) bool  { return h[i].expiresAt.Before(h[j].expiresAt) }
func (h expiryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x interface{}) { *h = append(*h, x.(expiry)) }
func (h *expiryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// MemoryStore keeps presence in process memory. Reads ignore expired
// entries, so the contract holds between sweeps; the janitor only reclaims
// memory.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
	expiry  expiryHeap
	ttl     time.Duration
	now     func() time.Time

	sweepEvery time.Duration
	stop       chan struct{}
	stopOnce   sync.Once
}

type MemoryOption func(*MemoryStore)

func WithTTL(ttl time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// WithSweepInterval sets the janitor period. Zero disables the janitor.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		s.sweepEvery = d
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries:    make(map[string]entry),
		ttl:        DefaultTTL,
		now:        time.Now,
		sweepEvery: 5 * time.Second,
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.sweepEvery > 0 {
		go s.janitor()
	}
	return s
}

func (s *MemoryStore) MarkOnline(_ context.Context, userID, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp := s.now().Add(s.ttl)
	s.entries[userID] = entry{username: username, expiresAt: exp}
	heap.Push(&s.expiry, expiry{userID: userID, expiresAt: exp})
	return nil
}

func (s *MemoryStore) Refresh(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[userID]
	if !ok || !now.Before(e.expiresAt) {
		return nil
	}

	e.expiresAt = now.Add(s.ttl)
	s.entries[userID] = e
	heap.Push(&s.expiry, expiry{userID: userID, expiresAt: e.expiresAt})
	return nil
}

func (s *MemoryStore) MarkOffline(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, userID)
	return nil
}

func (s *MemoryStore) IsOnline(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[userID]
	return ok && s.now().Before(e.expiresAt), nil
}

func (s *MemoryStore) ListOnline(_ context.Context) ([]models.OnlineUser, error) {
	s.mu.Lock()
	now := s.now()
	users := make([]models.OnlineUser, 0, len(s.entries))
	for id, e := range s.entries {
		if now.Before(e.expiresAt) {
			users = append(users, models.OnlineUser{UserID: id, Username: e.username})
		}
	}
	s.mu.Unlock()

	sortOnline(users)
	return users, nil
}

// Sweep drops every expired entry and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for s.expiry.Len() > 0 {
		top := s.expiry[0]
		if now.Before(top.expiresAt) {
			break
		}
		heap.Pop(&s.expiry)

		e, ok := s.entries[top.userID]
		if !ok || !e.expiresAt.Equal(top.expiresAt) {
			continue
		}
		delete(s.entries, top.userID)
		removed++
	}
	return removed
}

// Close stops the janitor.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				logger.Debug("Presence expired for %d user(s)", n)
			}
		case <-s.stop:
			return
		}
	}
}
