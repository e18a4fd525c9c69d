package appointment

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Latency is the simulated delay applied before each store operation.
type Latency struct {
	List   time.Duration
	Create time.Duration
	Update time.Duration
	Delete time.Duration
	Get    time.Duration
}

// DefaultLatency emulates a remote data source.
var DefaultLatency = Latency{
	List:   500 * time.Millisecond,
	Create: 800 * time.Millisecond,
	Update: 600 * time.Millisecond,
	Delete: 400 * time.Millisecond,
	Get:    300 * time.Millisecond,
}

// NoLatency disables the simulated delay.
var NoLatency = Latency{}

// MemoryStore is the in-process appointment store. Records live for the
// lifetime of the process only.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*Appointment // insertion order
	lastID  uint64
	seeded  bool
	latency Latency
	now     func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithLatency overrides the simulated per-operation delay.
func WithLatency(l Latency) MemoryOption {
	return func(s *MemoryStore) { s.latency = l }
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates an empty store using DefaultLatency.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		latency: DefaultLatency,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Repository = (*MemoryStore)(nil)
var _ Seeder = (*MemoryStore)(nil)

func (s *MemoryStore) List(ctx context.Context) ([]*Appointment, error) {
	if err := waitRead(ctx, s.latency.List); err != nil {
		return nil, err
	}

	s.mu.RLock()
	items := make([]*Appointment, 0, len(s.records))
	for _, r := range s.records {
		items = append(items, clone(r))
	}
	s.mu.RUnlock()

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Before(items[j])
	})
	return items, nil
}

func (s *MemoryStore) Create(_ context.Context, in Input) (*Appointment, error) {
	waitWrite(s.latency.Create)

	s.mu.Lock()
	defer s.mu.Unlock()

	a := newRecord(in)
	s.lastID++
	a.ID = strconv.FormatUint(s.lastID, 10)
	a.CreatedAt = s.now()
	a.UpdatedAt = a.CreatedAt
	s.records = append(s.records, a)
	return clone(a), nil
}

func (s *MemoryStore) Update(_ context.Context, id string, p Patch) (*Appointment, bool, error) {
	if err := checkID(id); err != nil {
		return nil, false, err
	}
	waitWrite(s.latency.Update)

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return nil, false, nil
	}
	a := s.records[i]
	p.Apply(a)
	a.UpdatedAt = s.now()
	if a.UpdatedAt.Before(a.CreatedAt) {
		a.UpdatedAt = a.CreatedAt
	}
	return clone(a), true, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) (bool, error) {
	if err := checkID(id); err != nil {
		return false, err
	}
	waitWrite(s.latency.Delete)

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return false, nil
	}
	s.records = append(s.records[:i], s.records[i+1:]...)
	return true, nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (*Appointment, bool, error) {
	if err := checkID(id); err != nil {
		return nil, false, err
	}
	if err := waitRead(ctx, s.latency.Get); err != nil {
		return nil, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexOf(id)
	if i < 0 {
		return nil, false, nil
	}
	return clone(s.records[i]), true, nil
}

// Seed inserts records as given, keeping their IDs and timestamps. Numeric
// IDs advance the ID counter so later creates never collide with them. A
// store that has already issued or seeded an ID is left untouched.
func (s *MemoryStore) Seed(_ context.Context, records ...*Appointment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastID > 0 || s.seeded {
		return false, nil
	}
	seen := make(map[string]bool, len(records))
	for _, r := range records {
		if err := checkID(r.ID); err != nil {
			return false, fmt.Errorf("seed: %w", err)
		}
		if seen[r.ID] {
			return false, fmt.Errorf("seed: duplicate appointment id %q", r.ID)
		}
		seen[r.ID] = true
	}

	for _, r := range records {
		a := clone(r)
		if a.CreatedAt.IsZero() {
			a.CreatedAt = s.now()
		}
		if a.UpdatedAt.Before(a.CreatedAt) {
			a.UpdatedAt = a.CreatedAt
		}
		if n, err := strconv.ParseUint(a.ID, 10, 64); err == nil && n > s.lastID {
			s.lastID = n
		}
		s.records = append(s.records, a)
	}
	s.seeded = len(records) > 0
	return s.seeded, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemoryStore) indexOf(id string) int {
	for i, r := range s.records {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func checkID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrInvalidID
	}
	return nil
}

// waitRead delays a read. Reads give up when ctx ends.
func waitRead(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// waitWrite delays a mutation. Mutations always run to completion once
// started.
func waitWrite(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}
