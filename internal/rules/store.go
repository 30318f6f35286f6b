package rules

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

var errNoRuleSet = errors.New("no rule set loaded")

// Store holds the active rule set. Readers take a snapshot with Current and
// keep using it for the whole call; Refresh swaps in a new snapshot
// atomically.
type Store struct {
	source Source
	logger *slog.Logger
	clock  clockwork.Clock

	current  atomic.Pointer[Set]
	loadedAt atomic.Pointer[time.Time]
	mu       sync.Mutex // serializes Refresh
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the clock used to stamp refreshes.
func WithClock(c clockwork.Clock) StoreOption {
	return func(s *Store) { s.clock = c }
}

// NewStore creates a Store and performs the initial load. A failed initial
// load is returned as-is so the caller can treat it as fatal.
func NewStore(ctx context.Context, source Source, logger *slog.Logger, opts ...StoreOption) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		source: source,
		logger: logger,
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// NewStaticStore wraps an already-built set. Refresh is a no-op that keeps it.
func NewStaticStore(set *Set) *Store {
	s := &Store{
		source: StaticSource(set.Rules()),
		logger: slog.Default(),
		clock:  clockwork.NewRealClock(),
	}
	s.swap(set)
	return s
}

// Current returns the active snapshot.
func (s *Store) Current() *Set {
	return s.current.Load()
}

// LoadedAt returns when the active snapshot was installed.
func (s *Store) LoadedAt() time.Time {
	if t := s.loadedAt.Load(); t != nil {
		return *t
	}
	return time.Time{}
}

// Refresh reloads from the source. On failure the previous set stays active.
func (s *Store) Refresh(ctx context.Context) (*Set, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loaded, err := s.source.LoadActiveRules(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "rule refresh failed, keeping previous set", "error", err)
		return nil, err
	}
	set, err := NewSet(loaded)
	if err != nil {
		s.logger.ErrorContext(ctx, "loaded rules failed validation, keeping previous set", "error", err)
		return nil, err
	}
	s.swap(set)
	s.logger.InfoContext(ctx, "rule set loaded", "rules", set.Len())
	return set, nil
}

func (s *Store) swap(set *Set) {
	now := s.clock.Now()
	s.current.Store(set)
	s.loadedAt.Store(&now)
}

// Name implements core.HealthProbe.
func (s *Store) Name() string { return "rules" }

// Check implements core.HealthProbe.
func (s *Store) Check(_ context.Context) error {
	if s.Current() == nil {
		return errNoRuleSet
	}
	return nil
}
