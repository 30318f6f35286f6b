package scheduling

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"marinaops/internal/observability"
	"marinaops/internal/rules"
	"marinaops/internal/types"
)

// DaysPerWeek is the length of a planning week, Monday through Sunday.
const DaysPerWeek = 7

// TaskStore is the storage contract the engine depends on.
type TaskStore interface {
	ListByWeek(ctx context.Context, siteID string, weekStart types.Date) ([]types.Task, error)
	Get(ctx context.Context, id string) (types.Task, error)
	CompareAndSwapDate(ctx context.Context, id string, expected, newDate types.Date) (types.Task, error)
}

// RuleSnapshotter hands out the active rule set. *rules.Store implements it.
type RuleSnapshotter interface {
	Current() *rules.Set
}

// WeekKey identifies one memoized planning week.
type WeekKey struct {
	WeekStart types.Date
	SiteID    string
}

// KeyFor returns the key of the week containing date at site.
func KeyFor(siteID string, date types.Date) WeekKey {
	return WeekKey{WeekStart: date.WeekStart(), SiteID: siteID}
}

// WeekView is the aggregated calendar for one site and week.
type WeekView struct {
	SiteID     string           `json:"site_id"`
	WeekStart  types.Date       `json:"week_start"`
	Days       []types.DayGroup `json:"days"`
	ComputedAt time.Time        `json:"computed_at"`
}

type weekEntry struct {
	tasks      []types.Task
	view       *WeekView
	set        *rules.Set
	computedAt time.Time
}

// WeekCache memoizes the task set and aggregated view of each planning week.
//
// Entries are dropped explicitly by the rescheduler and the live sync
// listener, and expire after ttl. Expiry covers the task set as well as the
// view: edits made by other instances or outside the engine show up within
// ttl even when no change event reaches this instance. A non-positive ttl
// disables memoization.
//
// Each site carries a generation bumped by every invalidation touching it.
// A computation that started before an invalidation does not store its
// result afterwards, whether or not the week was memoized when it started.
type WeekCache struct {
	mu      sync.Mutex
	entries map[WeekKey]*weekEntry
	gens    map[string]uint64
	epoch   uint64
	ttl     time.Duration
	clock   clockwork.Clock
	metrics *observability.Metrics
}

// NewWeekCache creates an empty cache.
func NewWeekCache(ttl time.Duration, clock clockwork.Clock, metrics *observability.Metrics) *WeekCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &WeekCache{
		entries: make(map[WeekKey]*weekEntry),
		gens:    make(map[string]uint64),
		ttl:     ttl,
		clock:   clock,
		metrics: metrics,
	}
}

// generation is a token to pass back to store.
type generation struct {
	epoch uint64
	site  uint64
}

// load returns the unexpired entry for key, if any, and a generation token.
func (c *WeekCache) load(key WeekKey) (weekEntry, generation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	gen := generation{epoch: c.epoch, site: c.gens[key.SiteID]}
	e, ok := c.entries[key]
	if !ok || c.expired(*e) {
		return weekEntry{}, gen, false
	}
	return *e, gen, true
}

// store memoizes e unless an invalidation touched key's site after gen was
// taken. It reports whether the entry was kept.
func (c *WeekCache) store(key WeekKey, gen generation, e weekEntry) bool {
	if c.ttl <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen.epoch != c.epoch || gen.site != c.gens[key.SiteID] {
		return false
	}
	c.pruneLocked()
	c.entries[key] = &e
	return true
}

func (c *WeekCache) expired(e weekEntry) bool {
	return c.ttl <= 0 || c.clock.Since(e.computedAt) >= c.ttl
}

func (c *WeekCache) pruneLocked() {
	for key, e := range c.entries {
		if c.expired(*e) {
			delete(c.entries, key)
		}
	}
}

// Invalidate drops the memoized week for key.
func (c *WeekCache) Invalidate(key WeekKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	c.gens[key.SiteID]++
	if c.metrics != nil {
		c.metrics.WeekInvalidations.Inc()
	}
}

// InvalidateDate drops the week containing date at site.
func (c *WeekCache) InvalidateDate(siteID string, date types.Date) {
	c.Invalidate(KeyFor(siteID, date))
}

// InvalidateSite drops every memoized week for site.
func (c *WeekCache) InvalidateSite(siteID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[siteID]++
	for key := range c.entries {
		if key.SiteID == siteID {
			delete(c.entries, key)
			if c.metrics != nil {
				c.metrics.WeekInvalidations.Inc()
			}
		}
	}
}

// InvalidateAll drops every memoized week.
func (c *WeekCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.WeekInvalidations.Add(float64(len(c.entries)))
	}
	clear(c.entries)
	clear(c.gens)
	c.epoch++
}

// Len returns the number of memoized weeks.
func (c *WeekCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Planner serves the week view, recomputing from storage only when the
// memoized entry is missing, stale, or built under another rule set.
type Planner struct {
	tasks      TaskStore
	rules      RuleSnapshotter
	aggregator *Aggregator
	cache      *WeekCache
	logger     *slog.Logger
}

// NewPlanner wires a Planner.
func NewPlanner(tasks TaskStore, ruleSource RuleSnapshotter, aggregator *Aggregator, cache *WeekCache, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		tasks:      tasks,
		rules:      ruleSource,
		aggregator: aggregator,
		cache:      cache,
		logger:     logger,
	}
}

// Cache exposes the planner's WeekCache so mutation paths can invalidate it.
func (p *Planner) Cache() *WeekCache {
	return p.cache
}

// Week returns seven day groups, Monday through Sunday, for siteID. Days
// without tasks are suitable with no tasks.
func (p *Planner) Week(ctx context.Context, siteID string, weekStart types.Date) (WeekView, error) {
	if err := validateWeek(siteID, weekStart); err != nil {
		return WeekView{}, err
	}

	key := WeekKey{WeekStart: weekStart, SiteID: siteID}
	set := p.rules.Current()

	entry, gen, ok := p.cache.load(key)
	if ok && entry.view != nil && entry.set == set {
		return *entry.view, nil
	}

	// An unexpired entry built under another rule set keeps its task set.
	tasks := entry.tasks
	if !ok {
		var err error
		tasks, err = p.tasks.ListByWeek(ctx, siteID, weekStart)
		if err != nil {
			return WeekView{}, err
		}
	}

	groups, err := p.aggregator.Aggregate(ctx, tasks, set)
	if err != nil {
		return WeekView{}, err
	}

	now := p.cache.clock.Now().UTC()
	view := WeekView{
		SiteID:     siteID,
		WeekStart:  weekStart,
		Days:       make([]types.DayGroup, 0, DaysPerWeek),
		ComputedAt: now,
	}
	for i := 0; i < DaysPerWeek; i++ {
		date := weekStart.AddDays(i)
		if g, ok := groups[date]; ok {
			view.Days = append(view.Days, g)
		} else {
			view.Days = append(view.Days, emptyDay(date))
		}
	}

	if !p.cache.store(key, gen, weekEntry{tasks: tasks, view: &view, set: set, computedAt: now}) {
		p.logger.DebugContext(ctx, "week invalidated during computation, result not memoized",
			"site_id", siteID,
			"week_start", weekStart.String(),
		)
	}
	return view, nil
}

// Evaluate reads taskID fresh from storage and evaluates it against the
// active rule set. Nothing is memoized.
func (p *Planner) Evaluate(ctx context.Context, taskID string) (types.Task, types.Evaluation, error) {
	task, err := p.tasks.Get(ctx, taskID)
	if err != nil {
		return types.Task{}, types.Evaluation{}, err
	}
	eval, err := p.aggregator.evaluator.Evaluate(ctx, task, p.rules.Current())
	if err != nil {
		return types.Task{}, types.Evaluation{}, err
	}
	return task, eval, nil
}

func validateWeek(siteID string, weekStart types.Date) error {
	if siteID == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "site_id is required", nil)
	}
	if weekStart.IsZero() || weekStart.Weekday() != time.Monday {
		return types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidDate,
			"week start must be a Monday",
			nil,
			map[string]any{"week_start": weekStart.String()},
		)
	}
	return nil
}
