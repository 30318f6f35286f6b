package scheduling

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"marinaops/internal/rules"
	"marinaops/internal/types"
	"marinaops/internal/weather"
)

// memTaskStore is an in-memory TaskStore whose CompareAndSwapDate has the
// same semantics as the Postgres repository.
type memTaskStore struct {
	mu        sync.Mutex
	tasks     map[string]types.Task
	beforeGet func()
	onGet     func()
	writes    atomic.Int32
	listCalls atomic.Int32
}

func newMemTaskStore(tasks ...types.Task) *memTaskStore {
	s := &memTaskStore{tasks: make(map[string]types.Task)}
	for _, t := range tasks {
		s.tasks[t.ID] = t
	}
	return s
}

func (s *memTaskStore) ListByWeek(_ context.Context, siteID string, weekStart types.Date) ([]types.Task, error) {
	s.listCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	end := weekStart.AddDays(DaysPerWeek)
	var out []types.Task
	for _, t := range s.tasks {
		if t.SiteID == siteID && !t.ScheduledDate.Before(weekStart) && t.ScheduledDate.Before(end) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].ScheduledDate.Compare(out[j].ScheduledDate); c != 0 {
			return c < 0
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memTaskStore) Get(_ context.Context, id string) (types.Task, error) {
	if s.beforeGet != nil {
		s.beforeGet()
	}
	s.mu.Lock()
	t, ok := s.tasks[id]
	s.mu.Unlock()
	if s.onGet != nil {
		s.onGet()
	}
	if !ok {
		return types.Task{}, types.NewAppError(types.ErrCodeNotFoundTask, "task not found", nil)
	}
	return t, nil
}

func (s *memTaskStore) CompareAndSwapDate(_ context.Context, id string, expected, newDate types.Date) (types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	switch {
	case !ok:
		return types.Task{}, types.NewAppError(types.ErrCodeNotFoundTask, "task not found", nil)
	case t.Status != types.TaskStatusScheduled:
		return types.Task{}, types.NewAppError(types.ErrCodeConflictInvalidState, "task not scheduled", nil)
	case t.ScheduledDate != expected:
		return types.Task{}, types.NewAppError(types.ErrCodeConflictConcurrent, "task was moved concurrently", nil)
	}
	t.ScheduledDate = newDate
	s.tasks[id] = t
	s.writes.Add(1)
	return t, nil
}

// setDate edits a task directly, as another actor would, without going
// through the engine.
func (s *memTaskStore) setDate(id string, d types.Date) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tasks[id]
	t.ScheduledDate = d
	s.tasks[id] = t
}

func (s *memTaskStore) date(id string) types.Date {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[id].ScheduledDate
}

// fakeProvider serves observations from a map keyed by site and date.
type fakeProvider struct {
	mu    sync.Mutex
	obs   map[weather.Key]types.WeatherObservation
	errs  map[weather.Key]error
	block bool
	calls atomic.Int32
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		obs:  make(map[weather.Key]types.WeatherObservation),
		errs: make(map[weather.Key]error),
	}
}

func (p *fakeProvider) set(site string, date types.Date, obs types.WeatherObservation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	obs.SiteID, obs.Date = site, date
	p.obs[weather.Key{SiteID: site, Date: date}] = obs
}

func (p *fakeProvider) fail(site string, date types.Date, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[weather.Key{SiteID: site, Date: date}] = err
}

func (p *fakeProvider) GetObservation(ctx context.Context, siteID string, date types.Date) (types.WeatherObservation, error) {
	p.calls.Add(1)
	if p.block {
		<-ctx.Done()
		return types.WeatherObservation{}, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return types.WeatherObservation{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	key := weather.Key{SiteID: siteID, Date: date}
	if err, ok := p.errs[key]; ok {
		return types.WeatherObservation{}, err
	}
	obs, ok := p.obs[key]
	if !ok {
		return types.WeatherObservation{}, weather.ErrNoObservation
	}
	return obs, nil
}

type ruleHolder struct {
	set *rules.Set
}

func (h *ruleHolder) Current() *rules.Set { return h.set }

type recordingPublisher struct {
	mu     sync.Mutex
	events []types.ChangeEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e types.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

const site = "port-nord"

func task(id, date string) types.Task {
	return types.Task{
		ID:               id,
		Title:            "Hull inspection " + id,
		ScheduledDate:    types.MustParseDate(date),
		Status:           types.TaskStatusScheduled,
		InterventionType: types.InterventionInspection,
		SiteID:           site,
	}
}

func windy(speed float64) types.WeatherObservation {
	return types.WeatherObservation{
		Condition:      "windy",
		TemperatureMin: 8,
		TemperatureMax: 16,
		WindSpeed:      types.Float64Ptr(speed),
	}
}

func stormy() types.WeatherObservation {
	obs := windy(45)
	obs.Condition = "storm"
	return obs
}

func highWind(limit float64, days int) rules.Rule {
	return rules.Rule{
		Name: "high_wind",
		Predicate: rules.Predicate{Logic: rules.LogicAny, Conditions: []rules.Condition{
			{Field: rules.FieldWindSpeed, Operator: rules.OpGreaterThan, Threshold: []float64{limit}},
		}},
		Action: rules.Reschedule{AdjustmentDays: days},
		Reason: "wind too strong for lifting",
	}
}

func storm() rules.Rule {
	return rules.Rule{
		Name: "storm",
		Predicate: rules.Predicate{Logic: rules.LogicAny, Conditions: []rules.Condition{
			{Field: rules.FieldCondition, Operator: rules.OpIn, Values: []string{"storm", "thunderstorm"}},
		}},
		Action: rules.Block{},
		Reason: "storm warning",
	}
}
