package planning

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"phaseplanner/internal/model"
	"phaseplanner/internal/repository"
	"phaseplanner/internal/schedule"
	"phaseplanner/pkg/util"
)

// store is an in-memory stand-in for the three repositories.
type store struct {
	mu        sync.Mutex
	projects  map[int]model.Project
	phases    map[int]model.Phase
	deps      map[int]model.Dependency
	nextDepID int
	bulkErr   error
	bulkCalls int
}

func newStore() *store {
	return &store{
		projects:  map[int]model.Project{1: {ID: 1, Name: "Apollo"}, 2: {ID: 2, Name: "Gemini"}},
		phases:    map[int]model.Phase{},
		deps:      map[int]model.Dependency{},
		nextDepID: 100,
	}
}

func (s *store) addPhase(id, projectID int, start, end string) {
	s.phases[id] = model.Phase{
		ID:        id,
		ProjectID: projectID,
		Name:      fmt.Sprintf("phase-%d", id),
		StartDate: schedule.MustParseDay(start),
		EndDate:   schedule.MustParseDay(end),
	}
}

func (s *store) addDep(id, projectID, pred, succ int, t schedule.DependencyType, lag int) {
	s.deps[id] = model.Dependency{ID: id, ProjectID: projectID, PredecessorID: pred, SuccessorID: succ, Type: t, LagDays: lag}
}

func (s *store) GetProject(_ context.Context, id int) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (s *store) ListPhases(_ context.Context, projectID int) ([]model.Phase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Phase{}
	for _, p := range s.phases {
		if p.ProjectID == projectID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *store) GetPhase(_ context.Context, id int) (*model.Phase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.phases[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (s *store) UpdatePhase(_ context.Context, id int, patch model.PhasePatch) (*model.Phase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.phases[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.StartDate != nil {
		p.StartDate = *patch.StartDate
	}
	if patch.EndDate != nil {
		p.EndDate = *patch.EndDate
	}
	s.phases[id] = p
	return &p, nil
}

func (s *store) ApplyBulkPhaseCorrections(_ context.Context, projectID int, corrections []model.PhaseCorrection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulkCalls++
	if s.bulkErr != nil {
		return s.bulkErr
	}
	for _, c := range corrections {
		if p, ok := s.phases[c.ID]; !ok || p.ProjectID != projectID {
			return repository.ErrNotFound
		}
	}
	for _, c := range corrections {
		p := s.phases[c.ID]
		p.StartDate, p.EndDate = c.StartDate, c.EndDate
		s.phases[c.ID] = p
	}
	return nil
}

func (s *store) ListDependencies(_ context.Context, projectID int) ([]model.Dependency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Dependency{}
	for _, d := range s.deps {
		if d.ProjectID == projectID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *store) CreateDependency(_ context.Context, in model.NewDependency) (*model.Dependency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextDepID++
	d := model.Dependency{
		ID:            s.nextDepID,
		ProjectID:     in.ProjectID,
		PredecessorID: in.PredecessorID,
		SuccessorID:   in.SuccessorID,
		Type:          in.Type,
		LagDays:       in.LagDays,
	}
	s.deps[d.ID] = d
	return &d, nil
}

func (s *store) DeleteDependency(_ context.Context, id int) (*model.Dependency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deps[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	delete(s.deps, id)
	return &d, nil
}

type memCache struct {
	entries     map[int]schedule.ViolationMap
	getErr      error
	invalidated []int
}

func newMemCache() *memCache {
	return &memCache{entries: map[int]schedule.ViolationMap{}}
}

func (c *memCache) Get(_ context.Context, projectID int) (schedule.ViolationMap, bool, error) {
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	m, ok := c.entries[projectID]
	return m, ok, nil
}

func (c *memCache) Set(_ context.Context, projectID int, m schedule.ViolationMap) error {
	c.entries[projectID] = m
	return nil
}

func (c *memCache) Invalidate(_ context.Context, projectID int) error {
	c.invalidated = append(c.invalidated, projectID)
	delete(c.entries, projectID)
	return nil
}

type memLocker struct {
	held map[string]bool
}

func (l *memLocker) Acquire(_ context.Context, key string) (func(), error) {
	if l.held[key] {
		return nil, util.ErrLockHeld
	}
	l.held[key] = true
	return func() { delete(l.held, key) }, nil
}

type fixture struct {
	store  *store
	cache  *memCache
	locker *memLocker
	svc    *Service
}

func newFixture(opts Options) *fixture {
	st := newStore()
	c := newMemCache()
	l := &memLocker{held: map[string]bool{}}
	return &fixture{
		store:  st,
		cache:  c,
		locker: l,
		svc:    NewService(st, st, st, c, l, opts, zap.NewNop()),
	}
}

// chain is A -> B -> C, all finish-to-start lag 0, with B and C starting too early.
func (f *fixture) chain() {
	f.store.addPhase(1, 1, "2025-01-01", "2025-01-10")
	f.store.addPhase(2, 1, "2025-01-05", "2025-01-08")
	f.store.addPhase(3, 1, "2025-01-06", "2025-01-09")
	f.store.addDep(10, 1, 1, 2, schedule.FinishToStart, 0)
	f.store.addDep(11, 1, 2, 3, schedule.FinishToStart, 0)
}

func day(s string) schedule.Day { return schedule.MustParseDay(s) }

func TestViolations_ComputesAndCaches(t *testing.T) {
	f := newFixture(Options{})
	f.chain()
	ctx := context.Background()

	m, err := f.svc.Violations(ctx, 1)
	require.NoError(t, err)
	// A ends too late for B, B is squeezed on both sides, C starts too early
	assert.Len(t, m[1], 1)
	assert.Len(t, m[2], 2)
	assert.Len(t, m[3], 1)
	assert.Contains(t, f.cache.entries, 1)

	// 缓存命中时不再读库
	f.store.phases = map[int]model.Phase{}
	again, err := f.svc.Violations(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, m, again)
}

func TestViolations_CacheErrorFallsBackToEngine(t *testing.T) {
	f := newFixture(Options{})
	f.chain()
	f.cache.getErr = errors.New("circuit breaker is open")

	m, err := f.svc.Violations(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 4, m.Count())
}

func TestViolations_UnknownProject(t *testing.T) {
	f := newFixture(Options{})
	_, err := f.svc.Violations(context.Background(), 42)
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestRecompute_BypassesCache(t *testing.T) {
	f := newFixture(Options{})
	f.chain()
	f.cache.entries[1] = schedule.ViolationMap{}

	m, err := f.svc.Recompute(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 4, m.Count())
	assert.Equal(t, m, f.cache.entries[1])

	_, err = f.svc.Recompute(context.Background(), 42)
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestCheckPhase(t *testing.T) {
	f := newFixture(Options{})
	f.chain()

	res, err := f.svc.CheckPhase(context.Background(), 2, day("2025-01-05"), day("2025-01-08"))
	require.NoError(t, err)
	require.Len(t, res.Violations, 2)
	assert.Equal(t, schedule.ViolationIncoming, res.Violations[0].Kind)
	assert.Equal(t, 10, res.Violations[0].DependencyID)
	assert.Equal(t, schedule.ViolationOutgoing, res.Violations[1].Kind)
	assert.Equal(t, 11, res.Violations[1].DependencyID)
	assert.True(t, res.Suggestion.Changed)
	assert.Equal(t, day("2025-01-11"), res.Suggestion.Start)
	assert.Equal(t, day("2025-01-14"), res.Suggestion.End)

	// the suggestion satisfies A; C still has to move, which Correct leaves alone
	moved, err := f.svc.CheckPhase(context.Background(), 2, day("2025-01-11"), day("2025-01-14"))
	require.NoError(t, err)
	require.Len(t, moved.Violations, 1)
	assert.Equal(t, schedule.ViolationOutgoing, moved.Violations[0].Kind)
	assert.False(t, moved.Suggestion.Changed)

	_, err = f.svc.CheckPhase(context.Background(), 99, day("2025-01-01"), day("2025-01-02"))
	assert.ErrorIs(t, err, ErrPhaseNotFound)
}

func TestUpdatePhase(t *testing.T) {
	f := newFixture(Options{})
	f.chain()
	f.cache.entries[1] = schedule.ViolationMap{}
	ctx := context.Background()

	start, end := day("2025-01-11"), day("2025-01-14")
	res, err := f.svc.UpdatePhase(ctx, 2, model.PhasePatch{StartDate: &start, EndDate: &end})
	require.NoError(t, err)
	assert.Equal(t, start, res.Phase.StartDate)
	assert.Equal(t, []int{1}, f.cache.invalidated)
	// B now ends after C starts: B reports the outgoing violation
	require.Len(t, res.Violations, 1)
	assert.Equal(t, schedule.ViolationOutgoing, res.Violations[0].Kind)
}

func TestUpdatePhase_RejectsEmptySpan(t *testing.T) {
	f := newFixture(Options{})
	f.chain()

	end := day("2025-01-05")
	_, err := f.svc.UpdatePhase(context.Background(), 2, model.PhasePatch{EndDate: &end})
	assert.ErrorIs(t, err, ErrInvalidDates)

	_, err = f.svc.UpdatePhase(context.Background(), 2, model.PhasePatch{})
	assert.ErrorIs(t, err, ErrInvalidDates)

	_, err = f.svc.UpdatePhase(context.Background(), 7, model.PhasePatch{EndDate: &end})
	assert.ErrorIs(t, err, ErrPhaseNotFound)
}

func TestFixAll_Chain(t *testing.T) {
	f := newFixture(Options{MaxPhases: 10})
	f.chain()

	res, err := f.svc.FixAll(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, []schedule.PhaseUpdate{
		{ID: 2, NewStart: day("2025-01-11"), NewEnd: day("2025-01-14")},
		{ID: 3, NewStart: day("2025-01-15"), NewEnd: day("2025-01-18")},
	}, res.Updates)
	assert.Empty(t, res.Remaining)
	assert.Equal(t, day("2025-01-15"), f.store.phases[3].StartDate)
	assert.Empty(t, f.locker.held, "lock released")
	assert.Contains(t, f.cache.entries, 1)
}

func TestFixAll_NothingToDo(t *testing.T) {
	f := newFixture(Options{})
	f.store.addPhase(1, 1, "2025-01-01", "2025-01-10")

	res, err := f.svc.FixAll(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, res.Updates)
	assert.NotNil(t, res.Updates)
	assert.Zero(t, f.store.bulkCalls)
}

func TestFixAll_Cycle(t *testing.T) {
	f := newFixture(Options{})
	f.store.addPhase(1, 1, "2025-01-01", "2025-01-03")
	f.store.addPhase(2, 1, "2025-01-02", "2025-01-04")
	f.store.addDep(10, 1, 1, 2, schedule.FinishToStart, 0)
	f.store.addDep(11, 1, 2, 1, schedule.FinishToStart, 0)

	_, err := f.svc.FixAll(context.Background(), 1)
	assert.ErrorIs(t, err, ErrDependencyCycle)
	assert.ErrorIs(t, err, schedule.ErrCycle)

	var cycle *schedule.CycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []int{1, 2}, cycle.PhaseIDs)
	assert.Zero(t, f.store.bulkCalls)
}

func TestFixAll_Guards(t *testing.T) {
	f := newFixture(Options{MaxPhases: 2})
	f.chain()
	ctx := context.Background()

	_, err := f.svc.FixAll(ctx, 1)
	assert.ErrorIs(t, err, ErrProjectTooLarge)

	f.locker.held["fix:project:1"] = true
	_, err = f.svc.FixAll(ctx, 1)
	assert.ErrorIs(t, err, ErrFixInProgress)

	_, err = f.svc.FixAll(ctx, 9)
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestFixAll_PersistenceFailure(t *testing.T) {
	f := newFixture(Options{})
	f.chain()
	f.store.bulkErr = errors.New("connection reset")

	_, err := f.svc.FixAll(context.Background(), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, f.store.bulkErr)
	assert.Equal(t, 1, f.store.bulkCalls)
	assert.Equal(t, day("2025-01-05"), f.store.phases[2].StartDate)
}

func TestFixAll_PhaseDeletedMeanwhile(t *testing.T) {
	f := newFixture(Options{})
	f.chain()
	f.store.bulkErr = fmt.Errorf("phase 3 in project 1: %w", repository.ErrNotFound)

	_, err := f.svc.FixAll(context.Background(), 1)
	assert.ErrorIs(t, err, ErrPhaseNotFound)
}

func TestCreateDependency(t *testing.T) {
	f := newFixture(Options{})
	f.chain()
	f.store.addPhase(4, 2, "2025-01-01", "2025-01-02")
	ctx := context.Background()

	d, err := f.svc.CreateDependency(ctx, DependencyInput{PredecessorID: 1, SuccessorID: 3, Type: "SS", LagDays: 2})
	require.NoError(t, err)
	assert.Equal(t, schedule.StartToStart, d.Type)
	assert.Equal(t, 1, d.ProjectID)
	assert.Equal(t, []int{1}, f.cache.invalidated)

	tests := []struct {
		name string
		in   DependencyInput
		want error
	}{
		{"unknown type", DependencyInput{PredecessorID: 1, SuccessorID: 2, Type: "blocks"}, ErrInvalidDependency},
		{"self loop", DependencyInput{PredecessorID: 2, SuccessorID: 2, Type: "FS"}, ErrInvalidDependency},
		{"missing phase", DependencyInput{PredecessorID: 1, SuccessorID: 50, Type: "FS"}, ErrPhaseNotFound},
		{"cross project", DependencyInput{PredecessorID: 1, SuccessorID: 4, Type: "FS"}, ErrInvalidDependency},
		{"cycle", DependencyInput{PredecessorID: 3, SuccessorID: 1, Type: "FF"}, ErrDependencyCycle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateDependency(ctx, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDeleteDependency(t *testing.T) {
	f := newFixture(Options{})
	f.chain()
	ctx := context.Background()

	require.NoError(t, f.svc.DeleteDependency(ctx, 10))
	assert.NotContains(t, f.store.deps, 10)
	assert.Equal(t, []int{1}, f.cache.invalidated)

	assert.ErrorIs(t, f.svc.DeleteDependency(ctx, 10), ErrDependencyNotFound)
}
