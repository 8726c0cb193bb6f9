package planning

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"phaseplanner/internal/model"
	"phaseplanner/internal/repository"
	"phaseplanner/internal/schedule"
	"phaseplanner/pkg/logger"
	"phaseplanner/pkg/metrics"
	"phaseplanner/pkg/otel"
	"phaseplanner/pkg/util"
)

type ProjectStore interface {
	GetProject(ctx context.Context, id int) (*model.Project, error)
}

type PhaseStore interface {
	ListPhases(ctx context.Context, projectID int) ([]model.Phase, error)
	GetPhase(ctx context.Context, id int) (*model.Phase, error)
	UpdatePhase(ctx context.Context, id int, patch model.PhasePatch) (*model.Phase, error)
	ApplyBulkPhaseCorrections(ctx context.Context, projectID int, corrections []model.PhaseCorrection) error
}

type DependencyStore interface {
	ListDependencies(ctx context.Context, projectID int) ([]model.Dependency, error)
	CreateDependency(ctx context.Context, in model.NewDependency) (*model.Dependency, error)
	DeleteDependency(ctx context.Context, id int) (*model.Dependency, error)
}

type ViolationCache interface {
	Get(ctx context.Context, projectID int) (schedule.ViolationMap, bool, error)
	Set(ctx context.Context, projectID int, m schedule.ViolationMap) error
	Invalidate(ctx context.Context, projectID int) error
}

// Locker is satisfied by *util.Locker.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

type Options struct {
	// MaxPhases caps the projects FixAll accepts. Zero means no limit.
	MaxPhases int
}

// Service runs the scheduling engine over persisted projects.
type Service struct {
	projects ProjectStore
	phases   PhaseStore
	deps     DependencyStore
	cache    ViolationCache
	locker   Locker
	opts     Options
	logger   *zap.Logger
}

func NewService(
	projects ProjectStore,
	phases PhaseStore,
	deps DependencyStore,
	cache ViolationCache,
	locker Locker,
	opts Options,
	logger *zap.Logger,
) *Service {
	return &Service{
		projects: projects,
		phases:   phases,
		deps:     deps,
		cache:    cache,
		locker:   locker,
		opts:     opts,
		logger:   logger,
	}
}

// CheckResult answers "what if this phase had these dates".
type CheckResult struct {
	Phase      model.Phase          `json:"phase"`
	Violations []schedule.Violation `json:"violations"`
	Suggestion schedule.Correction  `json:"suggestion"`
}

// UpdateResult is the saved phase with the violations it has now.
type UpdateResult struct {
	Phase      model.Phase          `json:"phase"`
	Violations []schedule.Violation `json:"violations"`
}

// FixResult is what fix-all changed and what is still broken afterwards.
type FixResult struct {
	Updates   []schedule.PhaseUpdate `json:"updates"`
	Remaining schedule.ViolationMap  `json:"remaining"`
}

// DependencyInput is a dependency to create. Type accepts any spelling
// schedule.ParseDependencyType does.
type DependencyInput struct {
	PredecessorID int    `json:"predecessor_phase_id"`
	SuccessorID   int    `json:"successor_phase_id"`
	Type          string `json:"dep_type"`
	LagDays       int    `json:"lag_days"`
}

func (s *Service) log(ctx context.Context) *zap.Logger {
	return logger.WithTrace(ctx, s.logger)
}

func (s *Service) requireProject(ctx context.Context, projectID int) error {
	if _, err := s.projects.GetProject(ctx, projectID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: %d", ErrProjectNotFound, projectID)
		}
		return err
	}
	return nil
}

func (s *Service) getPhase(ctx context.Context, id int) (*model.Phase, error) {
	p, err := s.phases.GetPhase(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrPhaseNotFound, id)
		}
		return nil, err
	}
	return p, nil
}

func (s *Service) load(ctx context.Context, projectID int) ([]model.Phase, []model.Dependency, error) {
	phases, err := s.phases.ListPhases(ctx, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load phases: %w", err)
	}
	deps, err := s.deps.ListDependencies(ctx, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load dependencies: %w", err)
	}
	return phases, deps, nil
}

func (s *Service) Phases(ctx context.Context, projectID int) ([]model.Phase, error) {
	if err := s.requireProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.phases.ListPhases(ctx, projectID)
}

func (s *Service) Dependencies(ctx context.Context, projectID int) ([]model.Dependency, error) {
	if err := s.requireProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.deps.ListDependencies(ctx, projectID)
}

// Violations returns the project's violation map, from the cache when it has one.
func (s *Service) Violations(ctx context.Context, projectID int) (schedule.ViolationMap, error) {
	m, ok, err := s.cache.Get(ctx, projectID)
	if err != nil {
		s.log(ctx).Warn("Violation cache unavailable", zap.Int("project_id", projectID), zap.Error(err))
	}
	if ok {
		return m, nil
	}

	return s.Recompute(ctx, projectID)
}

// Recompute evaluates the project from fresh data and refreshes the cache.
// It bypasses whatever the cache holds.
func (s *Service) Recompute(ctx context.Context, projectID int) (schedule.ViolationMap, error) {
	if err := s.requireProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.recompute(ctx, projectID)
}

func (s *Service) recompute(ctx context.Context, projectID int) (schedule.ViolationMap, error) {
	phases, deps, err := s.load(ctx, projectID)
	if err != nil {
		return nil, err
	}

	m := s.buildViolationMap(ctx, projectID, phases, deps)
	if err := s.cache.Set(ctx, projectID, m); err != nil {
		s.log(ctx).Warn("Failed to cache violation map", zap.Int("project_id", projectID), zap.Error(err))
	}
	return m, nil
}

func (s *Service) buildViolationMap(ctx context.Context, projectID int, phases []model.Phase, deps []model.Dependency) schedule.ViolationMap {
	_, span := otel.EngineSpan(ctx, "evaluate", projectID, len(phases))
	defer span.End()

	start := time.Now()
	m := schedule.BuildViolationMap(model.SchedulePhases(phases), model.ScheduleDependencies(deps))
	metrics.RecordEngineDuration("evaluate", time.Since(start))
	metrics.SetProjectViolations(strconv.Itoa(projectID), m.Count())
	return m
}

// CheckPhase evaluates proposed dates for one phase and suggests the nearest
// dates that satisfy its incoming dependencies. Nothing is saved.
func (s *Service) CheckPhase(ctx context.Context, phaseID int, start, end schedule.Day) (*CheckResult, error) {
	p, err := s.getPhase(ctx, phaseID)
	if err != nil {
		return nil, err
	}
	phases, deps, err := s.load(ctx, p.ProjectID)
	if err != nil {
		return nil, err
	}

	_, span := otel.EngineSpan(ctx, "correct", p.ProjectID, len(phases))
	defer span.End()

	began := time.Now()
	sp := model.SchedulePhases(phases)
	sd := model.ScheduleDependencies(deps)
	violations := schedule.Evaluate(p.Schedule(), start, end, sp, sd)
	suggestion := schedule.Correct(p.Schedule(), start, end, sp, sd)
	metrics.RecordEngineDuration("correct", time.Since(began))

	if violations == nil {
		violations = []schedule.Violation{}
	}
	return &CheckResult{Phase: *p, Violations: violations, Suggestion: suggestion}, nil
}

// UpdatePhase saves a direct edit. Dates that leave the phase without a
// positive duration are refused; dependency violations are not, they are
// returned so the caller can offer a fix.
func (s *Service) UpdatePhase(ctx context.Context, phaseID int, patch model.PhasePatch) (*UpdateResult, error) {
	if patch.Empty() {
		return nil, fmt.Errorf("%w: nothing to update", ErrInvalidDates)
	}
	current, err := s.getPhase(ctx, phaseID)
	if err != nil {
		return nil, err
	}

	next := current.Schedule().Span()
	if patch.StartDate != nil {
		next.Start = *patch.StartDate
	}
	if patch.EndDate != nil {
		next.End = *patch.EndDate
	}
	if !next.Valid() {
		return nil, fmt.Errorf("%w: end date %s must be after start date %s", ErrInvalidDates, next.End, next.Start)
	}

	updated, err := s.phases.UpdatePhase(ctx, phaseID, patch)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrPhaseNotFound, phaseID)
		}
		return nil, fmt.Errorf("failed to update phase: %w", err)
	}
	s.invalidate(ctx, updated.ProjectID)

	phases, deps, err := s.load(ctx, updated.ProjectID)
	if err != nil {
		return nil, err
	}
	violations := schedule.Evaluate(updated.Schedule(), updated.StartDate, updated.EndDate,
		model.SchedulePhases(phases), model.ScheduleDependencies(deps))
	if violations == nil {
		violations = []schedule.Violation{}
	}

	s.log(ctx).Info("Phase edited",
		zap.Int("phase_id", updated.ID),
		zap.Int("project_id", updated.ProjectID),
		zap.Int("violation_count", len(violations)),
	)
	return &UpdateResult{Phase: *updated, Violations: violations}, nil
}

// FixAll runs the cascade scheduler over the whole project, applies the diff
// in one bulk write and re-evaluates the project from fresh data.
func (s *Service) FixAll(ctx context.Context, projectID int) (*FixResult, error) {
	log := s.log(ctx).With(zap.Int("project_id", projectID))

	release, err := s.locker.Acquire(ctx, fmt.Sprintf("fix:project:%d", projectID))
	if err != nil {
		if errors.Is(err, util.ErrLockHeld) {
			return nil, fmt.Errorf("%w %d", ErrFixInProgress, projectID)
		}
		return nil, fmt.Errorf("failed to acquire fix lock: %w", err)
	}
	defer release()

	if err := s.requireProject(ctx, projectID); err != nil {
		return nil, err
	}
	phases, deps, err := s.load(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if s.opts.MaxPhases > 0 && len(phases) > s.opts.MaxPhases {
		return nil, fmt.Errorf("%w: %d > %d", ErrProjectTooLarge, len(phases), s.opts.MaxPhases)
	}

	updates, err := s.scheduleFix(ctx, projectID, phases, deps)
	if err != nil {
		log.Warn("Fix-all aborted", zap.Error(err))
		return nil, err
	}

	if len(updates) > 0 {
		if err := s.phases.ApplyBulkPhaseCorrections(ctx, projectID, model.CorrectionsFromUpdates(updates)); err != nil {
			metrics.AddCascadeUpdates("failed", len(updates))
			log.Error("Bulk correction failed", zap.Int("update_count", len(updates)), zap.Error(err))
			if errors.Is(err, repository.ErrNotFound) {
				// 有阶段在计算期间被删掉了，整批已回滚
				return nil, fmt.Errorf("%w: %w", ErrPhaseNotFound, err)
			}
			return nil, fmt.Errorf("failed to apply corrections: %w", err)
		}
		metrics.AddCascadeUpdates("applied", len(updates))
		s.invalidate(ctx, projectID)
	}

	remaining, err := s.recompute(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if n := remaining.Count(); n > 0 {
		// 非链状依赖图一次扫描可能修不完
		log.Warn("Violations remain after fix-all",
			zap.Int("update_count", len(updates)),
			zap.Int("violation_count", n),
		)
	} else {
		log.Info("Fix-all completed", zap.Int("update_count", len(updates)))
	}

	if updates == nil {
		updates = []schedule.PhaseUpdate{}
	}
	return &FixResult{Updates: updates, Remaining: remaining}, nil
}

func (s *Service) scheduleFix(ctx context.Context, projectID int, phases []model.Phase, deps []model.Dependency) ([]schedule.PhaseUpdate, error) {
	_, span := otel.EngineSpan(ctx, "fix", projectID, len(phases))
	defer span.End()

	start := time.Now()
	defer func() { metrics.RecordEngineDuration("fix", time.Since(start)) }()

	sp := model.SchedulePhases(phases)
	sd := model.ScheduleDependencies(deps)
	updates, err := schedule.ScheduleFix(sp, sd, schedule.BuildViolationMap(sp, sd))
	if err != nil {
		if errors.Is(err, schedule.ErrCycle) {
			return nil, fmt.Errorf("%w: %w", ErrDependencyCycle, err)
		}
		return nil, err
	}
	return updates, nil
}

// CreateDependency validates and stores a new edge. Edges that would close a
// cycle are refused here so the stored graph stays acyclic.
func (s *Service) CreateDependency(ctx context.Context, in DependencyInput) (*model.Dependency, error) {
	depType, err := schedule.ParseDependencyType(in.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDependency, err)
	}
	if in.PredecessorID == in.SuccessorID {
		return nil, fmt.Errorf("%w: a phase cannot depend on itself", ErrInvalidDependency)
	}

	pred, err := s.getPhase(ctx, in.PredecessorID)
	if err != nil {
		return nil, err
	}
	succ, err := s.getPhase(ctx, in.SuccessorID)
	if err != nil {
		return nil, err
	}
	if pred.ProjectID != succ.ProjectID {
		return nil, fmt.Errorf("%w: phases %d and %d belong to different projects", ErrInvalidDependency, pred.ID, succ.ID)
	}

	existing, err := s.deps.ListDependencies(ctx, pred.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load dependencies: %w", err)
	}
	candidate := schedule.Dependency{PredecessorID: pred.ID, SuccessorID: succ.ID, Type: depType, LagDays: in.LagDays}
	if schedule.WouldCreateCycle(model.ScheduleDependencies(existing), candidate) {
		return nil, fmt.Errorf("%w: %d -> %d", ErrDependencyCycle, pred.ID, succ.ID)
	}

	d, err := s.deps.CreateDependency(ctx, model.NewDependency{
		ProjectID:     pred.ProjectID,
		PredecessorID: pred.ID,
		SuccessorID:   succ.ID,
		Type:          depType,
		LagDays:       in.LagDays,
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("%w: dependency already exists", ErrInvalidDependency)
		}
		return nil, fmt.Errorf("failed to create dependency: %w", err)
	}
	s.invalidate(ctx, d.ProjectID)
	return d, nil
}

func (s *Service) DeleteDependency(ctx context.Context, id int) error {
	d, err := s.deps.DeleteDependency(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: %d", ErrDependencyNotFound, id)
		}
		return fmt.Errorf("failed to delete dependency: %w", err)
	}
	s.invalidate(ctx, d.ProjectID)
	return nil
}

func (s *Service) invalidate(ctx context.Context, projectID int) {
	if err := s.cache.Invalidate(ctx, projectID); err != nil {
		s.log(ctx).Warn("Failed to invalidate violation cache", zap.Int("project_id", projectID), zap.Error(err))
	}
}
