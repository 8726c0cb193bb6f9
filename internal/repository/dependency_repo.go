package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	contractsmq "phaseplanner/contracts/mq"
	"phaseplanner/internal/model"
	"phaseplanner/pkg/outbox"
)

type DependencyRepository struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
	logger *zap.Logger
}

func NewDependencyRepository(db *pgxpool.Pool, outboxRepo *outbox.Repository, logger *zap.Logger) *DependencyRepository {
	return &DependencyRepository{
		db:     db,
		outbox: outboxRepo,
		logger: logger,
	}
}

const dependencyColumns = `id, project_id, predecessor_phase_id, successor_phase_id, dep_type, lag_days, created_at`

func scanDependency(row pgx.Row) (model.Dependency, error) {
	var d model.Dependency
	err := row.Scan(
		&d.ID,
		&d.ProjectID,
		&d.PredecessorID,
		&d.SuccessorID,
		&d.Type,
		&d.LagDays,
		&d.CreatedAt,
	)
	return d, err
}

func (r *DependencyRepository) ListDependencies(ctx context.Context, projectID int) ([]model.Dependency, error) {
	query := `
        SELECT ` + dependencyColumns + `
        FROM phase_dependencies
        WHERE project_id = $1
        ORDER BY id ASC
    `
	rows, err := r.db.Query(ctx, query, projectID)
	if err != nil {
		r.logger.Error("Failed to list dependencies", zap.Int("project_id", projectID), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	deps := []model.Dependency{}
	for rows.Next() {
		d, err := scanDependency(rows)
		if err != nil {
			r.logger.Error("Failed to scan dependency", zap.Error(err))
			return nil, err
		}
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

func (r *DependencyRepository) GetDependency(ctx context.Context, id int) (*model.Dependency, error) {
	query := `
        SELECT ` + dependencyColumns + `
        FROM phase_dependencies
        WHERE id = $1
    `
	d, err := scanDependency(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("dependency %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &d, nil
}

// CreateDependency inserts the edge and queues dependency.changed.
func (r *DependencyRepository) CreateDependency(ctx context.Context, in model.NewDependency) (*model.Dependency, error) {
	r.logger.Debug("Inserting dependency",
		zap.Int("project_id", in.ProjectID),
		zap.Int("predecessor_phase_id", in.PredecessorID),
		zap.Int("successor_phase_id", in.SuccessorID),
		zap.String("dep_type", string(in.Type)),
	)

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
        INSERT INTO phase_dependencies (project_id, predecessor_phase_id, successor_phase_id, dep_type, lag_days)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING ` + dependencyColumns
	d, err := scanDependency(tx.QueryRow(ctx, query,
		in.ProjectID,
		in.PredecessorID,
		in.SuccessorID,
		string(in.Type),
		in.LagDays,
	))
	if err != nil {
		r.logger.Error("Failed to insert dependency", zap.Error(err))
		return nil, err
	}

	if err := r.queueChanged(ctx, tx, d, contractsmq.DependencyActionCreated); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.logger.Info("Dependency created",
		zap.Int("dependency_id", d.ID),
		zap.Int("project_id", d.ProjectID),
	)
	return &d, nil
}

// DeleteDependency removes the edge and returns the deleted row.
func (r *DependencyRepository) DeleteDependency(ctx context.Context, id int) (*model.Dependency, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
        DELETE FROM phase_dependencies
        WHERE id = $1
        RETURNING ` + dependencyColumns
	d, err := scanDependency(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("dependency %d: %w", id, ErrNotFound)
		}
		r.logger.Error("Failed to delete dependency", zap.Int("dependency_id", id), zap.Error(err))
		return nil, err
	}

	if err := r.queueChanged(ctx, tx, d, contractsmq.DependencyActionDeleted); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.logger.Info("Dependency deleted",
		zap.Int("dependency_id", d.ID),
		zap.Int("project_id", d.ProjectID),
	)
	return &d, nil
}

func (r *DependencyRepository) queueChanged(ctx context.Context, tx pgx.Tx, d model.Dependency, action string) error {
	projectID := int64(d.ProjectID)
	payload := contractsmq.DependencyChangedPayload{
		EventID:       outbox.NewEventID(),
		ProjectID:     d.ProjectID,
		DependencyID:  d.ID,
		Action:        action,
		PredecessorID: d.PredecessorID,
		SuccessorID:   d.SuccessorID,
		Type:          string(d.Type),
		LagDays:       d.LagDays,
		ChangedAt:     time.Now().UTC(),
	}
	return outbox.InsertEventInTx(ctx, tx, r.outbox, "project", &projectID, contractsmq.RoutingKeyDependencyChanged, payload)
}
