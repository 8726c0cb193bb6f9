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
	"phaseplanner/internal/schedule"
	"phaseplanner/pkg/outbox"
)

type PhaseRepository struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
	logger *zap.Logger
}

func NewPhaseRepository(db *pgxpool.Pool, outboxRepo *outbox.Repository, logger *zap.Logger) *PhaseRepository {
	return &PhaseRepository{
		db:     db,
		outbox: outboxRepo,
		logger: logger,
	}
}

const phaseColumns = `id, project_id, name, start_date, end_date, updated_at`

func scanPhase(row pgx.Row) (model.Phase, error) {
	var p model.Phase
	var start, end time.Time
	if err := row.Scan(&p.ID, &p.ProjectID, &p.Name, &start, &end, &p.UpdatedAt); err != nil {
		return model.Phase{}, err
	}
	p.StartDate = schedule.DayOf(start)
	p.EndDate = schedule.DayOf(end)
	return p, nil
}

func (r *PhaseRepository) ListPhases(ctx context.Context, projectID int) ([]model.Phase, error) {
	query := `
        SELECT ` + phaseColumns + `
        FROM phases
        WHERE project_id = $1
        ORDER BY start_date ASC, id ASC
    `
	rows, err := r.db.Query(ctx, query, projectID)
	if err != nil {
		r.logger.Error("Failed to list phases", zap.Int("project_id", projectID), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	phases := []model.Phase{}
	for rows.Next() {
		p, err := scanPhase(rows)
		if err != nil {
			r.logger.Error("Failed to scan phase", zap.Error(err))
			return nil, err
		}
		phases = append(phases, p)
	}
	return phases, rows.Err()
}

func (r *PhaseRepository) GetPhase(ctx context.Context, id int) (*model.Phase, error) {
	query := `
        SELECT ` + phaseColumns + `
        FROM phases
        WHERE id = $1
    `
	p, err := scanPhase(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("phase %d: %w", id, ErrNotFound)
		}
		r.logger.Error("Failed to get phase", zap.Int("phase_id", id), zap.Error(err))
		return nil, err
	}
	return &p, nil
}

func dayParam(d *schedule.Day) *time.Time {
	if d == nil {
		return nil
	}
	t := d.Time()
	return &t
}

// UpdatePhase applies patch and queues a phase.updated event in the same
// transaction. The table's CHECK (start_date < end_date) rejects empty or
// inverted spans.
func (r *PhaseRepository) UpdatePhase(ctx context.Context, id int, patch model.PhasePatch) (*model.Phase, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
        UPDATE phases
        SET name = COALESCE($2, name),
            start_date = COALESCE($3, start_date),
            end_date = COALESCE($4, end_date),
            updated_at = NOW()
        WHERE id = $1
        RETURNING ` + phaseColumns
	p, err := scanPhase(tx.QueryRow(ctx, query, id, patch.Name, dayParam(patch.StartDate), dayParam(patch.EndDate)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("phase %d: %w", id, ErrNotFound)
		}
		r.logger.Error("Failed to update phase", zap.Int("phase_id", id), zap.Error(err))
		return nil, err
	}

	projectID := int64(p.ProjectID)
	payload := contractsmq.PhaseUpdatedPayload{
		EventID:   outbox.NewEventID(),
		ProjectID: p.ProjectID,
		Phase: contractsmq.PhaseDates{
			PhaseID:   p.ID,
			StartDate: p.StartDate.String(),
			EndDate:   p.EndDate.String(),
		},
		UpdatedAt: p.UpdatedAt,
	}
	if err := outbox.InsertEventInTx(ctx, tx, r.outbox, "project", &projectID, contractsmq.RoutingKeyPhaseUpdated, payload); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.logger.Info("Phase updated",
		zap.Int("phase_id", p.ID),
		zap.Int("project_id", p.ProjectID),
		zap.Stringer("start_date", p.StartDate),
		zap.Stringer("end_date", p.EndDate),
	)
	return &p, nil
}

// ApplyBulkPhaseCorrections writes all corrections in one transaction. Any
// id that is not a phase of projectID rolls the whole batch back.
func (r *PhaseRepository) ApplyBulkPhaseCorrections(ctx context.Context, projectID int, corrections []model.PhaseCorrection) error {
	if len(corrections) == 0 {
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, c := range corrections {
		batch.Queue(`
            UPDATE phases
            SET start_date = $3, end_date = $4, updated_at = NOW()
            WHERE id = $1 AND project_id = $2
        `, c.ID, projectID, c.StartDate.Time(), c.EndDate.Time())
	}

	results := tx.SendBatch(ctx, batch)
	for _, c := range corrections {
		tag, err := results.Exec()
		if err != nil {
			results.Close()
			r.logger.Error("Bulk correction failed",
				zap.Int("project_id", projectID),
				zap.Int("phase_id", c.ID),
				zap.Error(err),
			)
			return fmt.Errorf("failed to update phase %d: %w", c.ID, err)
		}
		if tag.RowsAffected() == 0 {
			results.Close()
			return fmt.Errorf("phase %d in project %d: %w", c.ID, projectID, ErrNotFound)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("failed to close batch: %w", err)
	}

	dates := make([]contractsmq.PhaseDates, len(corrections))
	for i, c := range corrections {
		dates[i] = contractsmq.PhaseDates{
			PhaseID:   c.ID,
			StartDate: c.StartDate.String(),
			EndDate:   c.EndDate.String(),
		}
	}
	aggregateID := int64(projectID)
	payload := contractsmq.PhaseCorrectedPayload{
		EventID:     outbox.NewEventID(),
		ProjectID:   projectID,
		Corrections: dates,
		CorrectedAt: time.Now().UTC(),
	}
	if err := outbox.InsertEventInTx(ctx, tx, r.outbox, "project", &aggregateID, contractsmq.RoutingKeyPhaseCorrected, payload); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.logger.Info("Bulk phase corrections applied",
		zap.Int("project_id", projectID),
		zap.Int("update_count", len(corrections)),
	)
	return nil
}
