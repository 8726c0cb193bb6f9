package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"phaseplanner/internal/model"
)

type ProjectRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewProjectRepository(db *pgxpool.Pool, logger *zap.Logger) *ProjectRepository {
	return &ProjectRepository{
		db:     db,
		logger: logger,
	}
}

func (r *ProjectRepository) GetProject(ctx context.Context, id int) (*model.Project, error) {
	var p model.Project
	err := r.db.QueryRow(ctx, `
        SELECT id, name, created_at
        FROM projects
        WHERE id = $1
    `, id).Scan(&p.ID, &p.Name, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("project %d: %w", id, ErrNotFound)
		}
		r.logger.Error("Failed to get project", zap.Int("project_id", id), zap.Error(err))
		return nil, err
	}
	return &p, nil
}

