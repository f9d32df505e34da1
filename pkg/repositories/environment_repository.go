package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tdmstack/tdm-engine/pkg/apperrors"
	"github.com/tdmstack/tdm-engine/pkg/database"
	"github.com/tdmstack/tdm-engine/pkg/models"
)

// EnvironmentRepository provides data access for provisioning targets.
type EnvironmentRepository interface {
	Create(ctx context.Context, env *models.Environment) error
	GetByName(ctx context.Context, name string) (*models.Environment, error)
	List(ctx context.Context) ([]*models.Environment, error)
}

type environmentRepository struct {
	db *database.DB
}

// NewEnvironmentRepository creates a new EnvironmentRepository.
func NewEnvironmentRepository(db *database.DB) EnvironmentRepository {
	return &environmentRepository{db: db}
}

var _ EnvironmentRepository = (*environmentRepository)(nil)

func (r *environmentRepository) Create(ctx context.Context, env *models.Environment) error {
	if env.ID == uuid.Nil {
		env.ID = uuid.New()
	}
	env.CreatedAt = time.Now()

	const query = `
		INSERT INTO tdm_environments (id, name, connection_string, created_at)
		VALUES ($1, $2, $3, $4)`

	_, err := r.db.Exec(ctx, query, env.ID, env.Name, env.ConnectionString, env.CreatedAt)
	if err != nil {
		return fmt.Errorf("create environment: %w", err)
	}
	return nil
}

func (r *environmentRepository) GetByName(ctx context.Context, name string) (*models.Environment, error) {
	const query = `
		SELECT id, name, connection_string, created_at
		FROM tdm_environments
		WHERE name = $1`

	var env models.Environment
	err := r.db.QueryRow(ctx, query, name).Scan(&env.ID, &env.Name, &env.ConnectionString, &env.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrEnvironmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get environment: %w", err)
	}
	return &env, nil
}

func (r *environmentRepository) List(ctx context.Context) ([]*models.Environment, error) {
	const query = `
		SELECT id, name, connection_string, created_at
		FROM tdm_environments
		ORDER BY name`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list environments: %w", err)
	}
	defer rows.Close()

	var envs []*models.Environment
	for rows.Next() {
		var env models.Environment
		if err := rows.Scan(&env.ID, &env.Name, &env.ConnectionString, &env.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan environment: %w", err)
		}
		envs = append(envs, &env)
	}
	return envs, rows.Err()
}
