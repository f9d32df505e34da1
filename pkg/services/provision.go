package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tdmstack/tdm-engine/pkg/adapters/datasource"
	"github.com/tdmstack/tdm-engine/pkg/apperrors"
	"github.com/tdmstack/tdm-engine/pkg/datastore"
	"github.com/tdmstack/tdm-engine/pkg/logging"
	"github.com/tdmstack/tdm-engine/pkg/models"
	"github.com/tdmstack/tdm-engine/pkg/repositories"
)

// ProvisionService loads a materialized dataset version into a target
// environment. Tables are dropped and recreated with text columns; fidelity
// to source types is a non-goal of provisioning, smoke checks only verify
// row counts.
type ProvisionService struct {
	datasetRepo      repositories.DatasetRepository
	envRepo          repositories.EnvironmentRepository
	store            *datastore.Store
	defaultTargetURL string
	defaultRetries   int
	logger           *zap.Logger
}

// NewProvisionService creates a ProvisionService. defaultTargetURL is used
// when no named environment matches; defaultRetries bounds per-table load
// retries when the step config does not set its own.
func NewProvisionService(datasetRepo repositories.DatasetRepository, envRepo repositories.EnvironmentRepository, store *datastore.Store, defaultTargetURL string, defaultRetries int, logger *zap.Logger) *ProvisionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProvisionService{
		datasetRepo:      datasetRepo,
		envRepo:          envRepo,
		store:            store,
		defaultTargetURL: defaultTargetURL,
		defaultRetries:   defaultRetries,
		logger:           logger.Named("provision"),
	}
}

// resolveTarget finds the environment connection string. A registered
// environment wins; otherwise the configured default target is used under
// the name "default".
func (s *ProvisionService) resolveTarget(ctx context.Context, targetEnv string) (envID, envName, connStr string, err error) {
	if targetEnv != "" {
		env, err := s.envRepo.GetByName(ctx, targetEnv)
		if err == nil {
			return env.ID.String(), env.Name, env.ConnectionString, nil
		}
		if !errors.Is(err, apperrors.ErrEnvironmentNotFound) {
			return "", "", "", err
		}
		s.logger.Warn("Environment not registered, using default target",
			zap.String("target_env", targetEnv))
	}
	if s.defaultTargetURL == "" {
		return "", "", "", fmt.Errorf("no target environment available: %w", apperrors.ErrMissingConnection)
	}
	return "default", "default", s.defaultTargetURL, nil
}

// Provision loads every table of the dataset into the target environment and
// smoke-checks the loaded row counts. Each table load is retried before the
// step fails.
func (s *ProvisionService) Provision(ctx context.Context, datasetVersionID uuid.UUID, cfg *models.ProvisionConfig) (*StepResult, error) {
	if cfg == nil {
		cfg = &models.ProvisionConfig{}
	}

	if _, err := s.datasetRepo.GetByID(ctx, datasetVersionID); err != nil {
		return nil, err
	}
	if !s.store.Exists(datasetVersionID) {
		return nil, fmt.Errorf("dataset %s has no stored tables: %w", datasetVersionID, apperrors.ErrDatasetNotFound)
	}

	envID, envName, connStr, err := s.resolveTarget(ctx, cfg.TargetEnv)
	if err != nil {
		return nil, err
	}

	provisioner, err := datasource.NewProvisioner(ctx, connStr, s.logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to target: %w", err)
	}
	defer provisioner.Close()

	tables, err := s.store.ListTables(datasetVersionID)
	if err != nil {
		return nil, err
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = s.defaultRetries
	}

	s.logger.Info("Provisioning dataset",
		zap.String("dataset_version_id", datasetVersionID.String()),
		zap.String("environment", envName),
		zap.String("target", logging.SanitizeConnectionString(connStr)),
		zap.Int("tables", len(tables)))

	var events []models.FallbackEvent
	loaded := models.RowCounts{}
	smoke := map[string]any{}

	for _, table := range tables {
		data, err := s.store.ReadTable(datasetVersionID, table)
		if err != nil {
			return nil, err
		}

		table := table
		n, loadEvents, err := WithRetry(ctx, maxRetries, func(ctx context.Context) (int64, error) {
			return provisioner.ReplaceTable(ctx, table, data.Columns, data.Rows)
		})
		events = append(events, loadEvents...)
		if err != nil {
			return nil, fmt.Errorf("loading table %s: %w", table, err)
		}
		loaded[table] = int(n)

		count, err := provisioner.CountRows(ctx, "", table)
		if err != nil {
			smoke[table] = map[string]any{"status": "error", "error": err.Error()}
			s.logger.Warn("Smoke check failed", zap.String("table", table), zap.Error(err))
			continue
		}
		status := "passed"
		if count != n {
			status = "mismatch"
		}
		smoke[table] = map[string]any{"status": status, "expected": n, "actual": count}
	}

	s.logger.Info("Provisioning completed",
		zap.String("dataset_version_id", datasetVersionID.String()),
		zap.String("environment", envName),
		zap.Int("tables_loaded", len(loaded)))

	return &StepResult{
		DatasetVersionID: &datasetVersionID,
		Message:          fmt.Sprintf("Provisioned %d tables into %s", len(loaded), envName),
		Details: map[string]any{
			"environment":        envName,
			"tables_loaded":      len(loaded),
			"row_counts":         loaded,
			"smoke_test_results": smoke,
		},
		Fallbacks: events,
		Lineage: []models.LineageEdge{{
			SourceType: models.ArtifactDatasetVersion,
			SourceID:   datasetVersionID.String(),
			TargetType: models.ArtifactEnvironment,
			TargetID:   envID,
			Operation:  string(models.OpProvision),
		}},
	}, nil
}
