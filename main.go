package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/tdmstack/tdm-engine/pkg/config"
	"github.com/tdmstack/tdm-engine/pkg/database"
	"github.com/tdmstack/tdm-engine/pkg/datastore"
	"github.com/tdmstack/tdm-engine/pkg/handlers"
	"github.com/tdmstack/tdm-engine/pkg/logging"
	"github.com/tdmstack/tdm-engine/pkg/repositories"
	"github.com/tdmstack/tdm-engine/pkg/services"
	"github.com/tdmstack/tdm-engine/pkg/services/workqueue"

	// Source database drivers register themselves with the datasource
	// registry.
	_ "github.com/tdmstack/tdm-engine/pkg/adapters/datasource/mssql"
	_ "github.com/tdmstack/tdm-engine/pkg/adapters/datasource/postgres"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.String("database", cfg.Database.Database),
		zap.String("dataset_store", cfg.DatasetStore.Path))

	ctx := context.Background()

	// Migrations run over database/sql; the application pool is pgx.
	migrationDB, err := sql.Open("postgres", cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("Failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(migrationDB, cfg.Database.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	_ = migrationDB.Close()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to metadata store", zap.Error(err))
	}
	defer db.Close()

	store, err := datastore.NewStore(cfg.DatasetStore.Path, logger)
	if err != nil {
		logger.Fatal("Failed to open dataset store", zap.Error(err))
	}

	schemaRepo := repositories.NewSchemaRepository(db)
	jobRepo := repositories.NewJobRepository(db)
	lineageRepo := repositories.NewLineageRepository(db)
	datasetRepo := repositories.NewDatasetRepository(db)
	piiRepo := repositories.NewPIIRepository(db)
	envRepo := repositories.NewEnvironmentRepository(db)

	crawler := services.NewHTTPCrawler(logger)
	engine := services.NewDecisionEngine(logger)
	subsetter := services.NewSubsetter(cfg.Workflow.DefaultMaxRowsPerTable, logger)

	orchestrator := services.NewOrchestrator(services.OrchestratorDeps{
		Engine:    engine,
		Discovery: services.NewDiscoveryService(schemaRepo, logger),
		PII:       services.NewPIIService(schemaRepo, piiRepo, logger),
		Subset:    services.NewSubsetService(schemaRepo, datasetRepo, store, cfg.DatasetStore.Path, subsetter, logger),
		Mask:      services.NewMaskService(datasetRepo, piiRepo, store, cfg.DatasetStore.Path, logger),
		Synthetic: services.NewSyntheticService(datasetRepo, schemaRepo, store, cfg.DatasetStore.Path, crawler, logger),
		Provision: services.NewProvisionService(datasetRepo, envRepo, store, cfg.TargetDatabaseURL, cfg.Workflow.ProvisionMaxRetries, logger),
		Fusion:    services.NewFusionService(schemaRepo, crawler, logger),
		Quality:   services.NewQualityService(store, logger),

		JobRepo:     jobRepo,
		LineageRepo: lineageRepo,

		SourceURL: cfg.SourceDatabaseURL,
	}, logger)

	queue := workqueue.New(logger,
		workqueue.WithStrategy(workqueue.NewThrottledSourceStrategy(cfg.Workflow.QueueSourceConcurrency)))

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewWorkflowsHandler(orchestrator, queue, jobRepo, logger).RegisterRoutes(mux)
	handlers.NewJobsHandler(jobRepo, lineageRepo, logger).RegisterRoutes(mux)
	handlers.NewDatasetsHandler(datasetRepo, logger).RegisterRoutes(mux)
	handlers.NewLineageHandler(lineageRepo, logger).RegisterRoutes(mux)
	handlers.NewEnvironmentsHandler(envRepo, logger).RegisterRoutes(mux)
	handlers.NewSchemasHandler(schemaRepo, logger).RegisterRoutes(mux)

	addr := cfg.BindAddr + ":" + cfg.Port
	logger.Info("Starting tdm-engine",
		zap.String("addr", addr),
		zap.String("version", cfg.Version))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}
