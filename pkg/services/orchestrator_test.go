package services

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tdmstack/tdm-engine/pkg/apperrors"
	"github.com/tdmstack/tdm-engine/pkg/datastore"
	"github.com/tdmstack/tdm-engine/pkg/models"
)

// fakeJobRepo is an in-memory JobRepository with monotonic status semantics.
type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.Job
	logs map[uuid.UUID][]*models.JobLogEntry
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{
		jobs: make(map[uuid.UUID]*models.Job),
		logs: make(map[uuid.UUID][]*models.JobLogEntry),
	}
}

func (f *fakeJobRepo) Create(ctx context.Context, job *models.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *job
	f.jobs[job.ID] = &copied
	return nil
}

func (f *fakeJobRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (f *fakeJobRepo) ListByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Job
	for _, job := range f.jobs {
		if job.WorkflowID != nil && *job.WorkflowID == workflowID {
			copied := *job
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeJobRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, result map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	if job.Status.IsTerminal() {
		return apperrors.ErrJobTerminal
	}
	job.Status = status
	if result != nil {
		job.Result = result
	}
	return nil
}

func (f *fakeJobRepo) AppendLog(ctx context.Context, entry *models.JobLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs[entry.JobID] = append(f.logs[entry.JobID], entry)
	return nil
}

func (f *fakeJobRepo) ListLogs(ctx context.Context, jobID uuid.UUID) ([]*models.JobLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logs[jobID], nil
}

// fakeLineageRepo collects edges in memory.
type fakeLineageRepo struct {
	mu    sync.Mutex
	edges []*models.LineageEdge
}

func (f *fakeLineageRepo) Append(ctx context.Context, edge *models.LineageEdge) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *edge
	f.edges = append(f.edges, &copied)
	return nil
}

func (f *fakeLineageRepo) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.LineageEdge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.LineageEdge
	for _, e := range f.edges {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeLineageRepo) ListByArtifact(ctx context.Context, artifactID string) ([]*models.LineageEdge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.LineageEdge
	for _, e := range f.edges {
		if e.SourceID == artifactID || e.TargetID == artifactID {
			out = append(out, e)
		}
	}
	return out, nil
}

// newTestOrchestrator wires an orchestrator around in-memory fakes and a
// temp-dir dataset store. Services needing a reachable source database stay
// nil; the tests below never get past connection-string validation.
func newTestOrchestrator(t *testing.T) (*Orchestrator, *fakeJobRepo, *fakeLineageRepo, *datastore.Store) {
	t.Helper()

	store, err := datastore.NewStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	jobRepo := newFakeJobRepo()
	lineageRepo := &fakeLineageRepo{}
	datasetRepo := newFakeDatasetRepo()

	orch := NewOrchestrator(OrchestratorDeps{
		Engine:      NewDecisionEngine(zap.NewNop()),
		Discovery:   NewDiscoveryService(nil, zap.NewNop()),
		Synthetic:   NewSyntheticService(datasetRepo, nil, store, "datasets", failingCrawler{}, zap.NewNop()),
		Provision:   NewProvisionService(datasetRepo, nil, store, "", 0, zap.NewNop()),
		Fusion:      NewFusionService(nil, failingCrawler{}, zap.NewNop()),
		Quality:     NewQualityService(store, zap.NewNop()),
		JobRepo:     jobRepo,
		LineageRepo: lineageRepo,
	}, zap.NewNop())

	return orch, jobRepo, lineageRepo, store
}

func TestOrchestrator_RunSyntheticWorkflow(t *testing.T) {
	orch, jobRepo, lineageRepo, store := newTestOrchestrator(t)

	job, err := orch.Run(context.Background(), &WorkflowRequest{
		TestCaseContent: `When I enter "a@b.com" in "email"`,
	})
	require.NoError(t, err)
	require.NotNil(t, job)

	assert.Equal(t, models.JobStatusCompleted, job.Status)

	// Synthetic ran; provision failed on the missing target environment but
	// did not fail the job. The context surfaced the dataset id.
	ops, ok := job.Result["operations"]
	require.True(t, ok, "result: %v", job.Result)
	assert.Contains(t, ops, string(models.OpSynthetic))
	require.Contains(t, job.Result, "dataset_version_id")

	datasetID, err := uuid.Parse(job.Result["dataset_version_id"].(string))
	require.NoError(t, err)
	assert.True(t, store.Exists(datasetID))

	edges, err := lineageRepo.ListByJob(context.Background(), job.ID)
	require.NoError(t, err)
	for _, e := range edges {
		assert.Equal(t, job.ID, e.JobID)
	}

	logs, err := jobRepo.ListLogs(context.Background(), job.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, logs)
}

func TestOrchestrator_MaskOnlyWithoutDatasetCompletes(t *testing.T) {
	orch, jobRepo, _, _ := newTestOrchestrator(t)

	job, err := orch.Run(context.Background(), &WorkflowRequest{
		Operations: []models.Operation{models.OpMask},
	})
	require.NoError(t, err)

	// Mask has no dataset to work on: the step is skipped with a warning and
	// the job still completes.
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.NotContains(t, job.Result, "error")

	logs, err := jobRepo.ListLogs(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	skipped := false
	for _, entry := range logs {
		if entry.Step == string(models.OpMask) && entry.Level == models.LogLevelWarning {
			skipped = true
		}
	}
	assert.True(t, skipped, "expected a skip warning for the mask step")
}

func TestOrchestrator_PlanExplicitOperationsWin(t *testing.T) {
	orch, _, _, _ := newTestOrchestrator(t)

	plan, err := orch.Plan(&WorkflowRequest{
		ConnectionString: "postgres://localhost/app",
		Operations:       []models.Operation{models.OpQuality, models.OpSynthetic},
	})
	require.NoError(t, err)

	assert.Equal(t, []models.Operation{models.OpSynthetic, models.OpQuality}, plan.Operations)
}

func TestOrchestrator_PlanStepOverrides(t *testing.T) {
	orch, _, _, _ := newTestOrchestrator(t)

	plan, err := orch.Plan(&WorkflowRequest{
		Domain: "ecommerce",
		Steps: models.StepConfigs{
			Synthetic: &models.SyntheticConfig{RowCounts: map[string]int{"*": 3}},
		},
	})
	require.NoError(t, err)

	require.NotNil(t, plan.Steps.Synthetic)
	assert.Equal(t, map[string]int{"*": 3}, plan.Steps.Synthetic.RowCounts)
}

func TestOrchestrator_SubmitCreatesPendingJob(t *testing.T) {
	orch, jobRepo, _, _ := newTestOrchestrator(t)

	job, plan, err := orch.Submit(context.Background(), &WorkflowRequest{Domain: "banking"})
	require.NoError(t, err)
	require.NotNil(t, plan)

	stored, err := jobRepo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, stored.Status)
	assert.Equal(t, "workflow", stored.Operation)
	require.NotNil(t, stored.WorkflowID)
	assert.Contains(t, stored.Request, "request")
	assert.Contains(t, stored.Request, "plan")
}

func TestOrchestrator_FailedStepsStillComplete(t *testing.T) {
	orch, jobRepo, _, _ := newTestOrchestrator(t)

	job, err := orch.Run(context.Background(), &WorkflowRequest{
		ConnectionString: "bogus://nowhere",
		Operations:       []models.Operation{models.OpDiscover},
	})
	require.NoError(t, err)

	// Discovery failed on the unsupported scheme. Step failures are logged
	// and counted, never escalated to a failed job.
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.NotContains(t, job.Result, "error")
	assert.Equal(t, 1, job.Result["steps_failed"])

	logs, err := jobRepo.ListLogs(context.Background(), job.ID)
	require.NoError(t, err)
	stepFailed := false
	for _, entry := range logs {
		if entry.Step == string(models.OpDiscover) && entry.Level == models.LogLevelError {
			stepFailed = true
		}
	}
	assert.True(t, stepFailed, "expected an error log for the discover step")
}

func TestOrchestrator_QualityScoredOnCompletion(t *testing.T) {
	orch, _, _, _ := newTestOrchestrator(t)

	// Quality is not in the operation list; the orchestrator still scores
	// the generated dataset at the end of the run.
	job, err := orch.Run(context.Background(), &WorkflowRequest{Domain: "banking"})
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Contains(t, job.Result, "quality_score")
	assert.Contains(t, job.Result["operations"], string(models.OpQuality))
}

func TestOrchestrator_QualityScoresGeneratedDataset(t *testing.T) {
	orch, _, _, _ := newTestOrchestrator(t)

	job, err := orch.Run(context.Background(), &WorkflowRequest{
		Domain:     "ecommerce",
		Operations: []models.Operation{models.OpSynthetic, models.OpQuality},
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Contains(t, job.Result, "quality_score")
}

func TestOrchestrator_CancelledContextFailsJob(t *testing.T) {
	orch, jobRepo, _, _ := newTestOrchestrator(t)

	job, plan, err := orch.Submit(context.Background(), &WorkflowRequest{Domain: "ecommerce"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	execErr := orch.Execute(ctx, job, &WorkflowRequest{Domain: "ecommerce"}, plan)
	require.Error(t, execErr)

	stored, err := jobRepo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	assert.Contains(t, stored.Result, "error")
}
