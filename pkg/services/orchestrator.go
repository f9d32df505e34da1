package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tdmstack/tdm-engine/pkg/models"
	"github.com/tdmstack/tdm-engine/pkg/repositories"
)

// WorkflowRequest is the external input for one pipeline run. All fields are
// optional; the decision engine derives the operation list from whatever is
// present unless Operations pins it explicitly.
type WorkflowRequest struct {
	TestCaseContent  string             `json:"test_case_content,omitempty"`
	TestCaseURLs     []string           `json:"test_case_urls,omitempty"`
	ConnectionString string             `json:"connection_string,omitempty"`
	Domain           string             `json:"domain,omitempty"`
	SchemaVersionID  *uuid.UUID         `json:"schema_version_id,omitempty"`
	EnableSubset     *bool              `json:"enable_subset,omitempty"`
	Operations       []models.Operation `json:"operations,omitempty"`
	Steps            models.StepConfigs `json:"steps,omitempty"`
}

// Orchestrator drives one workflow: it turns a request into a plan, executes
// the planned steps in canonical order against a job record, and accumulates
// identifiers, logs and lineage as it goes.
//
// Step failures do not abort the workflow; the remaining steps still run
// with whatever the context holds, and the job completes with the failures
// recorded in its logs and result. The job only fails on cancellation or
// an error escaping the run itself.
type Orchestrator struct {
	engine    *DecisionEngine
	discovery *DiscoveryService
	pii       *PIIService
	subset    *SubsetService
	mask      *MaskService
	synthetic *SyntheticService
	provision *ProvisionService
	fusion    *FusionService
	quality   *QualityService

	jobRepo     repositories.JobRepository
	lineageRepo repositories.LineageRepository

	sourceURL string
	logger    *zap.Logger
}

// OrchestratorDeps bundles the orchestrator's collaborators.
type OrchestratorDeps struct {
	Engine    *DecisionEngine
	Discovery *DiscoveryService
	PII       *PIIService
	Subset    *SubsetService
	Mask      *MaskService
	Synthetic *SyntheticService
	Provision *ProvisionService
	Fusion    *FusionService
	Quality   *QualityService

	JobRepo     repositories.JobRepository
	LineageRepo repositories.LineageRepository

	// SourceURL is the configured default source database, used when a
	// request carries no connection string.
	SourceURL string
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(deps OrchestratorDeps, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		engine:      deps.Engine,
		discovery:   deps.Discovery,
		pii:         deps.PII,
		subset:      deps.Subset,
		mask:        deps.Mask,
		synthetic:   deps.Synthetic,
		provision:   deps.Provision,
		fusion:      deps.Fusion,
		quality:     deps.Quality,
		jobRepo:     deps.JobRepo,
		lineageRepo: deps.LineageRepo,
		sourceURL:   deps.SourceURL,
		logger:      logger.Named("orchestrator"),
	}
}

func toMap(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	m := map[string]any{}
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{}
	}
	return m
}

// Plan derives the executable plan for a request: explicit operations win,
// otherwise the decision engine classifies the inputs. Request-level step
// configs override the plan's own.
func (o *Orchestrator) Plan(req *WorkflowRequest) (*models.Plan, error) {
	var intent *models.Intent
	if len(req.Operations) > 0 {
		intent = &models.Intent{
			Operations:             models.SortOperations(req.Operations),
			PreferredSyntheticMode: models.ModeSchema,
		}
	} else {
		intent = o.engine.ClassifyIntent(IntentInputs{
			TestCaseContent:  req.TestCaseContent,
			TestCaseURLs:     req.TestCaseURLs,
			ConnectionString: req.ConnectionString,
			Domain:           req.Domain,
			SchemaVersionID:  req.SchemaVersionID,
			EnableSubset:     req.EnableSubset,
		})
	}

	plan, err := o.engine.GeneratePipelinePlan(intent)
	if err != nil {
		return nil, err
	}

	if req.Steps.Discover != nil {
		plan.Steps.Discover = req.Steps.Discover
	}
	if req.Steps.PII != nil {
		plan.Steps.PII = req.Steps.PII
	}
	if req.Steps.Subset != nil {
		plan.Steps.Subset = req.Steps.Subset
	}
	if req.Steps.Mask != nil {
		plan.Steps.Mask = req.Steps.Mask
	}
	if req.Steps.Synthetic != nil {
		plan.Steps.Synthetic = req.Steps.Synthetic
	}
	if req.Steps.Provision != nil {
		plan.Steps.Provision = req.Steps.Provision
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// Submit validates the request into a plan and creates a pending job for it.
// Execution happens separately, normally on the work queue.
func (o *Orchestrator) Submit(ctx context.Context, req *WorkflowRequest) (*models.Job, *models.Plan, error) {
	plan, err := o.Plan(req)
	if err != nil {
		return nil, nil, err
	}

	workflowID := uuid.New()
	job := &models.Job{
		ID:         uuid.New(),
		WorkflowID: &workflowID,
		Operation:  "workflow",
		Status:     models.JobStatusPending,
		Request: map[string]any{
			"request": toMap(req),
			"plan":    toMap(plan),
		},
	}
	if err := o.jobRepo.Create(ctx, job); err != nil {
		return nil, nil, err
	}

	o.logger.Info("Workflow submitted",
		zap.String("workflow_id", workflowID.String()),
		zap.String("job_id", job.ID.String()),
		zap.Any("operations", plan.Operations))

	return job, plan, nil
}

// Execute runs the planned steps against the job. It transitions the job to
// running, executes each operation whose preconditions hold, and finishes
// with a terminal transition carrying the accumulated result.
func (o *Orchestrator) Execute(ctx context.Context, job *models.Job, req *WorkflowRequest, plan *models.Plan) error {
	if err := o.jobRepo.UpdateStatus(ctx, job.ID, models.JobStatusRunning, nil); err != nil {
		return err
	}

	workflowID := uuid.Nil
	if job.WorkflowID != nil {
		workflowID = *job.WorkflowID
	}
	jctx := models.NewJobContext(job.ID, workflowID, req.TestCaseContent, req.TestCaseURLs, req.Domain)
	jctx.SchemaVersionID = req.SchemaVersionID

	connStr := req.ConnectionString
	if connStr == "" {
		connStr = o.sourceURL
	}

	attempted, failed := 0, 0
	for _, op := range plan.Operations {
		if err := ctx.Err(); err != nil {
			o.finish(job.ID, jctx, fmt.Sprintf("workflow canceled: %v", err))
			return err
		}

		if reason := o.skipReason(op, jctx, req, connStr); reason != "" {
			o.appendLog(ctx, job.ID, op, models.LogLevelWarning,
				fmt.Sprintf("Step %s skipped: %s", op, reason),
				map[string]any{"status": "skipped", "reason": reason})
			continue
		}

		attempted++
		o.appendLog(ctx, job.ID, op, models.LogLevelInfo,
			fmt.Sprintf("Step %s started", op),
			map[string]any{"status": "started"})

		res, err := o.runStep(ctx, op, jctx, req, plan, connStr)
		if err != nil {
			if op == models.OpQuality {
				// Quality is advisory; a scoring failure never fails the run.
				attempted--
				o.appendLog(ctx, job.ID, op, models.LogLevelWarning,
					fmt.Sprintf("Step %s skipped: %v", op, err),
					map[string]any{"status": "skipped", "error": err.Error()})
				continue
			}
			failed++
			o.logger.Error("Step failed",
				zap.String("job_id", job.ID.String()),
				zap.String("step", string(op)),
				zap.Error(err))
			o.appendLog(ctx, job.ID, op, models.LogLevelError,
				fmt.Sprintf("Step %s failed: %v", op, err),
				map[string]any{"status": "failed", "error": err.Error()})
			continue
		}

		o.merge(ctx, job.ID, op, jctx, res)
	}

	// Best-effort quality score for the final dataset version. A scoring
	// failure is logged and never fails the run.
	if jctx.DatasetVersionID != nil && jctx.QualityScore == nil {
		score, report, err := o.quality.Compute(ctx, *jctx.DatasetVersionID)
		if err != nil {
			o.logger.Warn("Quality scoring failed",
				zap.String("job_id", job.ID.String()),
				zap.Error(err))
			o.appendLog(ctx, job.ID, models.OpQuality, models.LogLevelWarning,
				fmt.Sprintf("Quality scoring failed: %v", err),
				map[string]any{"status": "skipped", "error": err.Error()})
		} else {
			jctx.QualityScore = &score
			jctx.QualityReport = report
			jctx.RecordOperation(models.OpQuality)
			o.appendLog(ctx, job.ID, models.OpQuality, models.LogLevelInfo,
				fmt.Sprintf("Quality score: %.1f", score),
				map[string]any{"status": "completed", "score": score})
		}
	}

	result := jctx.ToResult()
	if failed > 0 {
		result["steps_failed"] = failed
	}
	if err := o.jobRepo.UpdateStatus(context.WithoutCancel(ctx), job.ID, models.JobStatusCompleted, result); err != nil {
		return err
	}

	o.logger.Info("Workflow completed",
		zap.String("workflow_id", workflowID.String()),
		zap.String("job_id", job.ID.String()),
		zap.Int("steps_run", attempted),
		zap.Int("steps_failed", failed))
	return nil
}

// Run submits and executes synchronously. Used by tests and CLI
// invocations; the HTTP path goes through Submit plus the work queue.
func (o *Orchestrator) Run(ctx context.Context, req *WorkflowRequest) (*models.Job, error) {
	job, plan, err := o.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	execErr := o.Execute(ctx, job, req, plan)
	current, err := o.jobRepo.GetByID(ctx, job.ID)
	if err != nil {
		return job, execErr
	}
	return current, execErr
}

// skipReason returns a non-empty reason when a step's preconditions are not
// met. Skipped steps log a warning and never fail the workflow.
func (o *Orchestrator) skipReason(op models.Operation, jctx *models.JobContext, req *WorkflowRequest, connStr string) string {
	switch op {
	case models.OpDiscover:
		if connStr == "" {
			return "no source connection string"
		}
	case models.OpPII:
		if jctx.SchemaVersionID == nil {
			return "no schema version available"
		}
	case models.OpSubset:
		if jctx.SchemaVersionID == nil {
			return "no schema version available"
		}
		if connStr == "" {
			return "no source connection string"
		}
	case models.OpMask:
		if jctx.DatasetVersionID == nil {
			return "no dataset version available"
		}
	case models.OpSynthetic:
		if strings.TrimSpace(req.TestCaseContent) == "" && len(req.TestCaseURLs) == 0 &&
			req.Domain == "" && jctx.SchemaVersionID == nil {
			return "no input for synthetic generation"
		}
	case models.OpProvision:
		if jctx.DatasetVersionID == nil {
			return "no dataset version available"
		}
	case models.OpSchemaFusion:
		if jctx.SchemaVersionID == nil && strings.TrimSpace(req.TestCaseContent) == "" &&
			len(req.TestCaseURLs) == 0 && req.Domain == "" {
			return "no schema fragments available"
		}
	case models.OpQuality:
		if jctx.DatasetVersionID == nil {
			return "no dataset version available"
		}
	}
	return ""
}

func (o *Orchestrator) runStep(ctx context.Context, op models.Operation, jctx *models.JobContext, req *WorkflowRequest, plan *models.Plan, connStr string) (*StepResult, error) {
	switch op {
	case models.OpDiscover:
		return o.discovery.Run(ctx, connStr, plan.Steps.Discover)

	case models.OpPII:
		return o.pii.Classify(ctx, *jctx.SchemaVersionID, plan.Steps.PII)

	case models.OpSubset:
		return o.subset.Run(ctx, *jctx.SchemaVersionID, connStr, plan.Steps.Subset)

	case models.OpMask:
		return o.mask.Mask(ctx, *jctx.DatasetVersionID, plan.Steps.Mask)

	case models.OpSynthetic:
		cfg := plan.Steps.Synthetic
		if cfg == nil {
			cfg = &models.SyntheticConfig{Mode: plan.PreferredSyntheticMode}
		} else if cfg.Mode == "" {
			cfg.Mode = plan.PreferredSyntheticMode
		}
		return o.synthetic.Generate(ctx, SyntheticInputs{
			TestCaseContent: req.TestCaseContent,
			TestCaseURLs:    req.TestCaseURLs,
			Domain:          req.Domain,
			SchemaVersionID: jctx.SchemaVersionID,
			TestCaseID:      jctx.TestCaseID,
		}, cfg)

	case models.OpProvision:
		return o.provision.Provision(ctx, *jctx.DatasetVersionID, plan.Steps.Provision)

	case models.OpSchemaFusion:
		res, unified, err := o.fusion.Fuse(ctx, FusionInputs{
			SchemaVersionID: jctx.SchemaVersionID,
			TestCaseContent: req.TestCaseContent,
			TestCaseURLs:    req.TestCaseURLs,
			Domain:          req.Domain,
		})
		if err != nil {
			return nil, err
		}
		jctx.UnifiedSchema = unified
		return res, nil

	case models.OpQuality:
		score, report, err := o.quality.Compute(ctx, *jctx.DatasetVersionID)
		if err != nil {
			return nil, err
		}
		jctx.QualityScore = &score
		jctx.QualityReport = report
		return &StepResult{
			Message: fmt.Sprintf("Quality score: %.1f", score),
			Details: map[string]any{"score": score},
		}, nil
	}
	return nil, fmt.Errorf("unknown operation %q", op)
}

// merge folds a successful step result into the job context and persists its
// logs and lineage.
func (o *Orchestrator) merge(ctx context.Context, jobID uuid.UUID, op models.Operation, jctx *models.JobContext, res *StepResult) {
	if res.SchemaVersionID != nil {
		jctx.SchemaVersionID = res.SchemaVersionID
	}
	if res.DatasetVersionID != nil {
		jctx.DatasetVersionID = res.DatasetVersionID
	}
	jctx.RecordOperation(op)
	jctx.RecordFallbacks(res.Fallbacks)

	for _, line := range res.Logs {
		o.appendLog(ctx, jobID, op, line.Level, line.Message, map[string]any{"status": "progress"})
	}

	for i := range res.Lineage {
		edge := res.Lineage[i]
		edge.JobID = jobID
		if err := o.lineageRepo.Append(ctx, &edge); err != nil {
			o.logger.Error("Failed to record lineage edge",
				zap.String("job_id", jobID.String()),
				zap.String("step", string(op)),
				zap.Error(err))
		}
	}

	details := res.Details
	if details == nil {
		details = map[string]any{}
	}
	details["status"] = "completed"
	o.appendLog(ctx, jobID, op, models.LogLevelInfo, res.Message, details)
}

func (o *Orchestrator) appendLog(ctx context.Context, jobID uuid.UUID, op models.Operation, level, message string, details map[string]any) {
	entry := &models.JobLogEntry{
		JobID:   jobID,
		Step:    string(op),
		Level:   level,
		Message: message,
		Details: details,
	}
	if err := o.jobRepo.AppendLog(ctx, entry); err != nil {
		o.logger.Error("Failed to append job log",
			zap.String("job_id", jobID.String()),
			zap.String("step", string(op)),
			zap.Error(err))
	}
}

// finish records a terminal failure outside the normal step loop, e.g. on
// cancellation. Errors are logged, not returned; the caller already has one.
func (o *Orchestrator) finish(jobID uuid.UUID, jctx *models.JobContext, errMsg string) {
	result := jctx.ToResult()
	result["error"] = errMsg
	if err := o.jobRepo.UpdateStatus(context.Background(), jobID, models.JobStatusFailed, result); err != nil {
		o.logger.Error("Failed to mark job failed", zap.String("job_id", jobID.String()), zap.Error(err))
	}
}
