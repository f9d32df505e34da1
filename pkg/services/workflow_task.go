package services

import (
	"context"
	"fmt"

	"github.com/tdmstack/tdm-engine/pkg/models"
	"github.com/tdmstack/tdm-engine/pkg/services/workqueue"
)

// WorkflowTask runs one submitted workflow on the work queue. Every workflow
// may open source and target connections, so it counts as source-bound for
// concurrency control.
type WorkflowTask struct {
	workqueue.BaseTask

	orchestrator *Orchestrator
	job          *models.Job
	req          *WorkflowRequest
	plan         *models.Plan
}

// NewWorkflowTask wraps a submitted job for queue execution.
func NewWorkflowTask(orchestrator *Orchestrator, job *models.Job, req *WorkflowRequest, plan *models.Plan) *WorkflowTask {
	return &WorkflowTask{
		BaseTask:     workqueue.NewBaseTask(fmt.Sprintf("workflow %s", job.ID), true),
		orchestrator: orchestrator,
		job:          job,
		req:          req,
		plan:         plan,
	}
}

var _ workqueue.Task = (*WorkflowTask)(nil)

// Execute runs the workflow. Workflow-level failures are recorded on the job
// by the orchestrator; the returned error only drives queue bookkeeping.
func (t *WorkflowTask) Execute(ctx context.Context, _ workqueue.TaskEnqueuer) error {
	return t.orchestrator.Execute(ctx, t.job, t.req, t.plan)
}
