package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tdmstack/tdm-engine/pkg/models"
	"github.com/tdmstack/tdm-engine/pkg/services/workqueue"
)

func TestWorkflowTask_RunsSubmittedJobOnQueue(t *testing.T) {
	orch, jobRepo, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	req := &WorkflowRequest{
		TestCaseContent: `When I enter "a@b.com" in "email"`,
	}
	job, plan, err := orch.Submit(ctx, req)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusPending, job.Status)

	task := NewWorkflowTask(orch, job, req, plan)
	assert.True(t, task.TouchesSource())
	assert.Contains(t, task.Name(), job.ID.String())

	q := workqueue.New(zap.NewNop())
	q.Enqueue(task)

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, q.Wait(waitCtx))

	stored, err := jobRepo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
}
