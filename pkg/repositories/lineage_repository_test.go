//go:build integration

package repositories

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/tdmstack/tdm-engine/pkg/models"
	"github.com/tdmstack/tdm-engine/pkg/testhelpers"
)

func setupLineageRepo(t *testing.T) LineageRepository {
	t.Helper()
	engineDB := testhelpers.GetEngineDB(t)
	return NewLineageRepository(engineDB.DB)
}

func TestLineageRepository_AppendAndListByJob(t *testing.T) {
	repo := setupLineageRepo(t)
	ctx := context.Background()

	jobID := uuid.New()
	datasetID := uuid.New().String()

	edges := []*models.LineageEdge{
		{
			SourceType: models.ArtifactTestCase,
			SourceID:   "tc-17",
			TargetType: models.ArtifactSchemaVersion,
			TargetID:   uuid.New().String(),
			Operation:  string(models.OpDiscover),
			JobID:      jobID,
		},
		{
			SourceType: models.ArtifactSchemaVersion,
			SourceID:   uuid.New().String(),
			TargetType: models.ArtifactDatasetVersion,
			TargetID:   datasetID,
			Operation:  string(models.OpSubset),
			JobID:      jobID,
			Details:    map[string]any{"tables": 4},
		},
	}
	for _, e := range edges {
		if err := repo.Append(ctx, e); err != nil {
			t.Fatalf("failed to append edge: %v", err)
		}
	}

	got, err := repo.ListByJob(ctx, jobID)
	if err != nil {
		t.Fatalf("failed to list edges by job: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 edges, got %d", len(got))
	}
	if got[0].Operation != string(models.OpDiscover) {
		t.Errorf("expected discover edge first, got %s", got[0].Operation)
	}
	if got[1].TargetID != datasetID {
		t.Errorf("expected dataset target, got %s", got[1].TargetID)
	}
	if got[1].Details["tables"] != float64(4) {
		t.Errorf("details not preserved: %v", got[1].Details)
	}
}

func TestLineageRepository_ListByArtifact(t *testing.T) {
	repo := setupLineageRepo(t)
	ctx := context.Background()

	datasetID := uuid.New().String()

	// One edge producing the dataset, one consuming it
	produce := &models.LineageEdge{
		SourceType: models.ArtifactTestCase,
		SourceID:   "tc-23",
		TargetType: models.ArtifactDatasetVersion,
		TargetID:   datasetID,
		Operation:  string(models.OpSynthetic),
		JobID:      uuid.New(),
	}
	consume := &models.LineageEdge{
		SourceType: models.ArtifactDatasetVersion,
		SourceID:   datasetID,
		TargetType: models.ArtifactEnvironment,
		TargetID:   "staging",
		Operation:  string(models.OpProvision),
		JobID:      uuid.New(),
	}
	unrelated := &models.LineageEdge{
		SourceType: models.ArtifactTestCase,
		SourceID:   "tc-24",
		TargetType: models.ArtifactDatasetVersion,
		TargetID:   uuid.New().String(),
		Operation:  string(models.OpSynthetic),
		JobID:      uuid.New(),
	}
	for _, e := range []*models.LineageEdge{produce, consume, unrelated} {
		if err := repo.Append(ctx, e); err != nil {
			t.Fatalf("failed to append edge: %v", err)
		}
	}

	got, err := repo.ListByArtifact(ctx, datasetID)
	if err != nil {
		t.Fatalf("failed to list edges by artifact: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 edges touching the dataset, got %d", len(got))
	}
	if got[0].ID != produce.ID || got[1].ID != consume.ID {
		t.Errorf("unexpected edge order: %v then %v", got[0].Operation, got[1].Operation)
	}
}
