package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tdmstack/tdm-engine/pkg/datastore"
)

func TestBlankRatio(t *testing.T) {
	tests := []struct {
		name string
		data *datastore.TableData
		want float64
	}{
		{
			name: "no blanks",
			data: &datastore.TableData{
				Columns: []string{"id", "name"},
				Rows:    [][]string{{"1", "a"}, {"2", "b"}},
			},
			want: 0,
		},
		{
			name: "half blank",
			data: &datastore.TableData{
				Columns: []string{"id", "name"},
				Rows:    [][]string{{"1", ""}, {"2", ""}},
			},
			want: 0.5,
		},
		{
			name: "whitespace counts as blank",
			data: &datastore.TableData{
				Columns: []string{"id"},
				Rows:    [][]string{{"   "}},
			},
			want: 1,
		},
		{
			name: "no rows",
			data: &datastore.TableData{Columns: []string{"id"}},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, blankRatio(tt.data), 0.0001)
		})
	}
}

func TestQualityCompute(t *testing.T) {
	store, err := datastore.NewStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	svc := NewQualityService(store, zap.NewNop())
	versionID := uuid.New()

	_, err = store.WriteTable(versionID, "users", &datastore.TableData{
		Columns: []string{"id", "email"},
		Rows:    [][]string{{"1", "a@example.com"}, {"2", "b@example.com"}},
	})
	require.NoError(t, err)
	_, err = store.WriteTable(versionID, "sparse", &datastore.TableData{
		Columns: []string{"id", "note"},
		Rows:    [][]string{{"1", ""}, {"", ""}},
	})
	require.NoError(t, err)

	score, report, err := svc.Compute(context.Background(), versionID)
	require.NoError(t, err)

	// users: 90 + 85, sparse: 70 + 85 -> mean 82.5
	assert.InDelta(t, 82.5, score, 0.0001)
	assert.Equal(t, score, report["overall_score"])
	assert.Equal(t, 2, report["tables_checked"])
	assert.Contains(t, report, "users")
	assert.Contains(t, report, "sparse")
}

func TestQualityCompute_NoScorableTables(t *testing.T) {
	store, err := datastore.NewStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	svc := NewQualityService(store, zap.NewNop())
	versionID := uuid.New()

	_, err = store.WriteTable(versionID, "empty", &datastore.TableData{Columns: []string{"id"}})
	require.NoError(t, err)

	score, report, err := svc.Compute(context.Background(), versionID)
	require.NoError(t, err)
	assert.Equal(t, 85.0, score)
	assert.Equal(t, map[string]any{"skipped": "no rows"}, report["empty"])
}

func TestColumnsTypeConsistent(t *testing.T) {
	tests := []struct {
		name string
		data *datastore.TableData
		want bool
	}{
		{
			name: "all numeric",
			data: &datastore.TableData{
				Columns: []string{"amount"},
				Rows:    [][]string{{"1.5"}, {"2"}, {"-3"}},
			},
			want: true,
		},
		{
			name: "all text",
			data: &datastore.TableData{
				Columns: []string{"name"},
				Rows:    [][]string{{"alice"}, {"bob"}},
			},
			want: true,
		},
		{
			name: "mixed numeric and text",
			data: &datastore.TableData{
				Columns: []string{"amount"},
				Rows:    [][]string{{"1.5"}, {"abc"}},
			},
			want: false,
		},
		{
			name: "blanks ignored",
			data: &datastore.TableData{
				Columns: []string{"amount"},
				Rows:    [][]string{{"1.5"}, {""}, {"2"}},
			},
			want: true,
		},
		{
			name: "short row tolerated",
			data: &datastore.TableData{
				Columns: []string{"a", "b"},
				Rows:    [][]string{{"1", "x"}, {"2"}},
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, columnsTypeConsistent(tt.data))
		})
	}
}
