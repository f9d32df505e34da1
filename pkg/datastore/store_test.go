package datastore

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tdmstack/tdm-engine/pkg/apperrors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return store
}

func TestStore_WriteReadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	versionID := uuid.New()

	data := &TableData{
		Columns: []string{"id", "email", "note"},
		Rows: [][]string{
			{"1", "a@example.com", "plain"},
			{"2", "b@example.com", "has,comma and \"quotes\""},
			{"3", "", ""},
		},
	}

	n, err := store.WriteTable(versionID, "users", data)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := store.ReadTable(versionID, "users")
	require.NoError(t, err)
	assert.Equal(t, data.Columns, got.Columns)
	assert.Equal(t, data.Rows, got.Rows)
}

func TestStore_ListTablesSorted(t *testing.T) {
	store := newTestStore(t)
	versionID := uuid.New()

	for _, table := range []string{"orders", "users", "addresses"} {
		_, err := store.WriteTable(versionID, table, &TableData{Columns: []string{"id"}})
		require.NoError(t, err)
	}

	tables, err := store.ListTables(versionID)
	require.NoError(t, err)
	assert.Equal(t, []string{"addresses", "orders", "users"}, tables)
}

func TestStore_MissingVersion(t *testing.T) {
	store := newTestStore(t)

	_, err := store.ListTables(uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrDatasetNotFound)
	assert.False(t, store.Exists(uuid.New()))
}

func TestStore_MissingTable(t *testing.T) {
	store := newTestStore(t)
	versionID := uuid.New()
	_, err := store.WriteTable(versionID, "users", &TableData{Columns: []string{"id"}})
	require.NoError(t, err)

	_, err = store.ReadTable(versionID, "orders")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestStore_RowCounts(t *testing.T) {
	store := newTestStore(t)
	versionID := uuid.New()

	_, err := store.WriteTable(versionID, "users", &TableData{
		Columns: []string{"id"},
		Rows:    [][]string{{"1"}, {"2"}},
	})
	require.NoError(t, err)
	_, err = store.WriteTable(versionID, "orders", &TableData{Columns: []string{"id"}})
	require.NoError(t, err)

	counts, err := store.RowCounts(versionID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"users": 2, "orders": 0}, counts)
}

func TestStore_OverwriteReplacesTable(t *testing.T) {
	store := newTestStore(t)
	versionID := uuid.New()

	_, err := store.WriteTable(versionID, "users", &TableData{
		Columns: []string{"id"},
		Rows:    [][]string{{"1"}, {"2"}},
	})
	require.NoError(t, err)

	_, err = store.WriteTable(versionID, "users", &TableData{
		Columns: []string{"id"},
		Rows:    [][]string{{"9"}},
	})
	require.NoError(t, err)

	got, err := store.ReadTable(versionID, "users")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"9"}}, got.Rows)
}
