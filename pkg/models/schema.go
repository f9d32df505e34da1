package models

import (
	"time"

	"github.com/google/uuid"
)

// SourceConnection records a source database registered for discovery.
// The connection string is stored as provided; it is sanitized before any
// logging (see pkg/logging).
type SourceConnection struct {
	ID               uuid.UUID `json:"id"`
	Name             string    `json:"name"`
	ConnectionString string    `json:"-"`
	Driver           string    `json:"driver"`
	CreatedAt        time.Time `json:"created_at"`
}

// SchemaVersion is one immutable discovered snapshot of table/column/FK
// structure. Discovery always produces a new version; versions are never
// mutated after creation.
type SchemaVersion struct {
	ID            uuid.UUID `json:"id"`
	SchemaID      uuid.UUID `json:"schema_id"`
	VersionNumber int       `json:"version_number"`
	Status        string    `json:"status"`
	DiscoveredAt  time.Time `json:"discovered_at"`
}

// SchemaVersion status values.
const (
	SchemaVersionActive   = "active"
	SchemaVersionArchived = "archived"
)

// SchemaTable represents a discovered table within one schema version.
// Unique per (schema_version_id, namespace, name).
type SchemaTable struct {
	ID              uuid.UUID `json:"id"`
	SchemaVersionID uuid.UUID `json:"schema_version_id"`
	Name            string    `json:"name"`
	Namespace       string    `json:"namespace"`
	RowCount        *int64    `json:"row_count,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// SchemaColumn represents a table column. Unique per (table_id, name).
type SchemaColumn struct {
	ID              uuid.UUID `json:"id"`
	SchemaTableID   uuid.UUID `json:"schema_table_id"`
	Name            string    `json:"name"`
	DataType        string    `json:"data_type"`
	InferredType    *string   `json:"inferred_type,omitempty"`
	IsNullable      bool      `json:"is_nullable"`
	OrdinalPosition int       `json:"ordinal_position"`
}

// SchemaRelationship is a directed foreign-key edge: the child column
// references the parent column. All four referenced entities belong to the
// same schema version.
type SchemaRelationship struct {
	ID             uuid.UUID `json:"id"`
	ParentTableID  uuid.UUID `json:"parent_table_id"`
	ChildTableID   uuid.UUID `json:"child_table_id"`
	ParentColumnID uuid.UUID `json:"parent_column_id"`
	ChildColumnID  uuid.UUID `json:"child_column_id"`
}

// SchemaGraph is the in-memory read model for one schema version: tables in
// discovery order, columns grouped per table, and FK edges in insertion
// order. The subsetter relies on these orders being stable.
type SchemaGraph struct {
	Version       *SchemaVersion
	Tables        []*SchemaTable
	Columns       map[uuid.UUID][]*SchemaColumn // keyed by table id
	Relationships []*SchemaRelationship
}

// TableByName resolves a table by name, ignoring namespace. Returns nil if
// the graph has no such table.
func (g *SchemaGraph) TableByName(name string) *SchemaTable {
	for _, t := range g.Tables {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// TableByID resolves a table by id.
func (g *SchemaGraph) TableByID(id uuid.UUID) *SchemaTable {
	for _, t := range g.Tables {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// ColumnByID resolves a column by id across all tables.
func (g *SchemaGraph) ColumnByID(id uuid.UUID) *SchemaColumn {
	for _, cols := range g.Columns {
		for _, c := range cols {
			if c.ID == id {
				return c
			}
		}
	}
	return nil
}

// FirstEdgeForChild returns the first relationship edge (in insertion order)
// where the given table is the child, or nil if the table has no incoming
// edge. Only the first edge drives subsetting even when a table carries
// multiple foreign keys.
func (g *SchemaGraph) FirstEdgeForChild(childTableID uuid.UUID) *SchemaRelationship {
	for _, rel := range g.Relationships {
		if rel.ChildTableID == childTableID {
			return rel
		}
	}
	return nil
}
