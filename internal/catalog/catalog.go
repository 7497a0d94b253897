// Package catalog implements the persistent metadata store: tables,
// columns, indexes, views, materialized views, procedures, and sequences.
// It is the relational side of the mapping layer; internal/keycodec owns
// the KV byte layout it is persisted under.
//
// Grounded on the teacher's internal/core (Database/Table/Column/Index)
// and internal/core/validate*.go, narrowed from the teacher's nine-dialect
// TableOptions/ColumnOptions sprawl down to the single-dialect (PostgreSQL
// wire) shape this engine actually serves, and extended with the pieces
// spec §3 requires that a schema-diffing tool never needed: table_id,
// per-column sequences, and foreign keys.
package catalog

import (
	"fmt"

	"pgkv/internal/errs"
	"pgkv/internal/value"
)

// ColumnDef is one column of a TableSchema.
type ColumnDef struct {
	Name        string
	Type        value.TypeName
	Nullable    bool
	DefaultExpr string // stored SQL text, evaluated at read/insert time; empty means no default
	Unique      bool
	IsSerial    bool
	Dropped     bool // tombstoned by DROP COLUMN; on-disk rows keep the slot, reads project it out
	ArrayElem   value.Kind
	VectorDims  int
}

// IndexDef describes a secondary (or primary) index.
type IndexDef struct {
	IndexID uint16
	Name    string
	Columns []int // indexes into TableSchema.Columns
	Unique  bool
}

// ReferentialAction is one of the ON DELETE/ON UPDATE foreign-key actions.
type ReferentialAction string

const (
	ActionNoAction   ReferentialAction = "NO ACTION"
	ActionRestrict   ReferentialAction = "RESTRICT"
	ActionCascade    ReferentialAction = "CASCADE"
	ActionSetNull    ReferentialAction = "SET NULL"
	ActionSetDefault ReferentialAction = "SET DEFAULT"
)

// FKDef is a foreign key from this table's Columns to RefTable's RefColumns.
type FKDef struct {
	Name       string
	Columns    []int
	RefTable   string
	RefColumns []int
	OnDelete   ReferentialAction
	OnUpdate   ReferentialAction
}

// TableSchema is the persistent, versioned description of a table.
type TableSchema struct {
	TableID     uint64
	Name        string
	Columns     []ColumnDef
	PrimaryKey  []int
	Indexes     []IndexDef
	ForeignKeys []FKDef
	CheckExprs  []string
	NextSeq     map[int]uint64 // column index -> next sequence value cache (authoritative copy lives in KV)
}

// ColumnIndex returns the index of the named column, or -1.
func (t *TableSchema) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// VisibleColumns returns the indexes of all non-tombstoned columns, in
// declared order — what `SELECT *` projects.
func (t *TableSchema) VisibleColumns() []int {
	var out []int
	for i, c := range t.Columns {
		if !c.Dropped {
			out = append(out, i)
		}
	}
	return out
}

// Validate enforces the TableSchema invariants: every PK column in range
// and NOT NULL, unique names among non-dropped columns. A table with no
// primary key passes; the number of PKs is not checked. Mirrors the teacher's
// Table.Validate/ValidationError pattern, narrowed to a fixed entity set.
func (t *TableSchema) Validate() error {
	if t.Name == "" {
		return errs.New(errs.Internal, "table has empty name")
	}
	// A table may start with no primary key; ADD CONSTRAINT PRIMARY KEY is
	// the only way to add one later, and only once (spec §4.7).
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if c.Dropped {
			continue
		}
		if seen[c.Name] {
			return errs.New(errs.Internal, "duplicate column name %q", c.Name).WithObject(t.Name)
		}
		seen[c.Name] = true
	}
	for _, idx := range t.PrimaryKey {
		if idx < 0 || idx >= len(t.Columns) {
			return errs.New(errs.Internal, "primary key references out-of-range column %d", idx).WithObject(t.Name)
		}
		if t.Columns[idx].Nullable {
			return errs.New(errs.Internal, "primary key column %q must be NOT NULL", t.Columns[idx].Name).WithObject(t.Name)
		}
	}
	return nil
}

// View stores original query text for inlining at reference time.
type View struct {
	Name      string
	QueryText string
}

// MaterializedView additionally owns a shadow table refreshed by
// re-executing QueryText and atomically replacing the shadow rows.
type MaterializedView struct {
	Name        string
	QueryText   string
	ShadowTable string // `_sys_mvdata_{name}`
	LastRefresh int64  // commit timestamp of the last REFRESH, 0 if never refreshed
}

func ShadowTableName(matviewName string) string { return "_sys_mvdata_" + matviewName }

// ParamDef is one formal parameter of a stored procedure.
type ParamDef struct {
	Name string
	Type value.TypeName
}

// Procedure stores the named parameter list and statement-list body
// verbatim; CALL binds arguments positionally into $param substitutions.
type Procedure struct {
	Name   string
	Params []ParamDef
	Body   []string // statement texts, substituted and executed in order
}

// String implements fmt.Stringer for debug/EXPLAIN contexts.
func (t *TableSchema) String() string {
	return fmt.Sprintf("TableSchema{id=%d name=%s cols=%d}", t.TableID, t.Name, len(t.Columns))
}
