// Package planner chooses a scan kind per base table, orders an N-way
// join by estimated cardinality, and pushes predicates down to the
// earliest join level that can evaluate them (spec §4.6).
//
// Grounded on the teacher's internal/diff planning pass: diff computation
// there also walks a fixed input (two schema snapshots) and produces an
// annotated plan (add/drop/alter operations in dependency order) without
// ever touching live data — generalized here from "order schema changes so
// dependencies are respected" to "order table scans so cheaper sources run
// first and every predicate lands as early as it safely can".
package planner

import (
	"sort"

	"pgkv/internal/eval"
)

// ScanKind is the chosen access method for one base table.
type ScanKind string

const (
	FullScan        ScanKind = "FullScan"
	PKPointLookup   ScanKind = "PKPointLookup"
	IndexPointLookup ScanKind = "IndexPointLookup"
)

// IndexCandidate describes one index available on a table, as the planner
// needs it: its leading columns (for prefix-equality matching) and whether
// it is unique.
type IndexCandidate struct {
	IndexID  uint16
	Columns  []string
	Unique   bool
}

// TableSource is one FROM-clause base table the planner must choose a scan
// kind for.
type TableSource struct {
	Alias      string
	TableName  string
	PKColumns  []string
	Indexes    []IndexCandidate
	// EqualityCols is the set of columns with a `col = <const or outer ref>`
	// conjunct available at this join level, supplied by the caller's
	// predicate analysis.
	EqualityCols map[string]bool
	// RowCountEstimate is a capped-scan sample, used only as a join-order
	// tiebreaker for FullScan sources.
	RowCountEstimate int64
}

// ScanPlan is the planner's decision for one table source.
type ScanPlan struct {
	Source   TableSource
	Kind     ScanKind
	IndexID  uint16 // valid when Kind == IndexPointLookup
	KeyCols  []string
	Cardinality int64 // cheap estimate used for join ordering
}

// ChooseScanKind implements spec §4.6's per-table scan-kind selection:
// prefer an index whose full prefix is covered by equality, preferring
// unique over non-unique and longer key over shorter; else the PK if fully
// covered; else FullScan.
func ChooseScanKind(src TableSource) ScanPlan {
	var best *IndexCandidate
	for i := range src.Indexes {
		idx := &src.Indexes[i]
		if !prefixCovered(idx.Columns, src.EqualityCols) {
			continue
		}
		if best == nil || betterIndex(*idx, *best) {
			best = idx
		}
	}
	if best != nil {
		return ScanPlan{Source: src, Kind: IndexPointLookup, IndexID: best.IndexID, KeyCols: best.Columns, Cardinality: 1}
	}
	if len(src.PKColumns) > 0 && prefixCovered(src.PKColumns, src.EqualityCols) {
		return ScanPlan{Source: src, Kind: PKPointLookup, KeyCols: src.PKColumns, Cardinality: 1}
	}
	card := src.RowCountEstimate
	if card <= 0 {
		card = fullScanConstant
	}
	return ScanPlan{Source: src, Kind: FullScan, Cardinality: card}
}

// fullScanConstant stands in for an unsampled table's cardinality: large
// enough that any point lookup or index scan sorts before it.
const fullScanConstant = 1 << 30

func prefixCovered(cols []string, equality map[string]bool) bool {
	if len(cols) == 0 {
		return false
	}
	for _, c := range cols {
		if !equality[c] {
			return false
		}
	}
	return true
}

// betterIndex prefers unique over non-unique, then the longer key.
func betterIndex(a, b IndexCandidate) bool {
	if a.Unique != b.Unique {
		return a.Unique
	}
	return len(a.Columns) > len(b.Columns)
}

// OrderJoins sorts table sources ascending by cardinality estimate,
// breaking ties by original input order (spec §4.6: "keep explains
// stable").
func OrderJoins(plans []ScanPlan) []ScanPlan {
	ordered := make([]ScanPlan, len(plans))
	copy(ordered, plans)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Cardinality < ordered[j].Cardinality
	})
	return ordered
}

// Predicate is one conjunct of a WHERE/ON clause, annotated with the set of
// table aliases it references.
type Predicate struct {
	Expr    eval.Expr
	Tables  map[string]bool
	// FromOnClause marks a predicate that originated in an outer join's ON
	// clause rather than WHERE; such predicates must not be pushed above
	// the join that null-extends their side (spec §4.6).
	FromOnClause   bool
	NullExtendedSide bool
}

// PushdownPlan assigns each predicate to the earliest join level (an index
// into joinOrder) all of whose tables have already appeared, per spec
// §4.6. Predicates on the null-extended side of an outer join never move
// above their originating join level.
func PushdownPlan(joinOrder []string, predicates []Predicate) map[int][]Predicate {
	assigned := map[int][]Predicate{}
	levelOf := map[string]int{}
	for i, alias := range joinOrder {
		levelOf[alias] = i
	}
	for _, p := range predicates {
		level := 0
		for alias := range p.Tables {
			if l, ok := levelOf[alias]; ok && l > level {
				level = l
			}
		}
		// A predicate naming the null-extended side of an outer join already
		// has that join's level as its max table level, so it is pinned
		// there rather than floating above the join that introduces NULLs.
		assigned[level] = append(assigned[level], p)
	}
	return assigned
}
