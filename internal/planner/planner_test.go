package planner

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChooseScanKindPrefersUniqueIndexOverNonUnique(t *testing.T) {
	src := TableSource{
		PKColumns: []string{"id"},
		Indexes: []IndexCandidate{
			{IndexID: 1, Columns: []string{"email"}, Unique: false},
			{IndexID: 2, Columns: []string{"email"}, Unique: true},
		},
		EqualityCols: map[string]bool{"email": true},
	}
	plan := ChooseScanKind(src)
	require.Equal(t, IndexPointLookup, plan.Kind)
	require.EqualValues(t, 2, plan.IndexID)
}

func TestChooseScanKindPrefersLongerKey(t *testing.T) {
	src := TableSource{
		Indexes: []IndexCandidate{
			{IndexID: 1, Columns: []string{"a"}, Unique: true},
			{IndexID: 2, Columns: []string{"a", "b"}, Unique: true},
		},
		EqualityCols: map[string]bool{"a": true, "b": true},
	}
	plan := ChooseScanKind(src)
	require.EqualValues(t, 2, plan.IndexID)
}

func TestChooseScanKindFallsBackToPK(t *testing.T) {
	src := TableSource{
		PKColumns:    []string{"id"},
		EqualityCols: map[string]bool{"id": true},
	}
	plan := ChooseScanKind(src)
	require.Equal(t, PKPointLookup, plan.Kind)
}

func TestChooseScanKindFallsBackToFullScan(t *testing.T) {
	src := TableSource{PKColumns: []string{"id"}, EqualityCols: map[string]bool{}}
	plan := ChooseScanKind(src)
	require.Equal(t, FullScan, plan.Kind)
}

func TestOrderJoinsSortsByCardinalityStable(t *testing.T) {
	plans := []ScanPlan{
		{Source: TableSource{Alias: "c"}, Cardinality: 100},
		{Source: TableSource{Alias: "a"}, Cardinality: 1},
		{Source: TableSource{Alias: "b"}, Cardinality: 1},
	}
	ordered := OrderJoins(plans)
	require.Equal(t, "a", ordered[0].Source.Alias)
	require.Equal(t, "b", ordered[1].Source.Alias)
	require.Equal(t, "c", ordered[2].Source.Alias)
}

func TestPushdownAssignsToEarliestLevel(t *testing.T) {
	predicates := []Predicate{
		{Tables: map[string]bool{"a": true}},
		{Tables: map[string]bool{"a": true, "b": true}},
	}
	assigned := PushdownPlan([]string{"a", "b"}, predicates)
	require.Len(t, assigned[0], 1)
	require.Len(t, assigned[1], 1)
}
