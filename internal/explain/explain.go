// Package explain renders a compiled query plan as PostgreSQL-style
// EXPLAIN text: one line per plan node, indented by nesting depth, each
// annotated with a `(cost=.. rows=N)` estimate taken from internal/planner
// (spec §4.10).
package explain

import (
	"fmt"
	"strings"
)

// Node is one line of an explain tree. Plan builders (the not-yet-built
// statement dispatcher) construct this tree alongside the
// internal/queryexec.Node tree it describes, rather than explain
// introspecting queryexec.Node directly — the two trees usually match
// node-for-node, but EXPLAIN also needs planner-only facts (chosen index,
// estimated row count) that queryexec.Node has no reason to carry.
type Node struct {
	Operation string // e.g. "Seq Scan", "Index Scan", "Nested Loop", "Hash Aggregate"
	Detail    string // e.g. "on accounts", "using idx_accounts_email on accounts"
	EstRows   int64
	EstCost   float64
	Children  []*Node
}

// Format renders the tree the way `EXPLAIN <statement>` would: one line
// per node, child lines indented two spaces deeper than their parent,
// deepest-first traversal order matching execution order (spec §4.10
// "EXPLAIN output mirrors the order operators actually run in").
func Format(root *Node) string {
	var b strings.Builder
	writeNode(&b, root, 0)
	return strings.TrimRight(b.String(), "\n")
}

func writeNode(b *strings.Builder, n *Node, depth int) {
	if n == nil {
		return
	}
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString(n.Operation)
	if n.Detail != "" {
		b.WriteString(" ")
		b.WriteString(n.Detail)
	}
	fmt.Fprintf(b, "  (cost=%.2f rows=%d)\n", n.EstCost, n.EstRows)
	for _, c := range n.Children {
		writeNode(b, c, depth+1)
	}
}

// SeqScan describes a full table scan.
func SeqScan(table string, rows int64, cost float64) *Node {
	return &Node{Operation: "Seq Scan", Detail: "on " + table, EstRows: rows, EstCost: cost}
}

// IndexScan describes an index-assisted scan, point lookup or range.
func IndexScan(index, table string, rows int64, cost float64) *Node {
	return &Node{
		Operation: "Index Scan",
		Detail:    fmt.Sprintf("using %s on %s", index, table),
		EstRows:   rows, EstCost: cost,
	}
}

// NestedLoop describes a join evaluated as a nested loop over outer/inner,
// the strategy internal/queryexec.Join always uses.
func NestedLoop(kind string, rows int64, cost float64, children ...*Node) *Node {
	return &Node{Operation: "Nested Loop", Detail: kind, EstRows: rows, EstCost: cost, Children: children}
}

// HashAggregate describes a GROUP BY / aggregate pass.
func HashAggregate(rows int64, cost float64, child *Node) *Node {
	return &Node{Operation: "Hash Aggregate", EstRows: rows, EstCost: cost, Children: []*Node{child}}
}

// WindowAgg describes a window-function pass.
func WindowAgg(rows int64, cost float64, child *Node) *Node {
	return &Node{Operation: "WindowAgg", EstRows: rows, EstCost: cost, Children: []*Node{child}}
}

// SortNode describes an explicit ORDER BY sort.
func SortNode(keyDesc string, rows int64, cost float64, child *Node) *Node {
	return &Node{Operation: "Sort", Detail: "key: " + keyDesc, EstRows: rows, EstCost: cost, Children: []*Node{child}}
}

// LimitNode describes a LIMIT/OFFSET.
func LimitNode(rows int64, cost float64, child *Node) *Node {
	return &Node{Operation: "Limit", EstRows: rows, EstCost: cost, Children: []*Node{child}}
}

// CTEScan describes a reference to an already-materialized CTE.
func CTEScan(name string, rows int64, cost float64) *Node {
	return &Node{Operation: "CTE Scan", Detail: "on " + name, EstRows: rows, EstCost: cost}
}

// Unique describes a DISTINCT pass.
func Unique(rows int64, cost float64, child *Node) *Node {
	return &Node{Operation: "Unique", EstRows: rows, EstCost: cost, Children: []*Node{child}}
}
