package explain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatNestsChildrenByIndent(t *testing.T) {
	plan := HashAggregate(3, 12.5, NestedLoop("Inner",
		10, 8.0,
		SeqScan("accounts", 100, 5.0),
		IndexScan("idx_orders_account_id", "orders", 10, 3.0),
	))
	out := Format(plan)
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 4)
	require.True(t, strings.HasPrefix(lines[0], "Hash Aggregate"))
	require.True(t, strings.HasPrefix(lines[1], "  Nested Loop"))
	require.True(t, strings.HasPrefix(lines[2], "    Seq Scan on accounts"))
	require.True(t, strings.HasPrefix(lines[3], "    Index Scan using idx_orders_account_id on orders"))
}

func TestFormatIncludesCostAndRows(t *testing.T) {
	out := Format(SeqScan("t", 42, 7.5))
	require.Contains(t, out, "cost=7.50")
	require.Contains(t, out, "rows=42")
}
