package dmlexec

import (
	"bufio"
	"context"
	"io"
	"strings"

	"pgkv/internal/catalog"
	"pgkv/internal/errs"
	"pgkv/internal/value"
)

// CopyResult reports how many rows a COPY FROM stdin ingested.
type CopyResult struct {
	RowsAffected int
}

// CopyFrom implements the tab-separated COPY FROM stdin subprotocol (spec
// §4.8 / §6): one row per line, columns tab-separated in schema column
// order, a literal `\N` decodes to NULL, `\t`/`\n`/`\\` are the only
// backslash escapes, and a lone `.` line terminates the stream.
func (e *Executor) CopyFrom(ctx context.Context, table string, r io.Reader, cols []int) (CopyResult, error) {
	schema, err := e.Store.GetTable(ctx, table)
	if err != nil {
		return CopyResult{}, err
	}
	if len(cols) == 0 {
		cols = schema.VisibleColumns()
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	result := CopyResult{}
	const batchSize = 500
	batch := make([]InsertRow, 0, batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		res, err := e.Insert(ctx, InsertSpec{Table: table, Rows: batch})
		if err != nil {
			return err
		}
		result.RowsAffected += res.RowsAffected
		batch = batch[:0]
		return nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "." {
			break
		}
		fields := strings.Split(line, "\t")
		if len(fields) != len(cols) {
			return result, errs.New(errs.SyntaxError, "COPY data line has %d columns, expected %d", len(fields), len(cols))
		}
		values := make(map[int]value.Value, len(cols))
		for i, raw := range fields {
			v, err := decodeCopyField(raw, schema.Columns[cols[i]])
			if err != nil {
				return result, err
			}
			values[cols[i]] = v
		}
		batch = append(batch, InsertRow{Values: values})
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return result, errs.Wrap(errs.Internal, err, "reading COPY data")
	}
	if err := flush(); err != nil {
		return result, err
	}
	return result, nil
}

func decodeCopyField(raw string, col catalog.ColumnDef) (value.Value, error) {
	if raw == `\N` {
		return value.Null(), nil
	}
	unescaped := unescapeCopyText(raw)
	return value.Cast(value.Text(unescaped), col.Type)
}

func unescapeCopyText(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case 't':
				b.WriteByte('\t')
			case 'n':
				b.WriteByte('\n')
			case '\\':
				b.WriteByte('\\')
			default:
				b.WriteByte(s[i+1])
			}
			i++
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
