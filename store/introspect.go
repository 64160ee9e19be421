package store

import (
	"context"
	"fmt"
	"strings"
)

// Column is one column of a local table as the catalog reports it.
type Column struct {
	Name     string
	DataType string
	Nullable bool
}

// Columns lists the columns of table in the current schema, in ordinal
// order. A missing table yields no columns and no error.
func (p *Postgres) Columns(ctx context.Context, table string) ([]Column, error) {
	rows, err := p.db.Query(ctx, `
	SELECT column_name, data_type, (is_nullable = 'YES')
	FROM information_schema.columns
	WHERE table_schema = current_schema() AND table_name = $1
	ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, fmt.Errorf("querying columns of %s: %w", table, err)
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var col Column
		if err := rows.Scan(&col.Name, &col.DataType, &col.Nullable); err != nil {
			return nil, fmt.Errorf("scanning column: %w", err)
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating column rows: %w", err)
	}
	return columns, nil
}

// LeadingIndexColumns returns the set of columns that lead at least one
// index on table. Filtering or paging on such a column can use the index.
func (p *Postgres) LeadingIndexColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := p.db.Query(ctx, `
	SELECT array_to_string(array_agg(a.attname ORDER BY k.ord), ',')
	FROM pg_index idx
	JOIN pg_class t ON t.oid = idx.indrelid
	JOIN pg_namespace n ON n.oid = t.relnamespace
	CROSS JOIN LATERAL unnest(idx.indkey) WITH ORDINALITY AS k(attnum, ord)
	JOIN pg_attribute a ON a.attrelid = idx.indrelid AND a.attnum = k.attnum
	WHERE t.relname = $1 AND n.nspname = current_schema()
	GROUP BY idx.indexrelid`, table)
	if err != nil {
		return nil, fmt.Errorf("querying indexes of %s: %w", table, err)
	}
	defer rows.Close()

	leading := map[string]bool{}
	for rows.Next() {
		var names string
		if err := rows.Scan(&names); err != nil {
			return nil, fmt.Errorf("scanning index: %w", err)
		}
		if cols := splitColumns(names); len(cols) > 0 {
			leading[cols[0]] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating index rows: %w", err)
	}
	return leading, nil
}

func splitColumns(list string) []string {
	var out []string
	for _, col := range strings.Split(list, ",") {
		if col = strings.TrimSpace(col); col != "" {
			out = append(out, col)
		}
	}
	return out
}
