// Package store reads the documentation app's entity tables: one record by
// id, counts, id lists and id-ordered pages filtered on a parent column.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/ridoystarlord/dbdocsync/chunk"
	"github.com/ridoystarlord/dbdocsync/database"
)

// ErrNotFound is returned by Find for a missing record.
var ErrNotFound = errors.New("record not found")

// Filter selects the rows of Table whose Column is one of Values. An empty
// Column selects every row.
type Filter struct {
	Table  string
	Column string
	Values []int64
}

// Source is the read side of the local relational store.
type Source interface {
	Find(ctx context.Context, table string, id int64) (chunk.Row, error)
	Count(ctx context.Context, f Filter) (int64, error)
	IDs(ctx context.Context, f Filter) ([]int64, error)
	Pager(f Filter) chunk.Pager
}

// Postgres is the pgx Source.
type Postgres struct {
	db database.DBTX
}

func NewPostgres(db database.DBTX) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Find(ctx context.Context, table string, id int64) (chunk.Row, error) {
	if !isValidIdentifier(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	rows, err := p.db.Query(ctx, `SELECT * FROM `+quote(table)+` WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("querying %s %d: %w", table, id, err)
	}
	out, err := collectRows(rows)
	if err != nil {
		return nil, fmt.Errorf("reading %s %d: %w", table, id, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s %d: %w", table, id, ErrNotFound)
	}
	return out[0], nil
}

func (p *Postgres) Count(ctx context.Context, f Filter) (int64, error) {
	where, args, err := f.where(0)
	if err != nil {
		return 0, err
	}

	var n int64
	if err := p.db.QueryRow(ctx, `SELECT COUNT(*) FROM `+quote(f.Table)+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", f.Table, err)
	}
	return n, nil
}

func (p *Postgres) IDs(ctx context.Context, f Filter) ([]int64, error) {
	where, args, err := f.where(0)
	if err != nil {
		return nil, err
	}

	rows, err := p.db.Query(ctx, `SELECT id FROM `+quote(f.Table)+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s ids: %w", f.Table, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("scanning %s ids: %w", f.Table, err)
	}
	return ids, nil
}

// Pager pages with WHERE id > $after ORDER BY id LIMIT $n, so each page is
// an index range scan regardless of how deep the walk is.
func (p *Postgres) Pager(f Filter) chunk.Pager {
	return chunk.PagerFunc(func(ctx context.Context, after int64, limit int) ([]chunk.Row, error) {
		where, args, err := f.where(2)
		if err != nil {
			return nil, err
		}
		if where == "" {
			where = " WHERE id > $1"
		} else {
			where += " AND id > $1"
		}

		query := `SELECT * FROM ` + quote(f.Table) + where + ` ORDER BY id LIMIT $2`
		rows, err := p.db.Query(ctx, query, append([]any{after, limit}, args...)...)
		if err != nil {
			return nil, fmt.Errorf("querying %s page: %w", f.Table, err)
		}
		return collectRows(rows)
	})
}

// where renders the filter with placeholders numbered after offset.
func (f Filter) where(offset int) (string, []any, error) {
	if !isValidIdentifier(f.Table) {
		return "", nil, fmt.Errorf("invalid table name %q", f.Table)
	}
	if f.Column == "" {
		return "", nil, nil
	}
	if !isValidIdentifier(f.Column) {
		return "", nil, fmt.Errorf("invalid column name %q", f.Column)
	}
	return " WHERE " + quote(f.Column) + " = ANY($" + strconv.Itoa(offset+1) + ")", []any{f.Values}, nil
}

func collectRows(rows pgx.Rows) ([]chunk.Row, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, fd := range fields {
		columns[i] = fd.Name
	}

	var out []chunk.Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(chunk.Row, len(columns))
		for i, col := range columns {
			row[col] = normalize(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return out, nil
}

// normalize turns driver values that do not marshal to sensible JSON into
// ones that do.
func normalize(v any) any {
	switch t := v.(type) {
	case [16]byte:
		return uuid.UUID(t).String()
	default:
		return v
	}
}

func quote(ident string) string {
	return `"` + ident + `"`
}

func isValidIdentifier(name string) bool {
	if name == "" || len(name) > 63 {
		return false
	}
	for _, char := range name {
		if !((char >= 'a' && char <= 'z') ||
			(char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') ||
			char == '_') {
			return false
		}
	}
	return !strings.ContainsAny(name[:1], "0123456789")
}
