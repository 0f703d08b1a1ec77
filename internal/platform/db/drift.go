package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// maxDriftAttempts bounds the drop-column-and-retry loop. Each retry removes
// exactly one column, so this also bounds how far the live schema may lag.
const maxDriftAttempts = 12

const sqlstateUndefinedColumn = "42703"

// ErrDriftExhausted is returned when the retry budget runs out.
var ErrDriftExhausted = errors.New("platform/db: drift retry attempts exhausted")

// Querier is the subset of pgx used by the drift writer, satisfied by both
// *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DriftWriter writes rows to tables whose live column set may lag behind the
// application. When the server reports an undefined column, the writer drops
// that field from every row, logs the drift, and retries.
type DriftWriter struct {
	q      Querier
	logger *slog.Logger
}

// NewDriftWriter constructs a writer over q.
func NewDriftWriter(q Querier, logger *slog.Logger) *DriftWriter {
	return &DriftWriter{q: q, logger: logger}
}

// WithQuerier rebinds the writer, typically onto a transaction.
func (w *DriftWriter) WithQuerier(q Querier) *DriftWriter {
	return &DriftWriter{q: q, logger: w.logger}
}

// undefinedColumnRe extracts the column name from messages like
// `column "coo_text" of relation "packing_list_headers" does not exist`.
// PgError does not populate ColumnName for SQLSTATE 42703.
var undefinedColumnRe = regexp.MustCompile(`column "([^"]+)"`)

func undefinedColumn(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != sqlstateUndefinedColumn {
		return "", false
	}
	m := undefinedColumnRe.FindStringSubmatch(pgErr.Message)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Insert writes a homogeneous batch of rows into table, tolerating missing
// columns. All rows must share a key set.
func (w *DriftWriter) Insert(ctx context.Context, table string, rows []map[string]any) error {
	if len(rows) == 0 {
		return nil
	}
	cols := columnSet(rows[0])
	for attempt := 0; attempt < maxDriftAttempts; attempt++ {
		if len(cols) == 0 {
			return fmt.Errorf("platform/db: insert %s: no columns left", table)
		}
		sql, args := buildInsert(table, cols, rows, "")
		_, err := w.q.Exec(ctx, sql, args...)
		if err == nil {
			return nil
		}
		cols, err = w.dropOrFail(table, cols, err)
		if err != nil {
			return err
		}
	}
	return fmt.Errorf("insert %s: %w", table, ErrDriftExhausted)
}

// InsertReturningID writes one row and returns its generated id.
func (w *DriftWriter) InsertReturningID(ctx context.Context, table string, row map[string]any) (int64, error) {
	cols := columnSet(row)
	for attempt := 0; attempt < maxDriftAttempts; attempt++ {
		if len(cols) == 0 {
			return 0, fmt.Errorf("platform/db: insert %s: no columns left", table)
		}
		sql, args := buildInsert(table, cols, []map[string]any{row}, " RETURNING id")
		var id int64
		err := w.q.QueryRow(ctx, sql, args...).Scan(&id)
		if err == nil {
			return id, nil
		}
		cols, err = w.dropOrFail(table, cols, err)
		if err != nil {
			return 0, err
		}
	}
	return 0, fmt.Errorf("insert %s: %w", table, ErrDriftExhausted)
}

// Update applies patch to the row identified by id, tolerating missing
// columns the same way.
func (w *DriftWriter) Update(ctx context.Context, table string, id int64, patch map[string]any) error {
	if len(patch) == 0 {
		return nil
	}
	cols := columnSet(patch)
	for attempt := 0; attempt < maxDriftAttempts; attempt++ {
		if len(cols) == 0 {
			return fmt.Errorf("platform/db: update %s: no columns left", table)
		}
		var b strings.Builder
		args := make([]any, 0, len(cols)+1)
		b.WriteString("UPDATE ")
		b.WriteString(table)
		b.WriteString(" SET updated_at = NOW()")
		for _, col := range cols {
			args = append(args, patch[col])
			fmt.Fprintf(&b, ", %s = $%d", col, len(args))
		}
		args = append(args, id)
		fmt.Fprintf(&b, " WHERE id = $%d", len(args))

		_, err := w.q.Exec(ctx, b.String(), args...)
		if err == nil {
			return nil
		}
		cols, err = w.dropOrFail(table, cols, err)
		if err != nil {
			return err
		}
	}
	return fmt.Errorf("update %s: %w", table, ErrDriftExhausted)
}

// dropOrFail removes the column the server complained about, or surfaces the
// raw error when it is not a drift the writer can negotiate: a different
// error class, or a column that was never part of the payload.
func (w *DriftWriter) dropOrFail(table string, cols []string, err error) ([]string, error) {
	col, ok := undefinedColumn(err)
	if !ok {
		return nil, err
	}
	idx := -1
	for i, c := range cols {
		if c == col {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, err
	}
	if w.logger != nil {
		w.logger.Warn("schema drift: dropping column",
			slog.String("table", table),
			slog.String("column", col))
	}
	return append(cols[:idx:idx], cols[idx+1:]...), nil
}

func columnSet(row map[string]any) []string {
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

func buildInsert(table string, cols []string, rows []map[string]any, suffix string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(cols)*len(rows))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j, col := range cols {
			if j > 0 {
				b.WriteString(", ")
			}
			args = append(args, row[col])
			fmt.Fprintf(&b, "$%d", len(args))
		}
		b.WriteString(")")
	}
	b.WriteString(suffix)
	return b.String(), args
}
