package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type execResult struct {
	err error
	id  int64
}

type fakeQuerier struct {
	sqls    []string
	args    [][]any
	results []execResult
	calls   int
}

func (f *fakeQuerier) next() execResult {
	if f.calls >= len(f.results) {
		return execResult{}
	}
	res := f.results[f.calls]
	f.calls++
	return res
}

func (f *fakeQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.sqls = append(f.sqls, sql)
	f.args = append(f.args, args)
	return pgconn.CommandTag{}, f.next().err
}

func (f *fakeQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("unused")
}

func (f *fakeQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.sqls = append(f.sqls, sql)
	f.args = append(f.args, args)
	res := f.next()
	return fakeRow{id: res.id, err: res.err}
}

type fakeRow struct {
	id  int64
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) == 1 {
		if p, ok := dest[0].(*int64); ok {
			*p = r.id
		}
	}
	return nil
}

func undefinedColumnErr(col, table string) error {
	return &pgconn.PgError{
		Code:    "42703",
		Message: fmt.Sprintf(`column "%s" of relation "%s" does not exist`, col, table),
	}
}

func newTestWriter(q Querier) *DriftWriter {
	return NewDriftWriter(q, slog.Default())
}

func TestDriftInsertHappyPath(t *testing.T) {
	q := &fakeQuerier{results: []execResult{{}}}
	w := newTestWriter(q)

	err := w.Insert(context.Background(), "shipments", []map[string]any{
		{"shipment_no": "SHP-VN-2601-0001", "buyer_id": int64(7)},
	})
	require.NoError(t, err)
	require.Len(t, q.sqls, 1)
	assert.Equal(t, "INSERT INTO shipments (buyer_id, shipment_no) VALUES ($1, $2)", q.sqls[0])
	assert.Equal(t, []any{int64(7), "SHP-VN-2601-0001"}, q.args[0])
}

func TestDriftInsertDropsUnknownColumnAndRetries(t *testing.T) {
	q := &fakeQuerier{results: []execResult{
		{err: undefinedColumnErr("coo_text", "packing_list_headers")},
		{},
	}}
	w := newTestWriter(q)

	rows := []map[string]any{
		{"shipment_id": int64(1), "coo_text": "VIETNAM", "consignee": "ACME"},
		{"shipment_id": int64(2), "coo_text": "VIETNAM", "consignee": "BOLT"},
	}
	err := w.Insert(context.Background(), "packing_list_headers", rows)
	require.NoError(t, err)
	require.Len(t, q.sqls, 2)
	assert.Contains(t, q.sqls[0], "coo_text")
	assert.NotContains(t, q.sqls[1], "coo_text")
	// Both rows keep their remaining fields on the retry.
	assert.Equal(t, []any{"ACME", int64(1), "BOLT", int64(2)}, q.args[1])
}

func TestDriftInsertAbortsOnOtherErrorClass(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505", Message: `duplicate key value violates unique constraint "shipments_shipment_no_key"`}
	q := &fakeQuerier{results: []execResult{{err: dup}}}
	w := newTestWriter(q)

	err := w.Insert(context.Background(), "shipments", []map[string]any{{"shipment_no": "x"}})
	require.Error(t, err)
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, "23505", pgErr.Code)
	assert.Len(t, q.sqls, 1)
}

func TestDriftInsertAbortsWhenColumnNotInPayload(t *testing.T) {
	q := &fakeQuerier{results: []execResult{
		{err: undefinedColumnErr("ghost_field", "shipments")},
	}}
	w := newTestWriter(q)

	err := w.Insert(context.Background(), "shipments", []map[string]any{{"shipment_no": "x"}})
	require.Error(t, err)
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Len(t, q.sqls, 1)
}

func TestDriftInsertExhaustsRetryBudget(t *testing.T) {
	row := map[string]any{}
	var results []execResult
	for i := 0; i < 13; i++ {
		col := fmt.Sprintf("c%02d", i)
		row[col] = i
		results = append(results, execResult{err: undefinedColumnErr(col, "shipments")})
	}
	q := &fakeQuerier{results: results}
	w := newTestWriter(q)

	err := w.Insert(context.Background(), "shipments", []map[string]any{row})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDriftExhausted)
	assert.Len(t, q.sqls, maxDriftAttempts)
}

func TestDriftInsertReturningID(t *testing.T) {
	q := &fakeQuerier{results: []execResult{
		{err: undefinedColumnErr("notify_party", "invoice_headers")},
		{id: 42},
	}}
	w := newTestWriter(q)

	id, err := w.InsertReturningID(context.Background(), "invoice_headers", map[string]any{
		"invoice_no":   "INV-VN-2601-0001",
		"notify_party": "SAME AS CONSIGNEE",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	require.Len(t, q.sqls, 2)
	assert.True(t, strings.HasSuffix(q.sqls[1], "RETURNING id"))
	assert.NotContains(t, q.sqls[1], "notify_party")
}

func TestDriftUpdateDropsUnknownColumn(t *testing.T) {
	q := &fakeQuerier{results: []execResult{
		{err: undefinedColumnErr("shipper_address", "packing_list_headers")},
		{},
	}}
	w := newTestWriter(q)

	err := w.Update(context.Background(), "packing_list_headers", 9, map[string]any{
		"shipper_address": "12 Mill Rd",
		"consignee":       "ACME",
	})
	require.NoError(t, err)
	require.Len(t, q.sqls, 2)
	assert.Contains(t, q.sqls[1], "consignee = $1")
	assert.NotContains(t, q.sqls[1], "shipper_address")
	assert.Equal(t, []any{"ACME", int64(9)}, q.args[1])
}
