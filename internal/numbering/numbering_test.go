package numbering

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterQuerier struct {
	seqs map[string]int64
	err  error
}

func newCounterQuerier() *counterQuerier {
	return &counterQuerier{seqs: map[string]int64{}}
}

func (q *counterQuerier) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, q.err
}

func (q *counterQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, q.err
}

func (q *counterQuerier) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	if q.err != nil {
		return errRow{err: q.err}
	}
	prefix := args[0].(string)
	q.seqs[prefix]++
	return seqRow{seq: q.seqs[prefix]}
}

type seqRow struct{ seq int64 }

func (r seqRow) Scan(dest ...any) error {
	*(dest[0].(*int64)) = r.seq
	return nil
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

// legacyQuerier simulates a schema where doc_counters does not exist yet.
type legacyQuerier struct {
	numbers []string
}

func (q *legacyQuerier) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (q *legacyQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return &stringRows{values: q.numbers}, nil
}

func (q *legacyQuerier) QueryRow(context.Context, string, ...any) pgx.Row {
	return errRow{err: &pgconn.PgError{Code: "42P01", Message: `relation "doc_counters" does not exist`}}
}

type stringRows struct {
	values []string
	pos    int
}

func (r *stringRows) Close()                                       {}
func (r *stringRows) Err() error                                   { return nil }
func (r *stringRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *stringRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *stringRows) Next() bool {
	if r.pos >= len(r.values) {
		return false
	}
	r.pos++
	return true
}
func (r *stringRows) Scan(dest ...any) error {
	*(dest[0].(*string)) = r.values[r.pos-1]
	return nil
}
func (r *stringRows) Values() ([]any, error) { return nil, nil }
func (r *stringRows) RawValues() [][]byte    { return nil }
func (r *stringRows) Conn() *pgx.Conn        { return nil }

func TestPrefix(t *testing.T) {
	at := time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "SHP-VN-2601-", Prefix(FamilyShipment, "VN", at))
	assert.Equal(t, "INV-BD-2612-", Prefix(FamilyInvoice, "BD", time.Date(2026, time.December, 1, 0, 0, 0, 0, time.UTC)))
}

func TestNextIsStrictlyIncreasing(t *testing.T) {
	gen := New(newCounterQuerier(), nil)
	legacy := LegacySource{Table: "shipments", Column: "shipment_no"}

	first, err := gen.Next(context.Background(), "SHP-VN-2601-", legacy)
	require.NoError(t, err)
	second, err := gen.Next(context.Background(), "SHP-VN-2601-", legacy)
	require.NoError(t, err)

	assert.Equal(t, "SHP-VN-2601-0001", first)
	assert.Equal(t, "SHP-VN-2601-0002", second)
}

func TestNextKeepsPrefixesIndependent(t *testing.T) {
	gen := New(newCounterQuerier(), nil)
	legacy := LegacySource{Table: "shipments", Column: "shipment_no"}

	a, err := gen.Next(context.Background(), "SHP-VN-2601-", legacy)
	require.NoError(t, err)
	b, err := gen.Next(context.Background(), "SHP-BD-2601-", legacy)
	require.NoError(t, err)

	assert.Equal(t, "SHP-VN-2601-0001", a)
	assert.Equal(t, "SHP-BD-2601-0001", b)
}

func TestNextFallsBackToLegacyScan(t *testing.T) {
	q := &legacyQuerier{numbers: []string{
		"SHP-VN-2601-0001",
		"SHP-VN-2601-0017",
		"SHP-VN-2601-0009",
		"SHP-VN-2601-REV",  // non-numeric suffix ignored
		"SHP-VN-2601-12345", // wrong width ignored
	}}
	gen := New(q, nil)

	got, err := gen.Next(context.Background(), "SHP-VN-2601-", LegacySource{Table: "shipments", Column: "shipment_no"})
	require.NoError(t, err)
	assert.Equal(t, "SHP-VN-2601-0018", got)
}

func TestNextSurfacesOtherErrors(t *testing.T) {
	q := newCounterQuerier()
	q.err = &pgconn.PgError{Code: "53300", Message: "too many connections"}
	gen := New(q, nil)

	_, err := gen.Next(context.Background(), "SHP-VN-2601-", LegacySource{Table: "shipments", Column: "shipment_no"})
	require.Error(t, err)
}
