// Package numbering allocates human-readable document numbers. A number is
// prefix + zero-padded sequence, where the prefix encodes document family,
// origin code, and year-month (e.g. SHP-VN-2601-0007).
package numbering

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/meridian-exim/meridian-exim/internal/platform/db"
)

// Document families.
const (
	FamilyPO          = "PO"
	FamilyShipment    = "SHP"
	FamilyInvoice     = "INV"
	FamilyPackingList = "PKL"
)

const seqWidth = 4

const sqlstateUndefinedTable = "42P01"

// suffixRe matches the fixed-width numeric suffix of a stored number.
var suffixRe = regexp.MustCompile(`^\d{4}$`)

// LegacySource names the document table scanned when the counters table is
// not present in the live schema.
type LegacySource struct {
	Table  string
	Column string
}

// Generator hands out the next number for a prefix. Allocation is an atomic
// counter upsert, so concurrent calls never produce the same value; gaps
// from rolled-back documents are acceptable.
type Generator struct {
	q      db.Querier
	logger *slog.Logger
}

// New constructs a Generator over q.
func New(q db.Querier, logger *slog.Logger) *Generator {
	return &Generator{q: q, logger: logger}
}

// WithQuerier rebinds the generator, typically onto a transaction.
func (g *Generator) WithQuerier(q db.Querier) *Generator {
	return &Generator{q: q, logger: g.logger}
}

// Prefix composes a document number prefix for family, origin and month.
func Prefix(family, origin string, t time.Time) string {
	return fmt.Sprintf("%s-%s-%s-", family, origin, t.Format("0601"))
}

// Next returns the next formatted number for prefix. When the doc_counters
// table is missing (schema lag), it falls back to scanning legacy for the
// highest stored suffix; callers on that path rely on the document table's
// unique constraint plus retry.
func (g *Generator) Next(ctx context.Context, prefix string, legacy LegacySource) (string, error) {
	var seq int64
	err := g.q.QueryRow(ctx,
		`INSERT INTO doc_counters (prefix, seq) VALUES ($1, 1)
		 ON CONFLICT (prefix) DO UPDATE SET seq = doc_counters.seq + 1
		 RETURNING seq`, prefix).Scan(&seq)
	if err == nil {
		return format(prefix, seq), nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == sqlstateUndefinedTable && legacy.Table != "" {
		if g.logger != nil {
			g.logger.Warn("numbering: doc_counters missing, using legacy scan",
				slog.String("prefix", prefix), slog.String("table", legacy.Table))
		}
		return g.scanNext(ctx, prefix, legacy)
	}
	return "", fmt.Errorf("numbering: next %s: %w", prefix, err)
}

// SyncFromExisting seeds (or raises) the counter for prefix from numbers
// already stored in the legacy table. Used when migrating historic data.
func (g *Generator) SyncFromExisting(ctx context.Context, prefix string, legacy LegacySource) error {
	high, err := g.scanMax(ctx, prefix, legacy)
	if err != nil {
		return err
	}
	_, err = g.q.Exec(ctx,
		`INSERT INTO doc_counters (prefix, seq) VALUES ($1, $2)
		 ON CONFLICT (prefix) DO UPDATE SET seq = GREATEST(doc_counters.seq, EXCLUDED.seq)`,
		prefix, high)
	if err != nil {
		return fmt.Errorf("numbering: sync %s: %w", prefix, err)
	}
	return nil
}

func (g *Generator) scanNext(ctx context.Context, prefix string, legacy LegacySource) (string, error) {
	high, err := g.scanMax(ctx, prefix, legacy)
	if err != nil {
		return "", err
	}
	return format(prefix, high+1), nil
}

func (g *Generator) scanMax(ctx context.Context, prefix string, legacy LegacySource) (int64, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s LIKE $1 || '%%'`,
		legacy.Column, legacy.Table, legacy.Column)
	rows, err := g.q.Query(ctx, query, prefix)
	if err != nil {
		return 0, fmt.Errorf("numbering: scan %s: %w", legacy.Table, err)
	}
	defer rows.Close()

	var high int64
	for rows.Next() {
		var number string
		if err := rows.Scan(&number); err != nil {
			return 0, err
		}
		suffix := strings.TrimPrefix(number, prefix)
		if !suffixRe.MatchString(suffix) {
			continue
		}
		n, err := strconv.ParseInt(suffix, 10, 64)
		if err != nil {
			continue
		}
		if n > high {
			high = n
		}
	}
	return high, rows.Err()
}

func format(prefix string, seq int64) string {
	return fmt.Sprintf("%s%0*d", prefix, seqWidth, seq)
}
