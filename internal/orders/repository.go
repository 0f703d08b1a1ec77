package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-exim/meridian-exim/internal/platform/db"
	"github.com/meridian-exim/meridian-exim/internal/shared"
)

// Repository is the persistence surface consumed by the service.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64, includeDeleted bool) (*PurchaseOrder, error)
	List(ctx context.Context, req ListPORequest) ([]PurchaseOrder, int, error)
	ActiveShipmentLineCount(ctx context.Context, poID int64) (int, error)
}

// TxRepository exposes transactional writes.
type TxRepository interface {
	CreateHeader(ctx context.Context, po PurchaseOrder) (int64, error)
	InsertLines(ctx context.Context, lines []POLine) error
	SoftDeleteLines(ctx context.Context, poID int64) error
	SoftDeleteHeader(ctx context.Context, poID int64) error
}

type repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository constructs a PostgreSQL-backed repository.
func NewRepository(pool *pgxpool.Pool, logger *slog.Logger) Repository {
	return &repository{pool: pool, logger: logger}
}

type txRepo struct {
	tx     pgx.Tx
	writer *db.DriftWriter
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, writer: db.NewDriftWriter(tx, r.logger)})
	})
}

func (r *repository) Get(ctx context.Context, id int64, includeDeleted bool) (*PurchaseOrder, error) {
	query := `
		SELECT id, po_no, buyer_id, COALESCE(origin_code,''), COALESCE(currency,''),
		       COALESCE(incoterm,''), COALESCE(final_destination,''), status,
		       is_deleted, created_at, updated_at
		FROM po_headers WHERE id = $1`
	if !includeDeleted {
		query += ` AND is_deleted = FALSE`
	}
	var po PurchaseOrder
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&po.ID, &po.PONo, &po.BuyerID, &po.OriginCode, &po.Currency,
		&po.Incoterm, &po.FinalDestination, &po.Status,
		&po.IsDeleted, &po.CreatedAt, &po.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}

	lineQuery := `
		SELECT id, po_id, style, COALESCE(description,''), COALESCE(color,''),
		       COALESCE(size,''), qty, qty_cancelled, unit_price, is_deleted
		FROM po_lines WHERE po_id = $1`
	if !includeDeleted {
		lineQuery += ` AND is_deleted = FALSE`
	}
	rows, err := r.pool.Query(ctx, lineQuery+` ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var l POLine
		if err := rows.Scan(&l.ID, &l.POID, &l.Style, &l.Description, &l.Color,
			&l.Size, &l.Qty, &l.QtyCancelled, &l.UnitPrice, &l.IsDeleted); err != nil {
			return nil, err
		}
		po.Lines = append(po.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &po, nil
}

func (r *repository) List(ctx context.Context, req ListPORequest) ([]PurchaseOrder, int, error) {
	conditions := "WHERE 1=1"
	var args []any
	if !req.IncludeDeleted {
		conditions += " AND is_deleted = FALSE"
	}
	if req.BuyerID != nil {
		args = append(args, *req.BuyerID)
		conditions += fmt.Sprintf(" AND buyer_id = $%d", len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM po_headers "+conditions, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, req.Limit, req.Offset)
	query := fmt.Sprintf(`
		SELECT id, po_no, buyer_id, COALESCE(origin_code,''), COALESCE(currency,''),
		       COALESCE(incoterm,''), COALESCE(final_destination,''), status,
		       is_deleted, created_at, updated_at
		FROM po_headers %s
		ORDER BY id DESC
		LIMIT $%d OFFSET $%d`, conditions, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var pos []PurchaseOrder
	for rows.Next() {
		var po PurchaseOrder
		if err := rows.Scan(&po.ID, &po.PONo, &po.BuyerID, &po.OriginCode, &po.Currency,
			&po.Incoterm, &po.FinalDestination, &po.Status,
			&po.IsDeleted, &po.CreatedAt, &po.UpdatedAt); err != nil {
			return nil, 0, err
		}
		pos = append(pos, po)
	}
	return pos, total, rows.Err()
}

func (r *repository) ActiveShipmentLineCount(ctx context.Context, poID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM shipment_lines sl
		JOIN po_lines pl ON sl.po_line_id = pl.id
		WHERE pl.po_id = $1 AND sl.is_deleted = FALSE`, poID).Scan(&count)
	return count, err
}

func (t *txRepo) CreateHeader(ctx context.Context, po PurchaseOrder) (int64, error) {
	return t.writer.InsertReturningID(ctx, "po_headers", map[string]any{
		"po_no":             po.PONo,
		"buyer_id":          po.BuyerID,
		"origin_code":       po.OriginCode,
		"currency":          po.Currency,
		"incoterm":          po.Incoterm,
		"final_destination": po.FinalDestination,
		"status":            string(po.Status),
		"is_deleted":        false,
	})
}

func (t *txRepo) InsertLines(ctx context.Context, lines []POLine) error {
	rows := make([]map[string]any, 0, len(lines))
	for _, l := range lines {
		rows = append(rows, map[string]any{
			"po_id":         l.POID,
			"style":         l.Style,
			"description":   l.Description,
			"color":         l.Color,
			"size":          l.Size,
			"qty":           l.Qty,
			"qty_cancelled": l.QtyCancelled,
			"unit_price":    l.UnitPrice,
			"is_deleted":    false,
		})
	}
	return t.writer.Insert(ctx, "po_lines", rows)
}

func (t *txRepo) SoftDeleteLines(ctx context.Context, poID int64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE po_lines SET is_deleted = TRUE, updated_at = NOW() WHERE po_id = $1 AND is_deleted = FALSE`, poID)
	return err
}

func (t *txRepo) SoftDeleteHeader(ctx context.Context, poID int64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE po_headers SET is_deleted = TRUE, status = $2, updated_at = NOW() WHERE id = $1 AND is_deleted = FALSE`,
		poID, string(POStatusDeleted))
	return err
}
