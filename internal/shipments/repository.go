package shipments

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

// POHeader is the slice of a purchase order header the derivation needs.
type POHeader struct {
	ID               int64
	PONo             string
	BuyerID          int64
	OriginCode       string
	Currency         string
	Incoterm         string
	FinalDestination string
}

// POLine is the authoritative PO line state read under lock. Descriptive
// fields are copied into shipment lines from here, not from the request.
type POLine struct {
	ID           int64
	POID         int64
	PONo         string
	Style        string
	Description  string
	Color        string
	Size         string
	Qty          float64
	QtyCancelled float64
	UnitPrice    float64
}

// Repository is the persistence surface consumed by the service.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64, includeDeleted bool) (*ShipmentHeader, error)
	List(ctx context.Context, req ListShipmentRequest) ([]ShipmentHeader, int, error)
	POHeaders(ctx context.Context, poIDs []int64) ([]POHeader, error)
	ActiveInvoiceCount(ctx context.Context, shipmentID int64) (int, error)
}

// TxRepository exposes transactional reads and writes. LockPOLines must run
// before SumShippedByPOLine so concurrent derivations serialize per PO line.
type TxRepository interface {
	LockPOLines(ctx context.Context, lineIDs []int64) ([]POLine, error)
	SumShippedByPOLine(ctx context.Context, lineIDs []int64) (map[int64]float64, error)
	InsertHeader(ctx context.Context, h ShipmentHeader) (int64, error)
	InsertLines(ctx context.Context, lines []ShipmentLine) error
	SoftDeleteLines(ctx context.Context, shipmentID int64) error
	SoftDeleteHeader(ctx context.Context, shipmentID int64) error
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

const headerColumns = `
	id, shipment_no, buyer_id, COALESCE(origin_code,''), ship_mode,
	COALESCE(currency,''), COALESCE(incoterm,''), COALESCE(final_destination,''),
	status, is_deleted, created_at, updated_at`

func scanHeader(row pgx.Row, h *ShipmentHeader) error {
	return row.Scan(&h.ID, &h.ShipmentNo, &h.BuyerID, &h.OriginCode, &h.ShipMode,
		&h.Currency, &h.Incoterm, &h.FinalDestination,
		&h.Status, &h.IsDeleted, &h.CreatedAt, &h.UpdatedAt)
}

func (r *repository) Get(ctx context.Context, id int64, includeDeleted bool) (*ShipmentHeader, error) {
	query := `SELECT ` + headerColumns + ` FROM shipments WHERE id = $1`
	if !includeDeleted {
		query += ` AND is_deleted = FALSE`
	}
	var h ShipmentHeader
	if err := scanHeader(r.pool.QueryRow(ctx, query, id), &h); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}

	lineQuery := `
		SELECT id, shipment_id, po_line_id, COALESCE(po_no,''), style,
		       COALESCE(description,''), COALESCE(color,''), COALESCE(size,''),
		       shipped_qty, unit_price, amount, is_deleted
		FROM shipment_lines WHERE shipment_id = $1`
	if !includeDeleted {
		lineQuery += ` AND is_deleted = FALSE`
	}
	rows, err := r.pool.Query(ctx, lineQuery+` ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var l ShipmentLine
		if err := rows.Scan(&l.ID, &l.ShipmentID, &l.POLineID, &l.PONo, &l.Style,
			&l.Description, &l.Color, &l.Size,
			&l.ShippedQty, &l.UnitPrice, &l.Amount, &l.IsDeleted); err != nil {
			return nil, err
		}
		h.Lines = append(h.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *repository) List(ctx context.Context, req ListShipmentRequest) ([]ShipmentHeader, int, error) {
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
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM shipments "+conditions, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, req.Limit, req.Offset)
	query := fmt.Sprintf(`SELECT %s FROM shipments %s ORDER BY id DESC LIMIT $%d OFFSET $%d`,
		headerColumns, conditions, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []ShipmentHeader
	for rows.Next() {
		var h ShipmentHeader
		if err := scanHeader(rows, &h); err != nil {
			return nil, 0, err
		}
		out = append(out, h)
	}
	return out, total, rows.Err()
}

func (r *repository) POHeaders(ctx context.Context, poIDs []int64) ([]POHeader, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, po_no, buyer_id, COALESCE(origin_code,''), COALESCE(currency,''),
		       COALESCE(incoterm,''), COALESCE(final_destination,'')
		FROM po_headers
		WHERE id = ANY($1) AND is_deleted = FALSE
		ORDER BY id`, poIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []POHeader
	for rows.Next() {
		var h POHeader
		if err := rows.Scan(&h.ID, &h.PONo, &h.BuyerID, &h.OriginCode, &h.Currency,
			&h.Incoterm, &h.FinalDestination); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *repository) ActiveInvoiceCount(ctx context.Context, shipmentID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM invoice_headers WHERE shipment_id = $1 AND is_deleted = FALSE`,
		shipmentID).Scan(&count)
	return count, err
}

func (t *txRepo) LockPOLines(ctx context.Context, lineIDs []int64) ([]POLine, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT pl.id, pl.po_id, ph.po_no, pl.style, COALESCE(pl.description,''),
		       COALESCE(pl.color,''), COALESCE(pl.size,''),
		       pl.qty, pl.qty_cancelled, pl.unit_price
		FROM po_lines pl
		JOIN po_headers ph ON ph.id = pl.po_id
		WHERE pl.id = ANY($1) AND pl.is_deleted = FALSE
		ORDER BY pl.id
		FOR UPDATE OF pl`, lineIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []POLine
	for rows.Next() {
		var l POLine
		if err := rows.Scan(&l.ID, &l.POID, &l.PONo, &l.Style, &l.Description,
			&l.Color, &l.Size, &l.Qty, &l.QtyCancelled, &l.UnitPrice); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (t *txRepo) SumShippedByPOLine(ctx context.Context, lineIDs []int64) (map[int64]float64, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT po_line_id, COALESCE(SUM(shipped_qty), 0)
		FROM shipment_lines
		WHERE po_line_id = ANY($1) AND is_deleted = FALSE
		GROUP BY po_line_id`, lineIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sums := make(map[int64]float64, len(lineIDs))
	for rows.Next() {
		var id int64
		var qty float64
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, err
		}
		sums[id] = qty
	}
	return sums, rows.Err()
}

func (t *txRepo) InsertHeader(ctx context.Context, h ShipmentHeader) (int64, error) {
	return t.writer.InsertReturningID(ctx, "shipments", map[string]any{
		"shipment_no":       h.ShipmentNo,
		"buyer_id":          h.BuyerID,
		"origin_code":       h.OriginCode,
		"ship_mode":         string(h.ShipMode),
		"currency":          h.Currency,
		"incoterm":          h.Incoterm,
		"final_destination": h.FinalDestination,
		"status":            string(h.Status),
		"is_deleted":        false,
	})
}

func (t *txRepo) InsertLines(ctx context.Context, lines []ShipmentLine) error {
	rows := make([]map[string]any, 0, len(lines))
	for _, l := range lines {
		rows = append(rows, map[string]any{
			"shipment_id": l.ShipmentID,
			"po_line_id":  l.POLineID,
			"po_no":       l.PONo,
			"style":       l.Style,
			"description": l.Description,
			"color":       l.Color,
			"size":        l.Size,
			"shipped_qty": l.ShippedQty,
			"unit_price":  l.UnitPrice,
			"amount":      l.Amount,
			"is_deleted":  false,
		})
	}
	return t.writer.Insert(ctx, "shipment_lines", rows)
}

func (t *txRepo) SoftDeleteLines(ctx context.Context, shipmentID int64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE shipment_lines SET is_deleted = TRUE, updated_at = NOW() WHERE shipment_id = $1 AND is_deleted = FALSE`,
		shipmentID)
	return err
}

func (t *txRepo) SoftDeleteHeader(ctx context.Context, shipmentID int64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE shipments SET is_deleted = TRUE, status = $2, updated_at = NOW() WHERE id = $1 AND is_deleted = FALSE`,
		shipmentID, string(StatusDeleted))
	return err
}
