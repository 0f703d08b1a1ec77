package invoices

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-exim/meridian-exim/internal/platform/db"
	"github.com/meridian-exim/meridian-exim/internal/shared"
)

// Repository is the persistence surface consumed by the service.
type Repository interface {
	Get(ctx context.Context, id int64, includeDeleted bool) (*Invoice, error)
	ActiveLatestByShipment(ctx context.Context, shipmentID int64) (*Invoice, error)
	InsertHeader(ctx context.Context, inv Invoice) (int64, error)
	InsertLines(ctx context.Context, lines []InvoiceLine) error
	UpdateHeader(ctx context.Context, id int64, patch map[string]any) error
	SetStatus(ctx context.Context, id int64, status InvoiceStatus) error
	ActivePackingListCount(ctx context.Context, invoiceID int64) (int, error)
	SoftDelete(ctx context.Context, invoiceID int64) error
}

type repository struct {
	pool   *pgxpool.Pool
	writer *db.DriftWriter
}

// NewRepository constructs a PostgreSQL-backed repository.
func NewRepository(pool *pgxpool.Pool, logger *slog.Logger) Repository {
	return &repository{pool: pool, writer: db.NewDriftWriter(pool, logger)}
}

const headerColumns = `
	id, invoice_no, shipment_id, COALESCE(shipment_no,''), buyer_id,
	COALESCE(origin_code,''), COALESCE(ship_mode,''), COALESCE(currency,''),
	COALESCE(incoterm,''), COALESCE(final_destination,''),
	COALESCE(shipper_name,''), COALESCE(shipper_address,''),
	COALESCE(port_of_loading,''), COALESCE(consignee,''), COALESCE(notify_party,''),
	status, is_latest, is_deleted, created_at, updated_at`

func scanHeader(row pgx.Row, inv *Invoice) error {
	return row.Scan(&inv.ID, &inv.InvoiceNo, &inv.ShipmentID, &inv.ShipmentNo, &inv.BuyerID,
		&inv.OriginCode, &inv.ShipMode, &inv.Currency,
		&inv.Incoterm, &inv.FinalDestination,
		&inv.ShipperName, &inv.ShipperAddress,
		&inv.PortOfLoading, &inv.Consignee, &inv.NotifyParty,
		&inv.Status, &inv.IsLatest, &inv.IsDeleted, &inv.CreatedAt, &inv.UpdatedAt)
}

func (r *repository) Get(ctx context.Context, id int64, includeDeleted bool) (*Invoice, error) {
	query := `SELECT ` + headerColumns + ` FROM invoice_headers WHERE id = $1`
	if !includeDeleted {
		query += ` AND is_deleted = FALSE`
	}
	return r.fetch(ctx, query, id)
}

func (r *repository) ActiveLatestByShipment(ctx context.Context, shipmentID int64) (*Invoice, error) {
	query := `SELECT ` + headerColumns + ` FROM invoice_headers
		WHERE shipment_id = $1 AND is_deleted = FALSE AND is_latest = TRUE
		ORDER BY id DESC LIMIT 1`
	return r.fetch(ctx, query, shipmentID)
}

func (r *repository) fetch(ctx context.Context, query string, arg any) (*Invoice, error) {
	var inv Invoice
	if err := scanHeader(r.pool.QueryRow(ctx, query, arg), &inv); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, invoice_id, shipment_line_id, COALESCE(po_no,''), style,
		       COALESCE(description,''), COALESCE(color,''), COALESCE(size,''),
		       qty, unit_price, amount, is_deleted
		FROM invoice_lines
		WHERE invoice_id = $1 AND is_deleted = FALSE
		ORDER BY id`, inv.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var l InvoiceLine
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.ShipmentLineID, &l.PONo, &l.Style,
			&l.Description, &l.Color, &l.Size,
			&l.Qty, &l.UnitPrice, &l.Amount, &l.IsDeleted); err != nil {
			return nil, err
		}
		inv.Lines = append(inv.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *repository) InsertHeader(ctx context.Context, inv Invoice) (int64, error) {
	// Demote the previous active invoice and insert the new one in one
	// transaction: a crash between the two must not leave the shipment
	// without a latest invoice, and concurrent derivations must not both
	// insert is_latest rows. The partial unique index on
	// (shipment_id) WHERE is_latest AND NOT is_deleted turns the losing
	// insert into a unique violation the service retries.
	var id int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE invoice_headers SET is_latest = FALSE, updated_at = NOW() WHERE shipment_id = $1 AND is_latest = TRUE`,
			inv.ShipmentID); err != nil {
			return err
		}
		var err error
		id, err = r.writer.WithQuerier(tx).InsertReturningID(ctx, "invoice_headers", map[string]any{
			"invoice_no":        inv.InvoiceNo,
			"shipment_id":       inv.ShipmentID,
			"shipment_no":       inv.ShipmentNo,
			"buyer_id":          inv.BuyerID,
			"origin_code":       inv.OriginCode,
			"ship_mode":         inv.ShipMode,
			"currency":          inv.Currency,
			"incoterm":          inv.Incoterm,
			"final_destination": inv.FinalDestination,
			"shipper_name":      inv.ShipperName,
			"shipper_address":   inv.ShipperAddress,
			"port_of_loading":   inv.PortOfLoading,
			"consignee":         inv.Consignee,
			"notify_party":      inv.NotifyParty,
			"status":            string(inv.Status),
			"is_latest":         true,
			"is_deleted":        false,
		})
		return err
	})
	return id, err
}

func (r *repository) InsertLines(ctx context.Context, lines []InvoiceLine) error {
	rows := make([]map[string]any, 0, len(lines))
	for _, l := range lines {
		rows = append(rows, map[string]any{
			"invoice_id":       l.InvoiceID,
			"shipment_line_id": l.ShipmentLineID,
			"po_no":            l.PONo,
			"style":            l.Style,
			"description":      l.Description,
			"color":            l.Color,
			"size":             l.Size,
			"qty":              l.Qty,
			"unit_price":       l.UnitPrice,
			"amount":           l.Amount,
			"is_deleted":       false,
		})
	}
	return r.writer.Insert(ctx, "invoice_lines", rows)
}

func (r *repository) UpdateHeader(ctx context.Context, id int64, patch map[string]any) error {
	if len(patch) == 0 {
		return nil
	}
	return r.writer.Update(ctx, "invoice_headers", id, patch)
}

func (r *repository) SetStatus(ctx context.Context, id int64, status InvoiceStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE invoice_headers SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, string(status))
	return err
}

func (r *repository) ActivePackingListCount(ctx context.Context, invoiceID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM packing_list_headers WHERE invoice_id = $1 AND is_deleted = FALSE`,
		invoiceID).Scan(&count)
	return count, err
}

func (r *repository) SoftDelete(ctx context.Context, invoiceID int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE invoice_lines SET is_deleted = TRUE, updated_at = NOW() WHERE invoice_id = $1 AND is_deleted = FALSE`,
			invoiceID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`UPDATE invoice_headers SET is_deleted = TRUE, is_latest = FALSE, status = $2, updated_at = NOW() WHERE id = $1 AND is_deleted = FALSE`,
			invoiceID, string(StatusDeleted))
		return err
	})
}
