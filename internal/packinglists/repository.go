package packinglists

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-exim/meridian-exim/internal/platform/db"
	"github.com/meridian-exim/meridian-exim/internal/shared"
)

// InvoiceInfo is the slice of the linked invoice used for hydration.
type InvoiceInfo struct {
	ID             int64
	InvoiceNo      string
	ShipperName    string
	ShipperAddress string
	Consignee      string
	NotifyParty    string
}

// Repository is the persistence surface consumed by the service and the
// resolver.
type Repository interface {
	Get(ctx context.Context, id int64, includeDeleted bool) (*PackingList, error)
	ActiveByShipment(ctx context.Context, shipmentID int64) (*PackingList, error)
	FindByLinkedDocID(ctx context.Context, docID int64) (*PackingList, error)
	FindByInvoiceNo(ctx context.Context, invoiceNo string) (*PackingList, error)
	ActiveInvoice(ctx context.Context, shipmentID int64) (*InvoiceInfo, error)
	InvoiceIDByNo(ctx context.Context, invoiceNo string) (int64, error)
	InsertHeader(ctx context.Context, pl PackingList) (int64, error)
	InsertLines(ctx context.Context, lines []PackingListLine) error
	UpdateHeader(ctx context.Context, id int64, patch map[string]any) error
	MissingNumberIDs(ctx context.Context, limit int) ([]int64, error)
	SoftDelete(ctx context.Context, id int64) error
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
	id, packing_list_no, shipment_id, COALESCE(shipment_no,''), invoice_id,
	COALESCE(invoice_no,''), COALESCE(origin_code,''),
	COALESCE(shipper_name,''), COALESCE(shipper_address,''),
	COALESCE(consignee,''), COALESCE(notify_party,''),
	COALESCE(country_of_origin,''), is_deleted, created_at, updated_at`

func scanHeader(row pgx.Row, pl *PackingList) error {
	return row.Scan(&pl.ID, &pl.PackingListNo, &pl.ShipmentID, &pl.ShipmentNo, &pl.InvoiceID,
		&pl.InvoiceNo, &pl.OriginCode,
		&pl.ShipperName, &pl.ShipperAddress,
		&pl.Consignee, &pl.NotifyParty,
		&pl.CountryOfOrigin, &pl.IsDeleted, &pl.CreatedAt, &pl.UpdatedAt)
}

func (r *repository) Get(ctx context.Context, id int64, includeDeleted bool) (*PackingList, error) {
	query := `SELECT ` + headerColumns + ` FROM packing_list_headers WHERE id = $1`
	if !includeDeleted {
		query += ` AND is_deleted = FALSE`
	}
	return r.fetch(ctx, query, id)
}

func (r *repository) ActiveByShipment(ctx context.Context, shipmentID int64) (*PackingList, error) {
	query := `SELECT ` + headerColumns + ` FROM packing_list_headers
		WHERE shipment_id = $1 AND is_deleted = FALSE
		ORDER BY id DESC LIMIT 1`
	return r.fetch(ctx, query, shipmentID)
}

// FindByLinkedDocID matches a packing list whose shipment or invoice carries
// the given id. Shipment linkage wins when both match.
func (r *repository) FindByLinkedDocID(ctx context.Context, docID int64) (*PackingList, error) {
	query := `SELECT ` + headerColumns + ` FROM packing_list_headers
		WHERE (shipment_id = $1 OR invoice_id = $1) AND is_deleted = FALSE
		ORDER BY (shipment_id = $1) DESC, id DESC LIMIT 1`
	return r.fetch(ctx, query, docID)
}

func (r *repository) FindByInvoiceNo(ctx context.Context, invoiceNo string) (*PackingList, error) {
	query := `SELECT ` + headerColumns + ` FROM packing_list_headers
		WHERE invoice_no = $1 AND is_deleted = FALSE
		ORDER BY id DESC LIMIT 1`
	return r.fetch(ctx, query, invoiceNo)
}

func (r *repository) fetch(ctx context.Context, query string, arg any) (*PackingList, error) {
	var pl PackingList
	if err := scanHeader(r.pool.QueryRow(ctx, query, arg), &pl); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, packing_list_id, shipment_line_id, COALESCE(po_no,''), style,
		       COALESCE(description,''), COALESCE(color,''), COALESCE(size,''),
		       qty, cartons, net_weight, gross_weight, is_deleted
		FROM packing_list_lines
		WHERE packing_list_id = $1 AND is_deleted = FALSE
		ORDER BY id`, pl.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var l PackingListLine
		if err := rows.Scan(&l.ID, &l.PackingListID, &l.ShipmentLineID, &l.PONo, &l.Style,
			&l.Description, &l.Color, &l.Size,
			&l.Qty, &l.Cartons, &l.NetWeight, &l.GrossWeight, &l.IsDeleted); err != nil {
			return nil, err
		}
		pl.Lines = append(pl.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &pl, nil
}

func (r *repository) ActiveInvoice(ctx context.Context, shipmentID int64) (*InvoiceInfo, error) {
	var info InvoiceInfo
	err := r.pool.QueryRow(ctx, `
		SELECT id, invoice_no, COALESCE(shipper_name,''), COALESCE(shipper_address,''),
		       COALESCE(consignee,''), COALESCE(notify_party,'')
		FROM invoice_headers
		WHERE shipment_id = $1 AND is_deleted = FALSE AND is_latest = TRUE
		ORDER BY id DESC LIMIT 1`, shipmentID).
		Scan(&info.ID, &info.InvoiceNo, &info.ShipperName, &info.ShipperAddress,
			&info.Consignee, &info.NotifyParty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &info, nil
}

func (r *repository) InvoiceIDByNo(ctx context.Context, invoiceNo string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`SELECT id FROM invoice_headers WHERE invoice_no = $1 AND is_deleted = FALSE ORDER BY id DESC LIMIT 1`,
		invoiceNo).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, shared.ErrNotFound
		}
		return 0, err
	}
	return id, nil
}

func (r *repository) InsertHeader(ctx context.Context, pl PackingList) (int64, error) {
	payload := map[string]any{
		"shipment_id":       pl.ShipmentID,
		"shipment_no":       pl.ShipmentNo,
		"invoice_no":        pl.InvoiceNo,
		"origin_code":       pl.OriginCode,
		"shipper_name":      pl.ShipperName,
		"shipper_address":   pl.ShipperAddress,
		"consignee":         pl.Consignee,
		"notify_party":      pl.NotifyParty,
		"country_of_origin": pl.CountryOfOrigin,
		"is_deleted":        false,
	}
	if pl.PackingListNo != nil {
		payload["packing_list_no"] = *pl.PackingListNo
	}
	if pl.InvoiceID != nil {
		payload["invoice_id"] = *pl.InvoiceID
	}
	return r.writer.InsertReturningID(ctx, "packing_list_headers", payload)
}

func (r *repository) InsertLines(ctx context.Context, lines []PackingListLine) error {
	rows := make([]map[string]any, 0, len(lines))
	for _, l := range lines {
		rows = append(rows, map[string]any{
			"packing_list_id":  l.PackingListID,
			"shipment_line_id": l.ShipmentLineID,
			"po_no":            l.PONo,
			"style":            l.Style,
			"description":      l.Description,
			"color":            l.Color,
			"size":             l.Size,
			"qty":              l.Qty,
			"cartons":          l.Cartons,
			"net_weight":       l.NetWeight,
			"gross_weight":     l.GrossWeight,
			"is_deleted":       false,
		})
	}
	return r.writer.Insert(ctx, "packing_list_lines", rows)
}

func (r *repository) UpdateHeader(ctx context.Context, id int64, patch map[string]any) error {
	if len(patch) == 0 {
		return nil
	}
	return r.writer.Update(ctx, "packing_list_headers", id, patch)
}

func (r *repository) MissingNumberIDs(ctx context.Context, limit int) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM packing_list_headers
		WHERE packing_list_no IS NULL AND is_deleted = FALSE
		ORDER BY id
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *repository) SoftDelete(ctx context.Context, id int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE packing_list_lines SET is_deleted = TRUE, updated_at = NOW() WHERE packing_list_id = $1 AND is_deleted = FALSE`,
			id); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`UPDATE packing_list_headers SET is_deleted = TRUE, updated_at = NOW() WHERE id = $1 AND is_deleted = FALSE`,
			id)
		return err
	})
}
