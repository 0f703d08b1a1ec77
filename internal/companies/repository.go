package companies

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-exim/meridian-exim/internal/shared"
)

// Repository reads company and site master data. Both are read-only inputs
// to document derivation.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetCompany fetches one active company.
func (r *Repository) GetCompany(ctx context.Context, id int64) (Company, error) {
	var c Company
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, COALESCE(currency,''), COALESCE(incoterm,''),
		       COALESCE(consignee,''), COALESCE(notify_party,''),
		       COALESCE(final_destination,''), is_deleted
		FROM companies
		WHERE id = $1 AND is_deleted = FALSE`, id).
		Scan(&c.ID, &c.Name, &c.Currency, &c.Incoterm, &c.Consignee,
			&c.NotifyParty, &c.FinalDestination, &c.IsDeleted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Company{}, shared.ErrNotFound
		}
		return Company{}, err
	}
	return c, nil
}

// SitesByOrigin lists active sites for an origin code, newest first.
func (r *Repository) SitesByOrigin(ctx context.Context, origin string) ([]Site, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, company_id, origin_code, name, COALESCE(address,''),
		       COALESCE(sea_port_of_loading,''), COALESCE(air_port_of_loading,''),
		       exporter_of_record, is_default, updated_at
		FROM company_sites
		WHERE origin_code = $1 AND is_deleted = FALSE
		ORDER BY updated_at DESC, id DESC`, origin)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sites []Site
	for rows.Next() {
		var s Site
		if err := rows.Scan(&s.ID, &s.CompanyID, &s.OriginCode, &s.Name, &s.Address,
			&s.SeaPortOfLoading, &s.AirPortOfLoading, &s.ExporterOfRecord,
			&s.IsDefault, &s.UpdatedAt); err != nil {
			return nil, err
		}
		sites = append(sites, s)
	}
	return sites, rows.Err()
}
