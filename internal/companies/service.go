package companies

import (
	"context"
	"errors"
	"fmt"

	"github.com/meridian-exim/meridian-exim/internal/shared"
)

// Reader is the read surface consumed by the derivation services.
type Reader interface {
	GetCompany(ctx context.Context, id int64) (Company, error)
	SitesByOrigin(ctx context.Context, origin string) ([]Site, error)
}

// Service exposes buyer defaults and shipper site resolution.
type Service struct {
	repo Reader
}

// NewService constructs a Service.
func NewService(repo Reader) *Service {
	return &Service{repo: repo}
}

// BuyerDefaults returns the buyer company used as the last link of the
// derivation fallback chain.
func (s *Service) BuyerDefaults(ctx context.Context, buyerID int64) (Company, error) {
	c, err := s.repo.GetCompany(ctx, buyerID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Company{}, shared.NotFound(fmt.Sprintf("buyer company %d not found", buyerID))
		}
		return Company{}, fmt.Errorf("buyer defaults: %w", err)
	}
	return c, nil
}

// ResolveShipperSite picks the shipper site for an origin code.
func (s *Service) ResolveShipperSite(ctx context.Context, origin string) (Site, error) {
	sites, err := s.repo.SitesByOrigin(ctx, origin)
	if err != nil {
		return Site{}, fmt.Errorf("sites for origin %s: %w", origin, err)
	}
	site, ok := SelectShipperSite(sites)
	if !ok {
		return Site{}, shared.NotFound(fmt.Sprintf("no shipper site for origin %s", origin))
	}
	return site, nil
}
