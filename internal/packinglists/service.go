package packinglists

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-exim/meridian-exim/internal/numbering"
	"github.com/meridian-exim/meridian-exim/internal/platform/db"
	"github.com/meridian-exim/meridian-exim/internal/shared"
	"github.com/meridian-exim/meridian-exim/internal/shipments"
)

// ShipmentSource reads the shipment a packing list is derived from.
type ShipmentSource interface {
	Get(ctx context.Context, id int64, includeDeleted bool) (*shipments.ShipmentHeader, error)
}

// NumberSource allocates document numbers.
type NumberSource interface {
	Next(ctx context.Context, prefix string, legacy numbering.LegacySource) (string, error)
}

// Auditor records document mutations.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

var pklLegacy = numbering.LegacySource{Table: "packing_list_headers", Column: "packing_list_no"}

// countryNames maps origin codes to the country-of-origin text printed on
// the document.
var countryNames = map[string]string{
	"BD": "BANGLADESH",
	"CN": "CHINA",
	"IN": "INDIA",
	"KH": "CAMBODIA",
	"LK": "SRI LANKA",
	"PK": "PAKISTAN",
	"TR": "TURKIYE",
	"VN": "VIETNAM",
}

// Service derives and manages packing lists.
type Service struct {
	repo      Repository
	shipments ShipmentSource
	numbers   NumberSource
	resolver  *Resolver
	audit     Auditor
	validate  *validator.Validate
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the service.
func NewService(repo Repository, ships ShipmentSource, numbers NumberSource, resolver *Resolver, audit Auditor, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		shipments: ships,
		numbers:   numbers,
		resolver:  resolver,
		audit:     audit,
		validate:  validator.New(),
		logger:    logger,
		now:       time.Now,
	}
}

// CreateFromShipment derives the packing list for a shipment. When an
// active packing list already exists the call hydrates it (a null number is
// allocated before returning) and reports AlreadyExists. Party fields are
// seeded from the shipment's active invoice when one exists.
func (s *Service) CreateFromShipment(ctx context.Context, shipmentID int64, actorID int64) (*DeriveResult, error) {
	derivationID := uuid.NewString()

	sh, err := s.shipments.Get(ctx, shipmentID, false)
	if err != nil {
		return nil, err
	}

	if existing, err := s.repo.ActiveByShipment(ctx, shipmentID); err == nil {
		s.hydrate(ctx, existing)
		return &DeriveResult{PackingList: existing, AlreadyExists: true, DerivationID: derivationID}, nil
	} else if !errors.Is(err, shared.ErrNotFound) {
		return nil, fmt.Errorf("check existing packing list: %w", err)
	}

	pl := PackingList{
		ShipmentID:      sh.ID,
		ShipmentNo:      sh.ShipmentNo,
		OriginCode:      sh.OriginCode,
		CountryOfOrigin: countryNames[sh.OriginCode],
	}
	inv, err := s.repo.ActiveInvoice(ctx, shipmentID)
	switch {
	case err == nil:
		pl.InvoiceID = &inv.ID
		pl.InvoiceNo = inv.InvoiceNo
		pl.ShipperName = inv.ShipperName
		pl.ShipperAddress = inv.ShipperAddress
		pl.Consignee = inv.Consignee
		pl.NotifyParty = inv.NotifyParty
	case errors.Is(err, shared.ErrNotFound):
		// Derivable without an invoice. Hydration fills the party fields
		// once one exists.
	default:
		return nil, fmt.Errorf("load active invoice: %w", err)
	}

	prefix := numbering.Prefix(numbering.FamilyPackingList, sh.OriginCode, s.now())
	var plID int64
	insertOnce := func() error {
		number, err := s.numbers.Next(ctx, prefix, pklLegacy)
		if err != nil {
			return fmt.Errorf("allocate packing list number: %w", err)
		}
		pl.PackingListNo = &number
		plID, err = s.repo.InsertHeader(ctx, pl)
		return err
	}
	err = insertOnce()
	if db.IsUniqueViolation(err) {
		err = insertOnce()
		if db.IsUniqueViolation(err) {
			return nil, shared.Conflict("duplicate packing list number")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("insert packing list header: %w", err)
	}

	lines := make([]PackingListLine, 0, len(sh.Lines))
	for _, sl := range sh.Lines {
		lines = append(lines, PackingListLine{
			PackingListID:  plID,
			ShipmentLineID: sl.ID,
			PONo:           sl.PONo,
			Style:          sl.Style,
			Description:    sl.Description,
			Color:          sl.Color,
			Size:           sl.Size,
			Qty:            sl.ShippedQty,
		})
	}
	if err := s.repo.InsertLines(ctx, lines); err != nil {
		return nil, shared.Unknown("packing list derivation incomplete", err).
			WithField("created_packing_list_id", plID).
			WithField("derivation_id", derivationID)
	}

	created, err := s.repo.Get(ctx, plID, false)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actorID, "packinglist.create", plID, map[string]any{
		"shipment_id":   shipmentID,
		"derivation_id": derivationID,
	})
	return &DeriveResult{PackingList: created, DerivationID: derivationID}, nil
}

// Resolve finds a packing list by an opaque reference and hydrates it.
func (s *Service) Resolve(ctx context.Context, ref string) (*PackingList, MatchPath, error) {
	pl, path, err := s.resolver.Resolve(ctx, ref)
	if err != nil {
		return nil, "", err
	}
	s.hydrate(ctx, pl)
	return pl, path, nil
}

// Get fetches one packing list by id and hydrates it.
func (s *Service) Get(ctx context.Context, id int64) (*PackingList, error) {
	pl, err := s.repo.Get(ctx, id, false)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.NotFound(fmt.Sprintf("packing list %d not found", id))
		}
		return nil, err
	}
	s.hydrate(ctx, pl)
	return pl, nil
}

// hydrate repairs legacy gaps on read: a missing number gets allocated and
// empty party fields are copied from the linked invoice. Repairs persist,
// so each row is fixed at most once. Best effort, the read never fails on a
// repair error.
func (s *Service) hydrate(ctx context.Context, pl *PackingList) {
	if pl.PackingListNo == nil {
		s.backfillNumber(ctx, pl)
	}

	if pl.ShipperName != "" && pl.Consignee != "" && pl.NotifyParty != "" {
		return
	}
	inv, err := s.repo.ActiveInvoice(ctx, pl.ShipmentID)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			s.logger.Warn("hydration invoice load failed",
				slog.Int64("packing_list_id", pl.ID), slog.Any("error", err))
		}
		return
	}
	patch := map[string]any{}
	if pl.ShipperName == "" && inv.ShipperName != "" {
		pl.ShipperName = inv.ShipperName
		patch["shipper_name"] = inv.ShipperName
	}
	if pl.ShipperAddress == "" && inv.ShipperAddress != "" {
		pl.ShipperAddress = inv.ShipperAddress
		patch["shipper_address"] = inv.ShipperAddress
	}
	if pl.Consignee == "" && inv.Consignee != "" {
		pl.Consignee = inv.Consignee
		patch["consignee"] = inv.Consignee
	}
	if pl.NotifyParty == "" && inv.NotifyParty != "" {
		pl.NotifyParty = inv.NotifyParty
		patch["notify_party"] = inv.NotifyParty
	}
	if pl.InvoiceID == nil {
		pl.InvoiceID = &inv.ID
		pl.InvoiceNo = inv.InvoiceNo
		patch["invoice_id"] = inv.ID
		patch["invoice_no"] = inv.InvoiceNo
	}
	if len(patch) == 0 {
		return
	}
	if err := s.repo.UpdateHeader(ctx, pl.ID, patch); err != nil {
		s.logger.Warn("hydration persist failed",
			slog.Int64("packing_list_id", pl.ID), slog.Any("error", err))
	}
}

func (s *Service) backfillNumber(ctx context.Context, pl *PackingList) {
	prefix := numbering.Prefix(numbering.FamilyPackingList, pl.OriginCode, pl.CreatedAt)
	number, err := s.numbers.Next(ctx, prefix, pklLegacy)
	if err != nil {
		s.logger.Warn("number backfill failed",
			slog.Int64("packing_list_id", pl.ID), slog.Any("error", err))
		return
	}
	if err := s.repo.UpdateHeader(ctx, pl.ID, map[string]any{"packing_list_no": number}); err != nil {
		s.logger.Warn("number backfill persist failed",
			slog.Int64("packing_list_id", pl.ID), slog.Any("error", err))
		return
	}
	pl.PackingListNo = &number
}

// BackfillMissingNumbers assigns numbers to legacy rows in batches. Returns
// how many rows were repaired.
func (s *Service) BackfillMissingNumbers(ctx context.Context) (int, error) {
	const batchSize = 100
	repaired := 0
	for {
		ids, err := s.repo.MissingNumberIDs(ctx, batchSize)
		if err != nil {
			return repaired, fmt.Errorf("list unnumbered packing lists: %w", err)
		}
		if len(ids) == 0 {
			return repaired, nil
		}
		for _, id := range ids {
			pl, err := s.repo.Get(ctx, id, false)
			if err != nil {
				if errors.Is(err, shared.ErrNotFound) {
					continue
				}
				return repaired, err
			}
			before := pl.PackingListNo
			s.backfillNumber(ctx, pl)
			if pl.PackingListNo == nil || pl.PackingListNo == before {
				// Allocation failed, stop instead of spinning on the row.
				return repaired, fmt.Errorf("backfill stalled on packing list %d", id)
			}
			repaired++
		}
		if len(ids) < batchSize {
			return repaired, nil
		}
	}
}

// Update patches header fields.
func (s *Service) Update(ctx context.Context, id int64, req UpdatePackingListRequest, actorID int64) (*PackingList, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, shared.Validation(fmt.Sprintf("invalid packing list update: %v", err))
	}
	pl, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	patch := map[string]any{}
	setIf(patch, "shipper_name", req.ShipperName)
	setIf(patch, "shipper_address", req.ShipperAddress)
	setIf(patch, "consignee", req.Consignee)
	setIf(patch, "notify_party", req.NotifyParty)
	setIf(patch, "country_of_origin", req.CountryOfOrigin)
	if len(patch) == 0 {
		return pl, nil
	}
	if err := s.repo.UpdateHeader(ctx, id, patch); err != nil {
		return nil, fmt.Errorf("update packing list: %w", err)
	}
	s.recordAudit(ctx, actorID, "packinglist.update", id, nil)
	return s.Get(ctx, id)
}

// Delete soft-deletes the packing list, lines before header, and drops its
// resolver cache entries. No-op when already deleted.
func (s *Service) Delete(ctx context.Context, id int64, actorID int64) error {
	pl, err := s.repo.Get(ctx, id, true)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.NotFound(fmt.Sprintf("packing list %d not found", id))
		}
		return err
	}
	if pl.IsDeleted {
		return nil
	}
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return err
	}
	if s.resolver != nil {
		s.resolver.Invalidate(ctx, pl)
	}
	s.recordAudit(ctx, actorID, "packinglist.delete", id, nil)
	return nil
}

func setIf(patch map[string]any, column string, value *string) {
	if value != nil {
		patch[column] = *value
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "packing_list",
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
	}); err != nil && s.logger != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
