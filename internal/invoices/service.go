package invoices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-exim/meridian-exim/internal/companies"
	"github.com/meridian-exim/meridian-exim/internal/numbering"
	"github.com/meridian-exim/meridian-exim/internal/platform/db"
	"github.com/meridian-exim/meridian-exim/internal/shared"
	"github.com/meridian-exim/meridian-exim/internal/shipments"
)

// ShipmentSource reads the shipment an invoice is derived from.
type ShipmentSource interface {
	Get(ctx context.Context, id int64, includeDeleted bool) (*shipments.ShipmentHeader, error)
}

// SiteSource resolves the shipper site for an origin code.
type SiteSource interface {
	ResolveShipperSite(ctx context.Context, origin string) (companies.Site, error)
}

// NumberSource allocates document numbers.
type NumberSource interface {
	Next(ctx context.Context, prefix string, legacy numbering.LegacySource) (string, error)
}

// Auditor records document mutations.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

var invLegacy = numbering.LegacySource{Table: "invoice_headers", Column: "invoice_no"}

// Service derives and manages commercial invoices.
type Service struct {
	repo      Repository
	shipments ShipmentSource
	sites     SiteSource
	numbers   NumberSource
	audit     Auditor
	validate  *validator.Validate
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the service.
func NewService(repo Repository, ships ShipmentSource, sites SiteSource, numbers NumberSource, audit Auditor, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		shipments: ships,
		sites:     sites,
		numbers:   numbers,
		audit:     audit,
		validate:  validator.New(),
		logger:    logger,
		now:       time.Now,
	}
}

// CreateFromShipment derives the invoice for a shipment. When an active
// latest invoice already exists the call returns it unchanged with
// AlreadyExists set, so retries never duplicate. A failure after the header
// was written surfaces created_invoice_id and derivation_id so the caller
// can clean up or resume.
func (s *Service) CreateFromShipment(ctx context.Context, shipmentID int64, actorID int64) (*DeriveResult, error) {
	derivationID := uuid.NewString()

	sh, err := s.shipments.Get(ctx, shipmentID, false)
	if err != nil {
		return nil, err
	}

	if existing, err := s.repo.ActiveLatestByShipment(ctx, shipmentID); err == nil {
		return &DeriveResult{Invoice: existing, AlreadyExists: true, DerivationID: derivationID}, nil
	} else if !errors.Is(err, shared.ErrNotFound) {
		return nil, fmt.Errorf("check existing invoice: %w", err)
	}

	inv := Invoice{
		ShipmentID:       sh.ID,
		ShipmentNo:       sh.ShipmentNo,
		BuyerID:          sh.BuyerID,
		OriginCode:       sh.OriginCode,
		ShipMode:         string(sh.ShipMode),
		Currency:         sh.Currency,
		Incoterm:         sh.Incoterm,
		FinalDestination: sh.FinalDestination,
		Status:           StatusDraft,
	}
	site, err := s.sites.ResolveShipperSite(ctx, sh.OriginCode)
	switch {
	case err == nil:
		inv.ShipperName = site.Name
		inv.ShipperAddress = site.Address
		inv.PortOfLoading = site.PortOfLoading(string(sh.ShipMode))
	case shared.KindOf(err) == shared.KindNotFound:
		// Shipper details stay empty and can be patched in later.
		s.logger.Warn("no shipper site for origin",
			slog.String("origin", sh.OriginCode),
			slog.String("derivation_id", derivationID))
	default:
		return nil, err
	}

	prefix := numbering.Prefix(numbering.FamilyInvoice, sh.OriginCode, s.now())
	var invoiceID int64
	insertOnce := func() error {
		number, err := s.numbers.Next(ctx, prefix, invLegacy)
		if err != nil {
			return fmt.Errorf("allocate invoice number: %w", err)
		}
		inv.InvoiceNo = number
		invoiceID, err = s.repo.InsertHeader(ctx, inv)
		return err
	}
	err = insertOnce()
	if db.IsUniqueViolation(err) {
		err = insertOnce()
		if db.IsUniqueViolation(err) {
			return nil, shared.Conflict("duplicate invoice number")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("insert invoice header: %w", err)
	}

	lines := make([]InvoiceLine, 0, len(sh.Lines))
	for _, sl := range sh.Lines {
		lines = append(lines, InvoiceLine{
			InvoiceID:      invoiceID,
			ShipmentLineID: sl.ID,
			PONo:           sl.PONo,
			Style:          sl.Style,
			Description:    sl.Description,
			Color:          sl.Color,
			Size:           sl.Size,
			Qty:            sl.ShippedQty,
			UnitPrice:      sl.UnitPrice,
			Amount:         sl.Amount,
		})
	}
	if err := s.repo.InsertLines(ctx, lines); err != nil {
		return nil, shared.Unknown("invoice derivation incomplete", err).
			WithField("created_invoice_id", invoiceID).
			WithField("derivation_id", derivationID)
	}

	created, err := s.repo.Get(ctx, invoiceID, false)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actorID, "invoice.create", invoiceID, map[string]any{
		"invoice_no":    created.InvoiceNo,
		"shipment_id":   shipmentID,
		"derivation_id": derivationID,
	})
	return &DeriveResult{Invoice: created, DerivationID: derivationID}, nil
}

// Get fetches one invoice.
func (s *Service) Get(ctx context.Context, id int64, includeDeleted bool) (*Invoice, error) {
	inv, err := s.repo.Get(ctx, id, includeDeleted)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.NotFound(fmt.Sprintf("invoice %d not found", id))
		}
		return nil, err
	}
	return inv, nil
}

// Confirm moves a draft invoice to CONFIRMED. Confirming an already
// confirmed invoice is a no-op.
func (s *Service) Confirm(ctx context.Context, id int64, actorID int64) (*Invoice, error) {
	inv, err := s.Get(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if inv.Status == StatusConfirmed {
		return inv, nil
	}
	if err := s.repo.SetStatus(ctx, id, StatusConfirmed); err != nil {
		return nil, fmt.Errorf("confirm invoice: %w", err)
	}
	s.recordAudit(ctx, actorID, "invoice.confirm", id, map[string]any{"invoice_no": inv.InvoiceNo})
	return s.Get(ctx, id, false)
}

// Update patches header fields of a draft invoice. Confirmed invoices
// reject edits.
func (s *Service) Update(ctx context.Context, id int64, req UpdateInvoiceRequest, actorID int64) (*Invoice, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, shared.Validation(fmt.Sprintf("invalid invoice update: %v", err))
	}
	inv, err := s.Get(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if inv.Status == StatusConfirmed {
		return nil, shared.Conflict("invoice is confirmed and cannot be edited").
			WithField("invoice_id", id)
	}

	patch := map[string]any{}
	setIf(patch, "currency", req.Currency)
	setIf(patch, "incoterm", req.Incoterm)
	setIf(patch, "final_destination", req.FinalDestination)
	setIf(patch, "shipper_name", req.ShipperName)
	setIf(patch, "shipper_address", req.ShipperAddress)
	setIf(patch, "port_of_loading", req.PortOfLoading)
	setIf(patch, "consignee", req.Consignee)
	setIf(patch, "notify_party", req.NotifyParty)
	if len(patch) == 0 {
		return inv, nil
	}
	if err := s.repo.UpdateHeader(ctx, id, patch); err != nil {
		return nil, fmt.Errorf("update invoice: %w", err)
	}
	s.recordAudit(ctx, actorID, "invoice.update", id, map[string]any{"invoice_no": inv.InvoiceNo})
	return s.Get(ctx, id, false)
}

// Delete soft-deletes the invoice, lines before header. Blocked while an
// active packing list still references it. No-op when already deleted.
func (s *Service) Delete(ctx context.Context, id int64, actorID int64) error {
	inv, err := s.repo.Get(ctx, id, true)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.NotFound(fmt.Sprintf("invoice %d not found", id))
		}
		return err
	}
	if inv.IsDeleted {
		return nil
	}

	linked, err := s.repo.ActivePackingListCount(ctx, id)
	if err != nil {
		return fmt.Errorf("count linked packing lists: %w", err)
	}
	if linked > 0 {
		return shared.Conflict("invoice has active packing lists").
			WithField("invoice_id", id).
			WithField("active_packing_lists", linked)
	}
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "invoice.delete", id, map[string]any{"invoice_no": inv.InvoiceNo})
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
		Entity:   "invoice",
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
	}); err != nil && s.logger != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
