package shipments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/meridian-exim/meridian-exim/internal/companies"
	"github.com/meridian-exim/meridian-exim/internal/numbering"
	"github.com/meridian-exim/meridian-exim/internal/platform/db"
	"github.com/meridian-exim/meridian-exim/internal/shared"
)

// NumberSource allocates document numbers.
type NumberSource interface {
	Next(ctx context.Context, prefix string, legacy numbering.LegacySource) (string, error)
}

// BuyerSource supplies buyer company defaults for the fallback chain.
type BuyerSource interface {
	BuyerDefaults(ctx context.Context, buyerID int64) (companies.Company, error)
}

// Auditor records document mutations.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

var shpLegacy = numbering.LegacySource{Table: "shipments", Column: "shipment_no"}

// Service derives shipments from purchase orders.
type Service struct {
	repo     Repository
	numbers  NumberSource
	buyers   BuyerSource
	audit    Auditor
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the service.
func NewService(repo Repository, numbers NumberSource, buyers BuyerSource, audit Auditor, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		numbers:  numbers,
		buyers:   buyers,
		audit:    audit,
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
	}
}

// CreateFromPO derives one shipment per ship mode present in the request.
// Quantities are checked against the PO budget under row locks, so two
// concurrent requests cannot jointly over-ship a line. Groups are created in
// a fixed SEA, AIR, COURIER order.
func (s *Service) CreateFromPO(ctx context.Context, req CreateShipmentRequest, actorID int64) ([]*ShipmentHeader, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, shared.Validation(fmt.Sprintf("invalid shipment request: %v", err))
	}
	groups, err := groupLines(req.Lines)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, shared.Validation("no lines with positive quantity")
	}

	pos, err := s.repo.POHeaders(ctx, req.POIDs)
	if err != nil {
		return nil, fmt.Errorf("load po headers: %w", err)
	}
	if missing := missingPOIDs(req.POIDs, pos); len(missing) > 0 {
		return nil, shared.NotFound("purchase order not found").WithField("po_ids", missing)
	}
	for _, po := range pos[1:] {
		if po.BuyerID != pos[0].BuyerID {
			return nil, shared.Validation("purchase orders belong to different buyers")
		}
		if po.OriginCode != pos[0].OriginCode {
			return nil, shared.Validation("purchase orders have different origin codes")
		}
	}

	buyer, err := s.buyers.BuyerDefaults(ctx, pos[0].BuyerID)
	if err != nil {
		return nil, err
	}
	terms := resolveTerms(req, pos, buyer)

	prefix := numbering.Prefix(numbering.FamilyShipment, pos[0].OriginCode, s.now())
	var createdIDs []int64
	createOnce := func() error {
		createdIDs = createdIDs[:0]
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			lineIDs := requestedLineIDs(groups)
			locked, err := tx.LockPOLines(ctx, lineIDs)
			if err != nil {
				return fmt.Errorf("lock po lines: %w", err)
			}
			byID, err := indexPOLines(locked, lineIDs, req.POIDs)
			if err != nil {
				return err
			}
			shipped, err := tx.SumShippedByPOLine(ctx, lineIDs)
			if err != nil {
				return fmt.Errorf("sum shipped quantities: %w", err)
			}
			if err := ValidateQuantities(budgets(locked, shipped), totalRequested(groups)); err != nil {
				return err
			}

			for _, mode := range groupOrder {
				reqLines, ok := groups[mode]
				if !ok {
					continue
				}
				number, err := s.numbers.Next(ctx, prefix, shpLegacy)
				if err != nil {
					return fmt.Errorf("allocate shipment number: %w", err)
				}
				id, err := tx.InsertHeader(ctx, ShipmentHeader{
					ShipmentNo:       number,
					BuyerID:          pos[0].BuyerID,
					OriginCode:       pos[0].OriginCode,
					ShipMode:         mode,
					Currency:         terms.currency,
					Incoterm:         terms.incoterm,
					FinalDestination: terms.destination,
					Status:           StatusOpen,
				})
				if err != nil {
					return fmt.Errorf("insert shipment header: %w", err)
				}
				lines := make([]ShipmentLine, 0, len(reqLines))
				for _, rl := range reqLines {
					src := byID[rl.POLineID]
					lines = append(lines, ShipmentLine{
						ShipmentID:  id,
						POLineID:    src.ID,
						PONo:        src.PONo,
						Style:       src.Style,
						Description: src.Description,
						Color:       src.Color,
						Size:        src.Size,
						ShippedQty:  rl.Qty,
						UnitPrice:   src.UnitPrice,
						Amount:      rl.Qty * src.UnitPrice,
					})
				}
				if err := tx.InsertLines(ctx, lines); err != nil {
					return fmt.Errorf("insert shipment lines: %w", err)
				}
				createdIDs = append(createdIDs, id)
			}
			return nil
		})
	}

	err = createOnce()
	if db.IsUniqueViolation(err) {
		err = createOnce()
		if db.IsUniqueViolation(err) {
			return nil, shared.Conflict("duplicate shipment number")
		}
	}
	if err != nil {
		return nil, err
	}

	out := make([]*ShipmentHeader, 0, len(createdIDs))
	for _, id := range createdIDs {
		h, err := s.repo.Get(ctx, id, false)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	for _, h := range out {
		s.recordAudit(ctx, actorID, "shipment.create", h.ID, map[string]any{
			"shipment_no": h.ShipmentNo,
			"ship_mode":   h.ShipMode,
		})
	}
	return out, nil
}

// Get fetches one shipment.
func (s *Service) Get(ctx context.Context, id int64, includeDeleted bool) (*ShipmentHeader, error) {
	h, err := s.repo.Get(ctx, id, includeDeleted)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.NotFound(fmt.Sprintf("shipment %d not found", id))
		}
		return nil, err
	}
	return h, nil
}

// List returns shipments with a total count.
func (s *Service) List(ctx context.Context, req ListShipmentRequest) ([]ShipmentHeader, int, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	return s.repo.List(ctx, req)
}

// Delete soft-deletes the shipment, lines before header. Blocked while an
// active invoice still references it. No-op on an already-deleted shipment.
func (s *Service) Delete(ctx context.Context, id int64, actorID int64) error {
	h, err := s.repo.Get(ctx, id, true)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.NotFound(fmt.Sprintf("shipment %d not found", id))
		}
		return err
	}
	if h.IsDeleted {
		return nil
	}

	linked, err := s.repo.ActiveInvoiceCount(ctx, id)
	if err != nil {
		return fmt.Errorf("count linked invoices: %w", err)
	}
	if linked > 0 {
		return shared.Conflict("shipment has active invoices").
			WithField("shipment_id", id).
			WithField("active_invoices", linked)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.SoftDeleteLines(ctx, id); err != nil {
			return fmt.Errorf("soft delete shipment lines: %w", err)
		}
		if err := tx.SoftDeleteHeader(ctx, id); err != nil {
			return fmt.Errorf("soft delete shipment header: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "shipment.delete", id, map[string]any{"shipment_no": h.ShipmentNo})
	return nil
}

type tradeTerms struct {
	currency    string
	incoterm    string
	destination string
}

// resolveTerms walks the fallback chain per field: request value, then the
// first PO header carrying one, then the buyer company default.
func resolveTerms(req CreateShipmentRequest, pos []POHeader, buyer companies.Company) tradeTerms {
	t := tradeTerms{
		currency:    req.Currency,
		incoterm:    req.Incoterm,
		destination: req.FinalDestination,
	}
	for _, po := range pos {
		if t.currency == "" {
			t.currency = po.Currency
		}
		if t.incoterm == "" {
			t.incoterm = po.Incoterm
		}
		if t.destination == "" {
			t.destination = po.FinalDestination
		}
	}
	if t.currency == "" {
		t.currency = buyer.Currency
	}
	if t.incoterm == "" {
		t.incoterm = buyer.Incoterm
	}
	if t.destination == "" {
		t.destination = buyer.FinalDestination
	}
	return t
}

// groupLines drops non-positive quantities and groups the rest by ship mode.
func groupLines(lines []CreateShipmentLineReq) (map[ShipMode][]CreateShipmentLineReq, error) {
	groups := make(map[ShipMode][]CreateShipmentLineReq)
	for _, l := range lines {
		if !l.ShipMode.IsValid() {
			return nil, shared.Validation(fmt.Sprintf("unknown ship mode %q", l.ShipMode)).
				WithField("po_line_id", l.POLineID)
		}
		if l.Qty <= 0 {
			continue
		}
		groups[l.ShipMode] = append(groups[l.ShipMode], l)
	}
	return groups, nil
}

func requestedLineIDs(groups map[ShipMode][]CreateShipmentLineReq) []int64 {
	seen := make(map[int64]bool)
	var ids []int64
	for _, mode := range groupOrder {
		for _, l := range groups[mode] {
			if !seen[l.POLineID] {
				seen[l.POLineID] = true
				ids = append(ids, l.POLineID)
			}
		}
	}
	return ids
}

func totalRequested(groups map[ShipMode][]CreateShipmentLineReq) map[int64]float64 {
	totals := make(map[int64]float64)
	for _, lines := range groups {
		for _, l := range lines {
			totals[l.POLineID] += l.Qty
		}
	}
	return totals
}

func budgets(locked []POLine, shipped map[int64]float64) map[int64]LineBudget {
	out := make(map[int64]LineBudget, len(locked))
	for _, l := range locked {
		out[l.ID] = LineBudget{
			POLineID:       l.ID,
			OrderedQty:     l.Qty,
			CancelledQty:   l.QtyCancelled,
			AlreadyShipped: shipped[l.ID],
		}
	}
	return out
}

// indexPOLines verifies every requested line was found under lock and
// belongs to one of the requested purchase orders.
func indexPOLines(locked []POLine, requested []int64, poIDs []int64) (map[int64]POLine, error) {
	allowed := make(map[int64]bool, len(poIDs))
	for _, id := range poIDs {
		allowed[id] = true
	}
	byID := make(map[int64]POLine, len(locked))
	for _, l := range locked {
		if !allowed[l.POID] {
			return nil, shared.Validation("po line does not belong to a requested purchase order").
				WithField("po_line_id", l.ID)
		}
		byID[l.ID] = l
	}
	for _, id := range requested {
		if _, ok := byID[id]; !ok {
			return nil, shared.NotFound("po line not found").WithField("po_line_id", id)
		}
	}
	return byID, nil
}

func missingPOIDs(requested []int64, found []POHeader) []int64 {
	have := make(map[int64]bool, len(found))
	for _, po := range found {
		have[po.ID] = true
	}
	var missing []int64
	for _, id := range requested {
		if !have[id] {
			missing = append(missing, id)
		}
	}
	return missing
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "shipment",
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
	}); err != nil && s.logger != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
