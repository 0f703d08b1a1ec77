package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/meridian-exim/meridian-exim/internal/numbering"
	"github.com/meridian-exim/meridian-exim/internal/platform/db"
	"github.com/meridian-exim/meridian-exim/internal/shared"
)

// NumberSource allocates document numbers.
type NumberSource interface {
	Next(ctx context.Context, prefix string, legacy numbering.LegacySource) (string, error)
}

// Auditor records document mutations.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

var poLegacy = numbering.LegacySource{Table: "po_headers", Column: "po_no"}

// Service provides purchase order business logic.
type Service struct {
	repo     Repository
	numbers  NumberSource
	audit    Auditor
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the service.
func NewService(repo Repository, numbers NumberSource, audit Auditor, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		numbers:  numbers,
		audit:    audit,
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
	}
}

// Create stores a new purchase order with its lines.
func (s *Service) Create(ctx context.Context, req CreatePORequest, actorID int64) (*PurchaseOrder, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, shared.Validation(fmt.Sprintf("invalid purchase order: %v", err))
	}

	prefix := numbering.Prefix(numbering.FamilyPO, req.OriginCode, s.now())
	var poID int64
	createOnce := func() error {
		number, err := s.numbers.Next(ctx, prefix, poLegacy)
		if err != nil {
			return fmt.Errorf("allocate po number: %w", err)
		}
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			id, err := tx.CreateHeader(ctx, PurchaseOrder{
				PONo:             number,
				BuyerID:          req.BuyerID,
				OriginCode:       req.OriginCode,
				Currency:         req.Currency,
				Incoterm:         req.Incoterm,
				FinalDestination: req.FinalDestination,
				Status:           POStatusOpen,
			})
			if err != nil {
				return fmt.Errorf("create po header: %w", err)
			}
			poID = id
			lines := make([]POLine, 0, len(req.Lines))
			for _, l := range req.Lines {
				lines = append(lines, POLine{
					POID:        poID,
					Style:       l.Style,
					Description: l.Description,
					Color:       l.Color,
					Size:        l.Size,
					Qty:         l.Qty,
					UnitPrice:   l.UnitPrice,
				})
			}
			if err := tx.InsertLines(ctx, lines); err != nil {
				return fmt.Errorf("insert po lines: %w", err)
			}
			return nil
		})
	}

	err := createOnce()
	if db.IsUniqueViolation(err) {
		// Only the legacy-scan numbering path can collide; one fresh number
		// settles it.
		err = createOnce()
		if db.IsUniqueViolation(err) {
			return nil, shared.Conflict("duplicate purchase order number")
		}
	}
	if err != nil {
		return nil, err
	}

	po, err := s.repo.Get(ctx, poID, false)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actorID, "po.create", poID, map[string]any{"po_no": po.PONo})
	return po, nil
}

// Get fetches one purchase order.
func (s *Service) Get(ctx context.Context, id int64, includeDeleted bool) (*PurchaseOrder, error) {
	po, err := s.repo.Get(ctx, id, includeDeleted)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.NotFound(fmt.Sprintf("purchase order %d not found", id))
		}
		return nil, err
	}
	return po, nil
}

// List returns purchase orders with a total count.
func (s *Service) List(ctx context.Context, req ListPORequest) ([]PurchaseOrder, int, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	return s.repo.List(ctx, req)
}

// Delete soft-deletes the order, lines before header. It is blocked while an
// active shipment line still references any of the order's lines, and is a
// no-op on an already-deleted order.
func (s *Service) Delete(ctx context.Context, id int64, actorID int64) error {
	po, err := s.repo.Get(ctx, id, true)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.NotFound(fmt.Sprintf("purchase order %d not found", id))
		}
		return err
	}
	if po.IsDeleted {
		return nil
	}

	linked, err := s.repo.ActiveShipmentLineCount(ctx, id)
	if err != nil {
		return fmt.Errorf("count linked shipment lines: %w", err)
	}
	if linked > 0 {
		return shared.Conflict("purchase order has active shipment lines").
			WithField("po_id", id).
			WithField("active_shipment_lines", linked)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.SoftDeleteLines(ctx, id); err != nil {
			return fmt.Errorf("soft delete po lines: %w", err)
		}
		if err := tx.SoftDeleteHeader(ctx, id); err != nil {
			return fmt.Errorf("soft delete po header: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "po.delete", id, map[string]any{"po_no": po.PONo})
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "purchase_order",
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
	}); err != nil && s.logger != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
