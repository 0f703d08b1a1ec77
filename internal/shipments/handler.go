package shipments

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-exim/meridian-exim/internal/platform/httpx"
	"github.com/meridian-exim/meridian-exim/internal/shared"
)

// KeyStore guards create requests carrying an Idempotency-Key header.
type KeyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Handler serves shipment endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	gate    shared.GateMiddleware
	keys    KeyStore
}

// NewHandler builds a Handler. keys may be nil, which disables the
// Idempotency-Key check.
func NewHandler(logger *slog.Logger, service *Service, gate shared.GateMiddleware, keys KeyStore) *Handler {
	return &Handler{logger: logger, service: service, gate: gate, keys: keys}
}

// MountRoutes registers the /shipments routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{id}", h.get)

	r.Group(func(r chi.Router) {
		r.Use(h.gate.Require(shared.PermShipmentCreate))
		r.Post("/", h.create)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.gate.Require(shared.PermShipmentDelete))
		r.Delete("/{id}", h.delete)
	})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateShipmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey != "" && h.keys != nil {
		if err := h.keys.CheckAndInsert(r.Context(), idemKey, "shipments"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.Fail(w, http.StatusConflict, "request already processed", nil)
				return
			}
			httpx.RespondError(w, err)
			return
		}
	}

	created, err := h.service.CreateFromPO(r.Context(), req, actorID(r))
	if err != nil {
		if idemKey != "" && h.keys != nil {
			_ = h.keys.Delete(r.Context(), idemKey)
		}
		h.logger.Error("create shipments", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, map[string]any{"shipments": created})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, "invalid shipment id", nil)
		return
	}
	sh, err := h.service.Get(r.Context(), id, includeDeleted(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"shipment": sh})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	req := ListShipmentRequest{
		IncludeDeleted: includeDeleted(r),
		Limit:          queryInt(r, "limit", 20),
		Offset:         queryInt(r, "offset", 0),
	}
	if buyer := r.URL.Query().Get("buyer_id"); buyer != "" {
		if id, err := strconv.ParseInt(buyer, 10, 64); err == nil {
			req.BuyerID = &id
		}
	}
	out, total, err := h.service.List(r.Context(), req)
	if err != nil {
		h.logger.Error("list shipments", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"shipments": out, "total": total})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, "invalid shipment id", nil)
		return
	}
	if err := h.service.Delete(r.Context(), id, actorID(r)); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"deleted": id})
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func includeDeleted(r *http.Request) bool {
	v := r.URL.Query().Get("include_deleted")
	return v == "1" || v == "true"
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func actorID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	return id
}
