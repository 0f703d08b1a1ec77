package shared

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// Document permissions consulted before mutating routes.
const (
	PermOrderCreate = "orders.create"
	PermOrderDelete = "orders.delete"

	PermShipmentCreate = "shipments.create"
	PermShipmentDelete = "shipments.delete"

	PermInvoiceCreate  = "invoices.create"
	PermInvoiceConfirm = "invoices.confirm"
	PermInvoiceEdit    = "invoices.edit"

	PermPackingListCreate = "packinglists.create"
	PermPackingListEdit   = "packinglists.edit"
)

// Denial is an opaque deny response supplied by the authorization
// collaborator. It is returned to the client unchanged.
type Denial struct {
	Status int
	Body   map[string]any
}

// PermissionGate is the external allow/deny check. A nil result allows the
// request; a non-nil Denial short-circuits it.
type PermissionGate interface {
	Check(ctx context.Context, key string) *Denial
}

// AllowAllGate permits everything. Used when no collaborator is wired.
type AllowAllGate struct{}

// Check always allows.
func (AllowAllGate) Check(context.Context, string) *Denial { return nil }

// GateMiddleware enforces a PermissionGate on a route group.
type GateMiddleware struct {
	Gate   PermissionGate
	Logger *slog.Logger
}

// Require consults the gate for key and writes the denial unchanged when the
// check fails.
func (m GateMiddleware) Require(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.Gate == nil {
				next.ServeHTTP(w, r)
				return
			}
			denial := m.Gate.Check(r.Context(), key)
			if denial == nil {
				next.ServeHTTP(w, r)
				return
			}
			if m.Logger != nil {
				m.Logger.Warn("permission denied", slog.String("permission", key), slog.String("path", r.URL.Path))
			}
			status := denial.Status
			if status == 0 {
				status = http.StatusForbidden
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			body := denial.Body
			if body == nil {
				body = map[string]any{"success": false, "error": "forbidden"}
			}
			_ = json.NewEncoder(w).Encode(body)
		})
	}
}
