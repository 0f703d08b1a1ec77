package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/meridian-exim/meridian-exim/internal/invoices"
	"github.com/meridian-exim/meridian-exim/internal/orders"
	"github.com/meridian-exim/meridian-exim/internal/packinglists"
	"github.com/meridian-exim/meridian-exim/internal/shipments"
	"github.com/meridian-exim/meridian-exim/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	OrderHandler       *orders.Handler
	ShipmentHandler    *shipments.Handler
	InvoiceHandler     *invoices.Handler
	PackingListHandler *packinglists.Handler
	JobHandler         *jobs.Handler
}

// NewRouter constructs the chi.Router with Meridian defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/orders", params.OrderHandler.MountRoutes)
	r.Route("/shipments", func(r chi.Router) {
		params.ShipmentHandler.MountRoutes(r)
		// Derivations hang off the source shipment.
		if params.InvoiceHandler != nil {
			params.InvoiceHandler.MountDeriveRoute(r)
		}
		if params.PackingListHandler != nil {
			params.PackingListHandler.MountDeriveRoute(r)
		}
	})
	if params.InvoiceHandler != nil {
		r.Route("/invoices", params.InvoiceHandler.MountRoutes)
	}
	if params.PackingListHandler != nil {
		r.Route("/packing-lists", params.PackingListHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	return r
}
