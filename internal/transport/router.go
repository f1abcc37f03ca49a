package transport

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/composer/internal/composer"
	"github.com/pitabwire/composer/internal/config"
	"github.com/pitabwire/composer/internal/observability"
	"github.com/pitabwire/composer/model"
)

// CatalogueSource serves application catalogues to the API.
type CatalogueSource interface {
	Metadata(ctx context.Context, appID int64) (*model.Catalogue, error)
	Applications() []model.Application
}

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config     *config.Config
	Logger     *zap.Logger
	Sessions   *composer.Manager
	Catalogues CatalogueSource
	Metrics    *observability.Metrics
	Readiness  observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// identity middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	// Public routes.
	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))
	if deps.Config.Observability.Metrics.Enabled {
		r.Handle(deps.Config.Observability.Metrics.Path, observability.Handler())
	}

	// API routes: tracing, identity, timeouts, logging, metrics.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(observability.TracingMiddleware)
		r.Use(BuildRequestContext)
		r.Use(RequireIdentity)
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}

		r.Get("/applications", handleListApplications(deps.Catalogues))
		r.Get("/applications/{appId}/catalogue", handleGetCatalogue(deps.Catalogues))

		r.Post("/sessions", handleOpenSession(deps.Sessions))
		r.Route("/sessions/{sessionId}", func(r chi.Router) {
			r.Get("/", handleGetSession(deps.Sessions))
			r.Delete("/", handleCloseSession(deps.Sessions))
			r.Post("/load", handleLoadSession(deps.Sessions))
			r.Get("/payload", handleGetPayload(deps.Sessions))
			r.Post("/save", handleSaveSession(deps.Sessions))

			r.Get("/tree", handleGetTree(deps.Sessions))
			r.Put("/tree/stages/{stageId}/expanded", handleSetExpanded(deps.Sessions))
			r.Post("/reorder", handleReorder(deps.Sessions))

			r.Put("/selection", handleSelect(deps.Sessions))
			r.Delete("/stages", handleRemoveStages(deps.Sessions))

			r.Get("/records", handleListRecords(deps.Sessions))
			r.Post("/records", handleAddRecord(deps.Sessions))
			r.Post("/records/bulk", handleBulkAdd(deps.Sessions))
			r.Get("/records/{key}", handleGetRecord(deps.Sessions))
			r.Patch("/records/{key}", handlePatchRecord(deps.Sessions))
			r.Delete("/records/{key}", handleRemoveRecord(deps.Sessions))
			r.Post("/records/{key}/duplicate", handleDuplicateRecord(deps.Sessions))
			r.Get("/records/{key}/dependencies", handleDependencyOptions(deps.Sessions))
			r.Put("/records/{key}/dependencies/{sequence}", handleSetDependency(deps.Sessions, true))
			r.Delete("/records/{key}/dependencies/{sequence}", handleSetDependency(deps.Sessions, false))
		})
	})

	return r
}
