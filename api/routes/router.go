package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haldirect/settlement-backend/api/controllers"
	webhookcontrollers "github.com/haldirect/settlement-backend/api/controllers/webhooks"
	"github.com/haldirect/settlement-backend/api/middleware"
	"github.com/haldirect/settlement-backend/internal/arbitration"
	"github.com/haldirect/settlement-backend/internal/intake"
	"github.com/haldirect/settlement-backend/internal/orders"
	"github.com/haldirect/settlement-backend/internal/settlement/card"
	"github.com/haldirect/settlement-backend/internal/settlement/cash"
	"github.com/haldirect/settlement-backend/internal/weighing"
	"github.com/haldirect/settlement-backend/pkg/config"
	"github.com/haldirect/settlement-backend/pkg/enums"
	"github.com/haldirect/settlement-backend/pkg/logger"
	"github.com/haldirect/settlement-backend/pkg/redis"
	"github.com/haldirect/settlement-backend/pkg/square"
)

// RouterParams bundles what the API surface needs.
type RouterParams struct {
	Config       *config.Config
	Logger       *logger.Logger
	Redis        *redis.Client
	SquareClient *square.Client
	Orchestrator *card.Orchestrator
	Intake       intake.Service
	Weighing     weighing.Service
	Orders       orders.Service
	Cash         cash.Service
	Arbitration  arbitration.Service
	ReadyProbes  map[string]controllers.HealthPinger
	Metrics      prometheus.Gatherer
}

// NewRouter assembles the HTTP API.
func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, params.ReadyProbes))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(params.Metrics, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/square", webhookcontrollers.SquareWebhook(params.Orchestrator, params.SquareClient, params.Redis, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleCourier, enums.ActorRoleDevice))
			r.Post("/weight-reports", controllers.ReportWeights(params.Intake, logg))
			r.Get("/order-lines/{lineId}/weight-preview", controllers.PreviewWeight(params.Weighing, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleCourier, enums.ActorRoleAdmin))
			r.Get("/orders/{orderId}/weight-summary", controllers.WeightSummary(params.Orders, logg))
			r.Get("/orders/{orderId}/cash-difference", controllers.CashDifference(params.Cash, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleCourier))
			r.Post("/orders/{orderId}/cash-settlement", controllers.CompleteCashSettlement(params.Cash, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleDevice, enums.ActorRoleAdmin))
			r.Post("/orders/{orderId}/pre-authorization", controllers.PreAuthorizeOrder(params.Orchestrator, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.ActorRoleAdmin))

		r.Get("/adjustments", controllers.ListPendingAdjustments(params.Arbitration, logg))
		r.Post("/adjustments/{adjustmentId}/decision", controllers.DecideAdjustment(params.Arbitration, logg))
		r.Get("/courier-performance", controllers.CourierPerformance(params.Orders, logg))
	})

	return r
}
