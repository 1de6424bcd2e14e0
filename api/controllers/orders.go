package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/haldirect/settlement-backend/api/responses"
	"github.com/haldirect/settlement-backend/api/validators"
	"github.com/haldirect/settlement-backend/internal/orders"
	pkgerrors "github.com/haldirect/settlement-backend/pkg/errors"
	"github.com/haldirect/settlement-backend/pkg/logger"
)

// WeightSummary returns the estimated-versus-actual picture for one order.
func WeightSummary(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := validators.ParsePathUUID(chi.URLParam(r, "orderId"), "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		summary, err := svc.GetWeightSummary(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

// CourierPerformance aggregates weighing accuracy per courier for the ops
// dashboard.
func CourierPerformance(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		filters := orders.CourierPerformanceFilters{}
		courierID, err := validators.ParseQueryUUID(r, "courier_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filters.CourierID = courierID

		since, err := validators.ParseQueryTime(r, "since")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filters.Since = since

		until, err := validators.ParseQueryTime(r, "until")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filters.Until = until

		rows, err := svc.CourierPerformance(r.Context(), filters)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rows)
	}
}
