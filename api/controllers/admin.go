package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/haldirect/settlement-backend/api/middleware"
	"github.com/haldirect/settlement-backend/api/responses"
	"github.com/haldirect/settlement-backend/api/validators"
	"github.com/haldirect/settlement-backend/internal/arbitration"
	"github.com/haldirect/settlement-backend/internal/weighing"
	"github.com/haldirect/settlement-backend/pkg/enums"
	pkgerrors "github.com/haldirect/settlement-backend/pkg/errors"
	"github.com/haldirect/settlement-backend/pkg/logger"
	"github.com/haldirect/settlement-backend/pkg/pagination"
)

type decideRequest struct {
	Action             string  `json:"action" validate:"required,oneof=approve reject override waive"`
	AdjustedPriceCents *int64  `json:"adjusted_price_cents,omitempty" validate:"omitempty,min=0"`
	Note               *string `json:"note,omitempty" validate:"omitempty,max=1000"`
}

// DecideAdjustment applies an admin verdict to a disputed weight adjustment.
func DecideAdjustment(svc arbitration.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "arbitration service unavailable"))
			return
		}

		adjustmentID, err := validators.ParsePathUUID(chi.URLParam(r, "adjustmentId"), "adjustmentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req decideRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		action, err := enums.ParseArbitrationAction(req.Action)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid action"))
			return
		}

		adjustment, err := svc.Decide(r.Context(), arbitration.DecideInput{
			AdjustmentID:       adjustmentID,
			ReviewerID:         middleware.ActorIDFromContext(r.Context()),
			Action:             action,
			AdjustedPriceCents: req.AdjustedPriceCents,
			Note:               req.Note,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, adjustment)
	}
}

// ListPendingAdjustments pages through the arbitration queue.
func ListPendingAdjustments(svc arbitration.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "arbitration service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 0, 1, 200)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params := pagination.Params{Limit: limit}
		if cursor := validators.ParseQueryCursor(r, "cursor"); cursor != nil {
			params.Cursor = *cursor
		}

		filters := weighing.PendingReviewFilters{}
		orderID, err := validators.ParseQueryUUID(r, "order_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filters.OrderID = orderID

		if raw := r.URL.Query().Get("status"); raw != "" {
			status, err := enums.ParseAdjustmentStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
				return
			}
			filters.Status = &status
		}

		list, err := svc.ListPending(r.Context(), params, filters)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}
