package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/haldirect/settlement-backend/api/middleware"
	"github.com/haldirect/settlement-backend/api/responses"
	"github.com/haldirect/settlement-backend/api/validators"
	"github.com/haldirect/settlement-backend/internal/settlement/cash"
	pkgerrors "github.com/haldirect/settlement-backend/pkg/errors"
	"github.com/haldirect/settlement-backend/pkg/logger"
)

// CashDifference previews how much cash changes hands at the doorstep.
func CashDifference(svc cash.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cash settlement service unavailable"))
			return
		}

		orderID, err := validators.ParsePathUUID(chi.URLParam(r, "orderId"), "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		diff, err := svc.PreviewDifference(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, diff)
	}
}

type completeCashRequest struct {
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// CompleteCashSettlement records that the courier exchanged the difference in
// cash during handover.
func CompleteCashSettlement(svc cash.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cash settlement service unavailable"))
			return
		}

		orderID, err := validators.ParsePathUUID(chi.URLParam(r, "orderId"), "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req completeCashRequest
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		input := cash.CompleteInput{
			OrderID:   orderID,
			CourierID: middleware.ActorIDFromContext(r.Context()),
		}
		if req.CompletedAt != nil {
			input.CompletedAt = req.CompletedAt.UTC()
		}

		diff, err := svc.CompleteCashDifference(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, diff)
	}
}
