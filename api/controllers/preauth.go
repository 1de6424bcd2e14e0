package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/haldirect/settlement-backend/api/responses"
	"github.com/haldirect/settlement-backend/api/validators"
	"github.com/haldirect/settlement-backend/internal/settlement/card"
	pkgerrors "github.com/haldirect/settlement-backend/pkg/errors"
	"github.com/haldirect/settlement-backend/pkg/logger"
)

// PreAuthorizeOrder places (or returns) the card hold for an order. The call
// is idempotent; an existing active hold is returned as-is.
func PreAuthorizeOrder(orch *card.Orchestrator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if orch == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement orchestrator unavailable"))
			return
		}

		orderID, err := validators.ParsePathUUID(chi.URLParam(r, "orderId"), "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		hold, err := orch.EnsurePreAuthorization(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, hold)
	}
}
