package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/haldirect/settlement-backend/api/middleware"
	"github.com/haldirect/settlement-backend/api/responses"
	"github.com/haldirect/settlement-backend/api/validators"
	"github.com/haldirect/settlement-backend/internal/intake"
	"github.com/haldirect/settlement-backend/internal/weighing"
	"github.com/haldirect/settlement-backend/pkg/enums"
	pkgerrors "github.com/haldirect/settlement-backend/pkg/errors"
	"github.com/haldirect/settlement-backend/pkg/logger"
)

type weightReportLine struct {
	OrderLineID       uuid.UUID `json:"order_line_id" validate:"required"`
	ActualWeightGrams int64     `json:"actual_weight_grams" validate:"required,gt=0"`
}

type weightReportRequest struct {
	ExternalEventID string             `json:"external_event_id" validate:"required,max=255"`
	Source          string             `json:"source" validate:"required,oneof=courier_app scale_device"`
	ReportedAt      *time.Time         `json:"reported_at,omitempty"`
	Lines           []weightReportLine `json:"lines" validate:"required,min=1,max=100,dive"`
}

// ReportWeights ingests a batch of confirmed weights from a courier app or a
// scale device. Replays of the same external event id are acknowledged
// without being re-applied.
func ReportWeights(svc intake.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "intake service unavailable"))
			return
		}

		var req weightReportRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		source, err := enums.ParseWeightReportSource(req.Source)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid source"))
			return
		}

		reportedAt := time.Now().UTC()
		if req.ReportedAt != nil {
			reportedAt = req.ReportedAt.UTC()
		}

		report := intake.WeightReport{
			ExternalEventID: req.ExternalEventID,
			Source:          source,
			ReportedAt:      reportedAt,
		}
		if actorID := middleware.ActorIDFromContext(r.Context()); actorID != uuid.Nil {
			report.ReportedBy = &actorID
		}
		for _, line := range req.Lines {
			report.Lines = append(report.Lines, intake.ReportLine{
				OrderLineID:       line.OrderLineID,
				ActualWeightGrams: line.ActualWeightGrams,
			})
		}

		result, err := svc.IngestWeightReport(r.Context(), report)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if result.Duplicate {
			responses.WriteSuccess(w, result)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// PreviewWeight prices a hypothetical actual weight for one line without
// recording anything.
func PreviewWeight(svc weighing.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "weighing service unavailable"))
			return
		}

		lineID, err := validators.ParsePathUUID(chi.URLParam(r, "lineId"), "lineId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		grams, err := validators.ParseQueryInt(r, "actual_weight_grams", 0, 1, 1_000_000_000)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if grams == 0 {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "actual_weight_grams is required"))
			return
		}

		calc, err := svc.Preview(r.Context(), lineID, int64(grams))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, calc)
	}
}
