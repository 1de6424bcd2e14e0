package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/haldirect/settlement-backend/internal/weighing"
	"github.com/haldirect/settlement-backend/pkg/db"
	"github.com/haldirect/settlement-backend/pkg/db/models"
	"github.com/haldirect/settlement-backend/pkg/enums"
	pkgerrors "github.com/haldirect/settlement-backend/pkg/errors"
	"github.com/haldirect/settlement-backend/pkg/logger"
	"github.com/haldirect/settlement-backend/pkg/redis"
)

const (
	dedupeScope = "intake-event"
	dedupeTTL   = 24 * time.Hour
)

// ReportLine is one line weight inside an inbound report.
type ReportLine struct {
	OrderLineID       uuid.UUID `json:"order_line_id"`
	ActualWeightGrams int64     `json:"actual_weight_grams"`
}

// WeightReport is a batch of confirmed weights from a courier app or scale.
// ExternalEventID is the caller's delivery identifier; resending the same id
// is a no-op.
type WeightReport struct {
	ExternalEventID string                   `json:"external_event_id"`
	Source          enums.WeightReportSource `json:"source"`
	ReportedBy      *uuid.UUID               `json:"reported_by,omitempty"`
	ReportedAt      time.Time                `json:"reported_at"`
	Lines           []ReportLine             `json:"lines"`
}

// Result says what intake did with a report.
type Result struct {
	Duplicate   bool                      `json:"duplicate"`
	Adjustments []models.WeightAdjustment `json:"adjustments,omitempty"`
}

// Service accepts external weight reports exactly once and hands them to the
// weighing pipeline.
type Service interface {
	IngestWeightReport(ctx context.Context, report WeightReport) (*Result, error)
}

type dedupeStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

type service struct {
	repo     Repository
	weighing weighing.Service
	dedupe   dedupeStore
	logg     *logger.Logger
}

// NewService builds the intake service. The dedupe store is optional; without
// it the database unique constraint alone drops duplicates.
func NewService(repo Repository, weighingService weighing.Service, dedupe *redis.Client, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("intake repository required")
	}
	if weighingService == nil {
		return nil, fmt.Errorf("weighing service required")
	}
	svc := &service{
		repo:     repo,
		weighing: weighingService,
		logg:     logg,
	}
	if dedupe != nil {
		svc.dedupe = dedupe
	}
	return svc, nil
}

// IngestWeightReport records the report once and applies every line weight in
// a single transaction. A replayed external event id returns a duplicate
// result without touching any order state.
func (s *service) IngestWeightReport(ctx context.Context, report WeightReport) (*Result, error) {
	if report.ExternalEventID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external event id required")
	}
	if !report.Source.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown source %q", report.Source))
	}
	if len(report.Lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one line required")
	}

	logCtx := ctx
	if s.logg != nil {
		logCtx = s.logg.WithFields(ctx, map[string]any{
			"external_event_id": report.ExternalEventID,
			"source":            report.Source,
			"line_count":        len(report.Lines),
		})
	}

	// Fast duplicate check before the database gets involved. Losing the key
	// is harmless; the unique constraint below is the real guard.
	var dedupeKey string
	if s.dedupe != nil {
		dedupeKey = s.dedupe.IdempotencyKey(dedupeScope, report.ExternalEventID)
		acquired, err := s.dedupe.SetNX(ctx, dedupeKey, "1", dedupeTTL)
		if err == nil && !acquired {
			if s.logg != nil {
				s.logg.Info(logCtx, "duplicate weight report dropped")
			}
			return &Result{Duplicate: true}, nil
		}
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode report")
	}

	event, err := s.repo.Insert(ctx, &models.InboundEvent{
		ExternalEventID:  report.ExternalEventID,
		Source:           string(report.Source),
		Payload:          payload,
		ProcessingStatus: enums.IntakeStatusPending,
		ReceivedAt:       report.ReportedAt,
	})
	if err != nil {
		if db.IsUniqueViolation(err, "inbound_events_external_event_id_key") {
			if s.logg != nil {
				s.logg.Info(logCtx, "duplicate weight report dropped")
			}
			return &Result{Duplicate: true}, nil
		}
		s.releaseDedupe(ctx, dedupeKey)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record inbound event")
	}

	input := weighing.RecordWeightsInput{
		Source:     report.Source,
		ReportedBy: report.ReportedBy,
		ReportedAt: report.ReportedAt,
	}
	for _, line := range report.Lines {
		input.Lines = append(input.Lines, weighing.RecordWeightInput{
			OrderLineID:       line.OrderLineID,
			ActualWeightGrams: line.ActualWeightGrams,
		})
	}

	adjustments, err := s.weighing.RecordWeights(ctx, input)
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeValidation {
			// A bad payload will never succeed; keep the record so the
			// replay is still absorbed as a duplicate.
			if markErr := s.repo.SetStatus(ctx, event.ID.String(), enums.IntakeStatusSkipped); markErr != nil && s.logg != nil {
				s.logg.Error(logCtx, "mark inbound event", markErr)
			}
			return nil, err
		}
		// A transient failure must not burn the event id. Drop the row and
		// the dedupe key so the producer's retry is processed fresh.
		if delErr := s.repo.Delete(ctx, event.ID.String()); delErr != nil {
			if s.logg != nil {
				s.logg.Error(logCtx, "drop inbound event", delErr)
			}
			if markErr := s.repo.SetStatus(ctx, event.ID.String(), enums.IntakeStatusFailed); markErr != nil && s.logg != nil {
				s.logg.Error(logCtx, "mark inbound event", markErr)
			}
		}
		s.releaseDedupe(ctx, dedupeKey)
		return nil, err
	}

	if err := s.repo.SetStatus(ctx, event.ID.String(), enums.IntakeStatusProcessed); err != nil && s.logg != nil {
		s.logg.Error(logCtx, "mark inbound event", err)
	}

	if s.logg != nil {
		s.logg.Info(logCtx, "weight report processed")
	}
	return &Result{Adjustments: adjustments}, nil
}

func (s *service) releaseDedupe(ctx context.Context, key string) {
	if s.dedupe == nil || key == "" {
		return
	}
	if err := s.dedupe.Del(ctx, key); err != nil && s.logg != nil {
		s.logg.Error(ctx, "release intake dedupe key", err)
	}
}
