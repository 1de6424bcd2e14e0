package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	pkgerrors "github.com/haldirect/settlement-backend/pkg/errors"
	"github.com/haldirect/settlement-backend/pkg/logger"
)

const settlementRetryBatch = 25

type retryableOrderReader interface {
	FindCardOrdersForRetry(ctx context.Context, limit int) ([]uuid.UUID, error)
}

type orderFinalizer interface {
	FinalizeOrder(ctx context.Context, orderID uuid.UUID) error
}

// SettlementRetryJobParams configure the settlement sweep.
type SettlementRetryJobParams struct {
	Logger      *logger.Logger
	Adjustments retryableOrderReader
	Finalizer   orderFinalizer
	Batch       int
}

// NewSettlementRetryJob builds the job that re-runs card settlement for
// orders left in a retryable state by a crash, a gateway failure, or a
// just-resolved arbitration.
func NewSettlementRetryJob(params SettlementRetryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Adjustments == nil {
		return nil, fmt.Errorf("adjustment reader required")
	}
	if params.Finalizer == nil {
		return nil, fmt.Errorf("order finalizer required")
	}
	batch := params.Batch
	if batch <= 0 {
		batch = settlementRetryBatch
	}
	return &settlementRetryJob{
		logg:        params.Logger,
		adjustments: params.Adjustments,
		finalizer:   params.Finalizer,
		batch:       batch,
	}, nil
}

type settlementRetryJob struct {
	logg        *logger.Logger
	adjustments retryableOrderReader
	finalizer   orderFinalizer
	batch       int
}

func (j *settlementRetryJob) Name() string { return "settlement-retry" }

func (j *settlementRetryJob) Run(ctx context.Context) error {
	orderIDs, err := j.adjustments.FindCardOrdersForRetry(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("query retryable orders: %w", err)
	}

	var errs []error
	settled := 0
	for _, orderID := range orderIDs {
		if err := j.finalizer.FinalizeOrder(ctx, orderID); err != nil {
			// Another worker holding the order lock is not a failure.
			if typed := pkgerrors.As(err); typed != nil &&
				(typed.Code() == pkgerrors.CodeConflict || typed.Code() == pkgerrors.CodeStateConflict) {
				continue
			}
			logCtx := j.logg.WithOrderID(ctx, orderID.String())
			j.logg.Error(logCtx, "retry settlement", err)
			errs = append(errs, fmt.Errorf("order %s: %w", orderID, err))
			continue
		}
		settled++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"found":   len(orderIDs),
		"settled": settled,
	})
	j.logg.Info(logCtx, "settlement retry sweep complete")
	return multierr.Combine(errs...)
}
