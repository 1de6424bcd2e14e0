package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/haldirect/settlement-backend/pkg/db/models"
	"github.com/haldirect/settlement-backend/pkg/logger"
)

const (
	// Holds are released shortly before the processor would void them on
	// its own, so the expiry lands in our ledger rather than theirs.
	preAuthExpiryLead  = 30 * time.Minute
	preAuthExpiryBatch = 50
)

type expiringHoldReader interface {
	FindExpiring(ctx context.Context, cutoff time.Time, limit int) ([]models.PreAuthorization, error)
}

type holdReleaser interface {
	ReleaseExpiredHold(ctx context.Context, preAuth models.PreAuthorization) error
}

// PreAuthExpiryJobParams configure the hold reaper.
type PreAuthExpiryJobParams struct {
	Logger   *logger.Logger
	PreAuths expiringHoldReader
	Releaser holdReleaser
	Lead     time.Duration
	Batch    int
}

// NewPreAuthExpiryJob builds the job that voids stale card holds.
func NewPreAuthExpiryJob(params PreAuthExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.PreAuths == nil {
		return nil, fmt.Errorf("pre-auth reader required")
	}
	if params.Releaser == nil {
		return nil, fmt.Errorf("hold releaser required")
	}
	lead := params.Lead
	if lead <= 0 {
		lead = preAuthExpiryLead
	}
	batch := params.Batch
	if batch <= 0 {
		batch = preAuthExpiryBatch
	}
	return &preAuthExpiryJob{
		logg:     params.Logger,
		preAuths: params.PreAuths,
		releaser: params.Releaser,
		lead:     lead,
		batch:    batch,
		now:      time.Now,
	}, nil
}

type preAuthExpiryJob struct {
	logg     *logger.Logger
	preAuths expiringHoldReader
	releaser holdReleaser
	lead     time.Duration
	batch    int
	now      func() time.Time
}

func (j *preAuthExpiryJob) Name() string { return "preauth-expiry" }

func (j *preAuthExpiryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(j.lead)
	holds, err := j.preAuths.FindExpiring(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("query expiring holds: %w", err)
	}

	var errs []error
	released := 0
	for _, hold := range holds {
		if err := j.releaser.ReleaseExpiredHold(ctx, hold); err != nil {
			logCtx := j.logg.WithOrderID(ctx, hold.OrderID.String())
			j.logg.Error(logCtx, "release expired hold", err)
			errs = append(errs, fmt.Errorf("hold %s: %w", hold.ID, err))
			continue
		}
		released++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":   cutoff,
		"found":    len(holds),
		"released": released,
	})
	j.logg.Info(logCtx, "pre-auth expiry sweep complete")
	return multierr.Combine(errs...)
}
