package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/haldirect/settlement-backend/pkg/logger"
)

const defaultIntakeRetention = 90 * 24 * time.Hour

type intakeRetentionRepo interface {
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// IntakeRetentionJobParams configure the inbound event cleanup.
type IntakeRetentionJobParams struct {
	Logger     *logger.Logger
	Repository intakeRetentionRepo
	Retention  time.Duration
}

// NewIntakeRetentionJob builds the job that prunes processed inbound events
// once their replay window has passed.
func NewIntakeRetentionJob(params IntakeRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("intake repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultIntakeRetention
	}
	return &intakeRetentionJob{
		logg:      params.Logger,
		repo:      params.Repository,
		retention: retention,
		now:       time.Now,
	}, nil
}

type intakeRetentionJob struct {
	logg      *logger.Logger
	repo      intakeRetentionRepo
	retention time.Duration
	now       func() time.Time
}

func (j *intakeRetentionJob) Name() string { return "intake-retention" }

func (j *intakeRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	deleted, err := j.repo.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("intake retention: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": deleted,
	})
	j.logg.Info(logCtx, "intake retention cleanup complete")
	return nil
}
