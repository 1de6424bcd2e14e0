package intake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/haldirect/settlement-backend/internal/weighing"
	"github.com/haldirect/settlement-backend/pkg/db/models"
	"github.com/haldirect/settlement-backend/pkg/enums"
	pkgerrors "github.com/haldirect/settlement-backend/pkg/errors"
)

type fakeIntakeRepo struct {
	insertErr error
	deleteErr error
	inserted  []models.InboundEvent
	statuses  map[string]enums.IntakeStatus
}

func newFakeIntakeRepo() *fakeIntakeRepo {
	return &fakeIntakeRepo{statuses: make(map[string]enums.IntakeStatus)}
}

func (f *fakeIntakeRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeIntakeRepo) Insert(ctx context.Context, event *models.InboundEvent) (*models.InboundEvent, error) {
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	event.ID = uuid.New()
	f.inserted = append(f.inserted, *event)
	return event, nil
}

func (f *fakeIntakeRepo) FindByExternalID(ctx context.Context, externalEventID string) (*models.InboundEvent, error) {
	for i := range f.inserted {
		if f.inserted[i].ExternalEventID == externalEventID {
			return &f.inserted[i], nil
		}
	}
	return nil, nil
}

func (f *fakeIntakeRepo) SetStatus(ctx context.Context, id string, status enums.IntakeStatus) error {
	f.statuses[id] = status
	return nil
}

func (f *fakeIntakeRepo) Delete(ctx context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for i := range f.inserted {
		if f.inserted[i].ID.String() == id {
			f.inserted = append(f.inserted[:i], f.inserted[i+1:]...)
			break
		}
	}
	delete(f.statuses, id)
	return nil
}

func (f *fakeIntakeRepo) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakeWeighing struct {
	err      error
	received []weighing.RecordWeightsInput
}

func (f *fakeWeighing) RecordWeight(ctx context.Context, input weighing.RecordWeightInput) (*models.WeightAdjustment, error) {
	return nil, nil
}

func (f *fakeWeighing) RecordWeights(ctx context.Context, input weighing.RecordWeightsInput) ([]models.WeightAdjustment, error) {
	f.received = append(f.received, input)
	if f.err != nil {
		return nil, f.err
	}
	return []models.WeightAdjustment{{ID: uuid.New()}}, nil
}

func (f *fakeWeighing) Preview(ctx context.Context, orderLineID uuid.UUID, actualWeightGrams int64) (*weighing.Calculation, error) {
	return nil, nil
}

type fakeDedupe struct {
	seen    map[string]bool
	deleted []string
	err     error
}

func newFakeDedupe() *fakeDedupe {
	return &fakeDedupe{seen: make(map[string]bool)}
}

func (f *fakeDedupe) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

func (f *fakeDedupe) Del(ctx context.Context, keys ...string) error {
	f.deleted = append(f.deleted, keys...)
	for _, key := range keys {
		delete(f.seen, key)
	}
	return nil
}

func (f *fakeDedupe) IdempotencyKey(scope, id string) string {
	return "hd:" + scope + ":" + id
}

func newTestIntake(repo *fakeIntakeRepo, wg *fakeWeighing, dedupe *fakeDedupe) *service {
	svc := &service{repo: repo, weighing: wg}
	if dedupe != nil {
		svc.dedupe = dedupe
	}
	return svc
}

func validReport() WeightReport {
	courier := uuid.New()
	return WeightReport{
		ExternalEventID: "evt-1001",
		Source:          enums.WeightReportSourceCourierApp,
		ReportedBy:      &courier,
		ReportedAt:      time.Now().UTC(),
		Lines: []ReportLine{
			{OrderLineID: uuid.New(), ActualWeightGrams: 1150},
		},
	}
}

func TestIngestWeightReportProcessesLines(t *testing.T) {
	repo := newFakeIntakeRepo()
	wg := &fakeWeighing{}
	svc := newTestIntake(repo, wg, newFakeDedupe())

	report := validReport()
	result, err := svc.IngestWeightReport(context.Background(), report)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.Duplicate {
		t.Fatal("expected first delivery to process")
	}
	if len(result.Adjustments) != 1 {
		t.Fatalf("expected one adjustment got %d", len(result.Adjustments))
	}

	if len(repo.inserted) != 1 {
		t.Fatalf("expected one inbound event got %d", len(repo.inserted))
	}
	event := repo.inserted[0]
	if event.ExternalEventID != report.ExternalEventID {
		t.Fatalf("expected external id recorded, got %s", event.ExternalEventID)
	}
	if repo.statuses[event.ID.String()] != enums.IntakeStatusProcessed {
		t.Fatalf("expected processed status got %s", repo.statuses[event.ID.String()])
	}

	if len(wg.received) != 1 {
		t.Fatalf("expected one weighing call got %d", len(wg.received))
	}
	input := wg.received[0]
	if input.Source != report.Source || len(input.Lines) != 1 {
		t.Fatalf("unexpected weighing input %+v", input)
	}
	if input.Lines[0].ActualWeightGrams != 1150 {
		t.Fatalf("expected weight forwarded, got %d", input.Lines[0].ActualWeightGrams)
	}
}

func TestIngestWeightReportDropsDuplicateViaDedupe(t *testing.T) {
	repo := newFakeIntakeRepo()
	wg := &fakeWeighing{}
	svc := newTestIntake(repo, wg, newFakeDedupe())

	report := validReport()
	if _, err := svc.IngestWeightReport(context.Background(), report); err != nil {
		t.Fatalf("first ingest: %v", err)
	}

	result, err := svc.IngestWeightReport(context.Background(), report)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if !result.Duplicate {
		t.Fatal("expected duplicate result")
	}
	if len(repo.inserted) != 1 {
		t.Fatal("expected no second inbound event")
	}
	if len(wg.received) != 1 {
		t.Fatal("expected no second weighing call")
	}
}

func TestIngestWeightReportDropsDuplicateViaConstraint(t *testing.T) {
	repo := newFakeIntakeRepo()
	repo.insertErr = errors.New(`duplicate key value violates unique constraint "inbound_events_external_event_id_key"`)
	wg := &fakeWeighing{}
	svc := newTestIntake(repo, wg, nil)

	result, err := svc.IngestWeightReport(context.Background(), validReport())
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !result.Duplicate {
		t.Fatal("expected duplicate result from constraint")
	}
	if len(wg.received) != 0 {
		t.Fatal("expected no weighing call for duplicate")
	}
}

func TestIngestWeightReportSurvivesDedupeOutage(t *testing.T) {
	repo := newFakeIntakeRepo()
	wg := &fakeWeighing{}
	dedupe := newFakeDedupe()
	dedupe.err = errors.New("redis down")
	svc := newTestIntake(repo, wg, dedupe)

	result, err := svc.IngestWeightReport(context.Background(), validReport())
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.Duplicate {
		t.Fatal("expected report processed despite dedupe outage")
	}
	if len(wg.received) != 1 {
		t.Fatal("expected weighing call")
	}
}

func TestIngestWeightReportReleasesKeyOnInsertFailure(t *testing.T) {
	repo := newFakeIntakeRepo()
	repo.insertErr = errors.New("connection reset")
	wg := &fakeWeighing{}
	dedupe := newFakeDedupe()
	svc := newTestIntake(repo, wg, dedupe)

	_, err := svc.IngestWeightReport(context.Background(), validReport())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(dedupe.deleted) != 1 {
		t.Fatal("expected dedupe key released so the caller can retry")
	}
}

func TestIngestWeightReportMarksValidationAsSkipped(t *testing.T) {
	repo := newFakeIntakeRepo()
	wg := &fakeWeighing{err: pkgerrors.New(pkgerrors.CodeValidation, "unknown order line")}
	dedupe := newFakeDedupe()
	svc := newTestIntake(repo, wg, dedupe)

	_, err := svc.IngestWeightReport(context.Background(), validReport())
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error surfaced, got %v", err)
	}

	event := repo.inserted[0]
	if repo.statuses[event.ID.String()] != enums.IntakeStatusSkipped {
		t.Fatalf("expected skipped status got %s", repo.statuses[event.ID.String()])
	}
	if len(dedupe.deleted) != 0 {
		t.Fatal("expected dedupe key kept for a permanently bad payload")
	}
}

func TestIngestWeightReportTransientFailureAllowsRetry(t *testing.T) {
	repo := newFakeIntakeRepo()
	wg := &fakeWeighing{err: pkgerrors.New(pkgerrors.CodeInternal, "db down")}
	dedupe := newFakeDedupe()
	svc := newTestIntake(repo, wg, dedupe)

	report := validReport()
	_, err := svc.IngestWeightReport(context.Background(), report)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(repo.inserted) != 0 {
		t.Fatal("expected the inbound event dropped after a transient failure")
	}
	if len(dedupe.deleted) != 1 {
		t.Fatal("expected dedupe key released after a transient failure")
	}

	wg.err = nil
	result, err := svc.IngestWeightReport(context.Background(), report)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if result.Duplicate {
		t.Fatal("expected the retry to be processed, not absorbed")
	}
	if len(result.Adjustments) != 1 {
		t.Fatalf("expected the retry to apply weights, got %d adjustments", len(result.Adjustments))
	}
}

func TestIngestWeightReportFallsBackToFailedWhenDropFails(t *testing.T) {
	repo := newFakeIntakeRepo()
	repo.deleteErr = errors.New("db down")
	wg := &fakeWeighing{err: pkgerrors.New(pkgerrors.CodeInternal, "db down")}
	dedupe := newFakeDedupe()
	svc := newTestIntake(repo, wg, dedupe)

	_, err := svc.IngestWeightReport(context.Background(), validReport())
	if err == nil {
		t.Fatal("expected error")
	}
	event := repo.inserted[0]
	if repo.statuses[event.ID.String()] != enums.IntakeStatusFailed {
		t.Fatalf("expected failed status got %s", repo.statuses[event.ID.String()])
	}
	if len(dedupe.deleted) != 1 {
		t.Fatal("expected dedupe key released regardless")
	}
}

func TestIngestWeightReportValidation(t *testing.T) {
	svc := newTestIntake(newFakeIntakeRepo(), &fakeWeighing{}, nil)

	cases := []struct {
		name   string
		mutate func(*WeightReport)
	}{
		{"missing external id", func(r *WeightReport) { r.ExternalEventID = "" }},
		{"unknown source", func(r *WeightReport) { r.Source = "fax" }},
		{"empty lines", func(r *WeightReport) { r.Lines = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			report := validReport()
			tc.mutate(&report)
			_, err := svc.IngestWeightReport(context.Background(), report)
			if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}
