package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/haldirect/settlement-backend/internal/weighing"
	"github.com/haldirect/settlement-backend/pkg/db/models"
	"github.com/haldirect/settlement-backend/pkg/enums"
	pkgerrors "github.com/haldirect/settlement-backend/pkg/errors"
	"github.com/haldirect/settlement-backend/pkg/outbox"
	"github.com/haldirect/settlement-backend/pkg/pagination"
)

type stubAdjustmentsRepo struct {
	updates []map[string]any
}

func (s *stubAdjustmentsRepo) WithTx(tx *gorm.DB) weighing.Repository { return s }

func (s *stubAdjustmentsRepo) Create(ctx context.Context, adjustment *models.WeightAdjustment) (*models.WeightAdjustment, error) {
	return adjustment, nil
}

func (s *stubAdjustmentsRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.WeightAdjustment, error) {
	return nil, nil
}

func (s *stubAdjustmentsRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.WeightAdjustment, error) {
	return nil, nil
}

func (s *stubAdjustmentsRepo) FindByLine(ctx context.Context, orderLineID uuid.UUID) (*models.WeightAdjustment, error) {
	return nil, nil
}

func (s *stubAdjustmentsRepo) FindByLineForUpdate(ctx context.Context, orderLineID uuid.UUID) (*models.WeightAdjustment, error) {
	return nil, nil
}

func (s *stubAdjustmentsRepo) FindByOrder(ctx context.Context, orderID uuid.UUID) ([]models.WeightAdjustment, error) {
	return nil, nil
}

func (s *stubAdjustmentsRepo) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	s.updates = append(s.updates, updates)
	return nil
}

func (s *stubAdjustmentsRepo) ListPendingReview(ctx context.Context, params pagination.Params, filters weighing.PendingReviewFilters) (*weighing.PendingReviewList, error) {
	return &weighing.PendingReviewList{}, nil
}

func (s *stubAdjustmentsRepo) CountByStatus(ctx context.Context, status enums.AdjustmentStatus) (int64, error) {
	return 0, nil
}

func (s *stubAdjustmentsRepo) FindCardOrdersForRetry(ctx context.Context, limit int) ([]uuid.UUID, error) {
	return nil, nil
}

type stubOutbox struct {
	events []outbox.DomainEvent
}

func (s *stubOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	s.events = append(s.events, event)
	return nil
}

func (s *stubOutbox) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	s.events = append(s.events, event)
	return nil
}

func newTestMachine(t *testing.T, repo *stubAdjustmentsRepo, box *stubOutbox, maxFailures int) *Machine {
	t.Helper()
	machine, err := NewMachine(repo, box, maxFailures, nil)
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}
	return machine
}

func pendingAdjustment(status enums.AdjustmentStatus) *models.WeightAdjustment {
	return &models.WeightAdjustment{
		ID:      uuid.New(),
		OrderID: uuid.New(),
		Status:  status,
	}
}

func TestTransitionUpdatesStatusAndExtraColumns(t *testing.T) {
	repo := &stubAdjustmentsRepo{}
	machine := newTestMachine(t, repo, &stubOutbox{}, 3)
	adjustment := pendingAdjustment(enums.AdjustmentStatusPendingAdminApproval)

	err := machine.Transition(context.Background(), nil, adjustment, enums.AdjustmentStatusAutoApproved, map[string]any{
		"actual_price_cents": int64(1500),
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if adjustment.Status != enums.AdjustmentStatusAutoApproved {
		t.Fatalf("expected auto_approved got %s", adjustment.Status)
	}
	if len(repo.updates) != 1 {
		t.Fatalf("expected one update got %d", len(repo.updates))
	}
	if repo.updates[0]["status"] != enums.AdjustmentStatusAutoApproved {
		t.Fatalf("expected status column update, got %v", repo.updates[0])
	}
	if repo.updates[0]["actual_price_cents"] != int64(1500) {
		t.Fatalf("expected extra column in same write, got %v", repo.updates[0])
	}
}

func TestTransitionRejectsIllegalEdge(t *testing.T) {
	machine := newTestMachine(t, &stubAdjustmentsRepo{}, &stubOutbox{}, 3)
	adjustment := pendingAdjustment(enums.AdjustmentStatusSettled)

	err := machine.Transition(context.Background(), nil, adjustment, enums.AdjustmentStatusSettlementPending, nil)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if adjustment.Status != enums.AdjustmentStatusSettled {
		t.Fatal("expected status to remain unchanged on rejection")
	}
}

func TestRecordFailureStaysRetryableBelowLimit(t *testing.T) {
	repo := &stubAdjustmentsRepo{}
	box := &stubOutbox{}
	machine := newTestMachine(t, repo, box, 3)
	adjustment := pendingAdjustment(enums.AdjustmentStatusSettlementPending)

	if err := machine.RecordFailure(context.Background(), nil, adjustment, "gateway timeout"); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if adjustment.Status != enums.AdjustmentStatusSettlementFailed {
		t.Fatalf("expected settlement_failed got %s", adjustment.Status)
	}
	if adjustment.FailureCount != 1 {
		t.Fatalf("expected failure count 1 got %d", adjustment.FailureCount)
	}
	if len(box.events) != 1 || box.events[0].EventType != enums.EventSettlementFailed {
		t.Fatalf("expected single failed event, got %v", box.events)
	}
}

func TestRecordFailureEscalatesAtLimit(t *testing.T) {
	repo := &stubAdjustmentsRepo{}
	box := &stubOutbox{}
	machine := newTestMachine(t, repo, box, 3)

	adjustment := pendingAdjustment(enums.AdjustmentStatusSettlementPending)
	adjustment.FailureCount = 2

	if err := machine.RecordFailure(context.Background(), nil, adjustment, "card declined"); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if adjustment.Status != enums.AdjustmentStatusPendingAdminApproval {
		t.Fatalf("expected escalation to admin, got %s", adjustment.Status)
	}
	if adjustment.FailureCount != 3 {
		t.Fatalf("expected failure count 3 got %d", adjustment.FailureCount)
	}
	if adjustment.FailureReason == nil || *adjustment.FailureReason == "card declined" {
		t.Fatalf("expected escalation note in reason, got %v", adjustment.FailureReason)
	}
	if len(box.events) != 2 {
		t.Fatalf("expected failed and review events, got %d", len(box.events))
	}
	if box.events[1].EventType != enums.EventAdjustmentReviewRequested {
		t.Fatalf("expected review event got %s", box.events[1].EventType)
	}
}

func TestRecordFailureEscalatesFromFailedState(t *testing.T) {
	box := &stubOutbox{}
	machine := newTestMachine(t, &stubAdjustmentsRepo{}, box, 2)

	adjustment := pendingAdjustment(enums.AdjustmentStatusSettlementFailed)
	adjustment.FailureCount = 1

	if err := machine.RecordFailure(context.Background(), nil, adjustment, "gateway unreachable"); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if adjustment.Status != enums.AdjustmentStatusPendingAdminApproval {
		t.Fatalf("expected admin escalation got %s", adjustment.Status)
	}
}

func TestMarkSettledIsIdempotent(t *testing.T) {
	repo := &stubAdjustmentsRepo{}
	box := &stubOutbox{}
	machine := newTestMachine(t, repo, box, 3)

	adjustment := pendingAdjustment(enums.AdjustmentStatusSettlementPending)
	adjustment.PriceDiffCents = 250
	reference := "sq-payment-1"
	settledAt := time.Now().UTC()

	if err := machine.MarkSettled(context.Background(), nil, adjustment, &reference, settledAt); err != nil {
		t.Fatalf("mark settled: %v", err)
	}
	if adjustment.Status != enums.AdjustmentStatusSettled || !adjustment.IsSettled {
		t.Fatalf("expected settled, got %s", adjustment.Status)
	}
	if adjustment.PaymentReference == nil || *adjustment.PaymentReference != reference {
		t.Fatal("expected payment reference recorded")
	}
	if len(box.events) != 1 || box.events[0].EventType != enums.EventAdjustmentSettled {
		t.Fatalf("expected settled event, got %v", box.events)
	}

	// Replaying must not write or emit again.
	if err := machine.MarkSettled(context.Background(), nil, adjustment, &reference, settledAt); err != nil {
		t.Fatalf("second mark settled: %v", err)
	}
	if len(repo.updates) != 1 {
		t.Fatalf("expected one persisted update got %d", len(repo.updates))
	}
	if len(box.events) != 1 {
		t.Fatalf("expected one event got %d", len(box.events))
	}
}

func TestMarkSettledWithoutReference(t *testing.T) {
	machine := newTestMachine(t, &stubAdjustmentsRepo{}, &stubOutbox{}, 3)

	adjustment := pendingAdjustment(enums.AdjustmentStatusSettlementPending)
	if err := machine.MarkSettled(context.Background(), nil, adjustment, nil, time.Now().UTC()); err != nil {
		t.Fatalf("mark settled: %v", err)
	}
	if adjustment.PaymentReference != nil {
		t.Fatal("expected no payment reference for cash settlement")
	}
}
