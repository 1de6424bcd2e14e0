package card

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/haldirect/settlement-backend/internal/orders"
	"github.com/haldirect/settlement-backend/internal/settlement"
	"github.com/haldirect/settlement-backend/internal/weighing"
	"github.com/haldirect/settlement-backend/pkg/config"
	"github.com/haldirect/settlement-backend/pkg/db/models"
	"github.com/haldirect/settlement-backend/pkg/enums"
	pkgerrors "github.com/haldirect/settlement-backend/pkg/errors"
	"github.com/haldirect/settlement-backend/pkg/gateway"
	"github.com/haldirect/settlement-backend/pkg/outbox"
	"github.com/haldirect/settlement-backend/pkg/pagination"
)

type fakeTx struct{}

func (fakeTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeLocker struct {
	err      error
	acquired int
	released int
}

func (f *fakeLocker) Acquire(ctx context.Context, orderID uuid.UUID) (func(), error) {
	if f.err != nil {
		return nil, f.err
	}
	f.acquired++
	return func() { f.released++ }, nil
}

type recordedOutbox struct {
	events []outbox.DomainEvent
}

func (r *recordedOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	r.events = append(r.events, event)
	return nil
}

func (r *recordedOutbox) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	r.events = append(r.events, event)
	return nil
}

func (r *recordedOutbox) byType(eventType enums.OutboxEventType) *outbox.DomainEvent {
	for i := range r.events {
		if r.events[i].EventType == eventType {
			return &r.events[i]
		}
	}
	return nil
}

type fakeOrderStore struct {
	order     *models.Order
	unweighed int64
}

func (f *fakeOrderStore) WithTx(tx *gorm.DB) orders.Repository { return f }

func (f *fakeOrderStore) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	return order, nil
}

func (f *fakeOrderStore) FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	if f.order == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return f.order, nil
}

func (f *fakeOrderStore) FindOrderForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return f.FindOrder(ctx, id)
}

func (f *fakeOrderStore) FindLine(ctx context.Context, lineID uuid.UUID) (*models.OrderLine, error) {
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeOrderStore) FindLineForUpdate(ctx context.Context, lineID uuid.UUID) (*models.OrderLine, error) {
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeOrderStore) FindLinesByOrder(ctx context.Context, orderID uuid.UUID) ([]models.OrderLine, error) {
	return nil, nil
}

func (f *fakeOrderStore) UpdateLine(ctx context.Context, lineID uuid.UUID, updates map[string]any) error {
	return nil
}

func (f *fakeOrderStore) UpdateOrder(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return nil
}

func (f *fakeOrderStore) CountUnweighedLines(ctx context.Context, orderID uuid.UUID) (int64, error) {
	return f.unweighed, nil
}

func (f *fakeOrderStore) CourierPerformance(ctx context.Context, thresholdPercent int, filters orders.CourierPerformanceFilters) ([]orders.CourierPerformanceRow, error) {
	return nil, nil
}

// fakeAdjStore keeps adjustments in memory and applies column updates the way
// the real repository would, so state survives the re-read in phase three.
type fakeAdjStore struct {
	items map[uuid.UUID]*models.WeightAdjustment
	order []uuid.UUID
}

func newFakeAdjStore(adjustments ...*models.WeightAdjustment) *fakeAdjStore {
	store := &fakeAdjStore{items: make(map[uuid.UUID]*models.WeightAdjustment)}
	for _, adj := range adjustments {
		store.items[adj.ID] = adj
		store.order = append(store.order, adj.ID)
	}
	return store
}

func (f *fakeAdjStore) WithTx(tx *gorm.DB) weighing.Repository { return f }

func (f *fakeAdjStore) Create(ctx context.Context, adjustment *models.WeightAdjustment) (*models.WeightAdjustment, error) {
	return adjustment, nil
}

func (f *fakeAdjStore) FindByID(ctx context.Context, id uuid.UUID) (*models.WeightAdjustment, error) {
	return f.items[id], nil
}

func (f *fakeAdjStore) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.WeightAdjustment, error) {
	return f.items[id], nil
}

func (f *fakeAdjStore) FindByLine(ctx context.Context, orderLineID uuid.UUID) (*models.WeightAdjustment, error) {
	return nil, nil
}

func (f *fakeAdjStore) FindByLineForUpdate(ctx context.Context, orderLineID uuid.UUID) (*models.WeightAdjustment, error) {
	return nil, nil
}

func (f *fakeAdjStore) FindByOrder(ctx context.Context, orderID uuid.UUID) ([]models.WeightAdjustment, error) {
	result := make([]models.WeightAdjustment, 0, len(f.order))
	for _, id := range f.order {
		result = append(result, *f.items[id])
	}
	return result, nil
}

func (f *fakeAdjStore) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	adj := f.items[id]
	if adj == nil {
		return gorm.ErrRecordNotFound
	}
	if v, ok := updates["status"]; ok {
		adj.Status = v.(enums.AdjustmentStatus)
	}
	if v, ok := updates["is_settled"]; ok {
		adj.IsSettled = v.(bool)
	}
	if v, ok := updates["settled_at"]; ok {
		at := v.(time.Time)
		adj.SettledAt = &at
	}
	if v, ok := updates["payment_reference"]; ok {
		ref := v.(string)
		adj.PaymentReference = &ref
	}
	if v, ok := updates["failure_count"]; ok {
		adj.FailureCount = v.(int)
	}
	if v, ok := updates["failure_reason"]; ok {
		reason := v.(string)
		adj.FailureReason = &reason
	}
	if v, ok := updates["actual_price_cents"]; ok {
		adj.ActualPriceCents = v.(int64)
	}
	if v, ok := updates["price_diff_cents"]; ok {
		adj.PriceDiffCents = v.(int64)
	}
	return nil
}

func (f *fakeAdjStore) ListPendingReview(ctx context.Context, params pagination.Params, filters weighing.PendingReviewFilters) (*weighing.PendingReviewList, error) {
	return &weighing.PendingReviewList{}, nil
}

func (f *fakeAdjStore) CountByStatus(ctx context.Context, status enums.AdjustmentStatus) (int64, error) {
	return 0, nil
}

func (f *fakeAdjStore) FindCardOrdersForRetry(ctx context.Context, limit int) ([]uuid.UUID, error) {
	return nil, nil
}

type fakePreAuthStore struct {
	active       *models.PreAuthorization
	closedStatus enums.PreAuthStatus
	closedID     uuid.UUID
	created      *models.PreAuthorization
}

func (f *fakePreAuthStore) WithTx(tx *gorm.DB) settlement.PreAuthRepository { return f }

func (f *fakePreAuthStore) Create(ctx context.Context, preAuth *models.PreAuthorization) (*models.PreAuthorization, error) {
	preAuth.ID = uuid.New()
	f.created = preAuth
	return preAuth, nil
}

func (f *fakePreAuthStore) FindActiveByOrder(ctx context.Context, orderID uuid.UUID) (*models.PreAuthorization, error) {
	return f.active, nil
}

func (f *fakePreAuthStore) FindActiveByOrderForUpdate(ctx context.Context, orderID uuid.UUID) (*models.PreAuthorization, error) {
	return f.active, nil
}

func (f *fakePreAuthStore) FindActiveByReference(ctx context.Context, gatewayReference string) (*models.PreAuthorization, error) {
	if f.active != nil && f.active.GatewayReference == gatewayReference {
		return f.active, nil
	}
	return nil, nil
}

func (f *fakePreAuthStore) FindExpiring(ctx context.Context, cutoff time.Time, limit int) ([]models.PreAuthorization, error) {
	return nil, nil
}

func (f *fakePreAuthStore) Close(ctx context.Context, id uuid.UUID, status enums.PreAuthStatus, closedAt time.Time) error {
	f.closedID = id
	f.closedStatus = status
	return nil
}

type fakeLedgerStore struct {
	rows []models.SettlementTransaction
}

func (f *fakeLedgerStore) WithTx(tx *gorm.DB) settlement.LedgerRepository { return f }

func (f *fakeLedgerStore) Append(ctx context.Context, txn *models.SettlementTransaction) (*models.SettlementTransaction, error) {
	f.rows = append(f.rows, *txn)
	return txn, nil
}

func (f *fakeLedgerStore) FindByOrder(ctx context.Context, orderID uuid.UUID) ([]models.SettlementTransaction, error) {
	return f.rows, nil
}

func (f *fakeLedgerStore) FindSuccessByKey(ctx context.Context, idempotencyKey string) (*models.SettlementTransaction, error) {
	for i := range f.rows {
		if f.rows[i].IdempotencyKey == idempotencyKey && f.rows[i].Outcome == enums.SettlementOutcomeSuccess {
			return &f.rows[i], nil
		}
	}
	return nil, nil
}

func (f *fakeLedgerStore) CountSuccessByOrderAndKind(ctx context.Context, orderID uuid.UUID, kind enums.SettlementKind) (int64, error) {
	return 0, nil
}

func (f *fakeLedgerStore) byKind(kind enums.SettlementKind) *models.SettlementTransaction {
	for i := range f.rows {
		if f.rows[i].Kind == kind {
			return &f.rows[i]
		}
	}
	return nil
}

// fakeGateway scripts per-operation outcomes and records every request.
type fakeGateway struct {
	preAuthorize  func(gateway.PreAuthorizeRequest) (*gateway.Payment, error)
	captureErrs   []error
	capturePay    *gateway.Payment
	captureReqs   []gateway.CaptureRequest
	chargePay     *gateway.Payment
	chargeErr     error
	chargeReqs    []gateway.ChargeRequest
	cancelErr     error
	cancelCalls   int
	getPayment    *gateway.Payment
	getPaymentErr error
}

func (f *fakeGateway) PreAuthorize(ctx context.Context, req gateway.PreAuthorizeRequest) (*gateway.Payment, error) {
	if f.preAuthorize != nil {
		return f.preAuthorize(req)
	}
	return &gateway.Payment{Reference: "hold-1", Status: gateway.StatusAuthorized, AmountCents: req.AmountCents}, nil
}

func (f *fakeGateway) Capture(ctx context.Context, req gateway.CaptureRequest) (*gateway.Payment, error) {
	f.captureReqs = append(f.captureReqs, req)
	if len(f.captureErrs) > 0 {
		err := f.captureErrs[0]
		f.captureErrs = f.captureErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if f.capturePay != nil {
		return f.capturePay, nil
	}
	return &gateway.Payment{Reference: req.HoldReference, Status: gateway.StatusCompleted, AmountCents: req.FinalAmountCents}, nil
}

func (f *fakeGateway) Charge(ctx context.Context, req gateway.ChargeRequest) (*gateway.Payment, error) {
	f.chargeReqs = append(f.chargeReqs, req)
	if f.chargeErr != nil {
		return nil, f.chargeErr
	}
	if f.chargePay != nil {
		return f.chargePay, nil
	}
	return &gateway.Payment{Reference: "charge-1", Status: gateway.StatusCompleted, AmountCents: req.AmountCents}, nil
}

func (f *fakeGateway) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.Refund, error) {
	return &gateway.Refund{Reference: "refund-1", Status: gateway.StatusCompleted, AmountCents: req.AmountCents}, nil
}

func (f *fakeGateway) CancelHold(ctx context.Context, holdReference string) (*gateway.Payment, error) {
	f.cancelCalls++
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	return &gateway.Payment{Reference: holdReference, Status: gateway.StatusCanceled}, nil
}

func (f *fakeGateway) GetPayment(ctx context.Context, reference string) (*gateway.Payment, error) {
	if f.getPaymentErr != nil {
		return nil, f.getPaymentErr
	}
	if f.getPayment != nil {
		return f.getPayment, nil
	}
	return &gateway.Payment{Reference: reference, Status: gateway.StatusPending}, nil
}

type orchestratorFixture struct {
	orchestrator *Orchestrator
	orders       *fakeOrderStore
	adjustments  *fakeAdjStore
	preAuths     *fakePreAuthStore
	ledger       *fakeLedgerStore
	gateway      *fakeGateway
	outbox       *recordedOutbox
	locker       *fakeLocker
}

func testConfig() config.SettlementConfig {
	return config.SettlementConfig{
		AdminApprovalThresholdPercent: 20,
		SecurityMarginPercent:         15,
		PreAuthHoldWindow:             48 * time.Hour,
		MaxGatewayAttempts:            3,
		RetryBackoffBase:              time.Millisecond,
		RetryBackoffCap:               2 * time.Millisecond,
		Currency:                      "TRY",
	}
}

func newFixture(t *testing.T, order *models.Order, adjStore *fakeAdjStore, preAuth *models.PreAuthorization) *orchestratorFixture {
	t.Helper()

	box := &recordedOutbox{}
	machine, err := settlement.NewMachine(adjStore, box, 3, nil)
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}

	fixture := &orchestratorFixture{
		orders:      &fakeOrderStore{order: order},
		adjustments: adjStore,
		preAuths:    &fakePreAuthStore{active: preAuth},
		ledger:      &fakeLedgerStore{},
		gateway:     &fakeGateway{},
		outbox:      box,
		locker:      &fakeLocker{},
	}
	fixture.orchestrator, err = NewOrchestrator(Params{
		Orders:      fixture.orders,
		Adjustments: fixture.adjustments,
		PreAuths:    fixture.preAuths,
		Ledger:      fixture.ledger,
		Machine:     machine,
		Locker:      fixture.locker,
		Gateway:     fixture.gateway,
		Tx:          fakeTx{},
		Outbox:      fixture.outbox,
		Config:      testConfig(),
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return fixture
}

func cardOrder(id uuid.UUID, estimatedTotal int64) *models.Order {
	source := "card-source-1"
	return &models.Order{
		ID:                  id,
		OrderNumber:         1042,
		PaymentMethod:       enums.PaymentMethodCard,
		Currency:            "TRY",
		EstimatedTotalCents: estimatedTotal,
		CardSourceID:        &source,
	}
}

func activeHold(orderID uuid.UUID, blocked int64) *models.PreAuthorization {
	return &models.PreAuthorization{
		ID:                 uuid.New(),
		OrderID:            orderID,
		BlockedAmountCents: blocked,
		GatewayReference:   "hold-ref-1",
		Status:             enums.PreAuthStatusActive,
		ExpiresAt:          time.Now().UTC().Add(40 * time.Hour),
	}
}

func readyAdjustment(orderID uuid.UUID, actualPrice, estimatedPrice int64) *models.WeightAdjustment {
	return &models.WeightAdjustment{
		ID:                  uuid.New(),
		OrderID:             orderID,
		OrderLineID:         uuid.New(),
		Status:              enums.AdjustmentStatusAutoApproved,
		EstimatedPriceCents: estimatedPrice,
		ActualPriceCents:    actualPrice,
		PriceDiffCents:      actualPrice - estimatedPrice,
	}
}

func TestEnsurePreAuthorizationAddsSecurityMargin(t *testing.T) {
	orderID := uuid.New()
	fixture := newFixture(t, cardOrder(orderID, 1000), newFakeAdjStore(), nil)

	var gotReq gateway.PreAuthorizeRequest
	fixture.gateway.preAuthorize = func(req gateway.PreAuthorizeRequest) (*gateway.Payment, error) {
		gotReq = req
		return &gateway.Payment{Reference: "hold-ref-9", Status: gateway.StatusAuthorized, AmountCents: req.AmountCents}, nil
	}

	preAuth, err := fixture.orchestrator.EnsurePreAuthorization(context.Background(), orderID)
	if err != nil {
		t.Fatalf("ensure pre-authorization: %v", err)
	}
	if gotReq.AmountCents != 1150 {
		t.Fatalf("expected 1150 blocked got %d", gotReq.AmountCents)
	}
	if gotReq.IdempotencyKey != "hd-preauth-"+orderID.String() {
		t.Fatalf("unexpected idempotency key %s", gotReq.IdempotencyKey)
	}
	if preAuth.BlockedAmountCents != 1150 {
		t.Fatalf("expected persisted blocked amount 1150 got %d", preAuth.BlockedAmountCents)
	}
	if preAuth.GatewayReference != "hold-ref-9" {
		t.Fatalf("expected gateway reference recorded, got %s", preAuth.GatewayReference)
	}
	if preAuth.Status != enums.PreAuthStatusActive {
		t.Fatalf("expected active status got %s", preAuth.Status)
	}
}

func TestEnsurePreAuthorizationReturnsExistingHold(t *testing.T) {
	orderID := uuid.New()
	hold := activeHold(orderID, 1150)
	fixture := newFixture(t, cardOrder(orderID, 1000), newFakeAdjStore(), hold)

	calls := 0
	fixture.gateway.preAuthorize = func(req gateway.PreAuthorizeRequest) (*gateway.Payment, error) {
		calls++
		return nil, nil
	}

	preAuth, err := fixture.orchestrator.EnsurePreAuthorization(context.Background(), orderID)
	if err != nil {
		t.Fatalf("ensure pre-authorization: %v", err)
	}
	if preAuth.ID != hold.ID {
		t.Fatal("expected the existing hold back")
	}
	if calls != 0 {
		t.Fatal("expected no gateway call while a hold is active")
	}
}

func TestEnsurePreAuthorizationClampsExpiryToProcessor(t *testing.T) {
	orderID := uuid.New()
	fixture := newFixture(t, cardOrder(orderID, 1000), newFakeAdjStore(), nil)

	processorDeadline := time.Now().UTC().Add(6 * time.Hour)
	fixture.gateway.preAuthorize = func(req gateway.PreAuthorizeRequest) (*gateway.Payment, error) {
		return &gateway.Payment{Reference: "hold-ref-9", Status: gateway.StatusAuthorized, ExpiresAt: processorDeadline}, nil
	}

	preAuth, err := fixture.orchestrator.EnsurePreAuthorization(context.Background(), orderID)
	if err != nil {
		t.Fatalf("ensure pre-authorization: %v", err)
	}
	if !preAuth.ExpiresAt.Equal(processorDeadline) {
		t.Fatalf("expected processor deadline %s got %s", processorDeadline, preAuth.ExpiresAt)
	}
}

func TestEnsurePreAuthorizationRejectsCashOrder(t *testing.T) {
	orderID := uuid.New()
	order := cardOrder(orderID, 1000)
	order.PaymentMethod = enums.PaymentMethodCash
	fixture := newFixture(t, order, newFakeAdjStore(), nil)

	_, err := fixture.orchestrator.EnsurePreAuthorization(context.Background(), orderID)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestEnsurePreAuthorizationRequiresCardSource(t *testing.T) {
	orderID := uuid.New()
	order := cardOrder(orderID, 1000)
	order.CardSourceID = nil
	fixture := newFixture(t, order, newFakeAdjStore(), nil)

	_, err := fixture.orchestrator.EnsurePreAuthorization(context.Background(), orderID)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestFinalizeOrderCapturesAndReleasesRemainder(t *testing.T) {
	orderID := uuid.New()
	adj := readyAdjustment(orderID, 960, 1000)
	fixture := newFixture(t, cardOrder(orderID, 1000), newFakeAdjStore(adj), activeHold(orderID, 1150))

	if err := fixture.orchestrator.FinalizeOrder(context.Background(), orderID); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if len(fixture.gateway.captureReqs) != 1 {
		t.Fatalf("expected one capture got %d", len(fixture.gateway.captureReqs))
	}
	if fixture.gateway.captureReqs[0].FinalAmountCents != 960 {
		t.Fatalf("expected capture of 960 got %d", fixture.gateway.captureReqs[0].FinalAmountCents)
	}
	if len(fixture.gateway.chargeReqs) != 0 {
		t.Fatal("expected no overage charge")
	}

	capture := fixture.ledger.byKind(enums.SettlementKindCapture)
	if capture == nil || capture.AmountCents != 960 || capture.Outcome != enums.SettlementOutcomeSuccess {
		t.Fatalf("expected successful capture ledger row, got %+v", capture)
	}
	release := fixture.ledger.byKind(enums.SettlementKindRelease)
	if release == nil || release.AmountCents != 190 {
		t.Fatalf("expected release ledger row of 190, got %+v", release)
	}
	if !strings.HasSuffix(release.IdempotencyKey, "-rel") {
		t.Fatalf("expected release key suffix, got %s", release.IdempotencyKey)
	}
	if fixture.ledger.byKind(enums.SettlementKindRefund) != nil {
		t.Fatal("released hold money is not a refund")
	}

	if fixture.preAuths.closedStatus != enums.PreAuthStatusCaptured {
		t.Fatalf("expected hold closed as captured, got %s", fixture.preAuths.closedStatus)
	}
	if !adj.IsSettled || adj.Status != enums.AdjustmentStatusSettled {
		t.Fatalf("expected adjustment settled, got %s", adj.Status)
	}
	if adj.PaymentReference == nil || *adj.PaymentReference != "hold-ref-1" {
		t.Fatalf("expected capture reference on adjustment, got %v", adj.PaymentReference)
	}

	settled := fixture.outbox.byType(enums.EventOrderSettled)
	if settled == nil {
		t.Fatal("expected order settled event")
	}
	if fixture.locker.acquired != 1 || fixture.locker.released != 1 {
		t.Fatal("expected lock acquired and released once")
	}
}

func TestFinalizeOrderChargesOverage(t *testing.T) {
	orderID := uuid.New()
	adj := readyAdjustment(orderID, 1300, 1000)
	fixture := newFixture(t, cardOrder(orderID, 1000), newFakeAdjStore(adj), activeHold(orderID, 1150))

	if err := fixture.orchestrator.FinalizeOrder(context.Background(), orderID); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if fixture.gateway.captureReqs[0].FinalAmountCents != 1150 {
		t.Fatalf("expected full hold capture got %d", fixture.gateway.captureReqs[0].FinalAmountCents)
	}
	if len(fixture.gateway.chargeReqs) != 1 || fixture.gateway.chargeReqs[0].AmountCents != 150 {
		t.Fatalf("expected overage charge of 150, got %v", fixture.gateway.chargeReqs)
	}
	charge := fixture.ledger.byKind(enums.SettlementKindCharge)
	if charge == nil || charge.AmountCents != 150 || charge.Outcome != enums.SettlementOutcomeSuccess {
		t.Fatalf("expected charge ledger row, got %+v", charge)
	}
	if fixture.ledger.byKind(enums.SettlementKindRelease) != nil {
		t.Fatal("expected no release when the full hold is captured")
	}
}

func TestFinalizeOrderBlockedByArbitration(t *testing.T) {
	orderID := uuid.New()
	adj := readyAdjustment(orderID, 1400, 1000)
	adj.Status = enums.AdjustmentStatusPendingAdminApproval
	fixture := newFixture(t, cardOrder(orderID, 1000), newFakeAdjStore(adj), activeHold(orderID, 1150))

	err := fixture.orchestrator.FinalizeOrder(context.Background(), orderID)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if len(fixture.gateway.captureReqs) != 0 {
		t.Fatal("expected no gateway call while arbitration is open")
	}
}

func TestFinalizeOrderBlockedByUnweighedLines(t *testing.T) {
	orderID := uuid.New()
	fixture := newFixture(t, cardOrder(orderID, 1000), newFakeAdjStore(), activeHold(orderID, 1150))
	fixture.orders.unweighed = 2

	err := fixture.orchestrator.FinalizeOrder(context.Background(), orderID)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestFinalizeOrderAlreadySettledIsNoOp(t *testing.T) {
	orderID := uuid.New()
	adj := readyAdjustment(orderID, 960, 1000)
	adj.Status = enums.AdjustmentStatusSettled
	adj.IsSettled = true
	fixture := newFixture(t, cardOrder(orderID, 1000), newFakeAdjStore(adj), nil)

	if err := fixture.orchestrator.FinalizeOrder(context.Background(), orderID); err != nil {
		t.Fatalf("expected clean no-op, got %v", err)
	}
	if len(fixture.gateway.captureReqs) != 0 {
		t.Fatal("expected no gateway call for a settled order")
	}
	if len(fixture.outbox.events) != 0 {
		t.Fatal("expected no events for a settled order")
	}
}

func TestFinalizeOrderSettlesRejectedLineAtEstimate(t *testing.T) {
	orderID := uuid.New()
	approved := readyAdjustment(orderID, 500, 500)
	// An admin rejection reverts the line to its estimate before settlement.
	rejected := readyAdjustment(orderID, 600, 600)
	rejected.Status = enums.AdjustmentStatusRejectedByAdmin
	fixture := newFixture(t, cardOrder(orderID, 1100), newFakeAdjStore(approved, rejected), activeHold(orderID, 1265))

	if err := fixture.orchestrator.FinalizeOrder(context.Background(), orderID); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	// 500 actual + 600 at the estimate for the rejected line.
	if fixture.gateway.captureReqs[0].FinalAmountCents != 1100 {
		t.Fatalf("expected capture of 1100 got %d", fixture.gateway.captureReqs[0].FinalAmountCents)
	}
	if !approved.IsSettled {
		t.Fatal("expected approved line settled")
	}
	if rejected.IsSettled {
		t.Fatal("expected rejected line left alone")
	}
}

func TestFinalizeOrderGatewayFailureRecordsRetry(t *testing.T) {
	orderID := uuid.New()
	adj := readyAdjustment(orderID, 960, 1000)
	fixture := newFixture(t, cardOrder(orderID, 1000), newFakeAdjStore(adj), activeHold(orderID, 1150))
	fixture.gateway.captureErrs = []error{pkgerrors.New(pkgerrors.CodeStateConflict, "card declined")}

	if err := fixture.orchestrator.FinalizeOrder(context.Background(), orderID); err != nil {
		t.Fatalf("finalize should absorb gateway failure, got %v", err)
	}

	if len(fixture.gateway.captureReqs) != 1 {
		t.Fatalf("expected no retry on a final decline, got %d attempts", len(fixture.gateway.captureReqs))
	}
	if adj.Status != enums.AdjustmentStatusSettlementFailed {
		t.Fatalf("expected settlement_failed got %s", adj.Status)
	}
	if adj.FailureCount != 1 {
		t.Fatalf("expected failure count 1 got %d", adj.FailureCount)
	}
	capture := fixture.ledger.byKind(enums.SettlementKindCapture)
	if capture == nil || capture.Outcome != enums.SettlementOutcomeFailed {
		t.Fatalf("expected failed capture ledger row, got %+v", capture)
	}
	if fixture.outbox.byType(enums.EventSettlementFailed) == nil {
		t.Fatal("expected settlement failed event")
	}
	if fixture.outbox.byType(enums.EventOrderSettled) != nil {
		t.Fatal("expected no settled event after failure")
	}
}

func TestFinalizeOrderRetriesTransientErrors(t *testing.T) {
	orderID := uuid.New()
	adj := readyAdjustment(orderID, 960, 1000)
	fixture := newFixture(t, cardOrder(orderID, 1000), newFakeAdjStore(adj), activeHold(orderID, 1150))
	fixture.gateway.captureErrs = []error{pkgerrors.New(pkgerrors.CodeDependency, "gateway unavailable"), nil}

	if err := fixture.orchestrator.FinalizeOrder(context.Background(), orderID); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if len(fixture.gateway.captureReqs) != 2 {
		t.Fatalf("expected a retry, got %d attempts", len(fixture.gateway.captureReqs))
	}
	if !adj.IsSettled {
		t.Fatal("expected adjustment settled after successful retry")
	}
}

func TestFinalizeOrderReconcilesUnknownOutcome(t *testing.T) {
	orderID := uuid.New()
	adj := readyAdjustment(orderID, 960, 1000)
	fixture := newFixture(t, cardOrder(orderID, 1000), newFakeAdjStore(adj), activeHold(orderID, 1150))

	// The capture times out but the processor completed it.
	fixture.gateway.captureErrs = []error{context.DeadlineExceeded}
	fixture.gateway.getPayment = &gateway.Payment{Reference: "hold-ref-1", Status: gateway.StatusCompleted, AmountCents: 960}

	if err := fixture.orchestrator.FinalizeOrder(context.Background(), orderID); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if len(fixture.gateway.captureReqs) != 1 {
		t.Fatalf("expected no blind retry after timeout, got %d attempts", len(fixture.gateway.captureReqs))
	}
	if !adj.IsSettled {
		t.Fatal("expected adjustment settled after reconciliation")
	}
}

func TestFinalizeOrderLockConflict(t *testing.T) {
	orderID := uuid.New()
	fixture := newFixture(t, cardOrder(orderID, 1000), newFakeAdjStore(), activeHold(orderID, 1150))
	fixture.locker.err = pkgerrors.New(pkgerrors.CodeConflict, "settlement already running")

	err := fixture.orchestrator.FinalizeOrder(context.Background(), orderID)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestReleaseExpiredHoldFailsPendingAdjustments(t *testing.T) {
	orderID := uuid.New()
	hold := activeHold(orderID, 1150)
	adj := readyAdjustment(orderID, 960, 1000)
	fixture := newFixture(t, cardOrder(orderID, 1000), newFakeAdjStore(adj), hold)

	if err := fixture.orchestrator.ReleaseExpiredHold(context.Background(), *hold); err != nil {
		t.Fatalf("release hold: %v", err)
	}
	if fixture.gateway.cancelCalls != 1 {
		t.Fatalf("expected one cancel call got %d", fixture.gateway.cancelCalls)
	}
	if fixture.preAuths.closedStatus != enums.PreAuthStatusExpired {
		t.Fatalf("expected hold closed as expired, got %s", fixture.preAuths.closedStatus)
	}
	if adj.Status != enums.AdjustmentStatusSettlementFailed {
		t.Fatalf("expected settlement_failed got %s", adj.Status)
	}
	if adj.FailureReason == nil || !strings.Contains(*adj.FailureReason, "expired") {
		t.Fatalf("expected expiry reason, got %v", adj.FailureReason)
	}
	if fixture.outbox.byType(enums.EventPreAuthExpired) == nil {
		t.Fatal("expected expiry event")
	}
}

func TestReleaseExpiredHoldToleratesProcessorCancel(t *testing.T) {
	orderID := uuid.New()
	hold := activeHold(orderID, 1150)
	fixture := newFixture(t, cardOrder(orderID, 1000), newFakeAdjStore(), hold)

	fixture.gateway.cancelErr = pkgerrors.New(pkgerrors.CodeStateConflict, "payment already canceled")
	fixture.gateway.getPayment = &gateway.Payment{Reference: hold.GatewayReference, Status: gateway.StatusCanceled}

	if err := fixture.orchestrator.ReleaseExpiredHold(context.Background(), *hold); err != nil {
		t.Fatalf("expected reconciliation to absorb cancel error, got %v", err)
	}
	if fixture.preAuths.closedStatus != enums.PreAuthStatusExpired {
		t.Fatal("expected hold closed despite processor-side cancellation")
	}
}

func TestHandlePaymentCanceledIgnoresUnknownReference(t *testing.T) {
	orderID := uuid.New()
	fixture := newFixture(t, cardOrder(orderID, 1000), newFakeAdjStore(), nil)

	if err := fixture.orchestrator.HandlePaymentCanceled(context.Background(), "unknown-ref"); err != nil {
		t.Fatalf("expected unknown reference to be ignored, got %v", err)
	}
	if fixture.gateway.cancelCalls != 0 {
		t.Fatal("expected no cancel for unknown reference")
	}
}

func TestHandlePaymentCanceledReleasesMatchingHold(t *testing.T) {
	orderID := uuid.New()
	hold := activeHold(orderID, 1150)
	fixture := newFixture(t, cardOrder(orderID, 1000), newFakeAdjStore(), hold)

	if err := fixture.orchestrator.HandlePaymentCanceled(context.Background(), hold.GatewayReference); err != nil {
		t.Fatalf("handle payment canceled: %v", err)
	}
	if fixture.preAuths.closedStatus != enums.PreAuthStatusExpired {
		t.Fatal("expected matching hold to be released")
	}
}

func TestFinalizeOrderLedgerConservesActualTotal(t *testing.T) {
	orderID := uuid.New()
	adj := readyAdjustment(orderID, 960, 1000)
	fixture := newFixture(t, cardOrder(orderID, 1000), newFakeAdjStore(adj), activeHold(orderID, 1150))

	if err := fixture.orchestrator.FinalizeOrder(context.Background(), orderID); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	var captured, refunded int64
	for _, row := range fixture.ledger.rows {
		if row.Outcome != enums.SettlementOutcomeSuccess {
			continue
		}
		switch row.Kind {
		case enums.SettlementKindCapture, enums.SettlementKindCharge:
			captured += row.AmountCents
		case enums.SettlementKindRefund:
			refunded += row.AmountCents
		}
	}
	if captured-refunded != 960 {
		t.Fatalf("expected net movement of 960, got captures %d refunds %d", captured, refunded)
	}
}

func TestFinalizeOrderCapturesWaivedLineAtEstimate(t *testing.T) {
	orderID := uuid.New()
	// A waived line re-enters settlement at its estimate.
	adj := readyAdjustment(orderID, 1000, 1000)
	fixture := newFixture(t, cardOrder(orderID, 1000), newFakeAdjStore(adj), activeHold(orderID, 1150))

	if err := fixture.orchestrator.FinalizeOrder(context.Background(), orderID); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if len(fixture.gateway.captureReqs) != 1 || fixture.gateway.captureReqs[0].FinalAmountCents != 1000 {
		t.Fatalf("expected capture of 1000, got %v", fixture.gateway.captureReqs)
	}
	if !adj.IsSettled {
		t.Fatal("expected waived line settled once the money moved")
	}
	if fixture.preAuths.closedStatus != enums.PreAuthStatusCaptured {
		t.Fatal("expected hold captured, not left to expire")
	}
}
