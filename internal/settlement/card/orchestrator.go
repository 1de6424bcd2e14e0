package card

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/haldirect/settlement-backend/internal/orders"
	"github.com/haldirect/settlement-backend/internal/settlement"
	"github.com/haldirect/settlement-backend/internal/weighing"
	"github.com/haldirect/settlement-backend/pkg/config"
	"github.com/haldirect/settlement-backend/pkg/db/models"
	"github.com/haldirect/settlement-backend/pkg/enums"
	pkgerrors "github.com/haldirect/settlement-backend/pkg/errors"
	"github.com/haldirect/settlement-backend/pkg/gateway"
	"github.com/haldirect/settlement-backend/pkg/logger"
	"github.com/haldirect/settlement-backend/pkg/metrics"
	"github.com/haldirect/settlement-backend/pkg/outbox"
	"github.com/haldirect/settlement-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type orderLocker interface {
	Acquire(ctx context.Context, orderID uuid.UUID) (func(), error)
}

// Orchestrator drives the card settlement leg: placing holds at order time
// and converting them into captures, releases, and overage charges once the
// final weight-based total is known.
type Orchestrator struct {
	orders      orders.Repository
	adjustments weighing.Repository
	preAuths    settlement.PreAuthRepository
	ledger      settlement.LedgerRepository
	machine     *settlement.Machine
	locker      orderLocker
	gw          gateway.Gateway
	tx          txRunner
	outbox      outboxPublisher
	cfg         config.SettlementConfig
	metrics     *metrics.SettlementMetrics
	logg        *logger.Logger
}

// Params collects the orchestrator dependencies.
type Params struct {
	Orders      orders.Repository
	Adjustments weighing.Repository
	PreAuths    settlement.PreAuthRepository
	Ledger      settlement.LedgerRepository
	Machine     *settlement.Machine
	Locker      orderLocker
	Gateway     gateway.Gateway
	Tx          txRunner
	Outbox      outboxPublisher
	Config      config.SettlementConfig
	Metrics     *metrics.SettlementMetrics
	Logger      *logger.Logger
}

// NewOrchestrator validates the dependencies and builds the orchestrator.
func NewOrchestrator(params Params) (*Orchestrator, error) {
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Adjustments == nil {
		return nil, fmt.Errorf("adjustment repository required")
	}
	if params.PreAuths == nil {
		return nil, fmt.Errorf("pre-auth repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Machine == nil {
		return nil, fmt.Errorf("state machine required")
	}
	if params.Locker == nil {
		return nil, fmt.Errorf("order locker required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &Orchestrator{
		orders:      params.Orders,
		adjustments: params.Adjustments,
		preAuths:    params.PreAuths,
		ledger:      params.Ledger,
		machine:     params.Machine,
		locker:      params.Locker,
		gw:          params.Gateway,
		tx:          params.Tx,
		outbox:      params.Outbox,
		cfg:         params.Config,
		metrics:     params.Metrics,
		logg:        params.Logger,
	}, nil
}

// EnsurePreAuthorization blocks the estimated total plus the security margin
// on the shopper's card. Calling it again while a hold is active returns the
// existing hold unchanged.
func (o *Orchestrator) EnsurePreAuthorization(ctx context.Context, orderID uuid.UUID) (*models.PreAuthorization, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	order, err := o.orders.FindOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	if order.PaymentMethod != enums.PaymentMethodCard {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not paid by card")
	}
	if order.CardSourceID == nil || *order.CardSourceID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order has no card source")
	}

	if existing, err := o.preAuths.FindActiveByOrder(ctx, orderID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load pre-authorization")
	} else if existing != nil {
		return existing, nil
	}

	blockedAmount := amountWithMargin(order.EstimatedTotalCents, o.cfg.SecurityMarginPercent)

	payment, err := o.gatewayCall(ctx, "pre_authorize", func(callCtx context.Context) (*gateway.Payment, error) {
		return o.gw.PreAuthorize(callCtx, gateway.PreAuthorizeRequest{
			SourceID:       *order.CardSourceID,
			AmountCents:    blockedAmount,
			Currency:       order.Currency,
			HoldWindow:     o.cfg.PreAuthHoldWindow,
			IdempotencyKey: preAuthKey(orderID),
			ReferenceID:    orderID.String(),
			Note:           fmt.Sprintf("hold for order %d", order.OrderNumber),
		})
	})
	if err != nil {
		return nil, err
	}

	expiresAt := time.Now().UTC().Add(o.cfg.PreAuthHoldWindow)
	if !payment.ExpiresAt.IsZero() && payment.ExpiresAt.Before(expiresAt) {
		expiresAt = payment.ExpiresAt
	}

	preAuth := &models.PreAuthorization{
		OrderID:            orderID,
		BlockedAmountCents: blockedAmount,
		GatewayReference:   payment.Reference,
		Status:             enums.PreAuthStatusActive,
		ExpiresAt:          expiresAt,
	}
	err = o.tx.WithTx(ctx, func(tx *gorm.DB) error {
		created, err := o.preAuths.WithTx(tx).Create(ctx, preAuth)
		if err != nil {
			return err
		}
		preAuth = created
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist pre-authorization")
	}

	if o.logg != nil {
		logCtx := o.logg.WithOrderID(ctx, orderID.String())
		logCtx = o.logg.WithFields(logCtx, map[string]any{
			"blocked_amount_cents": blockedAmount,
			"expires_at":           expiresAt,
		})
		o.logg.Info(logCtx, "pre-authorization placed")
	}
	return preAuth, nil
}

// FinalizeOrder settles a fully weighed card order: capture the actual total
// from the hold, release the remainder, and charge any overage separately.
// It is safe to call again after a failure or duplicate signal; already
// settled adjustments are left untouched.
func (o *Orchestrator) FinalizeOrder(ctx context.Context, orderID uuid.UUID) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	release, err := o.locker.Acquire(ctx, orderID)
	if err != nil {
		return err
	}
	defer release()

	// Phase 1: validate state and move adjustments into settlement_pending.
	var (
		order       *models.Order
		adjustments []models.WeightAdjustment
		preAuth     *models.PreAuthorization
		finalTotal  int64
	)
	err = o.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ordersRepo := o.orders.WithTx(tx)
		adjRepo := o.adjustments.WithTx(tx)

		var err error
		order, err = ordersRepo.FindOrderForUpdate(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return err
		}
		if order.PaymentMethod != enums.PaymentMethodCard {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not paid by card")
		}

		unweighed, err := ordersRepo.CountUnweighedLines(ctx, orderID)
		if err != nil {
			return err
		}
		if unweighed > 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("%d lines still await weighing", unweighed))
		}

		adjustments, err = adjRepo.FindByOrder(ctx, orderID)
		if err != nil {
			return err
		}

		finalTotal = 0
		allSettled := len(adjustments) > 0
		for i := range adjustments {
			adj := &adjustments[i]
			finalTotal += adj.ActualPriceCents
			if adj.IsSettled {
				continue
			}
			allSettled = false
			switch adj.Status {
			case enums.AdjustmentStatusPendingAdminApproval:
				return pkgerrors.New(pkgerrors.CodeStateConflict, "order awaits arbitration")
			case enums.AdjustmentStatusRejectedByAdmin:
				// Arbitration already reverted the price to the estimate.
				// The line stays terminal but its amount is still captured.
			case enums.AdjustmentStatusAutoApproved, enums.AdjustmentStatusSettlementFailed:
				if err := o.machine.Transition(ctx, tx, adj, enums.AdjustmentStatusSettlementPending, nil); err != nil {
					return err
				}
			case enums.AdjustmentStatusSettlementPending:
				// Re-entry after a crash; proceed.
			default:
				return pkgerrors.New(pkgerrors.CodeStateConflict,
					fmt.Sprintf("adjustment %s not ready in status %s", adj.ID, adj.Status))
			}
		}
		if allSettled {
			return errAlreadySettled
		}

		preAuth, err = o.preAuths.WithTx(tx).FindActiveByOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		return nil
	})
	if errors.Is(err, errAlreadySettled) {
		return nil
	}
	if err != nil {
		return err
	}

	// Phase 2: move money. Gateway calls stay outside any DB transaction.
	captured, charged, released, gwErr := o.moveFunds(ctx, order, preAuth, finalTotal)

	// Phase 3: record the outcome.
	return o.tx.WithTx(ctx, func(tx *gorm.DB) error {
		adjRepo := o.adjustments.WithTx(tx)
		now := time.Now().UTC()

		if gwErr != nil {
			for i := range adjustments {
				adj := &adjustments[i]
				if adj.IsSettled || adj.Status == enums.AdjustmentStatusRejectedByAdmin {
					continue
				}
				locked, err := adjRepo.FindByIDForUpdate(ctx, adj.ID)
				if err != nil {
					return err
				}
				if err := o.machine.RecordFailure(ctx, tx, locked, gwErr.Error()); err != nil {
					return err
				}
			}
			return nil
		}

		if preAuth != nil {
			if err := o.preAuths.WithTx(tx).Close(ctx, preAuth.ID, enums.PreAuthStatusCaptured, now); err != nil {
				return err
			}
		}

		reference := captured
		for i := range adjustments {
			adj := &adjustments[i]
			if adj.IsSettled {
				continue
			}
			locked, err := adjRepo.FindByIDForUpdate(ctx, adj.ID)
			if err != nil {
				return err
			}
			if locked.Status == enums.AdjustmentStatusRejectedByAdmin {
				continue
			}
			if err := o.machine.MarkSettled(ctx, tx, locked, reference, now); err != nil {
				return err
			}
		}

		settledEvent := outbox.DomainEvent{
			EventType:     enums.EventOrderSettled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Version:       1,
			Data: payloads.OrderSettledEvent{
				OrderID:       orderID,
				PaymentMethod: enums.PaymentMethodCard,
				CapturedCents: minInt64(finalTotal, blockedOrZero(preAuth)),
				RefundedCents: released,
				ChargedCents:  charged,
				SettledAt:     now,
			},
		}
		return o.outbox.EmitIfNotExists(ctx, tx, settledEvent)
	})
}

var errAlreadySettled = errors.New("order already settled")

// moveFunds captures the final total from the hold and charges any overage.
// Returns the capture reference, charged overage, released remainder, and
// the first unrecoverable error.
func (o *Orchestrator) moveFunds(ctx context.Context, order *models.Order, preAuth *models.PreAuthorization, finalTotal int64) (*string, int64, int64, error) {
	if preAuth == nil {
		return nil, 0, 0, pkgerrors.New(pkgerrors.CodeStateConflict, "no active pre-authorization for order")
	}

	captureAmount := finalTotal
	overage := int64(0)
	if captureAmount > preAuth.BlockedAmountCents {
		overage = captureAmount - preAuth.BlockedAmountCents
		captureAmount = preAuth.BlockedAmountCents
	}
	released := preAuth.BlockedAmountCents - captureAmount

	captureKey := settlementKey(order.ID, enums.SettlementKindCapture)
	payment, err := o.withRetries(ctx, "capture", preAuth.GatewayReference, func(callCtx context.Context) (*gateway.Payment, error) {
		return o.gw.Capture(callCtx, gateway.CaptureRequest{
			HoldReference:    preAuth.GatewayReference,
			FinalAmountCents: captureAmount,
			Currency:         order.Currency,
			IdempotencyKey:   captureKey,
		})
	})
	o.appendLedger(ctx, order.ID, nil, enums.SettlementKindCapture, captureAmount, refOrNil(payment), captureKey, err)
	if err != nil {
		return nil, 0, 0, err
	}
	if released > 0 {
		// The remainder is never captured, it just falls off the hold. Record
		// it as a release so refund rows keep tracking actual money returned.
		o.appendLedger(ctx, order.ID, nil, enums.SettlementKindRelease, released, refOrNil(payment), captureKey+"-rel", nil)
	}

	reference := payment.Reference
	if overage > 0 {
		if order.CardSourceID == nil || *order.CardSourceID == "" {
			return nil, 0, released, pkgerrors.New(pkgerrors.CodeStateConflict, "overage due but order has no card source")
		}
		chargeKey := settlementKey(order.ID, enums.SettlementKindCharge)
		chargePayment, err := o.withRetries(ctx, "charge", "", func(callCtx context.Context) (*gateway.Payment, error) {
			return o.gw.Charge(callCtx, gateway.ChargeRequest{
				SourceID:       *order.CardSourceID,
				AmountCents:    overage,
				Currency:       order.Currency,
				IdempotencyKey: chargeKey,
				ReferenceID:    order.ID.String(),
				Note:           fmt.Sprintf("weight overage for order %d", order.OrderNumber),
			})
		})
		o.appendLedger(ctx, order.ID, nil, enums.SettlementKindCharge, overage, refOrNil(chargePayment), chargeKey, err)
		if err != nil {
			return nil, 0, released, err
		}
	}

	return &reference, overage, released, nil
}

// ReleaseExpiredHold cancels a stale hold at the processor and closes the
// local row. Adjustments still waiting on that hold fail with a retryable
// reason so a fresh settlement path can be arranged.
func (o *Orchestrator) ReleaseExpiredHold(ctx context.Context, preAuth models.PreAuthorization) error {
	release, err := o.locker.Acquire(ctx, preAuth.OrderID)
	if err != nil {
		return err
	}
	defer release()

	_, err = o.gatewayCall(ctx, "cancel_hold", func(callCtx context.Context) (*gateway.Payment, error) {
		return o.gw.CancelHold(callCtx, preAuth.GatewayReference)
	})
	if err != nil {
		// The processor may have auto-cancelled already; reconcile.
		current, getErr := o.gw.GetPayment(ctx, preAuth.GatewayReference)
		if getErr != nil || (current.Status != gateway.StatusCanceled && current.Status != gateway.StatusFailed) {
			return err
		}
	}

	now := time.Now().UTC()
	return o.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := o.preAuths.WithTx(tx).Close(ctx, preAuth.ID, enums.PreAuthStatusExpired, now); err != nil {
			return err
		}

		adjRepo := o.adjustments.WithTx(tx)
		adjustments, err := adjRepo.FindByOrder(ctx, preAuth.OrderID)
		if err != nil {
			return err
		}
		for i := range adjustments {
			adj := &adjustments[i]
			if adj.IsSettled || adj.Status.IsTerminal() {
				continue
			}
			locked, err := adjRepo.FindByIDForUpdate(ctx, adj.ID)
			if err != nil {
				return err
			}
			if locked.Status == enums.AdjustmentStatusSettlementPending || locked.Status == enums.AdjustmentStatusAutoApproved {
				if locked.Status == enums.AdjustmentStatusAutoApproved {
					if err := o.machine.Transition(ctx, tx, locked, enums.AdjustmentStatusSettlementPending, nil); err != nil {
						return err
					}
				}
				if err := o.machine.RecordFailure(ctx, tx, locked, "pre-authorization expired"); err != nil {
					return err
				}
			}
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventPreAuthExpired,
			AggregateType: enums.AggregatePreAuthorization,
			AggregateID:   preAuth.ID,
			Version:       1,
			Data: payloads.PreAuthExpiredEvent{
				OrderID:          preAuth.OrderID,
				PreAuthID:        preAuth.ID,
				GatewayReference: preAuth.GatewayReference,
				ExpiredAt:        now,
			},
		}
		return o.outbox.Emit(ctx, tx, event)
	})
}

// HandlePaymentCanceled reacts to a processor-side cancellation of one of
// our holds, usually the processor voiding it at the end of the hold window.
// Unknown references are ignored.
func (o *Orchestrator) HandlePaymentCanceled(ctx context.Context, gatewayReference string) error {
	if gatewayReference == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "gateway reference required")
	}
	preAuth, err := o.preAuths.FindActiveByReference(ctx, gatewayReference)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load pre-authorization")
	}
	if preAuth == nil {
		return nil
	}
	return o.ReleaseExpiredHold(ctx, *preAuth)
}

// withRetries runs a mutating gateway call with bounded exponential backoff.
// A timeout leaves the remote outcome unknown, so the payment is reconciled
// via a read before any retry; if the money already moved the read result is
// returned as the success.
func (o *Orchestrator) withRetries(ctx context.Context, operation, reconcileRef string, call func(context.Context) (*gateway.Payment, error)) (*gateway.Payment, error) {
	backoff := o.cfg.RetryBackoffBase
	if backoff <= 0 {
		backoff = time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= o.cfg.MaxGatewayAttempts; attempt++ {
		payment, err := o.gatewayCall(ctx, operation, call)
		if err == nil {
			return payment, nil
		}
		lastErr = err

		if gateway.IsUnknownOutcome(err) && reconcileRef != "" {
			current, getErr := o.gw.GetPayment(ctx, reconcileRef)
			if getErr == nil && current.Status == gateway.StatusCompleted {
				return current, nil
			}
		}

		if !retryable(err) {
			return nil, err
		}
		if attempt == o.cfg.MaxGatewayAttempts {
			break
		}
		if err := sleepCtx(ctx, backoff); err != nil {
			return nil, err
		}
		backoff *= 2
		if o.cfg.RetryBackoffCap > 0 && backoff > o.cfg.RetryBackoffCap {
			backoff = o.cfg.RetryBackoffCap
		}
	}
	return nil, lastErr
}

func (o *Orchestrator) gatewayCall(ctx context.Context, operation string, call func(context.Context) (*gateway.Payment, error)) (*gateway.Payment, error) {
	start := time.Now()
	payment, err := call(ctx)
	o.metrics.ObserveGatewayCall(operation, time.Since(start))
	return payment, err
}

func (o *Orchestrator) appendLedger(ctx context.Context, orderID uuid.UUID, adjustmentID *uuid.UUID, kind enums.SettlementKind, amount int64, reference *string, key string, callErr error) {
	outcome := enums.SettlementOutcomeSuccess
	var notes *string
	if callErr != nil {
		outcome = enums.SettlementOutcomeFailed
		msg := callErr.Error()
		notes = &msg
	}
	o.metrics.IncAttempt(string(kind), string(outcome))

	_, err := o.ledger.Append(ctx, &models.SettlementTransaction{
		OrderID:          orderID,
		AdjustmentID:     adjustmentID,
		Kind:             kind,
		AmountCents:      amount,
		GatewayReference: reference,
		IdempotencyKey:   key,
		Outcome:          outcome,
		Notes:            notes,
		AttemptedAt:      time.Now().UTC(),
	})
	if err != nil && o.logg != nil {
		o.logg.Error(ctx, "append settlement ledger", err)
	}
}

func retryable(err error) bool {
	if gateway.IsUnknownOutcome(err) {
		return true
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		return true
	}
	return pkgerrors.MetadataFor(typed.Code()).Retryable
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func amountWithMargin(amountCents int64, marginPercent int) int64 {
	return decimal.NewFromInt(amountCents).
		Mul(decimal.NewFromInt(int64(100 + marginPercent))).
		Div(decimal.NewFromInt(100)).
		Round(0).
		IntPart()
}

func preAuthKey(orderID uuid.UUID) string {
	return fmt.Sprintf("hd-preauth-%s", orderID)
}

func settlementKey(orderID uuid.UUID, kind enums.SettlementKind) string {
	return fmt.Sprintf("hd-settle-%s-%s", orderID, kind)
}

func refOrNil(payment *gateway.Payment) *string {
	if payment == nil || payment.Reference == "" {
		return nil
	}
	ref := payment.Reference
	return &ref
}

func blockedOrZero(preAuth *models.PreAuthorization) int64 {
	if preAuth == nil {
		return 0
	}
	return preAuth.BlockedAmountCents
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
