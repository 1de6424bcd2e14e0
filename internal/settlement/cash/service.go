package cash

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/haldirect/settlement-backend/internal/orders"
	"github.com/haldirect/settlement-backend/internal/settlement"
	"github.com/haldirect/settlement-backend/internal/weighing"
	"github.com/haldirect/settlement-backend/pkg/db/models"
	"github.com/haldirect/settlement-backend/pkg/enums"
	pkgerrors "github.com/haldirect/settlement-backend/pkg/errors"
	"github.com/haldirect/settlement-backend/pkg/logger"
	"github.com/haldirect/settlement-backend/pkg/metrics"
	"github.com/haldirect/settlement-backend/pkg/outbox"
	"github.com/haldirect/settlement-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Difference is the cash amount the courier settles at handover.
type Difference struct {
	OrderID        uuid.UUID           `json:"order_id"`
	Direction      enums.CashDirection `json:"direction"`
	AmountCents    int64               `json:"amount_cents"`
	Currency       string              `json:"currency"`
	AlreadySettled bool                `json:"already_settled"`
}

// CompleteInput confirms a cash handover.
type CompleteInput struct {
	OrderID     uuid.UUID
	CourierID   uuid.UUID
	CompletedAt time.Time
}

// Service reconciles cash orders at the doorstep. The courier collects the
// shortfall or returns the overpayment against what was paid at checkout.
type Service interface {
	PreviewDifference(ctx context.Context, orderID uuid.UUID) (*Difference, error)
	CompleteCashDifference(ctx context.Context, input CompleteInput) (*Difference, error)
}

type service struct {
	orders      orders.Repository
	adjustments weighing.Repository
	ledger      settlement.LedgerRepository
	machine     *settlement.Machine
	tx          txRunner
	outbox      outboxPublisher
	metrics     *metrics.SettlementMetrics
	logg        *logger.Logger
}

// NewService builds the cash settlement service.
func NewService(
	ordersRepo orders.Repository,
	adjustments weighing.Repository,
	ledger settlement.LedgerRepository,
	machine *settlement.Machine,
	tx txRunner,
	publisher outboxPublisher,
	settlementMetrics *metrics.SettlementMetrics,
	logg *logger.Logger,
) (Service, error) {
	if ordersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if adjustments == nil {
		return nil, fmt.Errorf("adjustment repository required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if machine == nil {
		return nil, fmt.Errorf("state machine required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{
		orders:      ordersRepo,
		adjustments: adjustments,
		ledger:      ledger,
		machine:     machine,
		tx:          tx,
		outbox:      publisher,
		metrics:     settlementMetrics,
		logg:        logg,
	}, nil
}

// PreviewDifference computes the cash still owed either way for a fully
// weighed cash order without changing any state.
func (s *service) PreviewDifference(ctx context.Context, orderID uuid.UUID) (*Difference, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, adjustments, err := s.loadCashOrder(ctx, nil, orderID)
	if err != nil {
		return nil, err
	}
	diff := differenceFor(order, adjustments)
	return diff, nil
}

// CompleteCashDifference records that the courier exchanged the difference in
// cash. Calling it again for the same order returns the recorded outcome
// without writing anything.
func (s *service) CompleteCashDifference(ctx context.Context, input CompleteInput) (*Difference, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.CourierID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "courier id required")
	}
	completedAt := input.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}

	var result *Difference
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, adjustments, err := s.loadCashOrder(ctx, tx, input.OrderID)
		if err != nil {
			return err
		}
		if order.CourierID == nil || *order.CourierID != input.CourierID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "courier is not assigned to this order")
		}

		for i := range adjustments {
			adj := adjustments[i]
			if adj.IsSettled || adj.Status.IsTerminal() {
				continue
			}
			if adj.Status == enums.AdjustmentStatusPendingAdminApproval {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "order awaits arbitration")
			}
		}

		diff := differenceFor(order, adjustments)
		if diff.AlreadySettled {
			result = diff
			return nil
		}

		key := cashKey(input.OrderID)
		if existing, err := s.ledger.WithTx(tx).FindSuccessByKey(ctx, key); err != nil {
			return err
		} else if existing != nil {
			diff.AlreadySettled = true
			result = diff
			return nil
		}

		if diff.Direction != enums.CashDirectionNoDifference {
			kind := enums.SettlementKindCashCollect
			if diff.Direction == enums.CashDirectionRefundToCustomer {
				kind = enums.SettlementKindCashReturn
			}
			notes := fmt.Sprintf("cash handover by courier %s", input.CourierID)
			_, err = s.ledger.WithTx(tx).Append(ctx, &models.SettlementTransaction{
				OrderID:        input.OrderID,
				Kind:           kind,
				AmountCents:    diff.AmountCents,
				IdempotencyKey: key,
				Outcome:        enums.SettlementOutcomeSuccess,
				Notes:          &notes,
				AttemptedAt:    completedAt,
			})
			if err != nil {
				return err
			}
			s.metrics.IncAttempt(string(kind), string(enums.SettlementOutcomeSuccess))
		}

		adjRepo := s.adjustments.WithTx(tx)
		for i := range adjustments {
			adj := adjustments[i]
			if adj.IsSettled || adj.Status.IsTerminal() {
				continue
			}
			locked, err := adjRepo.FindByIDForUpdate(ctx, adj.ID)
			if err != nil {
				return err
			}
			if locked.Status == enums.AdjustmentStatusAutoApproved || locked.Status == enums.AdjustmentStatusSettlementFailed {
				if err := s.machine.Transition(ctx, tx, locked, enums.AdjustmentStatusSettlementPending, nil); err != nil {
					return err
				}
			}
			if err := s.machine.MarkSettled(ctx, tx, locked, nil, completedAt); err != nil {
				return err
			}
		}

		collected, returned := int64(0), int64(0)
		switch diff.Direction {
		case enums.CashDirectionChargeFromCustomer:
			collected = diff.AmountCents
		case enums.CashDirectionRefundToCustomer:
			returned = diff.AmountCents
		}
		event := outbox.DomainEvent{
			EventType:     enums.EventOrderSettled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   input.OrderID,
			Actor:         &outbox.ActorRef{ActorID: input.CourierID, Role: string(enums.ActorRoleCourier)},
			Version:       1,
			Data: payloads.OrderSettledEvent{
				OrderID:       input.OrderID,
				PaymentMethod: enums.PaymentMethodCash,
				ChargedCents:  collected,
				RefundedCents: returned,
				SettledAt:     completedAt,
			},
		}
		if err := s.outbox.EmitIfNotExists(ctx, tx, event); err != nil {
			return err
		}

		diff.AlreadySettled = true
		result = diff
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithOrderID(ctx, input.OrderID.String())
		logCtx = s.logg.WithCourierID(logCtx, input.CourierID.String())
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"direction":    result.Direction,
			"amount_cents": result.AmountCents,
		})
		s.logg.Info(logCtx, "cash difference settled")
	}
	return result, nil
}

func (s *service) loadCashOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, []models.WeightAdjustment, error) {
	ordersRepo := s.orders
	adjRepo := s.adjustments
	if tx != nil {
		ordersRepo = ordersRepo.WithTx(tx)
		adjRepo = adjRepo.WithTx(tx)
	}

	var (
		order *models.Order
		err   error
	)
	if tx != nil {
		order, err = ordersRepo.FindOrderForUpdate(ctx, orderID)
	} else {
		order, err = ordersRepo.FindOrder(ctx, orderID)
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	if order.PaymentMethod != enums.PaymentMethodCash {
		return nil, nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not paid in cash")
	}

	unweighed, err := ordersRepo.CountUnweighedLines(ctx, orderID)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count unweighed lines")
	}
	if unweighed > 0 {
		return nil, nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("%d lines still await weighing", unweighed))
	}

	adjustments, err := adjRepo.FindByOrder(ctx, orderID)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load adjustments")
	}
	if len(adjustments) == 0 {
		return nil, nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no weighed lines")
	}
	return order, adjustments, nil
}

// differenceFor nets all line adjustments into a single handover amount.
// Rejected lines settle at the estimate and contribute nothing.
func differenceFor(order *models.Order, adjustments []models.WeightAdjustment) *Difference {
	total := int64(0)
	allSettled := true
	for i := range adjustments {
		adj := adjustments[i]
		// Rejected lines carry a zero diff; arbitration reverted them to
		// the estimate. They stay terminal and never settle.
		if !adj.IsSettled && adj.Status != enums.AdjustmentStatusRejectedByAdmin {
			allSettled = false
		}
		total += adj.PriceDiffCents
	}

	diff := &Difference{
		OrderID:        order.ID,
		Currency:       order.Currency,
		Direction:      enums.CashDirectionNoDifference,
		AlreadySettled: allSettled,
	}
	switch {
	case total > 0:
		diff.Direction = enums.CashDirectionChargeFromCustomer
		diff.AmountCents = total
	case total < 0:
		diff.Direction = enums.CashDirectionRefundToCustomer
		diff.AmountCents = -total
	}
	return diff
}

func cashKey(orderID uuid.UUID) string {
	return fmt.Sprintf("hd-cash-%s", orderID)
}
