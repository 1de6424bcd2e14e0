package square

import (
	"context"
	"time"

	sq "github.com/square/square-go-sdk"

	"github.com/haldirect/settlement-backend/pkg/gateway"
)

// Gateway adapts the Square client to the processor-neutral surface the
// settlement engine drives.
type Gateway struct {
	client *Client
}

// NewGateway wraps a Square client.
func NewGateway(client *Client) *Gateway {
	return &Gateway{client: client}
}

var _ gateway.Gateway = (*Gateway)(nil)

func (g *Gateway) PreAuthorize(ctx context.Context, req gateway.PreAuthorizeRequest) (*gateway.Payment, error) {
	payment, err := g.client.CreateHold(ctx, HoldCreateParams{
		SourceID:       req.SourceID,
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
		HoldWindow:     req.HoldWindow,
		IdempotencyKey: req.IdempotencyKey,
		ReferenceID:    req.ReferenceID,
		Note:           req.Note,
	})
	if err != nil {
		return nil, err
	}
	return toGatewayPayment(payment), nil
}

// Capture completes the hold for its full blocked amount, then refunds the
// difference when the final amount is lower. Square does not support partial
// completion directly.
func (g *Gateway) Capture(ctx context.Context, req gateway.CaptureRequest) (*gateway.Payment, error) {
	payment, err := g.client.CompletePayment(ctx, req.HoldReference)
	if err != nil {
		return nil, err
	}

	captured := toGatewayPayment(payment)
	remainder := captured.AmountCents - req.FinalAmountCents
	if remainder <= 0 {
		return captured, nil
	}

	_, err = g.client.RefundPayment(ctx, RefundCreateParams{
		PaymentID:      req.HoldReference,
		AmountCents:    remainder,
		Currency:       req.Currency,
		IdempotencyKey: req.IdempotencyKey + "-rel",
		Reason:         "release of unused hold amount",
	})
	if err != nil {
		return nil, err
	}

	captured.AmountCents = req.FinalAmountCents
	return captured, nil
}

func (g *Gateway) Charge(ctx context.Context, req gateway.ChargeRequest) (*gateway.Payment, error) {
	payment, err := g.client.CreatePayment(ctx, PaymentCreateParams{
		SourceID:       req.SourceID,
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
		IdempotencyKey: req.IdempotencyKey,
		ReferenceID:    req.ReferenceID,
		Note:           req.Note,
	})
	if err != nil {
		return nil, err
	}
	return toGatewayPayment(payment), nil
}

func (g *Gateway) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.Refund, error) {
	refund, err := g.client.RefundPayment(ctx, RefundCreateParams{
		PaymentID:      req.PaymentReference,
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
		IdempotencyKey: req.IdempotencyKey,
		Reason:         req.Reason,
	})
	if err != nil {
		return nil, err
	}
	return &gateway.Refund{
		Reference:        refund.GetID(),
		PaymentReference: req.PaymentReference,
		Status:           refundStatus(stringValue(refund.GetStatus())),
		AmountCents:      moneyAmount(refund.GetAmountMoney()),
	}, nil
}

func (g *Gateway) CancelHold(ctx context.Context, holdReference string) (*gateway.Payment, error) {
	payment, err := g.client.CancelPayment(ctx, holdReference)
	if err != nil {
		return nil, err
	}
	return toGatewayPayment(payment), nil
}

func (g *Gateway) GetPayment(ctx context.Context, reference string) (*gateway.Payment, error) {
	payment, err := g.client.GetPayment(ctx, reference)
	if err != nil {
		return nil, err
	}
	return toGatewayPayment(payment), nil
}

func toGatewayPayment(payment *sq.Payment) *gateway.Payment {
	if payment == nil {
		return nil
	}
	out := &gateway.Payment{
		Reference:   stringValue(payment.GetID()),
		Status:      paymentStatus(stringValue(payment.GetStatus())),
		AmountCents: moneyAmount(payment.GetAmountMoney()),
	}
	if money := payment.GetAmountMoney(); money != nil && money.Currency != nil {
		out.Currency = string(*money.Currency)
	}
	if raw := stringValue(payment.GetDelayedUntil()); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			out.ExpiresAt = ts
		}
	}
	return out
}

func paymentStatus(raw string) gateway.PaymentStatus {
	switch raw {
	case "APPROVED":
		return gateway.StatusAuthorized
	case "COMPLETED":
		return gateway.StatusCompleted
	case "CANCELED":
		return gateway.StatusCanceled
	case "FAILED":
		return gateway.StatusFailed
	default:
		return gateway.StatusPending
	}
}

func refundStatus(raw string) gateway.PaymentStatus {
	switch raw {
	case "COMPLETED":
		return gateway.StatusCompleted
	case "REJECTED", "FAILED":
		return gateway.StatusFailed
	default:
		return gateway.StatusPending
	}
}

func moneyAmount(money *sq.Money) int64 {
	if money == nil || money.Amount == nil {
		return 0
	}
	return *money.Amount
}
