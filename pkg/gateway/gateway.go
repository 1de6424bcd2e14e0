// Package gateway defines the card-processor abstraction the settlement
// engine drives. Implementations must be safe for concurrent use and must
// honor the idempotency key on every mutating call.
package gateway

import (
	"context"
	"errors"
	"net"
	"time"
)

// PaymentStatus is the processor-neutral lifecycle state of a payment.
type PaymentStatus string

const (
	// StatusAuthorized means funds are blocked but not yet moved.
	StatusAuthorized PaymentStatus = "authorized"
	// StatusCompleted means funds were captured or charged.
	StatusCompleted PaymentStatus = "completed"
	// StatusCanceled means the hold was released without moving funds.
	StatusCanceled PaymentStatus = "canceled"
	// StatusFailed means the processor rejected the operation.
	StatusFailed PaymentStatus = "failed"
	// StatusPending means the processor has not reached a final state yet.
	StatusPending PaymentStatus = "pending"
)

// Payment is the processor-neutral view of a payment or hold.
type Payment struct {
	Reference   string
	Status      PaymentStatus
	AmountCents int64
	Currency    string
	// ExpiresAt is the processor-side deadline for completing a hold.
	// Zero when the processor did not report one.
	ExpiresAt time.Time
}

// Refund is the processor-neutral view of a refund.
type Refund struct {
	Reference        string
	PaymentReference string
	Status           PaymentStatus
	AmountCents      int64
}

// PreAuthorizeRequest blocks funds on the shopper's card without capturing.
type PreAuthorizeRequest struct {
	SourceID       string
	AmountCents    int64
	Currency       string
	HoldWindow     time.Duration
	IdempotencyKey string
	ReferenceID    string
	Note           string
}

// CaptureRequest settles a previously authorized hold. FinalAmountCents may
// be lower than the blocked amount; implementations release the remainder.
type CaptureRequest struct {
	HoldReference    string
	FinalAmountCents int64
	Currency         string
	IdempotencyKey   string
}

// ChargeRequest moves funds immediately, outside any hold.
type ChargeRequest struct {
	SourceID       string
	AmountCents    int64
	Currency       string
	IdempotencyKey string
	ReferenceID    string
	Note           string
}

// RefundRequest returns part or all of a completed payment.
type RefundRequest struct {
	PaymentReference string
	AmountCents      int64
	Currency         string
	IdempotencyKey   string
	Reason           string
}

// Gateway is the card-processor surface the settlement engine depends on.
type Gateway interface {
	PreAuthorize(ctx context.Context, req PreAuthorizeRequest) (*Payment, error)
	Capture(ctx context.Context, req CaptureRequest) (*Payment, error)
	Charge(ctx context.Context, req ChargeRequest) (*Payment, error)
	Refund(ctx context.Context, req RefundRequest) (*Refund, error)
	CancelHold(ctx context.Context, holdReference string) (*Payment, error)
	GetPayment(ctx context.Context, reference string) (*Payment, error)
}

// IsUnknownOutcome reports whether an error leaves the remote state
// undetermined. Callers must reconcile with GetPayment before retrying a
// mutating call, otherwise a retry can double-move funds.
func IsUnknownOutcome(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
