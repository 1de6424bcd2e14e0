package square

import (
	"testing"
	"time"

	"github.com/haldirect/settlement-backend/pkg/gateway"

	sq "github.com/square/square-go-sdk"
)

func TestIsoDuration(t *testing.T) {
	cases := []struct {
		input time.Duration
		want  string
	}{
		{48 * time.Hour, "PT2880M"},
		{90 * time.Minute, "PT90M"},
		{time.Second, "PT1M"},
		{0, "PT1M"},
	}
	for _, tc := range cases {
		if got := isoDuration(tc.input); got != tc.want {
			t.Fatalf("isoDuration(%s): expected %s got %s", tc.input, tc.want, got)
		}
	}
}

func TestHoldCreateParamsBuildsDelayedCapture(t *testing.T) {
	params := HoldCreateParams{
		SourceID:    "cnon:card-1",
		AmountCents: 1150,
		Currency:    "TRY",
		HoldWindow:  48 * time.Hour,
		ReferenceID: "order-42",
		Note:        "hold for order 42",
	}
	req := params.toSquareRequest("loc-1", "key-1")

	if req.Autocomplete == nil || *req.Autocomplete {
		t.Fatal("expected autocomplete disabled for a hold")
	}
	if req.AmountMoney == nil || *req.AmountMoney.Amount != 1150 {
		t.Fatalf("unexpected amount %+v", req.AmountMoney)
	}
	if string(*req.AmountMoney.Currency) != "TRY" {
		t.Fatalf("unexpected currency %s", *req.AmountMoney.Currency)
	}
	if req.DelayDuration == nil || *req.DelayDuration != "PT2880M" {
		t.Fatalf("unexpected delay %v", req.DelayDuration)
	}
	if req.DelayAction == nil || *req.DelayAction != "CANCEL" {
		t.Fatalf("unexpected delay action %v", req.DelayAction)
	}
	if req.ReferenceID == nil || *req.ReferenceID != "order-42" {
		t.Fatalf("unexpected reference %v", req.ReferenceID)
	}
	if req.IdempotencyKey != "key-1" {
		t.Fatalf("unexpected idempotency key %s", req.IdempotencyKey)
	}
}

func TestPaymentCreateParamsAutocompletes(t *testing.T) {
	params := PaymentCreateParams{
		SourceID:    "cnon:card-1",
		AmountCents: 150,
		Currency:    "TRY",
	}
	req := params.toSquareRequest("loc-1", "key-2")

	if req.Autocomplete == nil || !*req.Autocomplete {
		t.Fatal("expected autocomplete enabled for a charge")
	}
	if req.ReferenceID != nil {
		t.Fatal("expected blank reference omitted")
	}
}

func TestRefundCreateParamsPartialAmount(t *testing.T) {
	params := RefundCreateParams{
		PaymentID:   "pay-1",
		AmountCents: 190,
		Currency:    "TRY",
		Reason:      "weight shortfall release",
	}
	req := params.toSquareRequest("key-3")

	if req.PaymentID == nil || *req.PaymentID != "pay-1" {
		t.Fatalf("unexpected payment id %v", req.PaymentID)
	}
	if req.AmountMoney == nil || *req.AmountMoney.Amount != 190 {
		t.Fatalf("unexpected amount %+v", req.AmountMoney)
	}
	if req.Reason == nil || *req.Reason != "weight shortfall release" {
		t.Fatalf("unexpected reason %v", req.Reason)
	}
}

func TestMoneyPtrZeroAmountOmitted(t *testing.T) {
	if moneyPtr(0, "TRY") != nil {
		t.Fatal("expected nil money for zero amount")
	}
}

func TestPaymentStatusMapping(t *testing.T) {
	cases := []struct {
		raw  string
		want gateway.PaymentStatus
	}{
		{"APPROVED", gateway.StatusAuthorized},
		{"COMPLETED", gateway.StatusCompleted},
		{"CANCELED", gateway.StatusCanceled},
		{"FAILED", gateway.StatusFailed},
		{"PENDING", gateway.StatusPending},
		{"", gateway.StatusPending},
	}
	for _, tc := range cases {
		if got := paymentStatus(tc.raw); got != tc.want {
			t.Fatalf("paymentStatus(%q): expected %s got %s", tc.raw, tc.want, got)
		}
	}
}

func TestRefundStatusMapping(t *testing.T) {
	if got := refundStatus("COMPLETED"); got != gateway.StatusCompleted {
		t.Fatalf("expected completed got %s", got)
	}
	if got := refundStatus("REJECTED"); got != gateway.StatusFailed {
		t.Fatalf("expected failed got %s", got)
	}
	if got := refundStatus("PENDING"); got != gateway.StatusPending {
		t.Fatalf("expected pending got %s", got)
	}
}

func TestToGatewayPayment(t *testing.T) {
	id := "pay-9"
	status := "APPROVED"
	delayedUntil := "2026-03-04T09:00:00Z"
	payment := &sq.Payment{
		ID:           &id,
		Status:       &status,
		AmountMoney:  moneyPtr(1150, "TRY"),
		DelayedUntil: &delayedUntil,
	}

	out := toGatewayPayment(payment)
	if out.Reference != "pay-9" {
		t.Fatalf("unexpected reference %s", out.Reference)
	}
	if out.Status != gateway.StatusAuthorized {
		t.Fatalf("unexpected status %s", out.Status)
	}
	if out.AmountCents != 1150 || out.Currency != "TRY" {
		t.Fatalf("unexpected money %d %s", out.AmountCents, out.Currency)
	}
	want := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	if !out.ExpiresAt.Equal(want) {
		t.Fatalf("unexpected expiry %s", out.ExpiresAt)
	}
}

func TestToGatewayPaymentNil(t *testing.T) {
	if toGatewayPayment(nil) != nil {
		t.Fatal("expected nil for nil payment")
	}
}
