package square

import (
	"net/http"
	"testing"

	pkgerrors "github.com/haldirect/settlement-backend/pkg/errors"
)

func TestDomainCodeForStatus(t *testing.T) {
	cases := []struct {
		status int
		want   pkgerrors.Code
	}{
		{http.StatusUnauthorized, pkgerrors.CodeUnauthorized},
		{http.StatusForbidden, pkgerrors.CodeForbidden},
		{http.StatusNotFound, pkgerrors.CodeNotFound},
		{http.StatusConflict, pkgerrors.CodeConflict},
		{http.StatusTooManyRequests, pkgerrors.CodeRateLimit},
		{http.StatusBadRequest, pkgerrors.CodeValidation},
		{http.StatusUnprocessableEntity, pkgerrors.CodeStateConflict},
		{http.StatusTeapot, pkgerrors.CodeValidation},
		{http.StatusBadGateway, pkgerrors.CodeDependency},
		{http.StatusInternalServerError, pkgerrors.CodeDependency},
	}
	for _, tc := range cases {
		if got := domainCodeForStatus(tc.status); got != tc.want {
			t.Fatalf("status %d: expected %s got %s", tc.status, tc.want, got)
		}
	}
}

func TestNormalizeEnv(t *testing.T) {
	cases := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{"", sandboxEnv, false},
		{"sandbox", sandboxEnv, false},
		{"  Production  ", productionEnv, false},
		{"staging", "", true},
	}
	for _, tc := range cases {
		got, err := normalizeEnv(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("normalizeEnv(%q): expected error", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("normalizeEnv(%q): %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("normalizeEnv(%q): expected %s got %s", tc.raw, tc.want, got)
		}
	}
}

func TestRedactSensitiveFields(t *testing.T) {
	client := &Client{}

	sensitive := []string{"card_number", "source_id", "payment_token", "cvv", "client_secret", "nonce"}
	for _, key := range sensitive {
		if got := client.redact(key, "raw-value"); got != "[REDACTED]" {
			t.Fatalf("expected %s redacted, got %v", key, got)
		}
	}
	if got := client.redact("amount", int64(1150)); got != int64(1150) {
		t.Fatalf("expected plain field untouched, got %v", got)
	}
}
