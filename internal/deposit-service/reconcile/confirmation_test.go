package reconcile

import (
	"errors"
	"testing"
)

func TestParseConfirmation(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "paid", body: `{"status":"PAID","transaction_id":"e2e-1","amount":"500.00"}`},
		{name: "approved lowercase", body: `{"status":"approved","transaction_id":"e2e-2","amount":35}`},
		{name: "empty body", body: ``, wantErr: true},
		{name: "malformed json", body: `{"status":`, wantErr: true},
		{name: "missing status", body: `{"transaction_id":"e2e-3"}`, wantErr: true},
		{name: "pending status", body: `{"status":"PENDING"}`, wantErr: true},
		{name: "negative amount", body: `{"status":"PAID","amount":"-1"}`, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := ParseConfirmation([]byte(tc.body))
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidWebhook) {
					t.Fatalf("expected ErrInvalidWebhook, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(c.Raw) != tc.body {
				t.Fatalf("raw payload not preserved: %s", c.Raw)
			}
		})
	}
}
