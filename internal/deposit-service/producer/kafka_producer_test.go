package producer

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/radieske/pix-deposit-service/pkg/contracts/events"
)

type captureWriter struct{ msgs []kafka.Message }

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestPublishStatusChangedKeysByExternalID(t *testing.T) {
	w := &captureWriter{}
	p := NewKafkaPublisher(w, "deposit_status_changed")

	err := p.PublishStatusChanged(context.Background(), events.DepositStatusChanged{
		TransactionID: "tx-1",
		ExternalID:    "PIX-abc",
		UserID:        "u1",
		Status:        "COMPLETED",
		Amount:        "500.00",
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "PIX-abc" {
		t.Fatalf("unexpected key %q", w.msgs[0].Key)
	}

	var got events.DepositStatusChanged
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Ts.IsZero() || got.Status != "COMPLETED" || got.Amount != "500.00" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}
