package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/radieske/pix-deposit-service/pkg/contracts/events"
)

// MessageReader é o subconjunto de *kafka.Reader usado pelo processor
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// MessageWriter é o subconjunto de *kafka.Writer usado para a DLQ
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type StatusCache interface {
	GetStatus(ctx context.Context, externalID string) (*events.DepositStatusChanged, bool, error)
	SetStatus(ctx context.Context, e events.DepositStatusChanged, ttl time.Duration) error
}

type Broadcaster interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Processor consome deposit_status_changed, atualiza o cache de status e
// repassa o evento ao Pub/Sub do WebSocket. Falhas persistentes vão para a DLQ.
type Processor struct {
	Log         *zap.Logger
	Reader      MessageReader
	Cache       StatusCache
	CacheTTL    time.Duration
	Broadcaster Broadcaster
	Channel     string
	DLQ         MessageWriter // opcional

	Retries int
	Backoff time.Duration

	OnConsumed  func()       // métricas (counter++)
	OnCached    func()       // métricas
	OnBroadcast func()       // métricas
	OnDLQ       func()       // métricas
	OnError     func(string) // métricas por fase
}

// Run inicia o loop de consumo até o contexto ser cancelado
func (p *Processor) Run(ctx context.Context) error {
	for {
		m, err := p.Reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.Log.Warn("kafka read failed", zap.Error(err))
			p.fail("read")
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if p.OnConsumed != nil {
			p.OnConsumed()
		}
		p.Handle(ctx, m)
	}
}

// Handle processa uma mensagem; nunca bloqueia o loop por erro de uma mensagem só
func (p *Processor) Handle(ctx context.Context, m kafka.Message) {
	var ev events.DepositStatusChanged
	if err := json.Unmarshal(m.Value, &ev); err != nil || ev.ExternalID == "" {
		p.Log.Warn("invalid deposit status message", zap.ByteString("key", m.Key), zap.Error(err))
		p.fail("decode")
		p.toDLQ(ctx, m, "decode")
		return
	}
	log := p.Log.With(zap.String("externalId", ev.ExternalID), zap.String("status", ev.Status))

	// status final não volta a PENDING no cache
	if !ev.Terminal() {
		if cur, ok, err := p.Cache.GetStatus(ctx, ev.ExternalID); err == nil && ok && cur.Terminal() {
			log.Debug("skip stale status", zap.String("cached", cur.Status))
			return
		}
	}

	if err := p.retry(ctx, func() error { return p.Cache.SetStatus(ctx, ev, p.CacheTTL) }); err != nil {
		log.Error("cache set failed", zap.Error(err))
		p.fail("cache")
		p.toDLQ(ctx, m, "cache")
		return
	}
	if p.OnCached != nil {
		p.OnCached()
	}

	b, _ := json.Marshal(ev)
	if err := p.Broadcaster.Publish(ctx, p.Channel, b); err != nil {
		log.Warn("ws broadcast publish failed", zap.Error(err))
		p.fail("broadcast")
		return
	}
	if p.OnBroadcast != nil {
		p.OnBroadcast()
	}
}

func (p *Processor) retry(ctx context.Context, fn func() error) error {
	err := fn()
	for i := 0; err != nil && i < p.Retries; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Backoff * time.Duration(i+1)):
		}
		err = fn()
	}
	return err
}

func (p *Processor) toDLQ(ctx context.Context, m kafka.Message, stage string) {
	if p.DLQ == nil {
		return
	}
	msg := kafka.Message{
		Key:   m.Key,
		Value: m.Value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "dlq_stage", Value: []byte(stage)},
			{Key: "source", Value: []byte(fmt.Sprintf("%s/%d/%d", m.Topic, m.Partition, m.Offset))},
		},
	}
	if err := p.DLQ.WriteMessages(ctx, msg); err != nil {
		p.Log.Error("dlq write failed", zap.String("stage", stage), zap.Error(err))
		p.fail("dlq")
		return
	}
	if p.OnDLQ != nil {
		p.OnDLQ()
	}
}

func (p *Processor) fail(stage string) {
	if p.OnError != nil {
		p.OnError(stage)
	}
}
