package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/pix-deposit-service/internal/deposit-events/consumer"
	"github.com/radieske/pix-deposit-service/internal/deposit-events/pubsub"
	dcache "github.com/radieske/pix-deposit-service/internal/deposit-service/cache"
	sharedcache "github.com/radieske/pix-deposit-service/internal/shared/cache"
	"github.com/radieske/pix-deposit-service/internal/shared/config"
	"github.com/radieske/pix-deposit-service/internal/shared/kafka"
	"github.com/radieske/pix-deposit-service/internal/shared/logger"
	"github.com/radieske/pix-deposit-service/internal/shared/metrics"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	redisClient, err := sharedcache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer redisClient.Close()

	// Consumer group deposit-events
	reader := kafka.NewReader(cfg.KafkaBrokers, cfg.TopicDepositStatus, "deposit-events")
	defer reader.Close()

	var dlq consumer.MessageWriter
	if cfg.TopicDepositStatusDLQ != "" {
		w := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicDepositStatusDLQ)
		defer w.Close()
		dlq = w
	}

	// Métricas Prometheus
	consumed := prometheus.NewCounter(prometheus.CounterOpts{Name: "deposit_events_consumed_total", Help: "mensagens consumidas"})
	cached := prometheus.NewCounter(prometheus.CounterOpts{Name: "deposit_events_cache_sets_total", Help: "sets no cache de status"})
	broadcast := prometheus.NewCounter(prometheus.CounterOpts{Name: "deposit_events_broadcast_total", Help: "eventos repassados ao Pub/Sub"})
	dlqTotal := prometheus.NewCounter(prometheus.CounterOpts{Name: "deposit_events_dlq_total", Help: "mensagens enviadas à DLQ"})
	errorsBy := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "deposit_events_errors_total", Help: "erros por estágio"}, []string{"stage"})
	prometheus.MustRegister(consumed, cached, broadcast, dlqTotal, errorsBy)

	proc := &consumer.Processor{
		Log:         log,
		Reader:      reader,
		Cache:       dcache.New(redisClient),
		CacheTTL:    dcache.StatusTTL,
		Broadcaster: pubsub.NewRedisBroadcaster(redisClient),
		Channel:     cfg.RedisPubSubChannel,
		DLQ:         dlq,
		Retries:     3,
		Backoff:     300 * time.Millisecond,
		OnConsumed:  func() { consumed.Inc() },
		OnCached:    func() { cached.Inc() },
		OnBroadcast: func() { broadcast.Inc() },
		OnDLQ:       func() { dlqTotal.Inc() },
		OnError:     func(stage string) { errorsBy.WithLabelValues(stage).Inc() },
	}

	metrics.StartMetricsServer(log, cfg.MetricsPort, map[string]metrics.HealthFunc{
		"redis": func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	})

	// Sinalização para shutdown gracioso (SIGINT/SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("deposit-events-worker started",
		zap.String("consume", cfg.TopicDepositStatus),
		zap.String("dlq", cfg.TopicDepositStatusDLQ),
		zap.String("channel", cfg.RedisPubSubChannel),
	)
	if err := proc.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal("processor stopped with error", zap.Error(err))
	}
	log.Info("deposit-events-worker stopped")
}
