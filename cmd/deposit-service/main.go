package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	dcache "github.com/radieske/pix-deposit-service/internal/deposit-service/cache"
	dhttp "github.com/radieske/pix-deposit-service/internal/deposit-service/http"
	"github.com/radieske/pix-deposit-service/internal/deposit-service/pix"
	kpub "github.com/radieske/pix-deposit-service/internal/deposit-service/producer"
	"github.com/radieske/pix-deposit-service/internal/deposit-service/reconcile"
	"github.com/radieske/pix-deposit-service/internal/deposit-service/repo"
	"github.com/radieske/pix-deposit-service/internal/deposit-service/ws"
	sharedcache "github.com/radieske/pix-deposit-service/internal/shared/cache"
	"github.com/radieske/pix-deposit-service/internal/shared/config"
	"github.com/radieske/pix-deposit-service/internal/shared/db"
	"github.com/radieske/pix-deposit-service/internal/shared/kafka"
	"github.com/radieske/pix-deposit-service/internal/shared/lock"
	"github.com/radieske/pix-deposit-service/internal/shared/logger"
	"github.com/radieske/pix-deposit-service/internal/shared/metrics"
)

// usuário semeado no modo memória para testes manuais
const demoUserID = "demo-user"

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(fmt.Errorf("logger init: %w", err))
	}
	defer log.Sync()

	log.Info("starting service", zap.String("service", cfg.ServiceName), zap.String("env", cfg.Env))

	minAmount, err := decimal.NewFromString(cfg.MinDepositAmount)
	if err != nil {
		log.Fatal("invalid MIN_DEPOSIT_AMOUNT", zap.String("value", cfg.MinDepositAmount), zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	checks := map[string]metrics.HealthFunc{}

	// Transaction Store: Postgres ou memória
	var store repo.Store
	var users repo.Users
	switch cfg.DepositStore {
	case "memory":
		mem := repo.NewMemory()
		mem.AddUser(repo.User{ID: demoUserID, Name: "Demo", Email: "demo@example.com"})
		store, users = mem, mem
		log.Warn("using in-memory deposit store", zap.String("seedUser", demoUserID))
	default:
		pg := mustPostgres(ctx, log, cfg.PostgresDSN)
		defer pg.Close()
		checks["postgres"] = func(ctx context.Context) error { return pg.PingContext(ctx) }
		p := repo.NewPostgres(pg)
		store, users = p, p
	}

	// Redis: lock distribuído, cache de status e Pub/Sub do WebSocket
	rdb, err := sharedcache.ConnectRedis(cfg.RedisAddr)
	switch {
	case err != nil && cfg.LockBackend == "redis":
		log.Fatal("failed to connect redis", zap.Error(err))
	case err != nil:
		log.Warn("redis unavailable; status cache and ws relay disabled", zap.Error(err))
		rdb = nil
	default:
		defer rdb.Close()
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		log.Info("redis connected")
	}

	var locker lock.Locker = lock.NewLocal()
	if cfg.LockBackend == "redis" {
		locker = lock.NewRedis(rdb, cfg.LockTTL, cfg.LockWait)
	}

	// Kafka: deposit_status_changed
	writer := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicDepositStatus)
	defer writer.Close()
	publ := kpub.NewKafkaPublisher(writer, cfg.TopicDepositStatus)
	log.Info("kafka writer ready", zap.String("topic", cfg.TopicDepositStatus))

	// Gerador do QR code
	var gen pix.Generator
	switch cfg.PixGenerator {
	case "http":
		gen = pix.NewHTTPGenerator(cfg.PixProviderURL)
	default:
		gen = pix.NewStaticGenerator(cfg.PixKey, cfg.PixMerchantName, cfg.PixMerchantCity)
	}

	// Métricas Prometheus
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "deposit_webhooks_total", Help: "webhooks PIX por resultado"}, []string{"outcome"})
	cancelled := prometheus.NewCounter(prometheus.CounterOpts{Name: "deposit_reconciliation_cancelled_total", Help: "depósitos cancelados pela reconciliação"})
	credited := prometheus.NewCounter(prometheus.CounterOpts{Name: "deposit_credited_amount_total", Help: "valor creditado (BRL)"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "deposit_reconciliation_duration_seconds", Help: "duração da reconciliação", Buckets: prometheus.DefBuckets})
	issued := prometheus.NewCounter(prometheus.CounterOpts{Name: "deposit_issued_total", Help: "QR codes de depósito emitidos"})
	prometheus.MustRegister(webhooks, cancelled, credited, duration, issued)

	engine := reconcile.NewEngine(log, store, users, locker, publ)
	engine.OnOutcome = func(o string) { webhooks.WithLabelValues(o).Inc() }
	engine.OnCredited = func(amount float64, n int) {
		credited.Add(amount)
		cancelled.Add(float64(n))
	}
	engine.OnDuration = func(d time.Duration) { duration.Observe(d.Seconds()) }

	api := &dhttp.API{
		Log:        log,
		Engine:     engine,
		Store:      store,
		Users:      users,
		Generator:  gen,
		Publisher:  publ,
		CacheTTL:   dcache.StatusTTL,
		MinAmount:  minAmount,
		Credential: cfg.PixCredential,
		OnIssued:   func(float64) { issued.Inc() },
	}
	if rdb != nil {
		api.Cache = dcache.New(rdb)

		// WebSocket de status alimentado pelo Pub/Sub do deposit-events-worker
		hub := ws.NewHub(func(r *http.Request) bool { return true })
		ws.StartRedisSubscriber(ctx, log, rdb, cfg.RedisPubSubChannel, hub)
		api.WS = hub.HandleWS
	}

	metricsSrv := metrics.StartMetricsServer(log, cfg.MetricsPort, checks)

	apiSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("deposit-service listening", zap.String("addr", apiSrv.Addr))
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("api", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	_ = apiSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
}

func mustPostgres(ctx context.Context, log *zap.Logger, dsn string) *sqlx.DB {
	pg, err := db.ConnectPostgres(dsn)
	if err != nil {
		log.Fatal("failed to connect postgres", zap.Error(err))
	}
	if err := db.EnsureSchema(ctx, pg); err != nil {
		log.Fatal("failed to apply schema", zap.Error(err))
	}
	log.Info("postgres connected")
	return pg
}
