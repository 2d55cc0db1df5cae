package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/pix-deposit-service/internal/deposit-service/pix"
	simulator "github.com/radieske/pix-deposit-service/internal/pix-simulator"
	"github.com/radieske/pix-deposit-service/internal/shared/config"
	"github.com/radieske/pix-deposit-service/internal/shared/logger"
	"github.com/radieske/pix-deposit-service/internal/shared/metrics"
)

var (
	chargesCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pix_simulator_charges_created_total",
		Help: "Cobranças PIX criadas",
	})
	webhooksSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pix_simulator_webhooks_sent_total",
		Help: "Webhooks enviados por status HTTP da resposta",
	}, []string{"status"})
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	prometheus.MustRegister(chargesCreated, webhooksSent)

	s := simulator.NewServer(log, cfg.PixCredential, cfg.DepositWebhookURL,
		pix.NewStaticGenerator(cfg.PixKey, cfg.PixMerchantName, cfg.PixMerchantCity))
	s.OnCharge = func() { chargesCreated.Inc() }
	s.OnWebhook = func(status string) { webhooksSent.WithLabelValues(status).Inc() }

	metrics.StartMetricsServer(log, cfg.MetricsPort, nil)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info("pix simulator running",
		zap.String("addr", srv.Addr),
		zap.String("paths", "/v1/pix/charges,/simulate/pay"),
		zap.String("webhook", cfg.DepositWebhookURL),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("public server error", zap.Error(err))
	}
}
