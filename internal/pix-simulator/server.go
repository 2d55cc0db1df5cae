// Package simulator é um provedor PIX falso: cria cobranças e dispara o webhook de pagamento.
package simulator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/pix-deposit-service/internal/deposit-service/pix"
	sdto "github.com/radieske/pix-deposit-service/internal/pix-simulator/dto"
)

// Pagadores fictícios usados no webhook
var payerCatalog = []sdto.Payer{
	{Name: "Ana Souza", Document: "***.456.789-**", Bank: "Nubank"},
	{Name: "Bruno Lima", Document: "***.111.222-**", Bank: "Itaú"},
	{Name: "Carla Mendes", Document: "***.333.444-**", Bank: "Banco do Brasil"},
	{Name: "Diego Rocha", Document: "***.555.666-**", Bank: "Inter"},
}

type charge struct {
	ID         string
	ExternalID string
	Amount     decimal.Decimal
	QRCode     string
	Status     string
}

// Server guarda as cobranças em memória
type Server struct {
	Log        *zap.Logger
	Credential string // se vazio, não exige Authorization
	WebhookURL string
	HTTP       *http.Client
	QR         pix.Generator

	OnCharge  func()              // métricas
	OnWebhook func(status string) // métricas por status HTTP do webhook

	mu      sync.Mutex
	charges map[string]*charge
}

func NewServer(log *zap.Logger, credential, webhookURL string, qr pix.Generator) *Server {
	return &Server{
		Log:        log,
		Credential: credential,
		WebhookURL: webhookURL,
		HTTP:       &http.Client{Timeout: 5 * time.Second},
		QR:         qr,
		charges:    make(map[string]*charge),
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/pix/charges", s.createCharge)
	mux.HandleFunc("GET /v1/pix/charges/{id}", s.getCharge)
	mux.HandleFunc("POST /simulate/pay", s.pay)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) createCharge(w http.ResponseWriter, r *http.Request) {
	if s.Credential != "" && r.Header.Get("Authorization") != "Bearer "+s.Credential {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req sdto.ChargeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() || req.ExternalID == "" {
		http.Error(w, "invalid charge", http.StatusBadRequest)
		return
	}

	qr, err := s.QR.Generate(r.Context(), pix.ChargeRequest{Amount: amount, Description: req.Description, ExternalID: req.ExternalID})
	if err != nil {
		s.Log.Error("qr generate", zap.Error(err))
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	c := &charge{ID: "CHG-" + uuid.NewString(), ExternalID: req.ExternalID, Amount: amount, QRCode: qr.QRCode, Status: sdto.StatusActive}
	s.mu.Lock()
	s.charges[c.ID] = c
	s.mu.Unlock()
	if s.OnCharge != nil {
		s.OnCharge()
	}
	s.Log.Info("charge created", zap.String("chargeId", c.ID), zap.String("externalId", c.ExternalID), zap.String("amount", amount.StringFixed(2)))

	writeJSON(w, http.StatusCreated, sdto.ChargeResp{ChargeID: c.ID, QRCode: c.QRCode, Status: c.Status})
}

func (s *Server) getCharge(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	c, ok := s.charges[r.PathValue("id")]
	var resp sdto.ChargeResp
	if ok {
		resp = sdto.ChargeResp{ChargeID: c.ID, QRCode: c.QRCode, Status: c.Status}
	}
	s.mu.Unlock()
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// pay marca a cobrança como paga e envia o webhook ao deposit-service
func (s *Server) pay(w http.ResponseWriter, r *http.Request) {
	var req sdto.PayReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	c, ok := s.charges[req.ChargeID]
	var snapshot charge
	if ok {
		snapshot = *c
	}
	s.mu.Unlock()
	if !ok {
		http.Error(w, "charge not found", http.StatusNotFound)
		return
	}

	hook := sdto.Webhook{
		Status:        strings.ToUpper(req.Status),
		TransactionID: "E2E" + strings.ReplaceAll(uuid.NewString(), "-", "")[:26],
		ExternalID:    snapshot.ExternalID,
		Amount:        snapshot.Amount.StringFixed(2),
		ApprovedAt:    time.Now().UTC(),
		Payer:         payerCatalog[rand.Intn(len(payerCatalog))],
	}
	if hook.Status == "" {
		hook.Status = sdto.StatusPaid
	}
	if req.OmitExternalID {
		hook.ExternalID = ""
	}
	if req.Amount != "" {
		hook.Amount = req.Amount
	}

	code, body, err := s.sendWebhook(r, hook)
	if err != nil {
		s.Log.Error("webhook failed", zap.String("chargeId", snapshot.ID), zap.Error(err))
		if s.OnWebhook != nil {
			s.OnWebhook("error")
		}
		http.Error(w, "webhook delivery failed", http.StatusBadGateway)
		return
	}
	if s.OnWebhook != nil {
		s.OnWebhook(fmt.Sprintf("%d", code))
	}
	if code < 300 && hook.Status == sdto.StatusPaid {
		s.mu.Lock()
		c.Status = sdto.StatusPaid
		s.mu.Unlock()
	}
	s.Log.Info("webhook delivered",
		zap.String("chargeId", snapshot.ID),
		zap.String("transactionId", hook.TransactionID),
		zap.Int("status", code),
	)

	writeJSON(w, http.StatusOK, sdto.PayResp{TransactionID: hook.TransactionID, WebhookStatus: code, WebhookResponse: body})
}

func (s *Server) sendWebhook(r *http.Request, hook sdto.Webhook) (int, string, error) {
	b, _ := json.Marshal(hook)
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, s.WebhookURL, bytes.NewReader(b))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := s.HTTP.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer res.Body.Close()
	out, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	return res.StatusCode, strings.TrimSpace(string(out)), nil
}
