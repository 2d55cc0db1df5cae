package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/pix-deposit-service/internal/deposit-service/dto"
	"github.com/radieske/pix-deposit-service/internal/deposit-service/pix"
	"github.com/radieske/pix-deposit-service/internal/deposit-service/reconcile"
	"github.com/radieske/pix-deposit-service/internal/deposit-service/repo"
	"github.com/radieske/pix-deposit-service/pkg/contracts/events"
)

const maxWebhookBody = 1 << 20

const (
	defaultPage  = 1
	defaultLimit = 20
	maxLimit     = 100
)

// StatusCache é o cache do último status de cada depósito (Redis em produção)
type StatusCache interface {
	GetStatus(ctx context.Context, externalID string) (*events.DepositStatusChanged, bool, error)
	SetStatus(ctx context.Context, e events.DepositStatusChanged, ttl time.Duration) error
}

// API expõe emissão de depósitos, webhook PIX e consultas
// Cache, WS e Publisher são opcionais
type API struct {
	Log       *zap.Logger
	Engine    *reconcile.Engine
	Store     repo.Store
	Users     repo.Users
	Generator pix.Generator
	Publisher reconcile.Publisher
	Cache     StatusCache
	CacheTTL  time.Duration
	WS        http.HandlerFunc

	MinAmount  decimal.Decimal
	Credential string // credencial do provedor PIX repassada ao gerador
	Now        func() time.Time

	OnIssued func(amount float64) // métricas

	validate *validator.Validate
}

// Router retorna o roteador HTTP com os endpoints REST
func (a *API) Router() http.Handler {
	if a.validate == nil {
		a.validate = validator.New(validator.WithRequiredStructEnabled())
	}
	if a.Now == nil {
		a.Now = time.Now
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/deposits", a.issueDeposit)                             // Gera QR code PIX
	r.Get("/deposits/reconciliations", a.listReconciliations)       // Histórico
	r.Get("/deposits/reconciliations/stats", a.reconciliationStats) // Painel
	r.Get("/deposits/{externalId}/status", a.depositStatus)         // Status de um depósito
	r.Post("/webhooks/pix", a.pixWebhook)                           // Confirmação do provedor
	r.Get("/wallet", a.getWallet)                                   // Saldo
	if a.WS != nil {
		r.Get("/ws", a.WS)
	}
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, dto.ErrorResponse{Error: code, Message: msg})
}

// issueDeposit cria um depósito PIX PENDING e devolve o "copia e cola"
func (a *API) issueDeposit(w http.ResponseWriter, r *http.Request) {
	var req dto.IssueDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "bad json")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if !req.Amount.IsPositive() || req.Amount.LessThan(a.MinAmount) {
		writeError(w, http.StatusBadRequest, "INVALID_AMOUNT", "amount must be at least "+a.MinAmount.StringFixed(2))
		return
	}
	amount := req.Amount.Round(2)

	// 1) Usuário precisa existir
	if _, err := a.Users.FindByID(r.Context(), req.UserID); err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "user not found")
			return
		}
		a.Log.Error("load user", zap.String("userId", req.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "PERSISTENCE_FAILURE", "could not load user")
		return
	}

	// 2) QR code antes de gravar: falha no provedor não deixa depósito órfão
	t := &repo.Transaction{
		ID:                uuid.NewString(),
		UserID:            req.UserID,
		Type:              repo.TypeDeposit,
		Amount:            amount,
		Status:            repo.StatusPending,
		PaymentMethod:     repo.MethodPIX,
		ExternalReference: "PIX-" + uuid.NewString(),
	}
	charge, err := a.Generator.Generate(r.Context(), pix.ChargeRequest{
		Amount:      amount,
		Description: req.Description,
		ExternalID:  t.ExternalReference,
		Credential:  a.Credential,
	})
	if err != nil {
		a.Log.Error("pix charge", zap.String("externalId", t.ExternalReference), zap.Error(err))
		writeError(w, http.StatusBadGateway, "QR_GENERATION_FAILED", "could not generate pix qr code")
		return
	}

	// 3) Grava PENDING
	t.Metadata = repo.Metadata{"qr_code": charge.QRCode}
	if req.Description != "" {
		t.Metadata["description"] = req.Description
	}
	if charge.ChargeID != "" {
		t.Metadata["charge_id"] = charge.ChargeID
	}
	if err := a.Store.Create(r.Context(), t); err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "user not found")
			return
		}
		a.Log.Error("create deposit", zap.String("userId", req.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "PERSISTENCE_FAILURE", "could not create deposit")
		return
	}

	// 4) Evento PENDING (best-effort)
	if a.Publisher != nil {
		if err := a.Publisher.PublishStatusChanged(r.Context(), reconcile.StatusEvent(*t, "", a.Now().UTC())); err != nil {
			a.Log.Warn("publish deposit issued", zap.String("externalId", t.ExternalReference), zap.Error(err))
		}
	}
	if a.OnIssued != nil {
		a.OnIssued(amount.InexactFloat64())
	}
	a.Log.Info("deposit issued",
		zap.String("userId", t.UserID),
		zap.String("externalId", t.ExternalReference),
		zap.String("amount", amount.StringFixed(2)),
	)

	writeJSON(w, http.StatusCreated, dto.IssueDepositResponse{
		TransactionID: t.ID,
		ExternalID:    t.ExternalReference,
		QRCode:        charge.QRCode,
		Amount:        amount,
		Status:        string(t.Status),
	})
}

// pixWebhook recebe a confirmação de pagamento e dispara a reconciliação
func (a *API) pixWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_WEBHOOK", "could not read body")
		return
	}

	res, err := a.Engine.HandleWebhook(r.Context(), body)
	if err != nil {
		status, code := webhookError(err)
		if status >= http.StatusInternalServerError {
			writeError(w, status, code, "reconciliation failed")
			return
		}
		writeError(w, status, code, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, dto.WebhookResponse{
		Message:               "deposit reconciled",
		UserID:                res.UserID,
		TransactionID:         res.TransactionID,
		ExternalID:            res.ExternalID,
		CreditedAmount:        res.CreditedAmount,
		CancelledCount:        res.CancelledCount,
		ReconciliationApplied: res.ReconciliationApplied,
		Degraded:              res.Degraded,
	})
}

func webhookError(err error) (int, string) {
	switch {
	case errors.Is(err, reconcile.ErrInvalidWebhook):
		return http.StatusBadRequest, "INVALID_WEBHOOK"
	case errors.Is(err, reconcile.ErrNoPendingDeposit):
		return http.StatusNotFound, "NO_PENDING_DEPOSIT"
	case errors.Is(err, reconcile.ErrUserNotFound):
		return http.StatusNotFound, "USER_NOT_FOUND"
	default:
		return http.StatusInternalServerError, "PERSISTENCE_FAILURE"
	}
}

// depositStatus consulta o status, preferencialmente do cache quando já é final
func (a *API) depositStatus(w http.ResponseWriter, r *http.Request) {
	ext := chi.URLParam(r, "externalId")

	if a.Cache != nil {
		if e, ok, err := a.Cache.GetStatus(r.Context(), ext); err == nil && ok && e.Terminal() {
			amount, _ := decimal.NewFromString(e.Amount)
			writeJSON(w, http.StatusOK, dto.DepositStatusResponse{
				TransactionID: e.TransactionID,
				ExternalID:    e.ExternalID,
				UserID:        e.UserID,
				Status:        e.Status,
				Amount:        amount,
				UpdatedAt:     &e.Ts,
				Source:        "cache",
			})
			return
		} else if err != nil {
			a.Log.Debug("status cache", zap.String("externalId", ext), zap.Error(err))
		}
	}

	t, err := a.Store.FindOne(r.Context(), repo.Filter{ExternalReference: ext}, repo.SortNone)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "deposit not found")
			return
		}
		a.Log.Error("find deposit", zap.String("externalId", ext), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "PERSISTENCE_FAILURE", "could not load deposit")
		return
	}

	if a.Cache != nil && t.Status.Terminal() {
		_ = a.Cache.SetStatus(r.Context(), reconcile.StatusEvent(*t, "", t.UpdatedAt), a.CacheTTL)
	}

	writeJSON(w, http.StatusOK, dto.DepositStatusResponse{
		TransactionID: t.ID,
		ExternalID:    t.ExternalReference,
		UserID:        t.UserID,
		Status:        string(t.Status),
		Amount:        t.Amount,
		CreatedAt:     &t.CreatedAt,
		UpdatedAt:     &t.UpdatedAt,
		Metadata:      t.Metadata,
		Source:        "db",
	})
}

// listReconciliations lista depósitos tocados pela reconciliação, mais recentes primeiro
func (a *API) listReconciliations(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", defaultPage)
	if err != nil || page < 1 {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "page must be a positive integer")
		return
	}
	limit, err := queryInt(r, "limit", defaultLimit)
	if err != nil || limit < 1 {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "limit must be a positive integer")
		return
	}
	limit = min(limit, maxLimit)
	if page > (math.MaxInt-1)/limit+1 {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "page out of range")
		return
	}

	data, total, err := a.Store.ListReconciled(r.Context(), limit, (page-1)*limit)
	if err != nil {
		a.Log.Error("list reconciliations", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "PERSISTENCE_FAILURE", "could not list reconciliations")
		return
	}

	writeJSON(w, http.StatusOK, dto.ReconciliationsResponse{
		Data: data,
		Pagination: dto.Pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: (total + int64(limit) - 1) / int64(limit),
		},
	})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func (a *API) reconciliationStats(w http.ResponseWriter, r *http.Request) {
	st, err := a.Store.Stats(r.Context(), a.Now().UTC())
	if err != nil {
		a.Log.Error("reconciliation stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "PERSISTENCE_FAILURE", "could not compute stats")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) getWallet(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "userId required")
		return
	}
	wl, err := a.Users.GetWallet(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "user not found")
			return
		}
		a.Log.Error("get wallet", zap.String("userId", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "PERSISTENCE_FAILURE", "could not load wallet")
		return
	}
	writeJSON(w, http.StatusOK, dto.WalletResponse{UserID: wl.UserID, WalletID: wl.ID, Balance: wl.Balance})
}
