// Package reconcile aplica a regra de reconciliação de depósitos PIX disparada
// pelo webhook de pagamento: entre os depósitos PENDING do usuário, credita o de
// maior valor e cancela os demais numa única unidade atômica.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/pix-deposit-service/internal/deposit-service/repo"
	"github.com/radieske/pix-deposit-service/internal/shared/lock"
	"github.com/radieske/pix-deposit-service/pkg/contracts/events"
)

var (
	ErrInvalidWebhook   = errors.New("invalid webhook")
	ErrNoPendingDeposit = errors.New("no pending deposit")
	ErrUserNotFound     = errors.New("user not found")
	ErrPersistence      = errors.New("persistence failure")
)

const (
	CancelledBy  = "pix-webhook-reconciliation"
	CancelReason = "resolved by reconciliation; larger pending amount already credited"

	CorrelationExternalRef    = "external_reference"
	CorrelationLatestFallback = "latest_pending_fallback"
)

// Publisher publica mudanças de status de depósito (Kafka em produção)
type Publisher interface {
	PublishStatusChanged(ctx context.Context, e events.DepositStatusChanged) error
}

// Result resume o que a reconciliação aplicou
type Result struct {
	UserID                string          `json:"userId"`
	TransactionID         string          `json:"transactionId"`
	ExternalID            string          `json:"externalId"`
	CreditedAmount        decimal.Decimal `json:"creditedAmount"`
	CancelledCount        int             `json:"cancelledCount"`
	ReconciliationApplied bool            `json:"reconciliationApplied"`
	Degraded              bool            `json:"degraded"`
}

// Engine executa a reconciliação. Callbacks On* são ganchos de métricas (opcionais).
type Engine struct {
	Log       *zap.Logger
	Store     repo.Store
	Users     repo.Users
	Locker    lock.Locker
	Publisher Publisher
	Now       func() time.Time

	OnOutcome  func(outcome string)               // métricas por resultado
	OnCredited func(amount float64, cancelled int) // métricas
	OnDuration func(time.Duration)                 // métricas
}

func NewEngine(log *zap.Logger, store repo.Store, users repo.Users, locker lock.Locker, pub Publisher) *Engine {
	return &Engine{Log: log, Store: store, Users: users, Locker: locker, Publisher: pub, Now: time.Now}
}

// HandleWebhook valida o corpo bruto do webhook e reconcilia
func (e *Engine) HandleWebhook(ctx context.Context, body []byte) (*Result, error) {
	c, err := ParseConfirmation(body)
	if err != nil {
		e.report(nil, err, 0)
		return nil, err
	}
	return e.Reconcile(ctx, c)
}

// Reconcile aplica a confirmação de pagamento c
func (e *Engine) Reconcile(ctx context.Context, c Confirmation) (*Result, error) {
	start := time.Now()
	res, err := e.reconcile(ctx, c)
	e.report(res, err, time.Since(start))
	return res, err
}

func (e *Engine) reconcile(ctx context.Context, c Confirmation) (*Result, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	// 1) Descobre o depósito que identifica o usuário
	target, correlation, err := e.locateTarget(ctx, c)
	if err != nil {
		return nil, err
	}
	userID := target.UserID
	log := e.Log.With(zap.String("userId", userID), zap.String("correlation", correlation))

	// 2) Usuário precisa existir
	if _, err := e.Users.FindByID(ctx, userID); err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		return nil, fmt.Errorf("%w: load user: %w", ErrPersistence, err)
	}

	// 3) Exclusão mútua por usuário durante toda a reconciliação
	unlock, err := e.Locker.Lock(ctx, LockKey(userID))
	if err != nil {
		return nil, fmt.Errorf("%w: lock user: %w", ErrPersistence, err)
	}
	defer unlock()

	now := e.Now().UTC()
	var credited repo.Transaction
	var cancelled []repo.Transaction

	// 4) Seleciona, credita e cancela numa única transação
	err = e.Store.WithinTx(ctx, func(tx repo.Querier) error {
		if c.TransactionID != "" {
			_, err := tx.FindOne(ctx, repo.Filter{ProviderTransactionID: c.TransactionID}, repo.SortNone)
			if err == nil {
				return fmt.Errorf("%w: provider transaction %s already processed", ErrNoPendingDeposit, c.TransactionID)
			}
			if !errors.Is(err, repo.ErrNotFound) {
				return err
			}
		}

		f := repo.PendingPixDeposits()
		f.UserID = userID
		pending, err := tx.Find(ctx, f, repo.SortAmountDescCreatedDesc)
		if err != nil {
			return err
		}
		if correlation == CorrelationExternalRef && !containsID(pending, target.ID) {
			return fmt.Errorf("%w: deposit %s was resolved concurrently", ErrNoPendingDeposit, target.ExternalReference)
		}

		candidate, siblings, ok := SelectCandidate(pending)
		if !ok {
			return fmt.Errorf("%w: user %s", ErrNoPendingDeposit, userID)
		}

		candidate.Status = repo.StatusCompleted
		candidate.Metadata = candidate.Metadata.Merge(creditMetadata(c, candidate, correlation, len(siblings), now))
		if err := tx.Save(ctx, &candidate); err != nil {
			return fmt.Errorf("complete %s: %w", candidate.ID, err)
		}

		if len(siblings) > 0 {
			// só os irmãos já travados; depósitos criados depois ficam PENDING
			f.IDs = make([]string, 0, len(siblings))
			for _, sib := range siblings {
				f.IDs = append(f.IDs, sib.ID)
			}
			n, err := tx.UpdateMany(ctx, f, repo.Patch{
				Status:   repo.StatusCancelled,
				Metadata: cancelMetadata(candidate, now),
			})
			if err != nil {
				return fmt.Errorf("cancel siblings: %w", err)
			}
			if n != int64(len(siblings)) {
				return fmt.Errorf("cancelled %d of %d pending siblings", n, len(siblings))
			}
		}

		credited, cancelled = candidate, siblings
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrNoPendingDeposit):
			return nil, err
		case errors.Is(err, repo.ErrDuplicate):
			return nil, fmt.Errorf("%w: duplicate confirmation: %w", ErrNoPendingDeposit, err)
		default:
			log.Error("reconciliation rolled back", zap.Error(err))
			return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
	}

	if c.Amount != nil && !c.Amount.Equal(credited.Amount) {
		log.Warn("paid amount differs from credited amount",
			zap.String("paid", c.Amount.String()),
			zap.String("credited", credited.Amount.String()),
		)
	}
	log.Info("deposit reconciled",
		zap.String("transactionId", credited.ID),
		zap.String("externalId", credited.ExternalReference),
		zap.String("amount", credited.Amount.String()),
		zap.Int("cancelled", len(cancelled)),
	)

	// 5) Publica os novos status (best-effort; o commit já aconteceu)
	e.publish(ctx, credited, cancelled, now)

	return &Result{
		UserID:                userID,
		TransactionID:         credited.ID,
		ExternalID:            credited.ExternalReference,
		CreditedAmount:        credited.Amount,
		CancelledCount:        len(cancelled),
		ReconciliationApplied: true,
		Degraded:              correlation == CorrelationLatestFallback,
	}, nil
}

// locateTarget acha o depósito PENDING que identifica o usuário. Com external_id usa a
// correlação explícita; sem ele cai no depósito pendente mais recente do sistema (modo degradado).
func (e *Engine) locateTarget(ctx context.Context, c Confirmation) (*repo.Transaction, string, error) {
	if c.ExternalID != "" {
		f := repo.PendingPixDeposits()
		f.ExternalReference = c.ExternalID
		t, err := e.Store.FindOne(ctx, f, repo.SortNone)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, "", fmt.Errorf("%w: external id %s", ErrNoPendingDeposit, c.ExternalID)
		}
		if err != nil {
			return nil, "", fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		return t, CorrelationExternalRef, nil
	}

	t, err := e.Store.FindOne(ctx, repo.PendingPixDeposits(), repo.SortCreatedDesc)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, "", fmt.Errorf("%w: no pending pix deposit in the system", ErrNoPendingDeposit)
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	e.Log.Warn("webhook without external_id, falling back to latest pending deposit",
		zap.String("providerTransactionId", c.TransactionID),
		zap.String("userId", t.UserID),
	)
	return t, CorrelationLatestFallback, nil
}

func (e *Engine) publish(ctx context.Context, credited repo.Transaction, cancelled []repo.Transaction, now time.Time) {
	if e.Publisher == nil {
		return
	}
	msgs := make([]events.DepositStatusChanged, 0, len(cancelled)+1)
	msgs = append(msgs, StatusEvent(credited, "", now))
	for _, s := range cancelled {
		s.Status = repo.StatusCancelled
		msgs = append(msgs, StatusEvent(s, CancelReason, now))
	}
	for _, m := range msgs {
		m.Reconciliation = true
		if err := e.Publisher.PublishStatusChanged(ctx, m); err != nil {
			e.Log.Warn("publish deposit status", zap.String("externalId", m.ExternalID), zap.Error(err))
		}
	}
}

func (e *Engine) report(res *Result, err error, d time.Duration) {
	if e.OnOutcome != nil {
		e.OnOutcome(Outcome(err))
	}
	if res != nil && e.OnCredited != nil {
		e.OnCredited(res.CreditedAmount.InexactFloat64(), res.CancelledCount)
	}
	if d > 0 && e.OnDuration != nil {
		e.OnDuration(d)
	}
}

// Outcome converte o erro em rótulo de métrica
func Outcome(err error) string {
	switch {
	case err == nil:
		return "reconciled"
	case errors.Is(err, ErrInvalidWebhook):
		return "invalid_webhook"
	case errors.Is(err, ErrNoPendingDeposit):
		return "no_pending_deposit"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	default:
		return "persistence_failure"
	}
}

// LockKey é a chave do lock de reconciliação por usuário
func LockKey(userID string) string { return "deposit:reconcile:" + userID }

func creditMetadata(c Confirmation, candidate repo.Transaction, correlation string, siblings int, now time.Time) repo.Metadata {
	m := repo.Metadata{
		"provider_transaction_id": c.TransactionID,
		"approved_at":             nil,
		"payer":                   c.Payer,
		"webhook_payload":         c.Raw,
		"reconciliation_applied":  true,
		"original_amount":         candidate.Amount.String(),
		"paid_amount":             nil,
		"processed_at":            now.Format(time.RFC3339Nano),
		"correlation":             correlation,
		"cancelled_siblings":      siblings,
	}
	if c.TransactionID == "" {
		delete(m, "provider_transaction_id")
	}
	if c.ApprovedAt != nil {
		m["approved_at"] = c.ApprovedAt.UTC().Format(time.RFC3339Nano)
	}
	if c.Amount != nil {
		m["paid_amount"] = c.Amount.String()
	}
	return m
}

func cancelMetadata(credited repo.Transaction, now time.Time) repo.Metadata {
	return repo.Metadata{
		"cancelled_by":            CancelledBy,
		"cancelled_at":            now.Format(time.RFC3339Nano),
		"cancel_reason":           CancelReason,
		"reconciliation_applied":  true,
		"credited_transaction_id": credited.ID,
	}
}

// StatusEvent monta o evento de mudança de status de um depósito
func StatusEvent(t repo.Transaction, reason string, now time.Time) events.DepositStatusChanged {
	return events.DepositStatusChanged{
		TransactionID: t.ID,
		ExternalID:    t.ExternalReference,
		UserID:        t.UserID,
		Status:        string(t.Status),
		Amount:        t.Amount.StringFixed(2),
		Reason:        reason,
		Ts:            now,
	}
}

func containsID(txs []repo.Transaction, id string) bool {
	for _, t := range txs {
		if t.ID == id {
			return true
		}
	}
	return false
}
