package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const txColumns = `id, user_id, type, amount, status, payment_method, external_reference, metadata, created_at, updated_at`

// Postgres implementa Store e Users sobre as tabelas transactions/users/wallets
type Postgres struct{ db *sqlx.DB }

func NewPostgres(db *sqlx.DB) *Postgres { return &Postgres{db: db} }

// pgQuerier executa as operações de Querier sobre o pool ou sobre uma transação aberta
// lock=true adiciona FOR UPDATE às leituras (só faz sentido dentro de WithinTx)
type pgQuerier struct {
	ext  sqlx.ExtContext
	lock bool
}

func (p *Postgres) q() *pgQuerier { return &pgQuerier{ext: p.db} }

func (p *Postgres) FindOne(ctx context.Context, f Filter, s Sort) (*Transaction, error) {
	return p.q().FindOne(ctx, f, s)
}

func (p *Postgres) Find(ctx context.Context, f Filter, s Sort) ([]Transaction, error) {
	return p.q().Find(ctx, f, s)
}

// Save fora de transação: abre uma própria para manter status + crédito juntos
func (p *Postgres) Save(ctx context.Context, t *Transaction) error {
	return p.WithinTx(ctx, func(tx Querier) error { return tx.Save(ctx, t) })
}

func (p *Postgres) UpdateMany(ctx context.Context, f Filter, patch Patch) (int64, error) {
	return p.q().UpdateMany(ctx, f, patch)
}

// Create insere uma nova transação; id e timestamps são gerados se vierem vazios
func (p *Postgres) Create(ctx context.Context, t *Transaction) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Metadata == nil {
		t.Metadata = Metadata{}
	}
	err := p.db.QueryRowxContext(ctx, `
		INSERT INTO transactions (id, user_id, type, amount, status, payment_method, external_reference, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		t.ID, t.UserID, t.Type, t.Amount, t.Status, t.PaymentMethod, t.ExternalReference, t.Metadata,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	return mapPQError(err)
}

// WithinTx abre uma transação READ COMMITTED; fn recebe um Querier com leituras FOR UPDATE
func (p *Postgres) WithinTx(ctx context.Context, fn func(tx Querier) error) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(&pgQuerier{ext: tx, lock: true}); err != nil {
		return err
	}
	return tx.Commit()
}

func (q *pgQuerier) FindOne(ctx context.Context, f Filter, s Sort) (*Transaction, error) {
	where, args := buildWhere(f)
	query := `SELECT ` + txColumns + ` FROM transactions` + where + orderBy(s) + ` LIMIT 1` + q.forUpdate()

	var t Transaction
	if err := sqlx.GetContext(ctx, q.ext, &t, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (q *pgQuerier) Find(ctx context.Context, f Filter, s Sort) ([]Transaction, error) {
	where, args := buildWhere(f)
	query := `SELECT ` + txColumns + ` FROM transactions` + where + orderBy(s) + q.forUpdate()

	var out []Transaction
	if err := sqlx.SelectContext(ctx, q.ext, &out, query, args...); err != nil {
		return nil, err
	}
	return out, nil
}

// Save só altera transações ainda PENDING. Depósito que vira COMPLETED credita a carteira
// (upsert em wallets + linha CREDIT no wallet_ledger) na mesma transação.
func (q *pgQuerier) Save(ctx context.Context, t *Transaction) error {
	err := q.ext.QueryRowxContext(ctx, `
		UPDATE transactions SET status=$2, metadata=$3, updated_at=NOW()
		WHERE id=$1 AND status='PENDING'
		RETURNING updated_at`, t.ID, t.Status, t.Metadata).Scan(&t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrTerminalState
	}
	if err != nil {
		return mapPQError(err)
	}

	if t.Status != StatusCompleted || t.Type != TypeDeposit {
		return nil
	}

	var walletID string
	if err := q.ext.QueryRowxContext(ctx, `
		INSERT INTO wallets (id, user_id, balance, version) VALUES ($1,$2,$3,1)
		ON CONFLICT (user_id) DO UPDATE SET
		  balance    = wallets.balance + EXCLUDED.balance,
		  version    = wallets.version + 1,
		  updated_at = NOW()
		RETURNING id`, uuid.NewString(), t.UserID, t.Amount).Scan(&walletID); err != nil {
		return err
	}

	_, err = q.ext.ExecContext(ctx, `
		INSERT INTO wallet_ledger (wallet_id, operation_type, amount, description, transaction_id)
		VALUES ($1,'CREDIT',$2,$3,$4)`, walletID, t.Amount, "deposit:"+t.ExternalReference, t.ID)
	return err
}

func (q *pgQuerier) UpdateMany(ctx context.Context, f Filter, p Patch) (int64, error) {
	if p.Status == StatusCompleted {
		return 0, errors.New("update many: COMPLETED must go through Save")
	}
	f.Status = StatusPending
	where, args := buildWhere(f)

	meta := p.Metadata
	if meta == nil {
		meta = Metadata{}
	}
	n := len(args)
	query := fmt.Sprintf(`UPDATE transactions SET status=$%d, metadata = metadata || $%d::jsonb, updated_at=NOW()`, n+1, n+2) + where
	args = append(args, p.Status, meta)

	res, err := q.ext.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, mapPQError(err)
	}
	return res.RowsAffected()
}

func (q *pgQuerier) forUpdate() string {
	if q.lock {
		return ` FOR UPDATE`
	}
	return ""
}

// buildWhere monta a cláusula WHERE com placeholders $n na ordem dos args
func buildWhere(f Filter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.UserID != "" {
		add("user_id=$%d", f.UserID)
	}
	if f.Type != "" {
		add("type=$%d", f.Type)
	}
	if f.Status != "" {
		add("status=$%d", f.Status)
	}
	if f.PaymentMethod != "" {
		add("payment_method=$%d", f.PaymentMethod)
	}
	if f.ExternalReference != "" {
		add("external_reference=$%d", f.ExternalReference)
	}
	if f.ExcludeID != "" {
		add("id<>$%d", f.ExcludeID)
	}
	if f.IDs != nil {
		add("id = ANY($%d)", pq.Array(f.IDs))
	}
	if f.ProviderTransactionID != "" {
		add("metadata->>'provider_transaction_id'=$%d", f.ProviderTransactionID)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func orderBy(s Sort) string {
	switch s {
	case SortCreatedDesc:
		return ` ORDER BY created_at DESC, id DESC`
	case SortAmountDescCreatedDesc:
		return ` ORDER BY amount DESC, created_at DESC, id DESC`
	case SortUpdatedDesc:
		return ` ORDER BY updated_at DESC, id DESC`
	default:
		return ""
	}
}

// ListReconciled lista transações tocadas pela reconciliação (creditadas e canceladas)
func (p *Postgres) ListReconciled(ctx context.Context, limit, offset int) ([]Transaction, int64, error) {
	const cond = ` WHERE metadata @> '{"reconciliation_applied": true}'::jsonb`
	if offset < 0 || limit < 1 {
		return nil, 0, ErrInvalidPage
	}

	var total int64
	if err := p.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM transactions`+cond); err != nil {
		return nil, 0, err
	}

	var out []Transaction
	err := p.db.SelectContext(ctx, &out,
		`SELECT `+txColumns+` FROM transactions`+cond+orderBy(SortUpdatedDesc)+` LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (p *Postgres) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	var row struct {
		Last24h         int64           `db:"last_24h"`
		Last7d          int64           `db:"last_7d"`
		Last30d         int64           `db:"last_30d"`
		TotalReconciled int64           `db:"total_reconciled"`
		TotalCancelled  int64           `db:"total_cancelled"`
		TotalCredited   decimal.Decimal `db:"total_credited"`
	}
	err := p.db.GetContext(ctx, &row, `
		SELECT
		  COUNT(*) FILTER (WHERE status='COMPLETED' AND updated_at >= $1) AS last_24h,
		  COUNT(*) FILTER (WHERE status='COMPLETED' AND updated_at >= $2) AS last_7d,
		  COUNT(*) FILTER (WHERE status='COMPLETED' AND updated_at >= $3) AS last_30d,
		  COUNT(*) FILTER (WHERE status='COMPLETED') AS total_reconciled,
		  COUNT(*) FILTER (WHERE status='CANCELLED') AS total_cancelled,
		  COALESCE(SUM(amount) FILTER (WHERE status='COMPLETED'), 0) AS total_credited
		FROM transactions
		WHERE metadata @> '{"reconciliation_applied": true}'::jsonb`,
		now.Add(-24*time.Hour), now.Add(-7*24*time.Hour), now.Add(-30*24*time.Hour))
	if err != nil {
		return nil, err
	}

	pending, err := p.Find(ctx, PendingPixDeposits(), SortCreatedDesc)
	if err != nil {
		return nil, err
	}

	return &Stats{
		Last24h:         row.Last24h,
		Last7d:          row.Last7d,
		Last30d:         row.Last30d,
		TotalReconciled: row.TotalReconciled,
		TotalCancelled:  row.TotalCancelled,
		TotalCredited:   row.TotalCredited,
		Pending:         pending,
	}, nil
}

func (p *Postgres) FindByID(ctx context.Context, userID string) (*User, error) {
	var u User
	err := p.db.GetContext(ctx, &u, `SELECT id, name, email, created_at FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetWallet retorna a carteira do usuário; sem carteira ainda, saldo zero
func (p *Postgres) GetWallet(ctx context.Context, userID string) (*Wallet, error) {
	var w Wallet
	err := p.db.GetContext(ctx, &w, `SELECT id, user_id, balance, version FROM wallets WHERE user_id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		if _, uerr := p.FindByID(ctx, userID); uerr != nil {
			return nil, uerr
		}
		return &Wallet{UserID: userID, Balance: decimal.Zero}, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// mapPQError traduz unique_violation (23505) para ErrDuplicate e foreign_key_violation (23503) para ErrUserNotFound
func mapPQError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
		case "23503":
			return fmt.Errorf("%w: %s", ErrUserNotFound, pqErr.Constraint)
		}
	}
	return err
}
