package repo

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerEntry é uma linha do wallet_ledger da implementação em memória
type LedgerEntry struct {
	WalletID      string
	OperationType string
	Amount        decimal.Decimal
	Description   string
	TransactionID string
}

// Memory implementa Store e Users em memória com a mesma semântica do Postgres:
// unidades de WithinTx são serializadas e aplicadas copy-on-write (erro = nada muda).
// Usado com DEPOSIT_STORE=memory e nos testes.
type Memory struct {
	mu    sync.RWMutex // protege st
	txMu  sync.Mutex   // serializa unidades de escrita
	st    *memState
	Now   func() time.Time
	// FailHook, se definido, é chamado antes de cada escrita (op: "create", "save", "update_many")
	FailHook func(op string, t *Transaction) error
}

type memState struct {
	txs     map[string]Transaction
	users   map[string]User
	wallets map[string]Wallet // por user_id
	ledger  []LedgerEntry
}

func NewMemory() *Memory {
	return &Memory{
		st: &memState{
			txs:     make(map[string]Transaction),
			users:   make(map[string]User),
			wallets: make(map[string]Wallet),
		},
		Now: time.Now,
	}
}

func (s *memState) clone() *memState {
	out := &memState{
		txs:     make(map[string]Transaction, len(s.txs)),
		users:   maps.Clone(s.users),
		wallets: maps.Clone(s.wallets),
		ledger:  slices.Clone(s.ledger),
	}
	for id, t := range s.txs {
		out.txs[id] = copyTx(t)
	}
	return out
}

func copyTx(t Transaction) Transaction {
	t.Metadata = maps.Clone(t.Metadata)
	return t
}

// AddUser cadastra um usuário (seed de testes e do modo memória)
func (m *Memory) AddUser(u User) {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = m.Now()
	}
	m.st.users[u.ID] = u
}

// Ledger retorna uma cópia das linhas de crédito registradas
func (m *Memory) Ledger() []LedgerEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.st.ledger)
}

func (m *Memory) reader() *memQuerier {
	m.mu.RLock()
	defer m.mu.RUnlock()
	// leitura sobre um snapshot: escritas posteriores trocam o ponteiro, não mutam st
	return &memQuerier{m: m, st: m.st}
}

func (m *Memory) FindOne(ctx context.Context, f Filter, s Sort) (*Transaction, error) {
	return m.reader().FindOne(ctx, f, s)
}

func (m *Memory) Find(ctx context.Context, f Filter, s Sort) ([]Transaction, error) {
	return m.reader().Find(ctx, f, s)
}

func (m *Memory) Save(ctx context.Context, t *Transaction) error {
	return m.WithinTx(ctx, func(tx Querier) error { return tx.Save(ctx, t) })
}

func (m *Memory) UpdateMany(ctx context.Context, f Filter, p Patch) (int64, error) {
	var n int64
	err := m.WithinTx(ctx, func(tx Querier) error {
		var err error
		n, err = tx.UpdateMany(ctx, f, p)
		return err
	})
	return n, err
}

func (m *Memory) Create(ctx context.Context, t *Transaction) error {
	return m.WithinTx(ctx, func(tx Querier) error {
		q := tx.(*memQuerier)
		if err := m.fail("create", t); err != nil {
			return err
		}
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if _, ok := q.st.users[t.UserID]; !ok {
			return ErrUserNotFound
		}
		if _, ok := q.st.txs[t.ID]; ok {
			return ErrDuplicate
		}
		for _, other := range q.st.txs {
			if other.ExternalReference == t.ExternalReference {
				return ErrDuplicate
			}
		}
		if t.Metadata == nil {
			t.Metadata = Metadata{}
		}
		t.CreatedAt = m.Now()
		t.UpdatedAt = t.CreatedAt
		q.st.txs[t.ID] = copyTx(*t)
		return nil
	})
}

func (m *Memory) WithinTx(ctx context.Context, fn func(tx Querier) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	work := m.st.clone()
	m.mu.RUnlock()

	if err := fn(&memQuerier{m: m, st: work, write: true}); err != nil {
		return err
	}

	m.mu.Lock()
	m.st = work
	m.mu.Unlock()
	return nil
}

func (m *Memory) fail(op string, t *Transaction) error {
	if m.FailHook == nil {
		return nil
	}
	return m.FailHook(op, t)
}

func (m *Memory) ListReconciled(ctx context.Context, limit, offset int) ([]Transaction, int64, error) {
	all, err := m.reader().Find(ctx, Filter{}, SortUpdatedDesc)
	if err != nil {
		return nil, 0, err
	}
	var hits []Transaction
	for _, t := range all {
		if applied, _ := t.Metadata["reconciliation_applied"].(bool); applied {
			hits = append(hits, t)
		}
	}
	total := int64(len(hits))
	if offset < 0 || limit < 1 {
		return nil, 0, ErrInvalidPage
	}
	if offset >= len(hits) {
		return []Transaction{}, total, nil
	}
	end := min(offset+limit, len(hits))
	return hits[offset:end], total, nil
}

func (m *Memory) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	r := m.reader()
	all, err := r.Find(ctx, Filter{}, SortNone)
	if err != nil {
		return nil, err
	}

	out := &Stats{TotalCredited: decimal.Zero}
	for _, t := range all {
		if applied, _ := t.Metadata["reconciliation_applied"].(bool); !applied {
			continue
		}
		switch t.Status {
		case StatusCompleted:
			out.TotalReconciled++
			out.TotalCredited = out.TotalCredited.Add(t.Amount)
			age := now.Sub(t.UpdatedAt)
			if age <= 24*time.Hour {
				out.Last24h++
			}
			if age <= 7*24*time.Hour {
				out.Last7d++
			}
			if age <= 30*24*time.Hour {
				out.Last30d++
			}
		case StatusCancelled:
			out.TotalCancelled++
		}
	}

	out.Pending, err = r.Find(ctx, PendingPixDeposits(), SortCreatedDesc)
	return out, err
}

func (m *Memory) FindByID(_ context.Context, userID string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.st.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (m *Memory) GetWallet(ctx context.Context, userID string) (*Wallet, error) {
	if _, err := m.FindByID(ctx, userID); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if w, ok := m.st.wallets[userID]; ok {
		return &w, nil
	}
	return &Wallet{UserID: userID, Balance: decimal.Zero}, nil
}

// memQuerier opera sobre um estado; write=false indica snapshot somente leitura
type memQuerier struct {
	m     *Memory
	st    *memState
	write bool
}

var errReadOnly = errors.New("memory store: write outside WithinTx")

func (q *memQuerier) FindOne(ctx context.Context, f Filter, s Sort) (*Transaction, error) {
	out, err := q.Find(ctx, f, s)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return &out[0], nil
}

func (q *memQuerier) Find(_ context.Context, f Filter, s Sort) ([]Transaction, error) {
	out := make([]Transaction, 0)
	for _, t := range q.st.txs {
		if matches(t, f) {
			out = append(out, copyTx(t))
		}
	}
	sortTxs(out, s)
	return out, nil
}

func (q *memQuerier) Save(_ context.Context, t *Transaction) error {
	if !q.write {
		return errReadOnly
	}
	cur, ok := q.st.txs[t.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != StatusPending {
		return ErrTerminalState
	}
	if err := q.m.fail("save", t); err != nil {
		return err
	}
	if ptx, _ := t.Metadata["provider_transaction_id"].(string); ptx != "" {
		for id, other := range q.st.txs {
			if id != t.ID && other.Metadata["provider_transaction_id"] == ptx {
				return ErrDuplicate
			}
		}
	}

	cur.Status = t.Status
	cur.Metadata = maps.Clone(t.Metadata)
	cur.UpdatedAt = q.m.Now()
	q.st.txs[t.ID] = cur
	t.UpdatedAt = cur.UpdatedAt

	if cur.Status == StatusCompleted && cur.Type == TypeDeposit {
		w, ok := q.st.wallets[cur.UserID]
		if !ok {
			w = Wallet{ID: uuid.NewString(), UserID: cur.UserID, Balance: decimal.Zero}
		}
		w.Balance = w.Balance.Add(cur.Amount)
		w.Version++
		q.st.wallets[cur.UserID] = w
		q.st.ledger = append(q.st.ledger, LedgerEntry{
			WalletID:      w.ID,
			OperationType: "CREDIT",
			Amount:        cur.Amount,
			Description:   "deposit:" + cur.ExternalReference,
			TransactionID: cur.ID,
		})
	}
	return nil
}

func (q *memQuerier) UpdateMany(_ context.Context, f Filter, p Patch) (int64, error) {
	if !q.write {
		return 0, errReadOnly
	}
	if p.Status == StatusCompleted {
		return 0, errors.New("update many: COMPLETED must go through Save")
	}
	f.Status = StatusPending
	if err := q.m.fail("update_many", nil); err != nil {
		return 0, err
	}

	now := q.m.Now()
	var n int64
	for id, t := range q.st.txs {
		if !matches(t, f) {
			continue
		}
		t.Status = p.Status
		t.Metadata = t.Metadata.Merge(p.Metadata)
		t.UpdatedAt = now
		q.st.txs[id] = t
		n++
	}
	return n, nil
}

func matches(t Transaction, f Filter) bool {
	switch {
	case f.UserID != "" && t.UserID != f.UserID,
		f.Type != "" && t.Type != f.Type,
		f.Status != "" && t.Status != f.Status,
		f.PaymentMethod != "" && t.PaymentMethod != f.PaymentMethod,
		f.ExternalReference != "" && t.ExternalReference != f.ExternalReference,
		f.ExcludeID != "" && t.ID == f.ExcludeID,
		f.IDs != nil && !slices.Contains(f.IDs, t.ID):
		return false
	}
	if f.ProviderTransactionID != "" {
		v, _ := t.Metadata["provider_transaction_id"].(string)
		return v == f.ProviderTransactionID
	}
	return true
}

func sortTxs(out []Transaction, s Sort) {
	byCreated := func(a, b Transaction) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	}
	switch s {
	case SortCreatedDesc:
		slices.SortFunc(out, byCreated)
	case SortAmountDescCreatedDesc:
		slices.SortFunc(out, func(a, b Transaction) int {
			if c := b.Amount.Cmp(a.Amount); c != 0 {
				return c
			}
			return byCreated(a, b)
		})
	case SortUpdatedDesc:
		slices.SortFunc(out, func(a, b Transaction) int {
			if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
				return c
			}
			return strings.Compare(b.ID, a.ID)
		})
	default:
		slices.SortFunc(out, func(a, b Transaction) int { return strings.Compare(a.ID, b.ID) })
	}
}
