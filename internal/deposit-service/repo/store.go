package repo

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrUserNotFound  = errors.New("user not found")
	ErrTerminalState = errors.New("transaction already in terminal state")
	ErrDuplicate     = errors.New("duplicate record")
	ErrInvalidPage   = errors.New("invalid page bounds")
)

// Filter seleciona transações; campos vazios não filtram
type Filter struct {
	UserID                string
	Type                  TxType
	Status                Status
	PaymentMethod         PaymentMethod
	ExternalReference     string
	ExcludeID             string
	IDs                   []string // não nil: restringe a esses ids (vazio não casa nada)
	ProviderTransactionID string // metadata.provider_transaction_id
}

// PendingPixDeposits é o filtro base da reconciliação
func PendingPixDeposits() Filter {
	return Filter{Type: TypeDeposit, Status: StatusPending, PaymentMethod: MethodPIX}
}

type Sort int

const (
	SortNone Sort = iota
	SortCreatedDesc
	SortAmountDescCreatedDesc
	SortUpdatedDesc
)

// Patch é aplicado por UpdateMany: novo status e chaves de metadata a mesclar
type Patch struct {
	Status   Status
	Metadata Metadata
}

// Querier reúne as operações de leitura/escrita disponíveis dentro e fora de uma transação
type Querier interface {
	FindOne(ctx context.Context, f Filter, s Sort) (*Transaction, error)
	Find(ctx context.Context, f Filter, s Sort) ([]Transaction, error)
	// Save persiste status e metadata de uma transação PENDING. A transição de um
	// depósito para COMPLETED credita a carteira do usuário no mesmo commit.
	Save(ctx context.Context, t *Transaction) error
	// UpdateMany aplica o patch às transações PENDING do filtro e retorna quantas mudaram.
	// Não aceita COMPLETED: crédito só via Save.
	UpdateMany(ctx context.Context, f Filter, p Patch) (int64, error)
}

// Store é o Transaction Store do serviço de depósitos
type Store interface {
	Querier
	Create(ctx context.Context, t *Transaction) error
	// WithinTx executa fn como uma unidade atômica; erro em fn desfaz tudo
	WithinTx(ctx context.Context, fn func(tx Querier) error) error

	ListReconciled(ctx context.Context, limit, offset int) ([]Transaction, int64, error)
	Stats(ctx context.Context, now time.Time) (*Stats, error)
}

// Users é o diretório de usuários e carteiras
type Users interface {
	FindByID(ctx context.Context, userID string) (*User, error)
	GetWallet(ctx context.Context, userID string) (*Wallet, error)
}
