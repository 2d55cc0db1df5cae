package repo

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/shopspring/decimal"
)

type TxType string

const (
	TypeDeposit    TxType = "DEPOSIT"
	TypeWithdrawal TxType = "WITHDRAWAL"
	TypeBet        TxType = "BET"
	TypeWin        TxType = "WIN"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal indica status finais: uma vez COMPLETED ou CANCELLED a transação não muda mais
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusCancelled }

type PaymentMethod string

const (
	MethodPIX     PaymentMethod = "PIX"
	MethodCard    PaymentMethod = "CARD"
	MethodBalance PaymentMethod = "BALANCE"
)

// Metadata guarda fatos de auditoria da transação (JSONB no Postgres)
type Metadata map[string]any

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *Metadata) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("metadata: unsupported type %T", src)
	}
	out := Metadata{}
	if err := json.Unmarshal(b, &out); err != nil {
		return err
	}
	*m = out
	return nil
}

// Merge retorna uma cópia com as chaves de other sobrescrevendo as atuais
func (m Metadata) Merge(other Metadata) Metadata {
	out := make(Metadata, len(m)+len(other))
	maps.Copy(out, m)
	maps.Copy(out, other)
	return out
}

// Transaction é o modelo persistido na tabela transactions
type Transaction struct {
	ID                string          `db:"id" json:"id"`
	UserID            string          `db:"user_id" json:"userId"`
	Type              TxType          `db:"type" json:"type"`
	Amount            decimal.Decimal `db:"amount" json:"amount"`
	Status            Status          `db:"status" json:"status"`
	PaymentMethod     PaymentMethod   `db:"payment_method" json:"paymentMethod"`
	ExternalReference string          `db:"external_reference" json:"externalReference"`
	Metadata          Metadata        `db:"metadata" json:"metadata"`
	CreatedAt         time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updatedAt"`
}

// IsPendingPixDeposit indica se a transação participa da reconciliação do webhook PIX
func (t *Transaction) IsPendingPixDeposit() bool {
	return t.Type == TypeDeposit && t.PaymentMethod == MethodPIX && t.Status == StatusPending
}

type User struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

type Wallet struct {
	ID      string          `db:"id" json:"walletId"`
	UserID  string          `db:"user_id" json:"userId"`
	Balance decimal.Decimal `db:"balance" json:"balance"`
	Version int64           `db:"version" json:"version"`
}

// Stats agrega os números de reconciliação exibidos no painel
type Stats struct {
	Last24h         int64           `json:"last24h"`
	Last7d          int64           `json:"last7d"`
	Last30d         int64           `json:"last30d"`
	TotalReconciled int64           `json:"totalReconciled"`
	TotalCancelled  int64           `json:"totalCancelled"`
	TotalCredited   decimal.Decimal `json:"totalCredited"`
	Pending         []Transaction   `json:"pending"`
}
