package reconcile

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// successMarkers são os status do provedor que confirmam o pagamento
var successMarkers = map[string]struct{}{
	"PAID":     {},
	"APPROVED": {},
}

// Payer identifica quem pagou o PIX, como enviado pelo provedor
type Payer struct {
	Name     string `json:"name,omitempty"`
	Document string `json:"document,omitempty"`
	Bank     string `json:"bank,omitempty"`
}

// Confirmation é o payload do webhook de pagamento PIX
// ExternalID: external_reference do depósito, quando o provedor devolve a correlação
type Confirmation struct {
	Status        string           `json:"status"`
	TransactionID string           `json:"transaction_id"`
	ExternalID    string           `json:"external_id"`
	Amount        *decimal.Decimal `json:"amount"`
	ApprovedAt    *time.Time       `json:"approved_at"`
	Payer         *Payer           `json:"payer"`

	Raw json.RawMessage `json:"-"`
}

// ParseConfirmation decodifica e valida o corpo do webhook.
// Payload vazio, JSON inválido, sem status ou com status diferente de sucesso -> ErrInvalidWebhook.
func ParseConfirmation(body []byte) (Confirmation, error) {
	var c Confirmation
	if len(body) == 0 {
		return c, fmt.Errorf("%w: empty payload", ErrInvalidWebhook)
	}
	if err := json.Unmarshal(body, &c); err != nil {
		return c, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	c.Raw = json.RawMessage(body)
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c Confirmation) Validate() error {
	status := strings.ToUpper(strings.TrimSpace(c.Status))
	if status == "" {
		return fmt.Errorf("%w: missing status", ErrInvalidWebhook)
	}
	if _, ok := successMarkers[status]; !ok {
		return fmt.Errorf("%w: status %q is not a payment confirmation", ErrInvalidWebhook, c.Status)
	}
	if c.Amount != nil && !c.Amount.IsPositive() {
		return fmt.Errorf("%w: non-positive amount", ErrInvalidWebhook)
	}
	return nil
}
