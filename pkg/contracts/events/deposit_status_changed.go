package events

import "time"

// Evento publicado pelo deposit-service a cada mudança de status de um depósito PIX
// (emissão do QR code, crédito ou cancelamento pela reconciliação).
type DepositStatusChanged struct {
	TransactionID  string    `json:"transaction_id"`
	ExternalID     string    `json:"external_id"` // external_reference do depósito; chave da mensagem
	UserID         string    `json:"user_id"`
	Status         string    `json:"status"` // "PENDING" | "COMPLETED" | "CANCELLED"
	Amount         string    `json:"amount"` // decimal em string, ex: "500.00"
	Reconciliation bool      `json:"reconciliation,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	Ts             time.Time `json:"ts"`
}

// Terminal indica se o status não muda mais
func (e DepositStatusChanged) Terminal() bool {
	return e.Status == "COMPLETED" || e.Status == "CANCELLED"
}
