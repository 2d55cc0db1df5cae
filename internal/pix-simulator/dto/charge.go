package dto

import "time"

type ChargeReq struct {
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
	ExternalID  string `json:"external_id"`
}

type ChargeResp struct {
	ChargeID string `json:"charge_id"`
	QRCode   string `json:"qr_code"`
	Status   string `json:"status"` // ACTIVE | PAID
}

// PayReq dispara o pagamento simulado de uma cobrança.
// OmitExternalID simula provedores que não devolvem a correlação.
type PayReq struct {
	ChargeID       string `json:"charge_id"`
	Status         string `json:"status,omitempty"` // default PAID
	OmitExternalID bool   `json:"omit_external_id,omitempty"`
	Amount         string `json:"amount,omitempty"` // sobrescreve o valor pago
}

type Payer struct {
	Name     string `json:"name"`
	Document string `json:"document"`
	Bank     string `json:"bank"`
}

// Webhook é o payload enviado ao deposit-service
type Webhook struct {
	Status        string    `json:"status"`
	TransactionID string    `json:"transaction_id"`
	ExternalID    string    `json:"external_id,omitempty"`
	Amount        string    `json:"amount"`
	ApprovedAt    time.Time `json:"approved_at"`
	Payer         Payer     `json:"payer"`
}

type PayResp struct {
	TransactionID   string `json:"transaction_id"`
	WebhookStatus   int    `json:"webhook_status"`
	WebhookResponse string `json:"webhook_response"`
}

const (
	StatusActive = "ACTIVE"
	StatusPaid   = "PAID"
)
