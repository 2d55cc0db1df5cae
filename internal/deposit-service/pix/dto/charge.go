package dto

// ChargeRequest representa o payload de criação de cobrança no provedor PIX.
type ChargeRequest struct {
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
	ExternalID  string `json:"external_id"`
}

// ChargeResponse representa a resposta do provedor com o "copia e cola".
type ChargeResponse struct {
	ChargeID string `json:"charge_id"`
	QRCode   string `json:"qr_code"`
	Status   string `json:"status"`
}
