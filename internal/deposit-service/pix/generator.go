// Package pix gera o QR code ("copia e cola") de uma cobrança PIX de depósito.
package pix

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var ErrGenerate = errors.New("pix qr code generation failed")

type ChargeRequest struct {
	Amount      decimal.Decimal
	Description string
	ExternalID  string
	Credential  string
}

type Charge struct {
	QRCode   string
	ChargeID string
}

// Generator produz o payload de pagamento para um depósito
type Generator interface {
	Generate(ctx context.Context, req ChargeRequest) (Charge, error)
}
