package dto

import "github.com/shopspring/decimal"

// IssueDepositRequest pede um QR code PIX de depósito
type IssueDepositRequest struct {
	UserID      string          `json:"userId" validate:"required,max=64"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty" validate:"max=140"`
}
