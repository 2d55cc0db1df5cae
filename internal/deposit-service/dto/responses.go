package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

type IssueDepositResponse struct {
	TransactionID string          `json:"transactionId"`
	ExternalID    string          `json:"externalId"`
	QRCode        string          `json:"qrCode"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
}

type WebhookResponse struct {
	Message               string          `json:"message"`
	UserID                string          `json:"userId"`
	TransactionID         string          `json:"transactionId"`
	ExternalID            string          `json:"externalId"`
	CreditedAmount        decimal.Decimal `json:"creditedAmount"`
	CancelledCount        int             `json:"cancelledCount"`
	ReconciliationApplied bool            `json:"reconciliationApplied"`
	Degraded              bool            `json:"degraded,omitempty"`
}

type DepositStatusResponse struct {
	TransactionID string          `json:"transactionId"`
	ExternalID    string          `json:"externalId"`
	UserID        string          `json:"userId,omitempty"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	CreatedAt     *time.Time      `json:"createdAt,omitempty"`
	UpdatedAt     *time.Time      `json:"updatedAt,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	Source        string          `json:"source"` // "cache" | "db"
}

type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"totalPages"`
}

type ReconciliationsResponse struct {
	Data       any        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

type WalletResponse struct {
	UserID   string          `json:"userId"`
	WalletID string          `json:"walletId,omitempty"`
	Balance  decimal.Decimal `json:"balance"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
