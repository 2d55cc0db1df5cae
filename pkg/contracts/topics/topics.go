package topics

const (
	// Depósitos PIX
	DepositStatusChanged = "deposit_status_changed"

	// DLQs
	DepositStatusChangedDLQ = "deposit_status_changed_dlq"
)
