package ws

// ClientMsg representa uma mensagem recebida do cliente WebSocket
// Type: subscribe | unsubscribe | ping
type ClientMsg struct {
	Type       string `json:"type"`
	ExternalID string `json:"externalId"` // requerido em subscribe/unsubscribe
}
