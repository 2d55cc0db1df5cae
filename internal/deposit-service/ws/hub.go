package ws

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/radieske/pix-deposit-service/pkg/contracts/events"
)

// Hub gerencia conexões WebSocket inscritas no status de depósitos
// subs: externalId -> conjunto de conexões
type Hub struct {
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	subs     map[string]map[*client]struct{}
}

// client serializa escritas numa conexão (gorilla não aceita writers concorrentes)
type client struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func (c *client) write(v any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteJSON(v)
}

func NewHub(allowOrigin func(r *http.Request) bool) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: allowOrigin},
		subs:     make(map[string]map[*client]struct{}),
	}
}

// HandleWS gerencia o ciclo de vida de uma conexão: subscribe/unsubscribe por externalId e ping
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	c := &client{conn: conn}

	for {
		var msg ClientMsg
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		switch msg.Type {
		case "subscribe":
			if msg.ExternalID == "" {
				_ = c.write(map[string]string{"type": "error", "message": "externalId required"})
				continue
			}
			h.mu.Lock()
			if _, ok := h.subs[msg.ExternalID]; !ok {
				h.subs[msg.ExternalID] = make(map[*client]struct{})
			}
			h.subs[msg.ExternalID][c] = struct{}{}
			h.mu.Unlock()
			_ = c.write(map[string]string{"type": "subscribed", "externalId": msg.ExternalID})
		case "unsubscribe":
			h.remove(msg.ExternalID, c)
		case "ping":
			_ = c.write(map[string]string{"type": "pong"})
		}
	}

	h.mu.Lock()
	for id, set := range h.subs {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, id)
		}
	}
	h.mu.Unlock()
}

func (h *Hub) remove(externalID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[externalID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, externalID)
		}
	}
}

// Subscribers retorna quantas conexões acompanham o depósito
func (h *Hub) Subscribers(externalID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[externalID])
}

// Broadcast envia a mudança de status aos inscritos no externalId
func (h *Hub) Broadcast(e events.DepositStatusChanged) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.subs[e.ExternalID]))
	for c := range h.subs[e.ExternalID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	msg := struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}{Type: "deposit_status"}
	msg.Data, _ = json.Marshal(e)
	for _, c := range targets {
		_ = c.write(msg)
	}
}
