// Package ws реализует websocket-рассылку событий движка UI-коллаборантам
package ws

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"fracture-monitor/internal/models"
)

// Hub держит активных клиентов и рассылает им события
type Hub struct {
	logger *zap.Logger

	mu         sync.RWMutex
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	stopChan   chan struct{}
}

// NewHub создает пустой хаб
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger.Named("ws"),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopChan:   make(chan struct{}),
	}
}

// Run обслуживает регистрацию клиентов и рассылку до остановки
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Info("websocket client registered",
				zap.String("remote", client.conn.RemoteAddr().String()))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Клиент не читает: отключаем, рассылка не ждет никого
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-h.stopChan:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// BroadcastEvent рассылает типизированное событие движка всем клиентам
func (h *Hub) BroadcastEvent(ev models.Event) {
	message, err := json.Marshal(map[string]interface{}{
		"type":    string(ev.Type),
		"payload": ev,
	})
	if err != nil {
		h.logger.Error("failed to marshal event for broadcast", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- message:
	default:
		// Переполненная рассылка не должна задерживать потребителя событий
	}
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop отключает всех клиентов и останавливает хаб
func (h *Hub) Stop() {
	close(h.stopChan)
}
