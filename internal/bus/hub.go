package bus

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/smartpark/sp-park/internal/data"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub streams accepted events to websocket subscribers. A subscriber that
// cannot keep up gets disconnected rather than blocking the fan-out.
type Hub struct {
	mu      sync.Mutex
	clients map[*wsClient]bool
	onCount func(delta int)
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub(onCount func(delta int)) *Hub {
	return &Hub{
		clients: make(map[*wsClient]bool),
		onCount: onCount,
	}
}

// ServeWS upgrades the connection and keeps it registered until the peer
// goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Bus] ws upgrade: %v", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, sendBufferSize)}
	h.add(c)

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	if h.onCount != nil {
		h.onCount(1)
	}
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	if ok && h.onCount != nil {
		h.onCount(-1)
	}
	c.conn.Close()
}

func (h *Hub) readPump(c *wsClient) {
	defer h.remove(c)
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) broadcast(payload []byte) {
	h.mu.Lock()
	var slow []*wsClient
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()
	for _, c := range slow {
		h.remove(c)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) EventAccepted(e *data.Event, f *data.Floor) {
	payload, err := json.Marshal(newEventMessage(e, f))
	if err != nil {
		log.Printf("[Bus] ws marshal: %v", err)
		return
	}
	h.broadcast(payload)
}
