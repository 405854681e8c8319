package api

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"trading/internal/model"
	"trading/internal/obs"
)

const (
	defaultClientBuffer = 256
	writeWait           = 10 * time.Second
	pongWait            = 60 * time.Second
	pingPeriod          = pongWait * 9 / 10
)

// Message is one entry of the event feed.
type Message struct {
	Seq  uint64      `json:"seq"`
	Type string      `json:"type"`
	Time time.Time   `json:"time"`
	Data model.Event `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub fans engine events out to websocket clients. Publish never blocks: a
// client whose buffer is full is disconnected. Sends and closes of a client
// channel only happen under mu.
type Hub struct {
	logger   obs.Logger
	seq      *obs.Sequence
	buffer   int
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool

	dropped atomic.Uint64
}

func NewHub(logger obs.Logger, buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultClientBuffer
	}
	return &Hub{
		logger: logger,
		seq:    obs.NewSequence(0),
		buffer: buffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// origins are checked by the cors layer
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Publish encodes ev once and queues it for every client. It is registered as
// an engine listener.
func (h *Hub) Publish(ev model.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || len(h.clients) == 0 {
		return
	}

	msg := Message{Seq: h.seq.Next(), Type: ev.Kind(), Time: ev.EventTime(), Data: ev}
	payload, err := sonic.Marshal(msg)
	if err != nil {
		h.logger.Errorf("encode feed message %s, err: %+v", ev.Kind(), err)
		return
	}

	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.dropped.Add(1)
			delete(h.clients, c)
			c.close()
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns how many slow clients were disconnected.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// LastSeq returns the sequence of the most recent feed message.
func (h *Hub) LastSeq() uint64 {
	return h.seq.Last()
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnf("websocket upgrade from %s, err: %+v", r.RemoteAddr, err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, h.buffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Infof("feed client %s connected, total %d", conn.RemoteAddr(), total)

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

// readPump discards inbound frames and detects the peer going away.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debugf("feed client %s read, err: %+v", c.conn.RemoteAddr(), err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
