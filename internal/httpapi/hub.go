package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cpa-ufpa/avalia-report/internal/progress"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 1024
	sendBufferSize = 64
)

// EventProgress is the type of pushed progress states
const EventProgress = "progress"

// Event is the envelope of every pushed message
type Event struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp string      `json:"timestamp"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// client is one progress subscriber
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// readPump only keeps the read deadline alive; subscribers never send data
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Printf("read error: %v", err)
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// Hub pushes progress states to every connected subscriber. Slow subscribers
// are dropped rather than allowed to stall the build.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
	done       chan struct{}
	stopOnce   sync.Once

	tracker *progress.Tracker
	lock    *progress.InteractionLock
	logger  *log.Logger
}

// NewHub creates a hub fed by tracker. lock may be nil.
func NewHub(tracker *progress.Tracker, lock *progress.InteractionLock) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		tracker:    tracker,
		lock:       lock,
		logger:     log.New(os.Stderr, "[WS] ", log.LstdFlags),
	}
}

// SetLogger replaces the component logger
func (h *Hub) SetLogger(l *log.Logger) {
	h.logger = l
}

// Run starts the hub loop and the tracker feed; it returns after Stop
func (h *Hub) Run() {
	states, unsubscribe := h.tracker.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.sendTo(c, h.progressEvent(h.tracker.State()))
			h.logger.Printf("subscriber connected (total: %d)", h.ClientCount())

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case st, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			h.fanOut(h.progressEvent(st))

		case message := <-h.broadcast:
			h.fanOut(message)
		}
	}
}

// Stop ends Run and closes every subscriber
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// ClientCount returns the number of connected subscribers
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues ev for every subscriber. A full queue drops it.
func (h *Hub) Broadcast(ev *Event) error {
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- data:
	default:
	}
	return nil
}

func (h *Hub) fanOut(message []byte) {
	if message == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- message:
		default:
			close(c.send)
			delete(h.clients, c)
		}
	}
}

func (h *Hub) sendTo(c *client, message []byte) {
	if message == nil {
		return
	}
	select {
	case c.send <- message:
	default:
	}
}

// progressState is what subscribers see: the progress and the lock together
type progressState struct {
	progress.State
	Lock *progress.LockState `json:"lock,omitempty"`
}

func (h *Hub) progressEvent(st progress.State) []byte {
	payload := progressState{State: st}
	if h.lock != nil {
		ls := h.lock.State()
		payload.Lock = &ls
	}
	data, err := json.Marshal(Event{
		Type:      EventProgress,
		Data:      payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		h.logger.Printf("failed to encode progress: %v", err)
		return nil
	}
	return data
}

// ServeWS upgrades the request and registers the subscriber
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade error: %v", err)
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBufferSize)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}
