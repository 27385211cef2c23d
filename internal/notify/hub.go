// Package notify pushes sealed peer review outcomes to connected websocket clients.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/triage-review-server/internal/domain"
	"github.com/triage-review-server/internal/events"
)

const (
	sendBuffer   = 16
	writeTimeout = 5 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
)

// Message is the frame written to subscribers
type Message struct {
	Type string              `json:"type"`
	Data events.ReviewSealed `json:"data"`
}

type client struct {
	conn         *websocket.Conn
	send         chan []byte
	assessmentID string
}

// Hub fans sealed reviews out to websocket subscribers. A subscriber may narrow
// the stream to one assessment with the assessment_id query parameter.
type Hub struct {
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	clients  map[*client]struct{}
	log      *logrus.Logger
}

// NewHub creates an empty hub
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*client]struct{}),
		log:     logger,
	}
}

// ServeHTTP upgrades the request and registers the subscriber
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	c := &client{
		conn:         conn,
		send:         make(chan []byte, sendBuffer),
		assessmentID: r.URL.Query().Get("assessment_id"),
	}
	h.register(c)

	go h.writeLoop(c)
	go h.readLoop(c)
}

// Clients returns the number of connected subscribers
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ReviewSealed implements domain.ReviewObserver
func (h *Hub) ReviewSealed(ctx context.Context, record *domain.PeerReviewRecord) error {
	frame, err := json.Marshal(Message{Type: events.TopicReviewSealed, Data: events.NewReviewSealed(record)})
	if err != nil {
		return fmt.Errorf("marshaling sealed review: %w", err)
	}

	h.mu.RLock()
	var slow []*client
	delivered := 0
	for c := range h.clients {
		if c.assessmentID != "" && c.assessmentID != record.AssessmentID {
			continue
		}
		select {
		case c.send <- frame:
			delivered++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn("Dropping slow websocket subscriber")
		h.unregister(c)
	}

	h.log.WithFields(logrus.Fields{
		"record_id":   record.ID,
		"subscribers": delivered,
	}).Debug("Sealed review broadcast")
	return nil
}

// Close disconnects every subscriber
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for c := range clients {
		close(c.send)
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.WithField("assessment_id", c.assessmentID).Debug("Websocket subscriber connected")
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// writeLoop owns all writes to the connection
func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.unregister(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(c)
				return
			}
		}
	}
}

// readLoop discards client frames and detects disconnects
func (h *Hub) readLoop(c *client) {
	defer h.unregister(c)

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
