package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/makeasinger/orchestrator/internal/generation"
	"github.com/makeasinger/orchestrator/internal/model"
	"github.com/makeasinger/orchestrator/pkg/response"
)

// Client represents a WebSocket client
type Client struct {
	JobID string
	Send  chan []byte
	// quit is closed by the hub when the client is dropped; Send is never closed
	quit chan struct{}
}

// NewClient creates a client for jobID
func NewClient(jobID string) *Client {
	return &Client{
		JobID: jobID,
		Send:  make(chan []byte, 256),
		quit:  make(chan struct{}),
	}
}

// Quit is closed once the hub has dropped the client
func (c *Client) Quit() <-chan struct{} {
	return c.quit
}

// Hub fans job transitions out to the WebSocket clients watching each job
type Hub struct {
	// Clients grouped by job ID
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	done       chan struct{}

	mu sync.RWMutex
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	JobID   string
	Message []byte
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop and returns when ctx ends
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.JobID] == nil {
				h.clients[client.JobID] = make(map[*Client]bool)
			}
			h.clients[client.JobID][client] = true
			h.mu.Unlock()
			log.Printf("[WS] client registered for job %s", client.JobID)

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()
			log.Printf("[WS] client unregistered from job %s", client.JobID)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[msg.JobID] {
				select {
				case client.Send <- msg.Message:
				default:
					// slow consumer
					h.removeLocked(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) removeLocked(client *Client) {
	clients, ok := h.clients[client.JobID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.quit)
	if len(clients) == 0 {
		delete(h.clients, client.JobID)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.clients {
		for client := range clients {
			h.removeLocked(client)
		}
	}
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Subscribers returns the number of clients watching jobID
func (h *Hub) Subscribers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[jobID])
}

// Publish broadcasts the messages describing snap to the job's subscribers
func (h *Hub) Publish(snap model.Snapshot, progress generation.Progress) {
	for _, data := range Messages(snap, progress) {
		select {
		case h.broadcast <- &BroadcastMessage{JobID: snap.Handle.ID, Message: data}:
		case <-h.done:
			return
		}
	}
}

// Hook returns a transition hook that publishes every snapshot, using project
// to compute the progress shown to the user.
func (h *Hub) Hook(project func(model.Snapshot) generation.Progress) generation.TransitionHook {
	return func(snap model.Snapshot, _ model.Transition) {
		h.Publish(snap, project(snap))
	}
}

// Messages encodes a snapshot as WebSocket messages: always a transition,
// then a complete or error message for Completed, Failed and TimedOut.
func Messages(snap model.Snapshot, progress generation.Progress) [][]byte {
	jobID := snap.Handle.ID
	out := make([]interface{}, 0, 2)
	out = append(out, model.WSTransitionMessage{
		Type:     model.WSMessageTypeTransition,
		JobID:    jobID,
		State:    snap.State,
		Percent:  progress.Percent,
		Message:  progress.Message,
		Degraded: snap.Handle.Degraded,
		Ended:    progress.Ended,
	})

	switch snap.State {
	case model.JobStateCompleted:
		out = append(out, model.WSCompleteMessage{
			Type:   model.WSMessageTypeComplete,
			JobID:  jobID,
			Result: snap.Tracks,
		})
	case model.JobStateFailed, model.JobStateTimedOut:
		code, message := ErrorCode(snap), progress.Message
		if snap.Error != nil && snap.Error.Message != "" {
			message = snap.Error.Message
		}
		out = append(out, model.WSErrorMessage{
			Type:  model.WSMessageTypeError,
			JobID: jobID,
			Error: model.WSError{Code: code, Message: message},
		})
	}

	msgs := make([][]byte, 0, len(out))
	for _, msg := range out {
		data, err := json.Marshal(msg)
		if err != nil {
			log.Printf("[WS] failed to marshal message for job %s: %v", jobID, err)
			continue
		}
		msgs = append(msgs, data)
	}
	return msgs
}

// ErrorCode maps a failed job to the API error code shown to clients
func ErrorCode(snap model.Snapshot) string {
	if snap.State == model.JobStateTimedOut {
		return response.CodeTimeout
	}
	if snap.Error != nil && snap.Error.Kind == generation.KindTimeout {
		return response.CodeTimeout
	}
	return response.CodeJobFailed
}

// HandleConnection serves one WebSocket connection. initial messages are
// sent first so a reconnecting client sees the current state immediately.
func (h *Hub) HandleConnection(c *websocket.Conn, jobID string, initial [][]byte) {
	client := NewClient(jobID)
	for _, msg := range initial {
		client.Send <- msg
	}

	h.Register(client)
	defer h.Unregister(client)

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-client.quit:
				c.WriteMessage(websocket.CloseMessage, []byte{})
				return
			case message := <-client.Send:
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				// Send ping for keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WS] error: %v", err)
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			select {
			case client.Send <- pong:
			case <-client.quit:
			default:
			}
		}
	}
}
