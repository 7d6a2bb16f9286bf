package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog/log"

	"github.com/stemsplit/api/internal/model"
)

const pingInterval = 30 * time.Second

// Topic prefixes
const (
	jobTopicPrefix     = "job:"
	sessionTopicPrefix = "player:"
)

func JobTopic(jobID string) string {
	return jobTopicPrefix + jobID
}

func SessionTopic(sessionID string) string {
	return sessionTopicPrefix + sessionID
}

// Client represents a WebSocket subscriber of one topic
type Client struct {
	Topic string
	Conn  *websocket.Conn
	Send  chan []byte
}

// NewClient creates a subscriber with a buffered outbound queue.
func NewClient(topic string, conn *websocket.Conn) *Client {
	return &Client{Topic: topic, Conn: conn, Send: make(chan []byte, 256)}
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	Topic   string
	Message []byte
}

// Hub fans out job and playback updates to WebSocket subscribers.
type Hub struct {
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	// done is closed once Run has returned
	done chan struct{}

	mu sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop and returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			close(h.done)
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.Topic] == nil {
				h.clients[client.Topic] = make(map[*Client]bool)
			}
			h.clients[client.Topic][client] = true
			h.mu.Unlock()
			log.Debug().Str("topic", client.Topic).Msg("websocket client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			log.Debug().Str("topic", client.Topic).Msg("websocket client unregistered")

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[msg.Topic] {
				select {
				case client.Send <- msg.Message:
				default:
					// slow consumer
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove must be called with mu held.
func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.Topic]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.clients, client.Topic)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.clients {
		for client := range clients {
			h.remove(client)
		}
	}
}

// Register subscribes client. It reports false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Subscribers reports how many clients listen on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// Publish queues v for every subscriber of topic. It never blocks the caller:
// when the queue is full the message is dropped.
func (h *Hub) Publish(topic string, v interface{}) {
	if h == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("failed to marshal websocket message")
		return
	}
	select {
	case h.broadcast <- &BroadcastMessage{Topic: topic, Message: data}:
	default:
		log.Warn().Str("topic", topic).Msg("websocket broadcast queue full, dropping message")
	}
}

// BroadcastProgress sends a progress update to all job subscribers
func (h *Hub) BroadcastProgress(job *model.Job) {
	h.Publish(JobTopic(job.ID), model.WSProgressMessage{
		Type:     model.WSMessageTypeProgress,
		JobID:    job.ID,
		Progress: job.Progress,
		Status:   job.Status,
		Message:  job.Message,
	})
}

// BroadcastComplete sends a completion message to all job subscribers
func (h *Hub) BroadcastComplete(jobID string, project *model.Project) {
	h.Publish(JobTopic(jobID), model.WSCompleteMessage{
		Type:    model.WSMessageTypeComplete,
		JobID:   jobID,
		Project: project,
	})
}

// BroadcastError sends an error message to all job subscribers
func (h *Hub) BroadcastError(jobID string, code, message string) {
	h.Publish(JobTopic(jobID), model.WSErrorMessage{
		Type:  model.WSMessageTypeError,
		JobID: jobID,
		Error: model.WSError{Code: code, Message: message},
	})
}

// BroadcastPlayback sends a sampled player state to the session's subscribers
func (h *Hub) BroadcastPlayback(state model.PlaybackState) {
	h.Publish(SessionTopic(state.SessionID), model.WSPlaybackMessage{
		Type:  model.WSMessageTypePlayback,
		State: state,
	})
}

// HandleConnection serves one WebSocket connection subscribed to topic until
// the peer disconnects. initial, when non-nil, is sent first.
func (h *Hub) HandleConnection(c *websocket.Conn, topic string, initial interface{}) {
	client := NewClient(topic, c)

	if !h.Register(client) {
		return
	}
	defer h.Unregister(client)

	if initial != nil {
		if data, err := json.Marshal(initial); err == nil {
			_ = c.WriteMessage(websocket.TextMessage, data)
		}
	}

	done := make(chan struct{})
	defer close(done)
	// replies to this connection only; the hub owns client.Send
	replies := make(chan []byte, 1)

	// writer
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					_ = c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}
			case reply := <-replies:
				if err := c.WriteMessage(websocket.TextMessage, reply); err != nil {
					return
				}
			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("topic", topic).Msg("websocket error")
			}
			return
		}

		if reply, ok := replyTo(message); ok {
			select {
			case replies <- reply:
			default:
			}
		}
	}
}

var pongMessage, _ = json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})

// replyTo answers client control messages; only ping has a reply.
func replyTo(message []byte) ([]byte, bool) {
	var msg model.WSMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return nil, false
	}
	if msg.Type != model.WSMessageTypePing {
		return nil, false
	}
	return pongMessage, true
}
