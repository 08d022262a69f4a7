package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"livequiz-service/internal/app"
	"livequiz-service/internal/domain"
)

const sendBuffer = 16

// Hub is the realtime gateway: it upgrades connections, translates inbound
// named calls into manager operations, and fans outbound events to the
// connections the registry says belong to a session. It implements
// app.EventSink.
type Hub struct {
	manager  *app.SessionManager
	registry *ConnectionRegistry
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
}

func NewHub(manager *app.SessionManager, registry *ConnectionRegistry) *Hub {
	return &Hub{
		manager:  manager,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	id     string
	send   chan domain.Event
	done   chan struct{}
	closed sync.Once
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type createSessionPayload struct {
	QuizID string `json:"quizId"`
	Title  string `json:"title"`
}

type joinSessionPayload struct {
	JoinCode    string `json:"joinCode"`
	DisplayName string `json:"displayName"`
	ResumeToken string `json:"resumeToken,omitempty"`
}

type sessionRefPayload struct {
	SessionID string `json:"sessionId"`
}

type updateSessionPayload struct {
	SessionID         string  `json:"sessionId"`
	Title             *string `json:"title,omitempty"`
	QuestionTimeLimit *int    `json:"questionTimeLimit,omitempty"`
}

type submitAnswerPayload struct {
	SessionID     string `json:"sessionId,omitempty"`
	QuestionIndex int    `json:"questionIndex"`
	Value         string `json:"value"`
}

// ServeWS upgrades the request and runs the connection's read loop. Each
// connection gets its own goroutine pair, so a slow participant never stalls
// the others.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		id:   uuid.NewString(),
		send: make(chan domain.Event, sendBuffer),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	go c.writePump()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		h.dispatch(r.Context(), c, inbound)
	}
	c.close()
}

// writePump serializes all writes for one connection; events queued on the
// send channel are delivered in production order.
func (c *client) writePump() {
	defer c.conn.Close()
	for {
		select {
		case event := <-c.send:
			if err := c.conn.WriteJSON(event); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		case <-c.done:
			return
		}
	}
}

// close tears the connection down exactly once, even when disconnect and
// reconnect race: the registry entry is removed and the participant marked
// disconnected in the same pass.
func (c *client) close() {
	c.closed.Do(func() {
		h := c.hub
		h.mu.Lock()
		delete(h.clients, c.id)
		h.mu.Unlock()

		if binding, ok := h.registry.Remove(c.id); ok && binding.Role == domain.RolePlayer {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.manager.MarkDisconnected(ctx, binding.SessionID, binding.ParticipantID); err != nil {
				log.Printf("mark disconnected %s: %v", binding.ParticipantID, err)
			}
		}
		close(c.done)
	})
}

// Broadcast queues an event for every connection bound to the session.
func (h *Hub) Broadcast(sessionID string, event domain.Event) {
	for _, connID := range h.registry.Connections(sessionID) {
		h.mu.RLock()
		c, ok := h.clients[connID]
		h.mu.RUnlock()
		if !ok {
			continue
		}
		c.queue(event)
	}
}

// queue never blocks the broadcaster: when a client's buffer is full the
// oldest event is dropped to make room for the newest.
func (c *client) queue(event domain.Event) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- event:
	default:
		select {
		case <-c.send:
		default:
		}
		select {
		case c.send <- event:
		default:
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, c *client, inbound inboundMessage) {
	switch inbound.Type {
	case "create_session":
		var payload createSessionPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			c.queue(errEvent(domain.ErrInvalidInput))
			return
		}
		session, err := h.manager.CreateSession(ctx, payload.QuizID, payload.Title, c.id)
		if err != nil {
			c.queue(errEvent(err))
			return
		}
		h.registry.Bind(c.id, Binding{SessionID: session.ID, Role: domain.RoleHost})
		c.queue(domain.Event{
			Type:    domain.EventSessionCreated,
			Payload: domain.SessionCreatedPayload{SessionID: session.ID, JoinCode: session.JoinCode},
		})

	case "join_session":
		var payload joinSessionPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			c.queue(errEvent(domain.ErrInvalidInput))
			return
		}
		participant, session, err := h.manager.JoinSession(ctx, payload.JoinCode, payload.DisplayName, c.id, payload.ResumeToken)
		if err != nil {
			c.queue(errEvent(err))
			return
		}
		h.registry.Bind(c.id, Binding{
			SessionID:     session.ID,
			ParticipantID: participant.ID,
			Role:          domain.RolePlayer,
		})
		c.queue(domain.Event{
			Type: domain.EventJoined,
			Payload: domain.JoinedPayload{
				SessionID:     session.ID,
				ParticipantID: participant.ID,
				ResumeToken:   participant.ResumeToken,
				State:         session.State,
				QuestionIndex: session.CurrentQuestion,
			},
		})

	case "update_session":
		var payload updateSessionPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			c.queue(errEvent(domain.ErrInvalidInput))
			return
		}
		session, err := h.manager.UpdateSession(ctx, payload.SessionID, c.id, app.SessionUpdate{
			Title:             payload.Title,
			QuestionTimeLimit: payload.QuestionTimeLimit,
		})
		if err != nil {
			c.queue(errEvent(err))
			return
		}
		c.queue(domain.Event{
			Type:    domain.EventAck,
			Payload: domain.AckPayload{Op: "update_session", SessionID: session.ID, Index: session.CurrentQuestion},
		})

	case "start_session":
		var payload sessionRefPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			c.queue(errEvent(domain.ErrInvalidInput))
			return
		}
		adv, err := h.manager.StartSession(ctx, payload.SessionID, c.id)
		if err != nil {
			c.queue(errEvent(err))
			return
		}
		// Covers hosts that created the session over REST and drive it here.
		h.registry.Bind(c.id, Binding{SessionID: adv.Session.ID, Role: domain.RoleHost})
		c.queue(ackEvent("start_session", adv))

	case "advance_question":
		var payload sessionRefPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			c.queue(errEvent(domain.ErrInvalidInput))
			return
		}
		adv, err := h.manager.AdvanceQuestion(ctx, payload.SessionID, c.id)
		if err != nil {
			c.queue(errEvent(err))
			return
		}
		h.registry.Bind(c.id, Binding{SessionID: adv.Session.ID, Role: domain.RoleHost})
		c.queue(ackEvent("advance_question", adv))

	case "submit_answer":
		var payload submitAnswerPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			c.queue(errEvent(domain.ErrInvalidInput))
			return
		}
		binding, ok := h.registry.Lookup(c.id)
		if !ok || binding.Role != domain.RolePlayer {
			c.queue(errEvent(domain.ErrParticipantNotFound))
			return
		}
		result, err := h.manager.SubmitAnswer(ctx, binding.SessionID, binding.ParticipantID, payload.QuestionIndex, payload.Value, time.Time{})
		if err != nil && !domain.IsConflict(err) {
			c.queue(errEvent(err))
			return
		}
		// A duplicate looks like a rejected-but-non-fatal result to the caller.
		c.queue(domain.Event{Type: domain.EventAnswerResult, Payload: result})

	default:
		c.queue(errEvent(domain.ErrInvalidInput))
	}
}

func ackEvent(op string, adv *app.QuestionAdvance) domain.Event {
	payload := domain.AckPayload{
		Op:        op,
		SessionID: adv.Session.ID,
		Index:     adv.Index,
		Ended:     adv.Ended,
	}
	if adv.Question != nil {
		payload.Answer = adv.Question.Answer
	}
	return domain.Event{Type: domain.EventAck, Payload: payload}
}

func errEvent(err error) domain.Event {
	return domain.Event{
		Type:    domain.EventError,
		Payload: domain.ErrorPayload{Code: errCode(err), Message: err.Error()},
	}
}

func errCode(err error) string {
	switch {
	case domain.IsValidation(err):
		return "validation"
	case domain.IsNotFound(err):
		return "not_found"
	case domain.IsState(err):
		return "state"
	case domain.IsConflict(err):
		return "conflict"
	case domain.IsUnauthorized(err):
		return "unauthorized"
	case domain.IsUnavailable(err):
		return "unavailable"
	default:
		return "internal"
	}
}
