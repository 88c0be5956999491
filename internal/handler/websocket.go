package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"matrimony_chat/internal/domain"
	"matrimony_chat/internal/middleware"
	"matrimony_chat/internal/service"
	apperrors "matrimony_chat/pkg/errors"
	"matrimony_chat/pkg/logger"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 16 * 1024
	wsSendBuffer     = 256
	wsCommandTimeout = 15 * time.Second
)

// Команды клиента
const (
	wsCommandOpen     = "open"
	wsCommandIdentity = "identity"
	wsCommandSend     = "send"
	wsCommandUnsend   = "unsend"
	wsCommandDelete   = "delete"
	wsCommandClear    = "clear"
	wsCommandState    = "state"
)

type wsCommand struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	To        string `json:"to,omitempty"`
	Name      string `json:"name,omitempty"`
	Gender    string `json:"gender,omitempty"`
	Text      string `json:"text,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Identity  string `json:"identity,omitempty"`
}

// wsAck - ответ на команду; события сессии идут отдельными кадрами
type wsAck struct {
	Type      string                `json:"type"`
	RequestID string                `json:"requestId,omitempty"`
	Command   string                `json:"command"`
	OK        bool                  `json:"ok"`
	Error     string                `json:"error,omitempty"`
	Deleted   int                   `json:"deleted,omitempty"`
	Message   *domain.Message       `json:"message,omitempty"`
	State     *service.SessionState `json:"state,omitempty"`
}

type WebSocketHandler struct {
	sessions *service.SessionRegistry
	upgrader websocket.Upgrader
	log      logger.Logger
}

func NewWebSocketHandler(sessions *service.SessionRegistry, allowedOrigins []string, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return middleware.OriginAllowed(allowedOrigins, r.Header.Get("Origin"))
			},
		},
		log: log,
	}
}

// HandleChat подключает WebSocket к сессии участника: события сессии уходят клиенту, команды приходят от него
func (h *WebSocketHandler) HandleChat(c *gin.Context) {
	participantID := middleware.ParticipantID(c)

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}

	session := h.sessions.Get(c.Request.Context(), participantID)
	conn := &wsConnection{
		ws:      ws,
		send:    make(chan []byte, wsSendBuffer),
		session: session,
		log:     h.log.With("participant_id", participantID),
	}

	detach := session.Attach(conn.onEvent)
	defer detach()

	go conn.writer()

	state := session.State(context.WithoutCancel(c.Request.Context()))
	conn.enqueue(wsAck{Type: "ack", Command: wsCommandState, OK: true, State: &state})

	conn.log.Debug("WebSocket connected")
	conn.reader()
	conn.close()
	conn.log.Debug("WebSocket disconnected")
}

type wsConnection struct {
	ws      *websocket.Conn
	session *service.ChatSession
	log     logger.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func (c *wsConnection) onEvent(ev service.SessionEvent) {
	c.enqueue(ev)
}

// enqueue не блокирует: при переполнении кадр отбрасывается, следующая доставка ленты его заменит
func (c *wsConnection) enqueue(v interface{}) {
	raw, err := json.Marshal(v)
	if err != nil {
		c.log.Error("Failed to encode websocket frame", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- raw:
	default:
		c.log.Warn("WebSocket send buffer full, dropping frame")
	}
}

func (c *wsConnection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *wsConnection) reader() {
	c.ws.SetReadLimit(wsMaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(wsPongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("WebSocket read failed", "error", err)
			}
			return
		}

		var cmd wsCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			c.enqueue(wsAck{Type: "ack", OK: false, Error: "Malformed command."})
			continue
		}
		c.enqueue(c.handle(cmd))
	}
}

func (c *wsConnection) handle(cmd wsCommand) wsAck {
	ctx, cancel := context.WithTimeout(context.Background(), wsCommandTimeout)
	defer cancel()

	ack := wsAck{Type: "ack", RequestID: cmd.RequestID, Command: cmd.Type}
	var err error

	switch cmd.Type {
	case wsCommandOpen:
		var target *domain.Target
		if cmd.To != "" || cmd.Name != "" {
			target = &domain.Target{To: cmd.To, Name: cmd.Name, Gender: cmd.Gender}
		}
		_, err = c.session.OpenRoom(ctx, target)
	case wsCommandIdentity:
		_, err = c.session.SetIdentity(ctx, cmd.Identity)
	case wsCommandSend:
		ack.Message, err = c.session.Send(ctx, cmd.Text)
	case wsCommandUnsend:
		err = c.session.Unsend(ctx, cmd.MessageID)
	case wsCommandDelete:
		err = c.session.Delete(ctx, cmd.MessageID)
	case wsCommandClear:
		ack.Deleted, err = c.session.DeleteAll(ctx)
	case wsCommandState:
		state := c.session.State(ctx)
		ack.State = &state
	default:
		err = apperrors.NewValidationError("Unknown command.")
	}

	if err != nil {
		ack.Error = apperrors.UserMessage(err)
		return ack
	}
	ack.OK = true
	return ack
}

func (c *wsConnection) writer() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Warn("WebSocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
