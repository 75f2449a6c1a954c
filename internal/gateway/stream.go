package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/warden/internal/agent"
	"github.com/haasonsaas/warden/internal/approval"
)

const (
	wsMaxPayloadBytes = 1 << 20
	wsPingInterval    = 15 * time.Second
	wsPongWait        = 45 * time.Second
	wsWriteWait       = 10 * time.Second
	wsSendBuffer      = 64
	wsTurnBuffer      = 8
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

// Client frames. Type defaults to "message".
type streamInbound struct {
	Type      string                   `json:"type,omitempty"`
	Message   string                   `json:"message,omitempty"`
	Channel   *approval.ChannelContext `json:"channel,omitempty"`
	RequestID string                   `json:"request_id,omitempty"`
	Approved  bool                     `json:"approved,omitempty"`
	Reason    string                   `json:"reason,omitempty"`
}

// Server frames: ready, delta, approval_required, approval_submitted,
// result and error.
type streamOutbound struct {
	Type      string            `json:"type"`
	SessionID string            `json:"session_id,omitempty"`
	Text      string            `json:"text,omitempty"`
	Request   *approval.Request `json:"request,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	Result    *agent.TurnResult `json:"result,omitempty"`
	Error     *errorBody        `json:"error,omitempty"`
}

type streamConn struct {
	server    *Server
	conn      *websocket.Conn
	sessionID string
	by        string
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	send   chan []byte
	turns  chan streamInbound
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if strings.TrimSpace(sessionID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_session", agent.ErrInvalidSessionID.Error())
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	c := &streamConn{
		server:    s,
		conn:      conn,
		sessionID: sessionID,
		by:        decidedBy(r),
		logger:    s.logger.With("session_id", sessionID, "stream", true),
		ctx:       ctx,
		cancel:    cancel,
		send:      make(chan []byte, wsSendBuffer),
		turns:     make(chan streamInbound, wsTurnBuffer),
	}
	c.run()
}

func (c *streamConn) run() {
	approvals, unsubscribe := c.server.hub.subscribe(c.sessionID)
	defer unsubscribe()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		c.writeLoop()
	}()
	go func() {
		defer wg.Done()
		c.turnLoop()
	}()
	go func() {
		defer wg.Done()
		c.forwardApprovals(approvals)
	}()

	c.emit(streamOutbound{Type: "ready", SessionID: c.sessionID})
	c.readLoop()

	c.cancel()
	wg.Wait()
	_ = c.conn.Close()
}

func (c *streamConn) readLoop() {
	c.conn.SetReadLimit(wsMaxPayloadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var in streamInbound
		if err := json.Unmarshal(data, &in); err != nil {
			c.emitError("invalid_frame", err.Error())
			continue
		}
		switch in.Type {
		case "", "message":
			if strings.TrimSpace(in.Message) == "" {
				c.emitError("invalid_frame", "message is required")
				continue
			}
			select {
			case c.turns <- in:
			default:
				c.emitError("busy", "too many queued messages on this connection")
			}
		case "approval":
			c.submitApproval(in)
		default:
			c.emitError("invalid_frame", "unknown frame type "+in.Type)
		}
	}
}

func (c *streamConn) submitApproval(in streamInbound) {
	ok := c.server.cfg.Runtime.SubmitApproval(approval.Response{
		RequestID: in.RequestID,
		Approved:  in.Approved,
		Reason:    in.Reason,
		Source:    approval.SourceUser,
		DecidedBy: c.by,
	})
	if !ok {
		c.emitError("not_pending", "no pending approval with id "+in.RequestID)
		return
	}
	c.emit(streamOutbound{Type: "approval_submitted", RequestID: in.RequestID})
}

// turnLoop runs this connection's turns one at a time, in arrival order.
func (c *streamConn) turnLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case in := <-c.turns:
			result, err := c.server.cfg.Runtime.EnqueueTurn(c.ctx, c.sessionID, in.Message, agent.TurnOptions{
				OnDelta: func(text string) {
					c.emit(streamOutbound{Type: "delta", Text: text})
				},
				Channel: in.Channel,
			})
			if err != nil {
				if c.ctx.Err() != nil {
					return
				}
				code := "internal"
				if errors.Is(err, agent.ErrInvalidSessionID) {
					code = "invalid_session"
				}
				c.emitError(code, err.Error())
				continue
			}
			c.emit(streamOutbound{Type: "result", SessionID: c.sessionID, Result: result})
		}
	}
}

func (c *streamConn) forwardApprovals(approvals <-chan approval.Request) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.server.hub.done:
			// Server shutdown: close the socket so the read loop ends.
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(wsWriteWait))
			_ = c.conn.Close()
			return
		case req := <-approvals:
			c.emit(streamOutbound{Type: "approval_required", SessionID: c.sessionID, Request: &req})
		}
	}
}

func (c *streamConn) writeLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.cancel()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				c.cancel()
				return
			}
		}
	}
}

// emit queues a frame. It blocks while the send buffer is full so deltas are
// never dropped, and gives up when the connection is closing.
func (c *streamConn) emit(frame streamOutbound) {
	data, err := json.Marshal(frame)
	if err != nil {
		c.logger.Warn("encode stream frame", "type", frame.Type, "error", err)
		return
	}
	select {
	case c.send <- data:
	case <-c.ctx.Done():
	}
}

func (c *streamConn) emitError(code, message string) {
	c.emit(streamOutbound{Type: "error", Error: &errorBody{Code: code, Error: message}})
}

// approvalHub fans approval requests out to the streams watching their
// session.
type approvalHub struct {
	mu        sync.Mutex
	subs      map[string]map[chan approval.Request]struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newApprovalHub() *approvalHub {
	return &approvalHub{
		subs: make(map[string]map[chan approval.Request]struct{}),
		done: make(chan struct{}),
	}
}

func (h *approvalHub) subscribe(sessionID string) (<-chan approval.Request, func()) {
	ch := make(chan approval.Request, 16)
	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[chan approval.Request]struct{})
	}
	h.subs[sessionID][ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs[sessionID], ch)
		if len(h.subs[sessionID]) == 0 {
			delete(h.subs, sessionID)
		}
	}
}

// publish runs as an approval listener, so it must not block. A subscriber
// with a full buffer misses the event; the request stays visible through
// GET /v1/approvals.
func (h *approvalHub) publish(req approval.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[req.SessionID] {
		select {
		case ch <- req:
		default:
		}
	}
}

func (h *approvalHub) closeAll() {
	h.closeOnce.Do(func() { close(h.done) })
}
