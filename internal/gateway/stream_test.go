package gateway

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/warden/internal/approval"
)

func dialStream(t *testing.T, ts *testServer, session string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/v1/sessions/" + session + "/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial %s: %v (status %d)", url, err, status)
	}
	t.Cleanup(func() { conn.Close() })

	first := readFrame(t, conn)
	if first.Type != "ready" || first.SessionID != session {
		t.Fatalf("first frame = %+v, want ready", first)
	}
	waitFor(t, "stream subscription", func() bool { return ts.hub.subscribers(session) > 0 })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) streamOutbound {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame streamOutbound
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

// readUntil reads frames until one of type want arrives, returning it and the
// frames before it.
func readUntil(t *testing.T, conn *websocket.Conn, want string) (streamOutbound, []streamOutbound) {
	t.Helper()
	var seen []streamOutbound
	for {
		frame := readFrame(t, conn)
		if frame.Type == want {
			return frame, seen
		}
		seen = append(seen, frame)
	}
}

func TestStream_TurnWithDeltas(t *testing.T) {
	ts := newTestServer(t, testOptions{})
	conn := dialStream(t, ts, "s1", nil)

	if err := conn.WriteJSON(streamInbound{Message: "hi"}); err != nil {
		t.Fatal(err)
	}
	result, before := readUntil(t, conn, "result")
	if result.Result == nil || result.Result.Text != "re:hi" {
		t.Fatalf("result = %+v", result.Result)
	}
	var streamed strings.Builder
	for _, f := range before {
		if f.Type == "delta" {
			streamed.WriteString(f.Text)
		}
	}
	if streamed.String() != "re:hi" {
		t.Errorf("deltas = %q, want %q", streamed.String(), "re:hi")
	}
}

func TestStream_ApprovalRoundTrip(t *testing.T) {
	ts := newTestServer(t, testOptions{steps: deleteThenAnswer})
	conn := dialStream(t, ts, "s1", nil)

	if err := conn.WriteJSON(streamInbound{Type: "message", Message: "clean up"}); err != nil {
		t.Fatal(err)
	}
	required, _ := readUntil(t, conn, "approval_required")
	if required.Request == nil || required.Request.ToolName != "delete_file" {
		t.Fatalf("approval_required = %+v", required)
	}

	if err := conn.WriteJSON(streamInbound{Type: "approval", RequestID: required.Request.ID, Approved: true}); err != nil {
		t.Fatal(err)
	}
	submitted, _ := readUntil(t, conn, "approval_submitted")
	if submitted.RequestID != required.Request.ID {
		t.Errorf("approval_submitted id = %q", submitted.RequestID)
	}
	result, _ := readUntil(t, conn, "result")
	if result.Result == nil || result.Result.Text != "all done" || result.Result.ToolCalls != 1 {
		t.Errorf("result = %+v", result.Result)
	}
}

func TestStream_OnlyOwnSessionApprovals(t *testing.T) {
	ts := newTestServer(t, testOptions{steps: deleteThenAnswer})
	other := dialStream(t, ts, "other", nil)

	_, done := startApprovalTurn(t, ts, "s1")
	pending := ts.approvals.PendingApprovals()
	ts.approvals.SubmitApproval(approvalResponse(pending[0].ID, false))
	<-done

	// The other stream sees nothing but what it asks for.
	if err := other.WriteJSON(streamInbound{Message: "ping"}); err != nil {
		t.Fatal(err)
	}
	result, before := readUntil(t, other, "result")
	for _, f := range before {
		if f.Type == "approval_required" {
			t.Errorf("other session received %+v", f)
		}
	}
	if result.Result == nil {
		t.Error("missing result")
	}
}

func TestStream_InvalidFrames(t *testing.T) {
	ts := newTestServer(t, testOptions{})
	conn := dialStream(t, ts, "s1", nil)

	tests := []struct {
		name  string
		frame string
		code  string
	}{
		{"not json", `{`, "invalid_frame"},
		{"empty message", `{"type":"message","message":" "}`, "invalid_frame"},
		{"unknown type", `{"type":"shout"}`, "invalid_frame"},
		{"unknown approval", `{"type":"approval","request_id":"nope","approved":true}`, "not_pending"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.frame)); err != nil {
				t.Fatal(err)
			}
			frame := readFrame(t, conn)
			if frame.Type != "error" || frame.Error == nil || frame.Error.Code != tt.code {
				t.Errorf("frame = %+v, want error %s", frame, tt.code)
			}
		})
	}
}

func TestStream_ClosedOnShutdown(t *testing.T) {
	ts := newTestServer(t, testOptions{})
	conn := dialStream(t, ts, "s1", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ts.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				t.Errorf("close error = %v", err)
			}
			return
		}
	}
}

func TestApprovalHub(t *testing.T) {
	hub := newApprovalHub()
	a, unsubA := hub.subscribe("s1")
	_, unsubB := hub.subscribe("s1")
	if got := hub.subscribers("s1"); got != 2 {
		t.Fatalf("subscribers = %d, want 2", got)
	}

	hub.publish(approvalRequest("r1", "s1"))
	hub.publish(approvalRequest("r2", "s2"))
	select {
	case req := <-a:
		if req.ID != "r1" {
			t.Errorf("got %s, want r1", req.ID)
		}
	default:
		t.Fatal("subscriber missed its session's request")
	}
	select {
	case req := <-a:
		t.Errorf("unexpected request %s", req.ID)
	default:
	}

	// A full buffer drops rather than blocks.
	for i := 0; i < 64; i++ {
		hub.publish(approvalRequest("flood", "s1"))
	}

	unsubA()
	unsubB()
	if got := hub.subscribers("s1"); got != 0 {
		t.Errorf("subscribers after unsubscribe = %d", got)
	}
	hub.closeAll()
	hub.closeAll()
	select {
	case <-hub.done:
	default:
		t.Error("done not closed")
	}
}

func approvalRequest(id, session string) approval.Request {
	return approval.Request{ID: id, ToolName: "delete_file", SessionID: session, CreatedAt: time.Now()}
}

func approvalResponse(id string, approved bool) approval.Response {
	return approval.Response{RequestID: id, Approved: approved, Source: approval.SourceUser, Timestamp: time.Now()}
}

func (h *approvalHub) subscribers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}
