package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/saker-ai/voice-overlay/internal/voice"
)

// Viewer handlers outlive the test on hijacked connections, so they log to
// a no-op logger.
func dialViewer(t *testing.T, h *Handler) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(h.Handle))
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial error: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readSnapshot(t *testing.T, conn *websocket.Conn) voice.Snapshot {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var snap voice.Snapshot
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("ReadJSON error: %v", err)
	}
	return snap
}

func TestViewerReceivesSnapshotOnConnectAndChange(t *testing.T) {
	tracker := voice.NewTracker()
	h := NewHandler(zap.NewNop(), tracker, 10*time.Millisecond)
	conn := dialViewer(t, h)

	first := readSnapshot(t, conn)
	if len(first.CurrentUsers) != 0 || first.TalkingUsers == nil {
		t.Fatalf("initial snapshot=%+v, want empty lists", first)
	}

	if err := tracker.ApplyUserChange(json.RawMessage(`[{"id":"1","nickname":"alice"}]`)); err != nil {
		t.Fatalf("ApplyUserChange error: %v", err)
	}
	next := readSnapshot(t, conn)
	if len(next.CurrentUsers) != 1 || next.CurrentUsers[0].Nickname != "alice" {
		t.Fatalf("snapshot=%+v, want alice", next)
	}
	if got := h.ViewerCount(); got != 1 {
		t.Fatalf("viewers=%d, want 1", got)
	}
}

func TestViewerRequestState(t *testing.T) {
	tracker := voice.NewTracker()
	h := NewHandler(zap.NewNop(), tracker, time.Hour)
	conn := dialViewer(t, h)
	readSnapshot(t, conn)

	if err := conn.WriteJSON(incomingMessage{Type: "request-state"}); err != nil {
		t.Fatalf("WriteJSON error: %v", err)
	}
	readSnapshot(t, conn)

	if err := conn.WriteJSON(incomingMessage{Type: "launch"}); err != nil {
		t.Fatalf("WriteJSON error: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON error: %v", err)
	}
	if msg.Type != "error" {
		t.Fatalf("reply type=%q, want error", msg.Type)
	}
}

func TestCloseAllDisconnectsViewers(t *testing.T) {
	h := NewHandler(zap.NewNop(), voice.NewTracker(), time.Hour)
	conn := dialViewer(t, h)
	readSnapshot(t, conn)

	h.CloseAll()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("ReadMessage error=nil after CloseAll, want close")
	}
}
