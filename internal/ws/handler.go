package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/saker-ai/voice-overlay/internal/voice"
)

const (
	writeWait       = 5 * time.Second
	maxIncomingSize = 4096
)

// Handler serves overlay pages over websocket. Each viewer receives the
// voice snapshot on connect and again whenever the tracker version moves.
type Handler struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader
	tracker  *voice.Tracker
	interval time.Duration
	viewers  map[string]*viewer
	mu       sync.Mutex
}

type viewer struct {
	id      string
	conn    *websocket.Conn
	sendMu  sync.Mutex
	logger  *zap.Logger
	tracker *voice.Tracker

	// guarded by sendMu
	sent     bool
	lastSent uint64
}

// NewHandler returns a hub polling tracker every interval.
func NewHandler(logger *zap.Logger, tracker *voice.Tracker, interval time.Duration) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Handler{
		logger:   logger,
		tracker:  tracker,
		interval: interval,
		viewers:  make(map[string]*viewer),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Handle upgrades the request and feeds the viewer until it disconnects.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("viewer upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	v := &viewer{
		id:      uuid.NewString(),
		conn:    conn,
		logger:  h.logger,
		tracker: h.tracker,
	}
	h.registerViewer(v)
	defer h.unregisterViewer(v.id)

	h.logger.Info("viewer connected",
		zap.String("viewer_id", v.id),
		zap.String("remote_addr", r.RemoteAddr),
	)
	v.pushSnapshot(true)

	done := make(chan struct{})
	go func() {
		defer close(done)
		v.readLoop()
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			h.logger.Info("viewer disconnected", zap.String("viewer_id", v.id))
			return
		case <-ticker.C:
			v.pushSnapshot(false)
		}
	}
}

// ViewerCount returns the number of connected viewers.
func (h *Handler) ViewerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.viewers)
}

// CloseAll sends a going-away close frame to every viewer. Hijacked
// connections are not closed by http.Server.Shutdown.
func (h *Handler) CloseAll() {
	h.mu.Lock()
	viewers := make([]*viewer, 0, len(h.viewers))
	for _, v := range h.viewers {
		viewers = append(viewers, v)
	}
	h.mu.Unlock()

	for _, v := range viewers {
		_ = v.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		_ = v.conn.Close()
	}
}

func (h *Handler) registerViewer(v *viewer) {
	h.mu.Lock()
	h.viewers[v.id] = v
	h.mu.Unlock()
}

func (h *Handler) unregisterViewer(id string) {
	h.mu.Lock()
	delete(h.viewers, id)
	h.mu.Unlock()
}

func (v *viewer) readLoop() {
	v.conn.SetReadLimit(maxIncomingSize)
	for {
		msgType, data, err := v.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var msg incomingMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			v.logger.Debug("viewer message decode failed", zap.String("viewer_id", v.id), zap.Error(err))
			continue
		}
		v.dispatchIncoming(msg)
	}
}

// pushSnapshot writes the tracker state unless this viewer already has the
// current version. force skips the version check.
func (v *viewer) pushSnapshot(force bool) {
	snap, version := v.tracker.Snapshot()

	v.sendMu.Lock()
	defer v.sendMu.Unlock()
	if !force && v.sent && v.lastSent == version {
		return
	}
	if err := v.writeLocked(snap); err != nil {
		return
	}
	v.sent = true
	v.lastSent = version
}

func (v *viewer) sendJSON(payload any) {
	v.sendMu.Lock()
	defer v.sendMu.Unlock()
	_ = v.writeLocked(payload)
}

func (v *viewer) writeLocked(payload any) error {
	_ = v.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := v.conn.WriteJSON(payload); err != nil {
		v.logger.Debug("viewer send failed", zap.String("viewer_id", v.id), zap.Error(err))
		_ = v.conn.Close()
		return err
	}
	return nil
}
