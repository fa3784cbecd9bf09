package overlay

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/saker-ai/voice-overlay/internal/session/fsm"
)

// dialURL builds the proxy URL carrying the overlay page as its url query
// parameter.
func dialURL(cfg Config) (string, error) {
	endpoint, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	switch endpoint.Scheme {
	case "ws", "wss":
	default:
		return "", fmt.Errorf("endpoint scheme %q is not ws or wss", endpoint.Scheme)
	}
	target := fmt.Sprintf("https://%s/overlay/voice/%s/%s",
		cfg.OverlayHost, url.PathEscape(cfg.GuildID), url.PathEscape(cfg.ChannelID))
	query := endpoint.Query()
	query.Set("url", target)
	endpoint.RawQuery = query.Encode()
	return endpoint.String(), nil
}

func overlayOrigin(cfg Config) string {
	return "https://" + cfg.OverlayHost
}

// handshake drives the authorize → token → authenticate sequence on a fresh
// connection, before the read and write loops own it.
type handshake struct {
	conn     *websocket.Conn
	cfg      Config
	logger   *zap.Logger
	state    *fsm.Machine
	nextID   func() uint32
	deadline time.Time
}

func (h *handshake) run(ctx context.Context) error {
	h.deadline = time.Now().Add(h.cfg.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(h.deadline) {
		h.deadline = d
	}
	stop := context.AfterFunc(ctx, func() {
		_ = h.conn.Close()
	})
	defer stop()

	if err := h.awaitReady(); err != nil {
		return buildError(StageReady, h.cause(ctx, err))
	}
	h.advance(h.state.OnReadyFrame)

	reply, err := h.roundTrip(authorizeRequest(h.cfg.ClientID))
	if err != nil {
		return buildError(StageAuthorize, h.cause(ctx, err))
	}
	code, err := reply.DataString("code")
	if err != nil {
		return buildError(StageAuthorize, fmt.Errorf("authorize reply without code: %w", err))
	}
	h.advance(h.state.OnAuthorized)
	h.logger.Debug("overlay authorization code received", zap.Uint32("request_id", *reply.ID))

	tokenCtx, cancel := context.WithDeadline(ctx, h.deadline)
	token, err := h.cfg.TokenExchanger.Exchange(tokenCtx, code)
	cancel()
	if err != nil {
		return buildError(StageToken, err)
	}
	h.advance(h.state.OnToken)

	if _, err := h.roundTrip(authenticateRequest(h.cfg.ClientID, token.AccessToken)); err != nil {
		return buildError(StageAuthenticate, h.cause(ctx, err))
	}
	h.advance(h.state.OnAuthenticated)

	return h.release()
}

// release clears the handshake deadlines before the loops take the
// connection over.
func (h *handshake) release() error {
	if err := h.conn.SetReadDeadline(time.Time{}); err != nil {
		return buildError(StageAuthenticate, err)
	}
	if err := h.conn.SetWriteDeadline(time.Time{}); err != nil {
		return buildError(StageAuthenticate, err)
	}
	return nil
}

func (h *handshake) awaitReady() error {
	if err := h.conn.SetReadDeadline(h.deadline); err != nil {
		return err
	}
	_, data, err := h.conn.ReadMessage()
	if err != nil {
		return err
	}
	h.logger.Debug("overlay ready frame received", zap.Int("bytes", len(data)))
	return nil
}

// roundTrip sends env with a fresh id and waits for the frame answering it.
// Frames answering anything else are skipped.
func (h *handshake) roundTrip(env Envelope) (Envelope, error) {
	id := h.nextID()
	env.ID = &id
	data, err := encodeEnvelope(env)
	if err != nil {
		return Envelope{}, err
	}
	if err := h.conn.SetWriteDeadline(h.deadline); err != nil {
		return Envelope{}, err
	}
	if err := h.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return Envelope{}, err
	}

	if err := h.conn.SetReadDeadline(h.deadline); err != nil {
		return Envelope{}, err
	}
	for {
		msgType, data, err := h.conn.ReadMessage()
		if err != nil {
			return Envelope{}, err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		frame, err := decodeInbound(data)
		if err != nil {
			h.logger.Warn("overlay handshake frame decode failed", zap.Error(err))
			continue
		}
		if frame.kind == frameReply && frame.id == id {
			return frame.envelope, nil
		}
		h.logger.Debug("overlay handshake skipped frame",
			zap.String("cmd", string(frame.envelope.Cmd)),
			zap.Uint32("awaiting_id", id),
		)
	}
}

func (h *handshake) advance(step func() error) {
	if err := step(); err != nil {
		h.logger.Warn("overlay session state", zap.Error(err))
	}
}

// cause prefers the context error over the socket error it provoked.
func (h *handshake) cause(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Join(ctxErr, err)
	}
	return err
}
