package overlay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/saker-ai/voice-overlay/internal/session/fsm"
)

type outboundRequest struct {
	envelope Envelope
	pending  *pendingRequest
}

// Client is an authenticated overlay session. It is safe for concurrent use.
type Client struct {
	cfg    Config
	logger *zap.Logger
	conn   *websocket.Conn
	state  *fsm.Machine

	correlator *correlator
	registry   *registry
	outbound   chan outboundRequest

	done       chan struct{}
	readerDone chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once
	closing    atomic.Bool

	errMu sync.Mutex
	err   error

	// upstream subscribe requests in flight
	tasksMu     sync.Mutex
	tasks       sync.WaitGroup
	tasksClosed bool
}

// Connect dials the overlay proxy and runs the authorization handshake. It
// returns a *BuildError and no client when any step fails.
func Connect(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.GuildID) == "" || strings.TrimSpace(cfg.ChannelID) == "" {
		return nil, buildError(StageConfig, ErrMissingField)
	}
	cfg = normalizeConfig(cfg)

	target, err := dialURL(cfg)
	if err != nil {
		return nil, buildError(StageConfig, err)
	}

	state := fsm.New()
	_ = state.OnDial()
	logger.Info("overlay connecting",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("guild_id", cfg.GuildID),
		zap.String("channel_id", cfg.ChannelID),
	)

	headers := http.Header{}
	headers.Set("Origin", overlayOrigin(cfg))
	dialer := *cfg.Dialer
	dialer.Subprotocols = cfg.Subprotocols
	conn, _, err := dialer.DialContext(ctx, target, headers)
	if err != nil {
		state.Close()
		return nil, buildError(StageConnect, err)
	}
	_ = state.OnConnected()

	hs := &handshake{
		conn:   conn,
		cfg:    cfg,
		logger: logger,
		state:  state,
		nextID: randomRequestID,
	}
	if err := hs.run(ctx); err != nil {
		state.Close()
		_ = conn.Close()
		logger.Warn("overlay handshake failed", zap.Error(err))
		return nil, err
	}

	c := &Client{
		cfg:        cfg,
		logger:     logger,
		conn:       conn,
		state:      state,
		correlator: newCorrelator(),
		registry:   newRegistry(),
		outbound:   make(chan outboundRequest, outboundQueueSize),
		done:       make(chan struct{}),
		readerDone: make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	go c.writeLoop()
	go c.readLoop()

	logger.Info("overlay authenticated",
		zap.String("guild_id", cfg.GuildID),
		zap.String("channel_id", cfg.ChannelID),
	)
	return c, nil
}

// SendRequest sends env with a freshly assigned id and waits for its reply.
// Any id already set on env is replaced.
func (c *Client) SendRequest(ctx context.Context, env Envelope) (Envelope, error) {
	if err := ctx.Err(); err != nil {
		return Envelope{}, err
	}
	pending, err := c.correlator.register()
	if err != nil {
		return Envelope{}, clientError(OpSend, err)
	}
	id := pending.id
	env.ID = &id

	select {
	case c.outbound <- outboundRequest{envelope: env, pending: pending}:
	case <-c.done:
		// shutdown has already released the slot.
	case <-ctx.Done():
		// Never queued, so no reply can arrive for id.
		err := fmt.Errorf("%w: %w", ErrReplyDropped, ctx.Err())
		c.correlator.fail(id, err)
		return Envelope{}, clientError(OpSend, err)
	}

	select {
	case res := <-pending.done:
		if res.err != nil {
			return Envelope{}, clientError(OpAwait, res.err)
		}
		return res.envelope, nil
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

// Subscribe returns a stream of broadcasts of kind event. The first
// subscription for a kind sends the upstream subscribe request; later ones
// share it.
func (c *Client) Subscribe(ctx context.Context, event Event) (*Subscription, error) {
	if !event.Valid() {
		return nil, clientError(OpSubscribe, fmt.Errorf("unknown event %q", event))
	}
	sub := newSubscription(event)
	set, created, err := c.registry.join(event, sub)
	if err != nil {
		sub.Close()
		return nil, clientError(OpSubscribe, err)
	}

	if created {
		// Shared by every joiner: detached from this caller's cancellation.
		upstreamCtx := context.WithoutCancel(ctx)
		started := c.startTask(func() {
			c.subscribeUpstream(upstreamCtx, event, set)
		})
		if !started {
			c.registry.settle(event, set, ErrConnectionClosed)
		}
	}

	select {
	case <-set.ready:
	case <-ctx.Done():
		sub.Close()
		return nil, ctx.Err()
	}
	if set.err != nil {
		sub.Close()
		return nil, clientError(OpSubscribe, set.err)
	}
	return sub, nil
}

func (c *Client) subscribeUpstream(ctx context.Context, event Event, set *subscriberSet) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()
	_, err := c.SendRequest(ctx, subscribeRequest(event, c.cfg.GuildID, c.cfg.ChannelID))
	c.registry.settle(event, set, err)
	if err != nil {
		c.logger.Warn("overlay subscribe failed", zap.String("event", string(event)), zap.Error(err))
		return
	}
	c.logger.Info("overlay subscribed", zap.String("event", string(event)))
}

// startTask runs fn on a goroutine that Close waits for. It reports false
// once Close has begun.
func (c *Client) startTask(fn func()) bool {
	c.tasksMu.Lock()
	defer c.tasksMu.Unlock()
	if c.tasksClosed {
		return false
	}
	c.tasks.Add(1)
	go func() {
		defer c.tasks.Done()
		fn()
	}()
	return true
}

// Close tears the session down. Pending requests fail with
// ErrConnectionClosed and subscription streams end.
func (c *Client) Close() error {
	c.closing.Store(true)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := c.conn.Close()
	<-c.readerDone
	<-c.writerDone

	c.tasksMu.Lock()
	c.tasksClosed = true
	c.tasksMu.Unlock()
	c.tasks.Wait()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Done is closed once the session has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the session ended, or nil while it is live.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// State returns the session phase.
func (c *Client) State() fsm.State {
	return c.state.State()
}

// GuildID returns the guild the session is bound to.
func (c *Client) GuildID() string {
	return c.cfg.GuildID
}

// ChannelID returns the voice channel the session is bound to.
func (c *Client) ChannelID() string {
	return c.cfg.ChannelID
}

func (c *Client) writeLoop() {
	defer close(c.writerDone)
	for {
		select {
		case <-c.done:
			return
		case req := <-c.outbound:
			c.write(req)
		}
	}
}

func (c *Client) write(req outboundRequest) {
	data, err := encodeEnvelope(req.envelope)
	if err != nil {
		c.correlator.fail(req.pending.id, clientError(OpSend, err))
		return
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Warn("overlay write failed",
			zap.Uint32("request_id", req.pending.id),
			zap.String("cmd", string(req.envelope.Cmd)),
			zap.Error(err),
		)
		c.correlator.fail(req.pending.id, clientError(OpSend, err))
	}
}

func (c *Client) readLoop() {
	defer close(c.readerDone)
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.closing.Load() {
				c.shutdown(fmt.Errorf("%w: %w", ErrConnectionClosed, ErrClosed))
			} else {
				c.shutdown(fmt.Errorf("%w: %v", ErrConnectionClosed, err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			c.logger.Debug("overlay non-text frame ignored", zap.Int("message_type", msgType))
			continue
		}
		c.dispatch(data)
	}
}

// dispatch routes one inbound frame. Neither branch blocks: reply slots are
// buffered and subscription queues are unbounded.
func (c *Client) dispatch(data []byte) {
	frame, err := decodeInbound(data)
	if err != nil {
		c.logger.Warn("overlay frame decode failed",
			zap.Error(clientError(OpDecode, err)),
			zap.ByteString("frame", truncateFrame(data)),
		)
		return
	}

	switch frame.kind {
	case frameReply:
		if !c.correlator.resolve(frame.id, frame.envelope) {
			c.logger.Warn("overlay unknown reply",
				zap.Uint32("request_id", frame.id),
				zap.String("cmd", string(frame.envelope.Cmd)),
			)
		}
	case frameBroadcast:
		delivered, pruned := c.registry.deliver(frame.event, frame.envelope)
		if pruned > 0 {
			c.logger.Debug("overlay subscribers pruned",
				zap.String("event", string(frame.event)),
				zap.Int("pruned", pruned),
			)
		}
		if delivered == 0 && pruned == 0 {
			c.logger.Debug("overlay broadcast without subscribers", zap.String("event", string(frame.event)))
		}
	}
}

func (c *Client) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = cause
		c.errMu.Unlock()

		c.state.Close()
		released := c.correlator.closeAll(cause)
		c.registry.closeAll()
		close(c.done)
		_ = c.conn.Close()

		c.logger.Info("overlay session closed",
			zap.Int("released_requests", released),
			zap.Error(cause),
		)
	})
}

func truncateFrame(data []byte) []byte {
	const limit = 256
	if len(data) <= limit {
		return data
	}
	return data[:limit]
}
