package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	appconfig "github.com/saker-ai/voice-overlay/internal/config"
	apphttp "github.com/saker-ai/voice-overlay/internal/http"
	applogger "github.com/saker-ai/voice-overlay/internal/logger"
	"github.com/saker-ai/voice-overlay/internal/voice"
	"github.com/saker-ai/voice-overlay/internal/ws"
	"github.com/saker-ai/voice-overlay/pkg/overlay"
)

const shutdownTimeout = 5 * time.Second

// trackedEvents feed the voice tracker.
var trackedEvents = []overlay.Event{
	overlay.EventAudioChannelUserChange,
	overlay.EventAudioChannelUserTalk,
}

// Server connects to the overlay proxy and serves the voice state to
// browser overlays.
type Server struct {
	cfg     appconfig.Config
	logger  *zap.Logger
	tracker *voice.Tracker
	viewers *ws.Handler

	mu       sync.Mutex
	server   *http.Server
	client   *overlay.Client
	listener net.Listener

	ready     chan struct{}
	readyOnce sync.Once
}

// New loads configuration from configPath and builds the logger.
func New(configPath string) (*Server, error) {
	cfg, err := appconfig.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load voice-overlay config: %w", err)
	}

	logger, err := applogger.New(cfg.Log)
	if err != nil {
		logger, _ = zap.NewProduction()
		logger.Warn("voice-overlay logger config rejected, using defaults", zap.Error(err))
	}
	logger.Info("voice-overlay logger configured",
		zap.String("level", cfg.Log.Level),
		zap.String("format", cfg.Log.Format),
		zap.Bool("stdout", cfg.Log.Stdout),
		zap.Bool("file_enabled", cfg.Log.File.Enabled),
		zap.String("file_path", cfg.Log.File.Path),
		zap.String("file_name", cfg.Log.File.Name),
	)
	logger.Info("voice-overlay config loaded",
		zap.String("config_path", configPath),
		zap.String("root_dir", cfg.RootDir),
		zap.String("http_addr", cfg.HTTPAddr),
	)
	return NewWithConfig(cfg, logger)
}

// NewWithConfig builds a server from an already loaded configuration.
func NewWithConfig(cfg appconfig.Config, logger *zap.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid voice-overlay config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	tracker := voice.NewTracker()
	return &Server{
		cfg:     cfg,
		logger:  logger,
		tracker: tracker,
		viewers: ws.NewHandler(logger, tracker, cfg.Viewer.PushInterval),
		ready:   make(chan struct{}),
	}, nil
}

// Logger returns the configured logger.
func (s *Server) Logger() *zap.Logger {
	return s.logger
}

// Run connects, subscribes to the voice events and serves HTTP until ctx is
// cancelled or the overlay connection is lost. Losing the connection is an
// error; there is no reconnection.
func (s *Server) Run(ctx context.Context) error {
	client, err := overlay.Connect(ctx, overlayConfig(s.cfg), s.logger.Named("overlay"))
	if err != nil {
		return fmt.Errorf("connect overlay: %w", err)
	}
	defer client.Close()
	sessionLog := applogger.ForSession(s.logger, client.GuildID(), client.ChannelID())

	for _, event := range trackedEvents {
		sub, err := client.Subscribe(ctx, event)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", event, err)
		}
		go s.consume(sub, sessionLog)
	}

	listener, err := net.Listen("tcp", s.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.HTTPAddr, err)
	}
	httpServer := &http.Server{
		Handler: apphttp.NewRouter(s.cfg, s.viewers, s.tracker, client, s.logger),
	}

	s.mu.Lock()
	s.client = client
	s.server = httpServer
	s.listener = listener
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.ready) })

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("starting http server", zap.String("addr", listener.Addr().String()))
		serveErr <- httpServer.Serve(listener)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		s.logger.Info("voice-overlay stopping", zap.Error(ctx.Err()))
	case <-client.Done():
		runErr = fmt.Errorf("overlay session lost: %w", client.Err())
		sessionLog.Error("overlay session lost", zap.Error(client.Err()))
	case err := <-serveErr:
		if err = ignoreServerClosed(err); err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http server shutdown failed", zap.Error(err))
	}
	return runErr
}

// Ready is closed the first time Run has connected and bound the HTTP
// listener. It stays closed across later runs.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound HTTP address, or the configured one before Run.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.HTTPAddr
}

// Shutdown stops HTTP, disconnects viewers and closes the overlay session.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	client := s.client
	s.mu.Unlock()

	var errs []error
	if server != nil {
		errs = append(errs, ignoreServerClosed(server.Shutdown(ctx)))
	}
	s.viewers.CloseAll()
	if client != nil {
		errs = append(errs, client.Close())
	}
	return errors.Join(errs...)
}

func (s *Server) consume(sub *overlay.Subscription, log *zap.Logger) {
	for env := range sub.C() {
		if err := s.tracker.Apply(env); err != nil {
			log.Warn("voice state update rejected",
				zap.String("event", string(sub.Event())),
				zap.Error(err),
			)
		}
	}
}

func overlayConfig(cfg appconfig.Config) overlay.Config {
	o := cfg.Overlay
	return overlay.Config{
		Endpoint:         o.Endpoint,
		OverlayHost:      o.OverlayHost,
		TokenURL:         o.TokenURL,
		ClientID:         o.ClientID,
		GuildID:          o.GuildID,
		ChannelID:        o.ChannelID,
		Subprotocols:     o.Subprotocols,
		HandshakeTimeout: o.HandshakeTimeout,
		WriteTimeout:     o.WriteTimeout,
	}
}

func ignoreServerClosed(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
