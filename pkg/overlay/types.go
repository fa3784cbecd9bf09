package overlay

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultClientID    = "15943749139034"
	DefaultEndpoint    = "ws://127.0.0.1:5988/"
	DefaultTokenURL    = "https://www.kaiheila.cn/api/oauth2/token"
	DefaultOverlayHost = "streamkit.kaiheila.cn"
	DefaultSubprotocol = "ws_streamkit"

	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	outboundQueueSize       = 64
)

// Config configures Connect. Zero fields take the Default values.
type Config struct {
	// Endpoint is the local proxy websocket URL; the overlay URL is appended
	// as its url query parameter.
	Endpoint     string
	OverlayHost  string
	TokenURL     string
	ClientID     string
	GuildID      string
	ChannelID    string
	Subprotocols []string

	// HandshakeTimeout bounds the dial, the authorization handshake and each
	// upstream subscribe request.
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	// TokenExchanger defaults to an HTTPTokenExchanger for TokenURL.
	TokenExchanger TokenExchanger
	Dialer         *websocket.Dialer
}

func normalizeConfig(cfg Config) Config {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.OverlayHost == "" {
		cfg.OverlayHost = DefaultOverlayHost
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	if cfg.Subprotocols == nil {
		cfg.Subprotocols = []string{DefaultSubprotocol}
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.TokenExchanger == nil {
		cfg.TokenExchanger = &HTTPTokenExchanger{URL: cfg.TokenURL, ClientID: cfg.ClientID}
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	}
	return cfg
}
