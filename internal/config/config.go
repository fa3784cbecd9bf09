package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	appdefaults "github.com/saker-ai/voice-overlay/config"
	"github.com/saker-ai/voice-overlay/internal/logger"
)

const (
	envPrefix  = "voice_overlay"
	rootDirEnv = "VOICE_OVERLAY_ROOT_DIR"
	configName = "conf"
)

// ServerConfig is the listen address used when http_addr is empty.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// OverlayConfig describes the upstream overlay session.
type OverlayConfig struct {
	Endpoint         string        `mapstructure:"endpoint" yaml:"endpoint"`
	OverlayHost      string        `mapstructure:"overlay_host" yaml:"overlay_host"`
	TokenURL         string        `mapstructure:"token_url" yaml:"token_url"`
	ClientID         string        `mapstructure:"client_id" yaml:"client_id"`
	GuildID          string        `mapstructure:"guild_id" yaml:"guild_id"`
	ChannelID        string        `mapstructure:"channel_id" yaml:"channel_id"`
	Subprotocols     []string      `mapstructure:"subprotocols" yaml:"subprotocols"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// ViewerConfig controls the browser overlay feed.
type ViewerConfig struct {
	PushInterval time.Duration `mapstructure:"push_interval" yaml:"push_interval"`
	FrontendDir  string        `mapstructure:"frontend_dir" yaml:"frontend_dir"`
}

// Config is the service configuration.
type Config struct {
	RootDir  string        `mapstructure:"-" yaml:"-"`
	HTTPAddr string        `mapstructure:"http_addr" yaml:"http_addr"`
	Server   ServerConfig  `mapstructure:"server" yaml:"server"`
	Overlay  OverlayConfig `mapstructure:"overlay" yaml:"overlay"`
	Viewer   ViewerConfig  `mapstructure:"viewer" yaml:"viewer"`
	Log      logger.Config `mapstructure:"log" yaml:"log"`
}

// Validate reports configuration that cannot start a session.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Overlay.GuildID) == "" {
		errs = append(errs, errors.New("overlay.guild_id is required"))
	}
	if strings.TrimSpace(c.Overlay.ChannelID) == "" {
		errs = append(errs, errors.New("overlay.channel_id is required"))
	}
	if c.Viewer.PushInterval <= 0 {
		errs = append(errs, fmt.Errorf("viewer.push_interval must be positive, got %s", c.Viewer.PushInterval))
	}
	if err := c.Log.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Load reads the embedded defaults, then conf.yaml from the root dir if one
// exists, then VOICE_OVERLAY_* environment overrides.
func Load() (Config, error) {
	rootDir, err := resolveRootDir()
	if err != nil {
		return Config{}, err
	}

	v, err := newViper()
	if err != nil {
		return Config{}, err
	}
	v.SetConfigName(configName)
	v.AddConfigPath(rootDir)
	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, err
		}
	}
	return decode(v, rootDir)
}

// LoadConfig is Load with an explicit config file. An empty path falls back
// to Load.
func LoadConfig(configPath string) (Config, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		return Load()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, err
	}

	rootDir := strings.TrimSpace(os.Getenv(rootDirEnv))
	if rootDir == "" {
		rootDir = filepath.Dir(absPath)
		if filepath.Base(rootDir) == "config" {
			rootDir = filepath.Dir(rootDir)
		}
	}

	v, err := newViper()
	if err != nil {
		return Config{}, err
	}
	v.SetConfigFile(absPath)
	if err := v.MergeInConfig(); err != nil {
		return Config{}, err
	}
	return decode(v, rootDir)
}

func newViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(appdefaults.Default)); err != nil {
		return nil, fmt.Errorf("load embedded config: %w", err)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

func decode(v *viper.Viper, rootDir string) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	cfg.RootDir = rootDir
	deriveHTTPAddr(&cfg)
	cfg.Viewer.FrontendDir = resolvePath(cfg.RootDir, cfg.Viewer.FrontendDir, filepath.Join("webassets", "overlay"))
	return cfg, nil
}

func deriveHTTPAddr(cfg *Config) {
	if cfg.HTTPAddr != "" {
		return
	}
	port := cfg.Server.Port
	if port == 0 {
		port = 5000
	}
	if cfg.Server.Host == "" {
		cfg.HTTPAddr = fmt.Sprintf(":%d", port)
		return
	}
	cfg.HTTPAddr = net.JoinHostPort(cfg.Server.Host, strconv.Itoa(port))
}

func resolveRootDir() (string, error) {
	if root := strings.TrimSpace(os.Getenv(rootDirEnv)); root != "" {
		return filepath.Abs(root)
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := wd
	for i := 0; i < 6; i++ {
		if fileExists(filepath.Join(dir, configName+".yaml")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return wd, nil
}

func resolvePath(rootDir string, configured string, fallback string) string {
	path := strings.TrimSpace(configured)
	if path == "" {
		path = fallback
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(rootDir, path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
