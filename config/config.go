// Package config loads wsterm settings from the environment. Values come
// from WSTERM_ prefixed variables, optionally seeded from a .env file;
// command line flags are applied on top by the cmd package.
package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/evrins/wsterm/utils"
	"github.com/evrins/wsterm/websocket"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// EnvPrefix is prepended to every variable name.
const EnvPrefix = "WSTERM_"

// Config holds the server configuration.
type Config struct {
	Addr    string `env:"ADDR"    envDefault:"localhost"`
	Port    int    `env:"PORT"    envDefault:"9999"`
	Command string `env:"COMMAND"`

	// WebSocket
	PingInterval     time.Duration `env:"PING_INTERVAL"     envDefault:"0s"`
	PingTimeout      time.Duration `env:"PING_TIMEOUT"      envDefault:"-1s"`
	MaxMessageSize   int64         `env:"MAX_MESSAGE_SIZE"  envDefault:"10485760"`
	Compression      bool          `env:"COMPRESSION"       envDefault:"false"`
	CompressionLevel int           `env:"COMPRESSION_LEVEL" envDefault:"6"`
	CloseTimeout     time.Duration `env:"CLOSE_TIMEOUT"     envDefault:"5s"`
	WriteTimeout     time.Duration `env:"WRITE_TIMEOUT"     envDefault:"10s"`
	MaxConnections   int           `env:"MAX_CONNECTIONS"   envDefault:"256"`
	AllowedOrigins   []string      `env:"ALLOWED_ORIGINS"   envSeparator:","`

	// Observability
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	// Optional integrations, disabled when empty
	ConsulAddr string `env:"CONSUL_ADDR"`
	HistoryDB  string `env:"HISTORY_DB"`
	StaticDir  string `env:"STATIC_DIR"`

	// Browser client
	Font     string `env:"FONT"`
	FontSize string `env:"FONT_SIZE"`
	View     bool   `env:"VIEW"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load reads the optional dotenv files, then parses the environment.
// Missing dotenv files are not an error.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return Config{}, errors.Wrapf(err, "load %s", f)
		}
	}
	return Parse(nil)
}

// Parse builds a Config from environ, or from the process environment when
// environ is nil.
func Parse(environ map[string]string) (Config, error) {
	var cfg Config
	opts := env.Options{Prefix: EnvPrefix, Environment: environ}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, errors.Wrap(err, "parse environment")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return errors.Errorf("invalid port %d", c.Port)
	}
	if c.MaxConnections <= 0 {
		return errors.Errorf("max connections must be positive, got %d", c.MaxConnections)
	}
	if c.Compression && (c.CompressionLevel < -2 || c.CompressionLevel > 9) {
		return errors.Errorf("compression level %d out of range [-2, 9]", c.CompressionLevel)
	}
	if c.PingInterval < 0 {
		return errors.Errorf("ping interval cannot be negative: %s", c.PingInterval)
	}
	return nil
}

// HostPort is the listen address.
func (c Config) HostPort() string {
	return c.Addr + ":" + strconv.Itoa(c.Port)
}

// ShellCommand is the command line each terminal runs, $SHELL or bash by
// default.
func (c Config) ShellCommand() []string {
	command := c.Command
	if strings.TrimSpace(command) == "" {
		command = utils.GetEnv("SHELL", "bash")
	}
	return utils.Filter(strings.Split(command, " "))
}

// WebsocketParams converts the settings into connection parameters. The
// ping timeout clamp is logged here, once at startup.
func (c Config) WebsocketParams(logger *slog.Logger) websocket.Params {
	p := websocket.Params{
		PingInterval:   c.PingInterval,
		PingTimeout:    c.PingTimeout,
		MaxMessageSize: c.MaxMessageSize,
		CloseTimeout:   c.CloseTimeout,
		WriteTimeout:   c.WriteTimeout,
	}
	if c.Compression {
		p.Compression = &websocket.CompressionOptions{Level: c.CompressionLevel}
	}
	return p.Normalize(logger)
}

// NewLogger creates a structured logger with the configured level and
// format.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	return NewLogger(w, c.LogLevel, c.LogFormat)
}

// NewLogger creates a text or JSON slog logger writing to w.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
