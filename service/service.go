package service

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/evrins/wsterm/config"
	"github.com/evrins/wsterm/metrics"
	"github.com/evrins/wsterm/utils"
	"github.com/evrins/wsterm/websocket"
	echoprometheus "github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// wait time for server start
var waitTime = 500 * time.Millisecond

const historyLimit = 100

// Server serves the browser client and one terminal per websocket
// connection.
type Server struct {
	cfg      config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	upgrader *websocket.Upgrader
	limit    *SocketLimit
	sessions *Registry
	history  *History
	command  []string
	app      *echo.Echo

	staticFs afero.Fs

	// ctx is the parent of all connection contexts, cancelled on shutdown
	ctx    context.Context
	cancel context.CancelFunc
	conns  sync.WaitGroup
}

type Option func(*Server)

// WithStaticFs serves client files from fs instead of the embedded ones.
func WithStaticFs(fs afero.Fs) Option {
	return func(s *Server) { s.staticFs = fs }
}

// WithHistory records finished sessions in h.
func WithHistory(h *History) Option {
	return func(s *Server) { s.history = h }
}

func New(cfg config.Config, logger *slog.Logger, m *metrics.Metrics, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New("", nil)
	}
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		limit:    NewSocketLimit(cfg.MaxConnections),
		sessions: NewRegistry(),
		command:  cfg.ShellCommand(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.staticFs == nil && cfg.StaticDir != "" {
		s.staticFs = afero.NewBasePathFs(afero.NewOsFs(), cfg.StaticDir)
	}
	a, err := loadAssets(s.staticFs, cfg)
	if err != nil {
		return nil, err
	}

	if s.history == nil && cfg.HistoryDB != "" {
		if s.history, err = OpenHistory(cfg.HistoryDB); err != nil {
			return nil, err
		}
	}

	s.upgrader = &websocket.Upgrader{
		Params:            cfg.WebsocketParams(logger),
		SelectSubprotocol: selectProtocol,
		CheckOrigin:       checkOrigin(cfg.AllowedOrigins),
		Logger:            logger,
		Observer:          m,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.app = s.routes(a)
	return s, nil
}

// checkOrigin allows same-origin requests plus the listed origins; "*"
// allows any.
func checkOrigin(allowed []string) func(origin, host string) bool {
	if len(allowed) == 0 {
		return nil
	}
	return func(origin, host string) bool {
		return websocket.SameOrigin(origin, host) ||
			slices.Contains(allowed, "*") ||
			slices.Contains(allowed, origin)
	}
}

func (s *Server) routes(a *assets) *echo.Echo {
	app := echo.New()
	app.HideBanner = true
	app.HidePort = true
	app.Use(middleware.Recover())
	app.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug("request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency))
			return nil
		},
	}))
	echoprometheus.NewPrometheus("echo", nil).Use(app)

	app.GET("/", func(c echo.Context) error {
		return c.HTML(http.StatusOK, a.indexHTML)
	})
	app.GET("/index.js", func(c echo.Context) error {
		c.Response().Header().Set("Content-Type", "application/javascript")
		return c.String(http.StatusOK, a.indexJS)
	})
	app.GET("/css/*", echo.WrapHandler(http.FileServer(a.css)))

	app.GET("/ws", s.serveWs)
	app.GET("/termsocket", s.serveWs)

	app.GET("/live", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	app.GET("/sessions", s.listSessions)
	app.GET("/sessions/history", s.listHistory)
	app.GET("/sessions/:id/screen", s.sessionScreen)
	return app
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.app
}

func (s *Server) serveWs(c echo.Context) error {
	if !s.limit.Acquire() {
		s.metrics.ConnectionRefused(metrics.StatusLimited)
		s.logger.Warn("connection limit reached", slog.Int("limit", s.limit.Limit))
		return echo.NewHTTPError(http.StatusServiceUnavailable,
			fmt.Sprintf("connection exceed limit %d", s.limit.Limit))
	}
	defer s.limit.Release()

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), s.newTerminal())
	if err != nil {
		var herr *websocket.HandshakeError
		if !errors.As(err, &herr) {
			s.metrics.ConnectionRefused(metrics.StatusFailed)
		}
		s.logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return nil
	}

	s.conns.Add(1)
	defer s.conns.Done()
	s.metrics.ConnectionOpened()
	defer s.metrics.ConnectionClosed()

	if err := conn.Serve(s.ctx); err != nil {
		s.logger.Debug("connection aborted",
			slog.String("conn", conn.ID()),
			slog.String("error", err.Error()))
	}
	return nil
}

func (s *Server) listSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, s.sessions.List())
}

func (s *Server) sessionScreen(c echo.Context) error {
	sess, ok := s.sessions.Get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no such session")
	}
	return c.String(http.StatusOK, sess.Screen())
}

func (s *Server) listHistory(c echo.Context) error {
	if s.history == nil {
		return echo.NewHTTPError(http.StatusNotFound, "history is disabled")
	}
	limit := historyLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}
	records, err := s.history.Recent(limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, records)
}

// record saves a finished session when history is enabled.
func (s *Server) record(sess *Session, c *websocket.Conn, code websocket.CloseCode, reason string) {
	if s.history == nil {
		return
	}
	stats := c.Stats()
	err := s.history.Save(&Record{
		SessionID:       sess.ID,
		Remote:          sess.Remote,
		Subprotocol:     sess.Subprotocol,
		Command:         sess.Command,
		Started:         sess.Started,
		Ended:           time.Now(),
		CloseCode:       int(code),
		CloseReason:     reason,
		WireBytesIn:     stats.WireBytesIn,
		WireBytesOut:    stats.WireBytesOut,
		MessageBytesIn:  stats.MessageBytesIn,
		MessageBytesOut: stats.MessageBytesOut,
	})
	if err != nil {
		s.logger.Error("failed to record session", slog.String("error", err.Error()))
	}
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.HostPort())
	if err != nil {
		return errors.Wrap(err, "listen")
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.app.Listener = ln
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("running",
			slog.String("url", "http://"+ln.Addr().String()),
			slog.String("command", strings.Join(s.command, " ")))
		if err := s.app.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return s.Shutdown()
	})
	return g.Wait()
}

// Shutdown closes every connection with 1001 and stops the HTTP server,
// waiting at most ShutdownTimeout for the terminals to finish.
func (s *Server) Shutdown() error {
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.cancel()
	err := s.app.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("terminals still running after shutdown timeout")
	}

	if s.history != nil {
		if herr := s.history.Close(); herr != nil && err == nil {
			err = errors.Wrap(herr, "close history")
		}
	}
	return err
}

// StartWebService runs the server until SIGINT or SIGTERM.
func StartWebService(cfg config.Config, logger *slog.Logger) error {
	srv, err := New(cfg, logger, metrics.New("wsterm", prometheus.DefaultRegisterer))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.ConsulAddr != "" {
		reg, err := utils.Register(cfg.ConsulAddr, cfg.Port)
		if err != nil {
			logger.Warn("consul registration failed", slog.String("error", err.Error()))
		} else {
			logger.Info("registered with consul", slog.String("id", reg.ID))
			defer func() {
				if err := reg.Deregister(); err != nil {
					logger.Warn("consul deregistration failed", slog.String("error", err.Error()))
				}
			}()
		}
	}

	if cfg.View {
		go func() {
			time.Sleep(waitTime)
			utils.OpenBrowser(fmt.Sprintf("http://%s", cfg.HostPort()))
		}()
	}

	return srv.Start(ctx)
}
