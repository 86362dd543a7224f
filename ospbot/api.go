package ospbot

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
)

const (
	apiPrefix      = "/api"
	apiHealthCheck = "/healthz"
	apiPathState   = "/state"
	apiPathCogs    = "/cogs"
	apiPathQuit    = "/quit"
	pprofPrefix    = "/debug"

	healthCheckDBTimeout = 2 * time.Second

	xRequestIDHeader = "X-Request-ID"
	bearerPrefix     = "Bearer "
)

// API is the admin HTTP server. Everything under /api requires the
// configured bearer token.
type API struct {
	config     *APIConfig
	httpServer *http.Server
	listener   net.Listener
	engine     *gin.Engine
	logger     *slog.Logger
	handlers   *APIHandlers
}

type httpReply struct {
	Message string `json:"message"`
}

type httpError struct {
	Error string `json:"error"`
}

type healthCheckResponse struct {
	DiscordGatewayConnected bool `json:"discord_gateway_connected"`
	DatabaseReachable       bool `json:"database_reachable"`
	StateSnapshot
}

// StateUpdate is the body of PATCH /api/state. Omitted fields are left
// unchanged.
type StateUpdate struct {
	Maintenance *bool `json:"maintenance" binding:"required_without=NoPrefix"`
	NoPrefix    *bool `json:"no_prefix" binding:"required_without=Maintenance"`
}

type cogsResponse struct {
	Loaded  []string        `json:"loaded"`
	Reports []CogLoadReport `json:"reports"`
}

func newAPI(d *OSPBot, config *APIConfig) (*API, error) {
	logger := slog.New(newLogHandler(defaultLogWriter, config.LogLevel)).With(loggerNameKey, "api")

	r := gin.New()
	api := &API{
		config:   config,
		engine:   r,
		logger:   logger,
		handlers: &APIHandlers{d: d},
	}

	var tlsCfg *tls.Config
	if config.SSL.Cert != "" {
		var err error
		tlsCfg, err = tlsConfig(config.SSL.Cert, config.SSL.Key, config.SSL.TLSMinVersion)
		if err != nil {
			return nil, fmt.Errorf("error loading SSL certs: %w", err)
		}
	}

	api.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		TLSConfig:         tlsCfg,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	r.Use(
		gin.Recovery(),
		requestIDMiddleware(),
		ginLoggingMiddleware(logger),
		cors.New(config.CORS.GINConfig()),
	)

	if config.Development {
		logger.Warn("development mode enabled, serving pprof", "prefix", pprofPrefix)
		ginPprof.Register(r, pprofPrefix)
	}

	r.GET(apiHealthCheck, api.handlers.healthCheck)

	protected := r.Group(apiPrefix)
	protected.Use(authMiddleware(config.Token))
	protected.GET(apiPathState, api.handlers.getState)
	protected.PATCH(apiPathState, api.handlers.updateState)
	protected.GET(apiPathCogs, api.handlers.getCogs)
	protected.POST(apiPathQuit, api.handlers.botQuit)

	return api, nil
}

// Serve listens on the configured address until Shutdown is called
func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, "tcp", a.config.Listen)
		if err != nil {
			return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
		}
		if a.httpServer.TLSConfig != nil {
			ln = tls.NewListener(ln, a.httpServer.TLSConfig)
		}
		a.listener = ln
	}
	a.logger.InfoContext(ctx, "serving admin api", "addr", a.listener.Addr().String())
	return a.httpServer.Serve(a.listener)
}

func (a *API) Shutdown(ctx context.Context) error {
	err := a.httpServer.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(err, a.httpServer.Close())
	}
	return err
}

// APIHandlers implements the admin API endpoints
type APIHandlers struct {
	d *OSPBot
}

// healthCheck handles GET /healthz
func (h *APIHandlers) healthCheck(c *gin.Context) {
	var dbReachable bool
	if h.d.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckDBTimeout)
		defer cancel()
		if err := h.d.db.Ping(ctx); err != nil {
			ginContextLogger(c).Warn("database ping failed", tint.Err(err))
		} else {
			dbReachable = true
		}
	}
	c.JSON(
		http.StatusOK, healthCheckResponse{
			DiscordGatewayConnected: h.d.discord.Connected(),
			DatabaseReachable:       dbReachable,
			StateSnapshot:           h.d.state.Snapshot(),
		},
	)
}

// getState handles GET /api/state
func (h *APIHandlers) getState(c *gin.Context) {
	c.JSON(http.StatusOK, h.d.state.Snapshot())
}

// updateState handles PATCH /api/state
func (h *APIHandlers) updateState(c *gin.Context) {
	logger := ginContextLogger(c)

	var update StateUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		logger.Warn("invalid state update", "error", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	if update.Maintenance != nil {
		h.d.state.SetMaintenance(*update.Maintenance)
	}
	if update.NoPrefix != nil {
		h.d.state.SetNoPrefix(*update.NoPrefix)
	}
	snapshot := h.d.state.Snapshot()
	logger.Warn("updated state", "state", snapshot)
	c.JSON(http.StatusOK, snapshot)
}

// getCogs handles GET /api/cogs
func (h *APIHandlers) getCogs(c *gin.Context) {
	reports := h.d.cogs.Reports()
	if reports == nil {
		reports = []CogLoadReport{}
	}
	c.JSON(http.StatusOK, cogsResponse{Loaded: h.d.cogs.Loaded(), Reports: reports})
}

// botQuit handles POST /api/quit
func (h *APIHandlers) botQuit(c *gin.Context) {
	log := ginContextLogger(c)
	log.Warn("sending stop signal")
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if h.d.Stop(ctx) {
		ginReplyMessage(c, "quitting")
		return
	}
	log.Warn("timeout sending stop signal")
	c.JSON(http.StatusGatewayTimeout, httpError{Error: "timeout sending stop signal"})
}

// authMiddleware rejects requests without the expected bearer token
func authMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		provided, ok := strings.CutPrefix(header, bearerPrefix)
		if !ok || token == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
			ginContextLogger(c).Warn("unauthorized request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
			return
		}
		c.Next()
	}
}

// requestIDMiddleware assigns a random request ID to each request,
// and returns it in the X-Request-ID header
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := generateRandomHexString(32)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginContextLogger returns the slog.Logger from the given gin context,
// or, if it doesn't exist, creates a logger with request details included,
// and sets the logger in the context so the next call to ginContextLogger
// will return the new logger.
func ginContextLogger(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(string(loggerContextKey)); ok {
		if requestLogger, ok := v.(*slog.Logger); ok {
			return requestLogger
		}
	}
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	if raw := c.Request.URL.RawQuery; raw != "" {
		path = path + "?" + raw
	}

	requestLogger := slog.Default().With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware logs each request once it has been handled
func ginLoggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID, _ := c.Get(xRequestIDHeader)
		requestLogger := logger.With(
			slog.Group(
				"request",
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"remote_ip", c.RemoteIP(),
			),
			slog.Any(xRequestIDHeader, requestID),
		)
		c.Set(string(loggerContextKey), requestLogger)
		c.Next()

		latency := time.Since(start)
		response := slog.Group(
			"response",
			"status_code", c.Writer.Status(),
			"body_size", c.Writer.Size(),
		)
		if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf("%s %s finished with errors", c.Request.Method, c.Request.URL),
				"duration", latency,
				"errors", errs.Errors(),
				response,
			)
			return
		}
		requestLogger.Info(
			fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
			"duration", latency,
			response,
		)
	}
}

// ginReplyMessage sends a JSON response with a message, with HTTP
// status code 200
func ginReplyMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, httpReply{Message: message})
}
