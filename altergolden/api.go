package altergolden

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
)

const (
	apiPrefix          = "/api"
	apiHealthCheck     = "/health"
	apiPathStats       = "/stats"
	apiPathVotes       = "/votes"
	apiPathPause       = "/pause"
	apiPathResume      = "/resume"
	apiPathCancelSched = "/scheduler/cancel/:scope"

	pprofPrefix      = "/debug"
	xRequestIDHeader = "X-Request-ID"
)

// API is the backend ops server: health, counters, pause/resume, and
// manual scheduler overrides. It's token-authenticated and meant to sit
// behind a reverse proxy on a private interface, not exposed publicly.
type API struct {
	config     *APIConfig
	httpServer *http.Server
	listener   net.Listener
	engine     *gin.Engine
	logger     *slog.Logger

	handlers *APIHandlers
}

func newAPI(ag *AlterGolden, config *APIConfig) (*API, error) {
	setupLogger := slog.New(
		tint.NewHandler(
			os.Stdout, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	)

	r := gin.New()

	api := &API{
		config:  config,
		engine:  r,
		logger:  setupLogger.With(loggerNameKey, "api"),
		handlers: &APIHandlers{
			ag: ag,
		},
	}

	api.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	r.Use(
		gin.Recovery(),
		requestIDMiddleware(),
		ginLoggingMiddleware(),
		cors.New(config.CORS.GINConfig()),
	)

	r.GET(apiHealthCheck, api.handlers.healthCheck)

	if config.EnablePprof {
		ginPprof.Register(r, pprofPrefix)
	}

	if config.Token != "" {
		protected := r.Group(apiPrefix)
		protected.Use(tokenAuthMiddleware(config.Token))

		protected.GET(apiPathStats, api.handlers.getStats)
		protected.GET(apiPathVotes, api.handlers.getVotes)
		protected.POST(apiPathPause, api.handlers.botPause)
		protected.POST(apiPathResume, api.handlers.botResume)
		protected.POST(apiPathCancelSched, api.handlers.cancelScheduled)
	} else {
		api.logger.Warn("no API token configured, /api routes disabled")
	}

	return api, nil
}

func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(
			ctx,
			a.config.ListenNetwork,
			a.config.Listen,
		)
		if err != nil {
			return err
		}
		a.listener = ln
	}
	return a.httpServer.Serve(a.listener)
}

func (a *API) Shutdown(ctx context.Context) error {
	return a.httpServer.Shutdown(ctx)
}

// APIHandlers holds the route handlers, bound to the running bot.
type APIHandlers struct {
	ag *AlterGolden
}

type healthCheckResponse struct {
	Status           string `json:"status"`
	DiscordConnected bool   `json:"discord_connected"`
	StoreReachable   bool   `json:"store_reachable"`
	Paused           bool   `json:"paused"`
}

func (h *APIHandlers) healthCheck(c *gin.Context) {
	storeOK := false
	if h.ag.store != nil {
		ctx, cancel := context.WithTimeout(
			c.Request.Context(),
			2*time.Second,
		)
		defer cancel()
		storeOK = h.ag.store.Ping(ctx) == nil
	}
	c.JSON(
		http.StatusOK, healthCheckResponse{
			Status:           "ok",
			DiscordConnected: h.ag.discord.connected.Load(),
			StoreReachable:   storeOK,
			Paused:           h.ag.paused.Load(),
		},
	)
}

type statsResponse struct {
	Cache     CacheStats     `json:"cache"`
	Votes     VoteStats      `json:"votes"`
	Scheduler SchedulerStats `json:"scheduler"`
}

func (h *APIHandlers) getStats(c *gin.Context) {
	c.JSON(
		http.StatusOK, statsResponse{
			Cache:     h.ag.cache.Stats(),
			Votes:     h.ag.votes.Stats(),
			Scheduler: h.ag.scheduler.Stats(),
		},
	)
}

func (h *APIHandlers) getVotes(c *gin.Context) {
	c.JSON(http.StatusOK, h.ag.votes.ActiveSessions())
}

func (h *APIHandlers) botPause(c *gin.Context) {
	if h.ag.Pause(c.Request.Context()) {
		ginReplyMessage(c, "paused")
		return
	}
	ginReplyMessage(c, "already paused")
}

func (h *APIHandlers) botResume(c *gin.Context) {
	if h.ag.Resume(c.Request.Context()) {
		ginReplyMessage(c, "resumed")
		return
	}
	ginReplyMessage(c, "already running")
}

func (h *APIHandlers) cancelScheduled(c *gin.Context) {
	scope := c.Param("scope")
	if scope == "" {
		ginReplyError(c, http.StatusBadRequest, "missing scope")
		return
	}
	h.ag.scheduler.Cancel(c.Request.Context(), scope)
	ginReplyMessage(c, "cancelled")
}

// tokenAuthMiddleware requires `Authorization: Bearer <token>` on every
// request in the group.
func tokenAuthMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		provided, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare(
			[]byte(provided),
			[]byte(token),
		) != 1 {
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				httpError{Error: "unauthorized"},
			)
			return
		}
		c.Next()
	}
}

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
// or, if it doesn't exist, creates a logger with request details included
// and stores it for the rest of the request.
func ginContextLogger(c *gin.Context) *slog.Logger {
	logger, ok := c.Get(string(loggerContextKey))
	if ok {
		if requestLogger, isLogger := logger.(*slog.Logger); isLogger {
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
			"remote_addr", c.Request.RemoteAddr,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

func ginLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestLogger := ginContextLogger(c)
		c.Next()
		latency := time.Since(start)

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		requestLogger.Log(
			c.Request.Context(),
			level,
			"request complete",
			"status", c.Writer.Status(),
			"duration", latency,
			"errors", c.Errors.Errors(),
		)
	}
}

type httpReply struct {
	Message string `json:"message"`
}

type httpError struct {
	Error string `json:"error"`
}

func ginReplyMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, httpReply{Message: message})
}

func ginReplyError(c *gin.Context, status int, err string) {
	c.JSON(status, httpError{Error: err})
}
