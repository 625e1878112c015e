package mgmt

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/discovery-engine/internal/health"
	"github.com/p-blackswan/discovery-engine/internal/metrics"
	"github.com/p-blackswan/discovery-engine/internal/requestid"
	"github.com/p-blackswan/discovery-engine/internal/service"
)

// ServerConfig holds configuration for the management API server.
type ServerConfig struct {
	ListenAddr   string
	AuthConfig   AuthConfig
	RateLimitRPS int // requests per second per client IP; 0 disables
	CORSOrigins  []string
	TLSCert      string
	TLSKey       string
}

// Server is the management API Fiber application.
type Server struct {
	app    *fiber.App
	logger zerolog.Logger
	config ServerConfig
}

// NewServer creates and configures a new management API server.
func NewServer(
	cfg ServerConfig,
	svc *service.Service,
	checker *health.Checker,
	metricsCollector *metrics.Metrics,
	logger zerolog.Logger,
) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
	})

	s := &Server{
		app:    app,
		logger: logger.With().Str("component", "mgmt_server").Logger(),
		config: cfg,
	}

	s.setupMiddleware(cfg, metricsCollector, logger)
	s.setupRoutes(NewHandlers(svc, checker, metricsCollector, logger), checker, metricsCollector)

	return s
}

func (s *Server) setupMiddleware(cfg ServerConfig, m *metrics.Metrics, logger zerolog.Logger) {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// Request ID: honour the caller's header, otherwise mint one, and carry
	// it in the user context so service logs pick it up.
	s.app.Use(func(c *fiber.Ctx) error {
		reqID := c.Get(requestid.Header)
		if reqID == "" {
			_, reqID = requestid.New(c.UserContext())
		}
		c.SetUserContext(requestid.WithRequestID(c.UserContext(), reqID))
		c.Set(requestid.Header, reqID)
		c.Locals("request_id", reqID)
		return c.Next()
	})

	// Request metrics. The route pattern keeps label cardinality bounded.
	if m != nil {
		s.app.Use(func(c *fiber.Ctx) error {
			start := time.Now()
			err := c.Next()
			status := c.Response().StatusCode()
			var fe *fiber.Error
			if err != nil && errors.As(err, &fe) {
				status = fe.Code
			}
			m.RecordRequest(c.Method(), c.Route().Path, strconv.Itoa(status), time.Since(start))
			return err
		})
	}

	if len(cfg.CORSOrigins) > 0 {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: strings.Join(cfg.CORSOrigins, ","),
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
			AllowMethods: "GET, POST, PATCH, DELETE, OPTIONS",
		}))
	}

	if cfg.RateLimitRPS > 0 {
		s.app.Use(limiter.New(limiter.Config{
			Max:        cfg.RateLimitRPS,
			Expiration: time.Second,
			Next: func(c *fiber.Ctx) bool {
				return isProbe(c.Path())
			},
			LimitReached: func(c *fiber.Ctx) error {
				return problemResponse(c, fiber.StatusTooManyRequests,
					"rate_limited", "Too Many Requests",
					"Rate limit exceeded, retry later")
			},
		}))
	}

	s.app.Use(NewAuthMiddleware(cfg.AuthConfig, logger))

	// Audit log
	s.app.Use(func(c *fiber.Ctx) error {
		path := c.Path()
		if isProbe(path) {
			return c.Next()
		}

		reqLog := requestid.Logger(c.UserContext(), logger)
		reqLog.Info().
			Str("method", c.Method()).
			Str("path", path).
			Str("ip", c.IP()).
			Msg("mgmt api request")

		return c.Next()
	})
}

func (s *Server) setupRoutes(h *Handlers, checker *health.Checker, metricsCollector *metrics.Metrics) {
	// Probe endpoints (auth skipped in the auth middleware)
	s.app.Get("/healthz", adaptor.HTTPHandlerFunc(health.LivenessHandler()))
	s.app.Get("/readyz", adaptor.HTTPHandlerFunc(checker.ReadinessHandler()))

	if metricsCollector != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(metricsCollector.Handler()))
	} else {
		s.app.Get("/metrics", func(c *fiber.Ctx) error {
			return c.SendString("# No metrics collector configured\n")
		})
	}

	v1 := s.app.Group("/api/v1")

	v1.Get("/agents", h.ListAgents)
	v1.Post("/agents", requireRole(RoleOperator), h.CreateAgent)
	v1.Get("/agents/:id", h.GetAgent)
	v1.Patch("/agents/:id", requireRole(RoleOperator), h.UpdateAgent)
	v1.Delete("/agents/:id", requireRole(RoleAdmin), h.DeleteAgent)

	v1.Post("/agents/:id/run", requireRole(RoleOperator), h.RunNow)
	v1.Get("/agents/:id/runs", h.ListRuns)

	v1.Post("/agents/:id/continuous", requireRole(RoleOperator), h.EnableContinuous)
	v1.Delete("/agents/:id/continuous", requireRole(RoleOperator), h.DisableContinuous)

	v1.Post("/agents/:id/context", requireRole(RoleOperator), h.SaveToContext)
	v1.Delete("/agents/:id/context/:itemId", requireRole(RoleOperator), h.RemoveFromContext)

	v1.Get("/templates", h.ListTemplates)
	v1.Get("/health", h.HealthDetail)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8090"
	}

	s.logger.Info().Str("addr", addr).Bool("tls", s.config.TLSCert != "").Msg("management API server starting")

	if s.config.TLSCert != "" && s.config.TLSKey != "" {
		return s.app.ListenTLS(addr, s.config.TLSCert, s.config.TLSKey)
	}
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("management API server shutting down")
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func customErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}

		if code >= fiber.StatusInternalServerError {
			logger.Error().
				Err(err).
				Int("status", code).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Msg("unhandled error")
		}

		title := statusTitle(code)
		detail := err.Error()
		if code == fiber.StatusInternalServerError {
			detail = "An internal error occurred"
		}

		return c.Status(code).JSON(ProblemDetail{
			Type:     strings.ReplaceAll(strings.ToLower(title), " ", "_"),
			Title:    title,
			Status:   code,
			Detail:   detail,
			Instance: c.Path(),
		})
	}
}

func statusTitle(code int) string {
	if t := utils.StatusMessage(code); t != "" {
		return t
	}
	return "Error"
}
