package mgmt

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/discovery-engine/internal/errors"
	"github.com/p-blackswan/discovery-engine/internal/health"
	"github.com/p-blackswan/discovery-engine/internal/metrics"
	"github.com/p-blackswan/discovery-engine/internal/models"
	"github.com/p-blackswan/discovery-engine/internal/requestid"
	"github.com/p-blackswan/discovery-engine/internal/service"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 200
)

// Handlers holds the management API handler dependencies.
type Handlers struct {
	svc     *service.Service
	checker *health.Checker
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewHandlers creates handlers backed by the engine service.
func NewHandlers(svc *service.Service, checker *health.Checker, m *metrics.Metrics, logger zerolog.Logger) *Handlers {
	return &Handlers{
		svc:     svc,
		checker: checker,
		metrics: m,
		logger:  logger.With().Str("component", "mgmt_handlers").Logger(),
	}
}

// ListAgents handles GET /api/v1/agents.
func (h *Handlers) ListAgents(c *fiber.Ctx) error {
	var status *models.Status
	if s := c.Query("status"); s != "" {
		st := models.Status(s)
		status = &st
	}

	agents, err := h.svc.ListAgents(c.UserContext(), status)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(AgentListResponse{Agents: agents, Total: len(agents)})
}

// CreateAgent handles POST /api/v1/agents.
func (h *Handlers) CreateAgent(c *fiber.Ctx) error {
	var req CreateAgentRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}

	agent, err := h.svc.CreateAgent(c.UserContext(), service.AgentDefinition{
		Template:    req.Template,
		Name:        req.Name,
		Description: req.Description,
		Config:      req.Config,
		Continuous:  req.Continuous,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(agent)
}

// GetAgent handles GET /api/v1/agents/:id.
func (h *Handlers) GetAgent(c *fiber.Ctx) error {
	agent, err := h.svc.GetAgent(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(agent)
}

// UpdateAgent handles PATCH /api/v1/agents/:id.
func (h *Handlers) UpdateAgent(c *fiber.Ctx) error {
	var req UpdateAgentRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}

	agent, err := h.svc.UpdateAgent(c.UserContext(), c.Params("id"), models.AgentPatch{
		Name:        req.Name,
		Description: req.Description,
		Config:      req.Config,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(agent)
}

// DeleteAgent handles DELETE /api/v1/agents/:id.
func (h *Handlers) DeleteAgent(c *fiber.Ctx) error {
	id := c.Params("id")
	deleted, err := h.svc.DeleteAgent(c.UserContext(), id)
	if err != nil {
		return h.fail(c, err)
	}
	if !deleted {
		return notFound(c, "Agent "+id+" not found")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// RunNow handles POST /api/v1/agents/:id/run. The run completes before the
// response is written.
func (h *Handlers) RunNow(c *fiber.Ctx) error {
	run, err := h.svc.RunNow(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(run)
}

// ListRuns handles GET /api/v1/agents/:id/runs.
func (h *Handlers) ListRuns(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultRunsLimit)
	if limit <= 0 || limit > maxRunsLimit {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_limit", "Bad Request",
			"limit must be between 1 and 200")
	}

	runs, err := h.svc.ListRuns(c.UserContext(), c.Params("id"), limit)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(RunListResponse{Runs: runs, Total: len(runs)})
}

// EnableContinuous handles POST /api/v1/agents/:id/continuous.
func (h *Handlers) EnableContinuous(c *fiber.Ctx) error {
	return h.toggleContinuous(c, true)
}

// DisableContinuous handles DELETE /api/v1/agents/:id/continuous.
func (h *Handlers) DisableContinuous(c *fiber.Ctx) error {
	return h.toggleContinuous(c, false)
}

func (h *Handlers) toggleContinuous(c *fiber.Ctx, enable bool) error {
	id := c.Params("id")
	toggle := h.svc.DisableContinuous
	if enable {
		toggle = h.svc.EnableContinuous
	}

	ok, err := toggle(c.UserContext(), id)
	if err != nil {
		return h.fail(c, err)
	}
	if !ok {
		return notFound(c, "Agent "+id+" not found")
	}
	return c.JSON(ContinuousResponse{AgentID: id, Continuous: enable})
}

// SaveToContext handles POST /api/v1/agents/:id/context.
func (h *Handlers) SaveToContext(c *fiber.Ctx) error {
	var req SaveContextRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.Item == nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_item", "Bad Request",
			"item is required")
	}

	saved, err := h.svc.SaveToContext(c.UserContext(), c.Params("id"), *req.Item, req.Notes, req.Importance)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(saved)
}

// RemoveFromContext handles DELETE /api/v1/agents/:id/context/:itemId.
func (h *Handlers) RemoveFromContext(c *fiber.Ctx) error {
	removed, err := h.svc.RemoveFromContext(c.UserContext(), c.Params("id"), c.Params("itemId"))
	if err != nil {
		return h.fail(c, err)
	}
	if !removed {
		return notFound(c, "Curated item "+c.Params("itemId")+" not found")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ListTemplates handles GET /api/v1/templates.
func (h *Handlers) ListTemplates(c *fiber.Ctx) error {
	return c.JSON(TemplateListResponse{Templates: h.svc.Templates()})
}

// HealthDetail handles GET /api/v1/health.
func (h *Handlers) HealthDetail(c *fiber.Ctx) error {
	results := h.checker.RunAll(c.UserContext())
	resp := HealthDetailResponse{Status: "ok", Checks: results}
	for _, r := range results {
		if r.Status == health.StatusDown {
			resp.Status = "down"
			return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
		}
		if r.Status == health.StatusDegraded {
			resp.Status = "degraded"
		}
	}
	return c.JSON(resp)
}

func notFound(c *fiber.Ctx, detail string) error {
	return problemResponse(c, fiber.StatusNotFound, "not_found", "Not Found", detail)
}

// fail maps an engine error onto a problem response. Execution failures are
// checked first since they may wrap a provider-side not-found.
func (h *Handlers) fail(c *fiber.Ctx, err error) error {
	var (
		status  int
		errType string
		title   string
		detail  = err.Error()
	)
	switch {
	case perrors.IsExecution(err):
		status, errType, title = fiber.StatusBadGateway, "execution_failed", "Bad Gateway"
	case perrors.IsCompilation(err):
		status, errType, title = fiber.StatusBadRequest, "compilation_error", "Bad Request"
	case errors.Is(err, perrors.ErrInvalidInput):
		status, errType, title = fiber.StatusBadRequest, "invalid_input", "Bad Request"
	case perrors.IsNotFound(err):
		status, errType, title = fiber.StatusNotFound, "not_found", "Not Found"
	case errors.Is(err, perrors.ErrAlreadyRunning):
		status, errType, title = fiber.StatusConflict, "already_running", "Conflict"
	case perrors.IsStore(err):
		status, errType, title = fiber.StatusInternalServerError, "store_error", "Internal Server Error"
		detail = "An internal error occurred"
	default:
		status, errType, title = fiber.StatusInternalServerError, "internal_error", "Internal Server Error"
		detail = "An internal error occurred"
	}

	log := requestid.Logger(c.UserContext(), h.logger)
	ev := log.Warn()
	if status >= fiber.StatusInternalServerError {
		ev = log.Error()
		if h.metrics != nil {
			h.metrics.RecordError("mgmt", errType)
		}
	}
	ev.Err(err).Str("path", c.Path()).Int("status", status).Msg("request failed")

	return problemResponse(c, status, errType, title, detail)
}
