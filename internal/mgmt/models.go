// Package mgmt provides the management API for the discovery engine.
package mgmt

import (
	"github.com/p-blackswan/discovery-engine/internal/health"
	"github.com/p-blackswan/discovery-engine/internal/models"
	"github.com/p-blackswan/discovery-engine/internal/templates"
)

// CreateAgentRequest is the body of POST /api/v1/agents.
type CreateAgentRequest struct {
	Template    string              `json:"template,omitempty"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Config      *models.AgentConfig `json:"config,omitempty"`
	Continuous  bool                `json:"continuous,omitempty"`
}

// UpdateAgentRequest is the body of PATCH /api/v1/agents/:id. Omitted fields
// are left unchanged; config replaces the whole configuration.
type UpdateAgentRequest struct {
	Name        *string             `json:"name,omitempty"`
	Description *string             `json:"description,omitempty"`
	Config      *models.AgentConfig `json:"config,omitempty"`
}

// SaveContextRequest is the body of POST /api/v1/agents/:id/context.
type SaveContextRequest struct {
	Item       *models.Item       `json:"item"`
	Notes      *string            `json:"notes,omitempty"`
	Importance *models.Importance `json:"importance,omitempty"`
}

// AgentListResponse is the response for GET /api/v1/agents.
type AgentListResponse struct {
	Agents []*models.Agent `json:"agents"`
	Total  int             `json:"total"`
}

// RunListResponse is the response for GET /api/v1/agents/:id/runs.
type RunListResponse struct {
	Runs  []models.RunResult `json:"runs"`
	Total int                `json:"total"`
}

// ContinuousResponse reports an agent's continuous-mode flag after a toggle.
type ContinuousResponse struct {
	AgentID    string `json:"agent_id"`
	Continuous bool   `json:"continuous"`
}

// TemplateListResponse is the response for GET /api/v1/templates.
type TemplateListResponse struct {
	Templates []templates.Template `json:"templates"`
}

// HealthDetailResponse is the response for GET /api/v1/health.
type HealthDetailResponse struct {
	Status string          `json:"status"`
	Checks []health.Result `json:"checks"`
}

// ProblemDetail follows RFC 7807 for error responses.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}
