// Package models holds the discovery engine's domain types.
package models

import (
	"time"
)

// Status is the lifecycle state of an agent.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusRunning, StatusCompleted, StatusError:
		return true
	}
	return false
}

// Frequency controls how often a scheduled agent runs.
type Frequency string

const (
	FrequencyHourly Frequency = "hourly"
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
)

// Interval returns the time between two runs. Unknown frequencies fall back
// to daily.
func (f Frequency) Interval() time.Duration {
	switch f {
	case FrequencyHourly:
		return time.Hour
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyHourly, FrequencyDaily, FrequencyWeekly:
		return true
	}
	return false
}

// Importance ranks a curated item.
type Importance string

const (
	ImportanceHigh   Importance = "high"
	ImportanceMedium Importance = "medium"
	ImportanceLow    Importance = "low"
)

// Valid reports whether i is a known importance.
func (i Importance) Valid() bool {
	switch i {
	case ImportanceHigh, ImportanceMedium, ImportanceLow:
		return true
	}
	return false
}

// Agent is a named, independently scheduled discovery configuration and its
// run history.
type Agent struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Status      Status      `json:"status"`
	LastRunAt   *time.Time  `json:"last_run_at,omitempty"`
	Config      AgentConfig `json:"config"`
	RunHistory  []RunResult `json:"run_history"`
	Continuous  bool        `json:"continuous"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// LastRun returns the most recent run result, or nil when the agent never ran.
func (a *Agent) LastRun() *RunResult {
	if len(a.RunHistory) == 0 {
		return nil
	}
	return &a.RunHistory[len(a.RunHistory)-1]
}

// AgentPatch carries the fields supplied to an update. Nil fields are left
// untouched; Config replaces the whole configuration.
type AgentPatch struct {
	Name        *string      `json:"name,omitempty"`
	Description *string      `json:"description,omitempty"`
	Config      *AgentConfig `json:"config,omitempty"`
}

// Apply shallow-merges p into a.
func (p AgentPatch) Apply(a *Agent) {
	if p.Name != nil {
		a.Name = *p.Name
	}
	if p.Description != nil {
		a.Description = *p.Description
	}
	if p.Config != nil {
		a.Config = *p.Config
	}
}

// AgentConfig is the configuration embedded in an agent.
type AgentConfig struct {
	SearchCriteria  SearchCriteria   `json:"search_criteria" yaml:"search_criteria"`
	Schedule        Schedule         `json:"schedule" yaml:"schedule"`
	Filters         FilterConfig     `json:"filters" yaml:"filters"`
	ContextSettings *ContextSettings `json:"context_settings,omitempty" yaml:"context_settings,omitempty"`
}

// SearchCriteria is the structured filter set compiled into a provider query.
// Optional fields are nil when absent.
type SearchCriteria struct {
	Query                    string   `json:"query,omitempty" yaml:"query,omitempty"`
	Language                 *string  `json:"language,omitempty" yaml:"language,omitempty"`
	Topics                   []string `json:"topics,omitempty" yaml:"topics,omitempty"`
	MinStars                 *int     `json:"min_stars,omitempty" yaml:"min_stars,omitempty"`
	MaxAgeDays               *int     `json:"max_age_days,omitempty" yaml:"max_age_days,omitempty"`
	SimilarTo                *string  `json:"similar_to,omitempty" yaml:"similar_to,omitempty"`
	FunctionalityDescription *string  `json:"functionality_description,omitempty" yaml:"functionality_description,omitempty"`
	CodeSnippets             []string `json:"code_snippets,omitempty" yaml:"code_snippets,omitempty"`
}

// Schedule tracks the run cadence of an agent.
type Schedule struct {
	Frequency Frequency  `json:"frequency" yaml:"frequency"`
	LastRun   *time.Time `json:"last_run,omitempty" yaml:"-"`
	NextRun   *time.Time `json:"next_run,omitempty" yaml:"-"`
}

// Due reports whether the schedule has a next run at or before now.
func (s Schedule) Due(now time.Time) bool {
	return s.NextRun != nil && !now.Before(*s.NextRun)
}

// FilterConfig holds post-search exclusion rules.
type FilterConfig struct {
	ExcludeArchived       bool `json:"exclude_archived" yaml:"exclude_archived"`
	ExcludeForks          bool `json:"exclude_forks" yaml:"exclude_forks"`
	MinContributors       int  `json:"min_contributors,omitempty" yaml:"min_contributors,omitempty"`
	MinCommits            int  `json:"min_commits,omitempty" yaml:"min_commits,omitempty"`
	RequireDocumentation  bool `json:"require_documentation,omitempty" yaml:"require_documentation,omitempty"`
	RequireTests          bool `json:"require_tests,omitempty" yaml:"require_tests,omitempty"`
	ActivityThresholdDays int  `json:"activity_threshold_days,omitempty" yaml:"activity_threshold_days,omitempty"`
}

// ContextSettings controls curation of long-lived context entries.
type ContextSettings struct {
	MaxCodeFiles      int           `json:"max_code_files" yaml:"max_code_files"`
	IncludeReadme     bool          `json:"include_readme" yaml:"include_readme"`
	IncludeMainFiles  bool          `json:"include_main_files" yaml:"include_main_files"`
	TextOverview      string        `json:"text_overview,omitempty" yaml:"text_overview,omitempty"`
	MainGoal          string        `json:"main_goal,omitempty" yaml:"main_goal,omitempty"`
	AutoUpdateContext bool          `json:"auto_update_context" yaml:"auto_update_context"`
	CuratedItems      []CuratedItem `json:"curated_items" yaml:"-"`
}

// Find returns the index of the curated item referencing refID, or -1.
func (c *ContextSettings) Find(refID int64) int {
	for i := range c.CuratedItems {
		if c.CuratedItems[i].RefID == refID {
			return i
		}
	}
	return -1
}

// CuratedItem is a persisted, annotated reference to a discovered item.
type CuratedItem struct {
	ID                string     `json:"id"`
	RefID             int64      `json:"ref_id"`
	Item              Item       `json:"item"`
	AddedAt           time.Time  `json:"added_at"`
	Notes             string     `json:"notes"`
	Importance        Importance `json:"importance"`
	SelectedArtifacts []string   `json:"selected_artifacts"`
}
