package models

import "time"

// Owner identifies the account owning a repository.
type Owner struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// License is the provider's license summary.
type License struct {
	Key    string `json:"key,omitempty"`
	Name   string `json:"name,omitempty"`
	SPDXID string `json:"spdx_id,omitempty"`
}

// Item is one repository returned by the search provider.
type Item struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	FullName    string    `json:"full_name"`
	Description *string   `json:"description,omitempty"`
	HTMLURL     string    `json:"html_url,omitempty"`
	Homepage    string    `json:"homepage,omitempty"`
	Owner       Owner     `json:"owner"`
	Stars       int       `json:"stars"`
	Forks       int       `json:"forks"`
	Watchers    int       `json:"watchers"`
	Language    *string   `json:"language,omitempty"`
	Topics      []string  `json:"topics,omitempty"`
	License     *License  `json:"license,omitempty"`
	Size        int       `json:"size"`
	Archived    bool      `json:"archived"`
	Fork        bool      `json:"fork"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	PushedAt    time.Time `json:"pushed_at"`
}

// DescriptionText returns the description or "" when absent.
func (i Item) DescriptionText() string {
	if i.Description == nil {
		return ""
	}
	return *i.Description
}

// LanguageName returns the language or "" when absent.
func (i Item) LanguageName() string {
	if i.Language == nil {
		return ""
	}
	return *i.Language
}

// RunResult is the outcome of one successful agent run.
type RunResult struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Timestamp time.Time `json:"timestamp"`
	Query     string    `json:"query"`
	Items     []Item    `json:"items"`
	Metrics   Metrics   `json:"metrics"`
}

// ItemIDs returns the set of item identifiers in the run.
func (r *RunResult) ItemIDs() map[int64]struct{} {
	ids := make(map[int64]struct{}, len(r.Items))
	for _, it := range r.Items {
		ids[it.ID] = struct{}{}
	}
	return ids
}

// Metrics summarises what changed since the previous run.
type Metrics struct {
	TotalFound      int    `json:"total_found"`
	NewSinceLastRun int    `json:"new_since_last_run"`
	Trending        []Item `json:"trending"`
}
