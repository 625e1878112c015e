// Package github is the repository-search provider backed by the GitHub REST
// API.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v60/github"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/discovery-engine/internal/errors"
	"github.com/p-blackswan/discovery-engine/internal/models"
	"github.com/p-blackswan/discovery-engine/lru"
)

const (
	defaultBaseURL = "https://api.github.com/"
	serviceName    = "github"
	metaCacheTTL   = 30 * time.Minute
)

// Options configures a Client.
type Options struct {
	BaseURL       string        // API root; defaults to api.github.com
	Timeout       time.Duration // per-request timeout
	Token         TokenSource   // nil = anonymous
	MetaCacheSize int           // repo metadata cache entries; 0 disables
}

// SearchOptions are the provider-side ordering and page size.
type SearchOptions struct {
	Sort     string
	Order    string
	PageSize int
}

// Entry is one item of a repository directory listing.
type Entry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"` // "file" or "dir"
}

// RepoMeta is the subset of repository metadata used by similarity search.
type RepoMeta struct {
	ID       int64    `json:"id"`
	FullName string   `json:"full_name"`
	Topics   []string `json:"topics"`
	Language string   `json:"language"`
}

// Client wraps go-github with error classification and a metadata cache.
type Client struct {
	gh     *gh.Client
	meta   *lru.Cache[string, RepoMeta]
	logger zerolog.Logger
}

// NewClient creates a provider client.
func NewClient(opts Options, logger zerolog.Logger) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	var transport http.RoundTripper = http.DefaultTransport
	if opts.Token != nil {
		transport = &tokenTransport{source: opts.Token, base: http.DefaultTransport}
	}

	client := gh.NewClient(&http.Client{Transport: transport, Timeout: opts.Timeout})
	if opts.BaseURL != "" {
		base := opts.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parsing base URL: %w", err)
		}
		client.BaseURL = u
	}

	c := &Client{
		gh:     client,
		logger: logger.With().Str("component", "github").Logger(),
	}
	if opts.MetaCacheSize > 0 {
		c.meta = lru.New[string, RepoMeta](opts.MetaCacheSize, lru.WithTTL[string, RepoMeta](metaCacheTTL))
	}
	return c, nil
}

// Search runs a repository search and returns at most one page of results in
// provider order.
func (c *Client) Search(ctx context.Context, query string, opts SearchOptions) ([]models.Item, error) {
	res, _, err := c.gh.Search.Repositories(ctx, query, &gh.SearchOptions{
		Sort:        opts.Sort,
		Order:       opts.Order,
		ListOptions: gh.ListOptions{PerPage: opts.PageSize},
	})
	if err != nil {
		return nil, classify(err)
	}

	items := make([]models.Item, 0, len(res.Repositories))
	for _, r := range res.Repositories {
		items = append(items, toItem(r))
	}

	c.logger.Debug().
		Str("query", query).
		Int("total", res.GetTotal()).
		Int("returned", len(items)).
		Msg("repository search")
	return items, nil
}

// ListContents lists a directory of a repository. An empty path lists the root.
func (c *Client) ListContents(ctx context.Context, owner, repo, path string) ([]Entry, error) {
	file, dir, _, err := c.gh.Repositories.GetContents(ctx, owner, repo, path, nil)
	if err != nil {
		return nil, classify(err)
	}
	if file != nil {
		return []Entry{{Name: file.GetName(), Path: file.GetPath(), Type: file.GetType()}}, nil
	}

	entries := make([]Entry, 0, len(dir))
	for _, e := range dir {
		entries = append(entries, Entry{Name: e.GetName(), Path: e.GetPath(), Type: e.GetType()})
	}
	return entries, nil
}

// GetRepoMeta returns topics and language for owner/repo.
func (c *Client) GetRepoMeta(ctx context.Context, owner, repo string) (*RepoMeta, error) {
	key := strings.ToLower(owner + "/" + repo)
	if c.meta != nil {
		if m, ok := c.meta.Get(key); ok {
			return &m, nil
		}
	}

	r, _, err := c.gh.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return nil, classify(err)
	}

	meta := RepoMeta{
		ID:       r.GetID(),
		FullName: r.GetFullName(),
		Topics:   r.Topics,
		Language: r.GetLanguage(),
	}
	if c.meta != nil {
		c.meta.Put(key, meta)
	}
	return &meta, nil
}

// Ping checks reachability and credentials via the rate-limit endpoint.
func (c *Client) Ping(ctx context.Context) error {
	_, _, err := c.gh.RateLimit.Get(ctx)
	if err != nil {
		return classify(err)
	}
	return nil
}

// ParseRepoRef accepts "owner/repo" or a github.com repository URL.
func ParseRepoRef(ref string) (owner, repo string, err error) {
	ref = strings.TrimSpace(ref)
	ref = strings.TrimPrefix(ref, "https://")
	ref = strings.TrimPrefix(ref, "http://")
	ref = strings.TrimPrefix(ref, "github.com/")
	ref = strings.TrimSuffix(ref, "/")
	ref = strings.TrimSuffix(ref, ".git")

	parts := strings.Split(ref, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository reference %q: %w", ref, perrors.ErrInvalidInput)
	}
	return parts[0], parts[1], nil
}

func toItem(r *gh.Repository) models.Item {
	item := models.Item{
		ID:          r.GetID(),
		Name:        r.GetName(),
		FullName:    r.GetFullName(),
		Description: r.Description,
		HTMLURL:     r.GetHTMLURL(),
		Homepage:    r.GetHomepage(),
		Owner: models.Owner{
			Login:     r.GetOwner().GetLogin(),
			AvatarURL: r.GetOwner().GetAvatarURL(),
		},
		Stars:     r.GetStargazersCount(),
		Forks:     r.GetForksCount(),
		Watchers:  r.GetWatchersCount(),
		Language:  r.Language,
		Topics:    r.Topics,
		Size:      r.GetSize(),
		Archived:  r.GetArchived(),
		Fork:      r.GetFork(),
		CreatedAt: r.GetCreatedAt().Time,
		UpdatedAt: r.GetUpdatedAt().Time,
		PushedAt:  r.GetPushedAt().Time,
	}
	if l := r.GetLicense(); l != nil {
		item.License = &models.License{Key: l.GetKey(), Name: l.GetName(), SPDXID: l.GetSPDXID()}
	}
	return item
}

// classify maps go-github errors onto the engine's error vocabulary.
func classify(err error) error {
	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return &perrors.APIError{Service: serviceName, StatusCode: http.StatusForbidden, Message: "rate limited", Err: perrors.ErrRateLimit}
	}
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return &perrors.APIError{Service: serviceName, StatusCode: http.StatusForbidden, Message: "secondary rate limit", Err: perrors.ErrRateLimit}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s request: %w", serviceName, perrors.ErrTimeout)
	}

	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		status := respErr.Response.StatusCode
		apiErr := &perrors.APIError{Service: serviceName, StatusCode: status, Message: respErr.Message}
		switch status {
		case http.StatusUnauthorized:
			apiErr.Err = perrors.ErrAuthFailure
		case http.StatusNotFound:
			apiErr.Err = perrors.ErrNotFound
		case http.StatusTooManyRequests:
			apiErr.Err = perrors.ErrRateLimit
		case http.StatusServiceUnavailable, http.StatusBadGateway:
			apiErr.Err = perrors.ErrUnavailable
		}
		return apiErr
	}
	return fmt.Errorf("%s request: %w", serviceName, err)
}
