// Package curator maintains an agent's curated context: the deduplicated,
// annotated subset of discovered items kept for longer-term reference.
package curator

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/discovery-engine/internal/errors"
	"github.com/p-blackswan/discovery-engine/internal/github"
	"github.com/p-blackswan/discovery-engine/internal/models"
	"github.com/p-blackswan/discovery-engine/internal/retry"
)

// DefaultTopK is the number of items considered per automatic curation.
const DefaultTopK = 3

// ArtifactSource lists a repository's contents.
type ArtifactSource interface {
	ListContents(ctx context.Context, owner, repo, path string) ([]github.Entry, error)
}

// Config tunes a Curator.
type Config struct {
	TopK  int
	Retry retry.Config
}

// Curator selects items for an agent's context and resolves their artifacts.
type Curator struct {
	source ArtifactSource
	topK   int
	retry  retry.Config
	logger zerolog.Logger

	now   func() time.Time
	newID func() string

	// OnArtifactFailure is called when an artifact lookup gives up.
	OnArtifactFailure func(err error)
}

// New creates a Curator. source may be nil, in which case no artifacts are
// resolved.
func New(source ArtifactSource, cfg Config, logger zerolog.Logger) *Curator {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.ArtifactConfig()
	}
	return &Curator{
		source: source,
		topK:   cfg.TopK,
		retry:  cfg.Retry,
		logger: logger.With().Str("component", "curator").Logger(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Prepare selects up to TopK of newItems by descending stars, skipping any
// already curated in settings, and builds curated entries for them. Artifact
// lookups happen here; settings is not modified.
func (c *Curator) Prepare(ctx context.Context, agentName string, settings *models.ContextSettings, newItems []models.Item) []models.CuratedItem {
	if settings == nil || len(newItems) == 0 {
		return nil
	}

	ranked := make([]models.Item, len(newItems))
	copy(ranked, newItems)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Stars > ranked[j].Stars })

	picked := make(map[int64]struct{}, c.topK)
	var out []models.CuratedItem
	for _, it := range ranked {
		if len(out) == c.topK {
			break
		}
		if settings.Find(it.ID) >= 0 {
			continue
		}
		if _, dup := picked[it.ID]; dup {
			continue
		}
		picked[it.ID] = struct{}{}

		out = append(out, models.CuratedItem{
			ID:                c.newID(),
			RefID:             it.ID,
			Item:              it,
			AddedAt:           c.now().UTC(),
			Notes:             fmt.Sprintf("Auto-curated by agent %q", agentName),
			Importance:        models.ImportanceMedium,
			SelectedArtifacts: c.artifacts(ctx, settings, it),
		})
	}
	return out
}

// Apply appends prepared entries whose item is not yet curated and returns
// how many were added. Entries are never replaced on this path.
func Apply(settings *models.ContextSettings, prepared []models.CuratedItem) int {
	added := 0
	for _, ci := range prepared {
		if settings.Find(ci.RefID) >= 0 {
			continue
		}
		settings.CuratedItems = append(settings.CuratedItems, ci)
		added++
	}
	return added
}

// Curate runs automatic curation against a copy of the agent's context
// settings and returns the updated copy. It returns nil when the agent has no
// context settings or auto update is off.
func (c *Curator) Curate(ctx context.Context, agent *models.Agent, newItems []models.Item) *models.ContextSettings {
	cs := agent.Config.ContextSettings
	if cs == nil || !cs.AutoUpdateContext {
		return nil
	}
	updated := *cs
	updated.CuratedItems = append([]models.CuratedItem(nil), cs.CuratedItems...)
	Apply(&updated, c.Prepare(ctx, agent.Name, cs, newItems))
	return &updated
}

// SaveItem upserts a manual entry for item. An existing entry keeps its id
// and artifacts; only supplied notes and importance are changed. A new entry
// defaults to medium importance with no artifacts.
func (c *Curator) SaveItem(settings *models.ContextSettings, item models.Item, notes *string, importance *models.Importance) models.CuratedItem {
	if i := settings.Find(item.ID); i >= 0 {
		ci := &settings.CuratedItems[i]
		if notes != nil {
			ci.Notes = *notes
		}
		if importance != nil {
			ci.Importance = *importance
		}
		return *ci
	}

	ci := models.CuratedItem{
		ID:                c.newID(),
		RefID:             item.ID,
		Item:              item,
		AddedAt:           c.now().UTC(),
		Importance:        models.ImportanceMedium,
		SelectedArtifacts: []string{},
	}
	if notes != nil {
		ci.Notes = *notes
	}
	if importance != nil {
		ci.Importance = *importance
	}
	settings.CuratedItems = append(settings.CuratedItems, ci)
	return ci
}

// RemoveItem deletes the entry with the given local id and reports whether
// one was removed.
func RemoveItem(settings *models.ContextSettings, id string) bool {
	if settings == nil {
		return false
	}
	for i := range settings.CuratedItems {
		if settings.CuratedItems[i].ID == id {
			settings.CuratedItems = append(settings.CuratedItems[:i], settings.CuratedItems[i+1:]...)
			return true
		}
	}
	return false
}

// artifacts resolves README and main-file paths from the item's top-level
// listing. Failures are logged and yield an empty list.
func (c *Curator) artifacts(ctx context.Context, settings *models.ContextSettings, it models.Item) []string {
	selected := []string{}
	if c.source == nil || (!settings.IncludeReadme && !settings.IncludeMainFiles) {
		return selected
	}

	owner, repo := repoRef(it)
	var entries []github.Entry
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		var err error
		entries, err = c.source.ListContents(ctx, owner, repo, "")
		return err
	})
	if err != nil {
		aerr := &perrors.ArtifactError{Repo: owner + "/" + repo, Path: "/", Err: err}
		c.logger.Warn().Err(aerr).Int64("item_id", it.ID).Msg("artifact lookup failed, continuing without artifacts")
		if c.OnArtifactFailure != nil {
			c.OnArtifactFailure(aerr)
		}
		return selected
	}

	if settings.IncludeReadme {
		for _, e := range entries {
			if e.Type == "file" && strings.Contains(strings.ToLower(e.Name), "readme") {
				selected = append(selected, e.Path)
				break
			}
		}
	}
	if settings.IncludeMainFiles && settings.MaxCodeFiles > 0 {
		n := 0
		for _, e := range entries {
			if n == settings.MaxCodeFiles {
				break
			}
			if e.Type == "file" && isMainFile(e.Name) {
				selected = append(selected, e.Path)
				n++
			}
		}
	}
	return selected
}

var mainFileStems = map[string]struct{}{
	"main": {}, "index": {}, "app": {}, "lib": {}, "mod": {},
	"server": {}, "cli": {}, "__init__": {}, "__main__": {},
}

func isMainFile(name string) bool {
	ext := path.Ext(name)
	if ext == "" || strings.EqualFold(ext, ".md") {
		return false
	}
	_, ok := mainFileStems[strings.ToLower(strings.TrimSuffix(name, ext))]
	return ok
}

func repoRef(it models.Item) (string, string) {
	if owner, repo, err := github.ParseRepoRef(it.FullName); err == nil {
		return owner, repo
	}
	return it.Owner.Login, it.Name
}
