// Package updates compares installed component versions against
// upstream sources and applies updates with pre-update backups.
package updates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/nettap/nettapd/internal/versions"
)

// UpdateInfo describes one available update.
type UpdateInfo struct {
	Component      string    `json:"component"`
	CurrentVersion string    `json:"current_version"`
	LatestVersion  string    `json:"latest_version"`
	UpdateType     string    `json:"update_type"`
	Source         string    `json:"source"`
	CheckedAt      time.Time `json:"checked_at"`
}

// Upstream sources.
const (
	SourceGitHub    = "github"
	SourceDockerHub = "dockerhub"
	SourceFileAge   = "file_age"
)

const (
	upstreamTimeout = 15 * time.Second
	rulesMaxAge     = 24 * time.Hour
	geoipMaxAge     = 7 * 24 * time.Hour
)

// dockerHubImages maps docker-category components to their hub
// repositories.
var dockerHubImages = map[string]string{
	"zeek":       "zeek/zeek",
	"suricata":   "jasonish/suricata",
	"arkime":     "arkime/arkime",
	"opensearch": "opensearchproject/opensearch",
}

// CheckerConfig points at the upstream endpoints and watched files.
// The base URLs are overridable for tests.
type CheckerConfig struct {
	GitHubBaseURL    string
	DockerHubBaseURL string
	GitHubRepo       string // owner/repo for the daemon
	RulesPath        string // IDS ruleset file
	GeoIPPath        string // GeoIP database file
}

// Checker queries upstream sources and caches the findings. Any
// upstream failure degrades to "no update for this component".
type Checker struct {
	cfg      CheckerConfig
	client   *http.Client
	versions *versions.Manager
	clock    clockwork.Clock

	mu    sync.Mutex
	cache map[string]UpdateInfo
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithHTTPClient substitutes the upstream HTTP client.
func WithHTTPClient(c *http.Client) CheckerOption { return func(ch *Checker) { ch.client = c } }

// WithCheckerClock substitutes the clock.
func WithCheckerClock(c clockwork.Clock) CheckerOption { return func(ch *Checker) { ch.clock = c } }

// NewChecker creates an update checker.
func NewChecker(cfg CheckerConfig, vm *versions.Manager, opts ...CheckerOption) *Checker {
	if cfg.GitHubBaseURL == "" {
		cfg.GitHubBaseURL = "https://api.github.com"
	}
	if cfg.DockerHubBaseURL == "" {
		cfg.DockerHubBaseURL = "https://hub.docker.com"
	}
	if cfg.GitHubRepo == "" {
		cfg.GitHubRepo = "nettap/nettapd"
	}
	if cfg.RulesPath == "" {
		cfg.RulesPath = "/opt/nettap/suricata/rules/suricata.rules"
	}
	if cfg.GeoIPPath == "" {
		cfg.GeoIPPath = "/opt/nettap/geoip/GeoLite2-Country.mmdb"
	}
	c := &Checker{
		cfg:      cfg,
		client:   &http.Client{Timeout: upstreamTimeout},
		versions: vm,
		clock:    clockwork.NewRealClock(),
		cache:    map[string]UpdateInfo{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckUpdates queries every upstream source and replaces the cache.
func (c *Checker) CheckUpdates(ctx context.Context) []UpdateInfo {
	found := map[string]UpdateInfo{}

	if info, ok := c.checkDaemon(ctx); ok {
		found[info.Component] = info
	}
	for component := range dockerHubImages {
		if info, ok := c.checkContainer(ctx, component); ok {
			found[info.Component] = info
		}
	}
	if info, ok := c.checkFileAge("suricata-rules", c.cfg.RulesPath, rulesMaxAge); ok {
		found[info.Component] = info
	}
	if info, ok := c.checkFileAge("geoip-db", c.cfg.GeoIPPath, geoipMaxAge); ok {
		found[info.Component] = info
	}

	c.mu.Lock()
	c.cache = found
	c.mu.Unlock()

	return c.GetAvailable()
}

// GetAvailable returns the cached update list.
func (c *Checker) GetAvailable() []UpdateInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	all := make([]UpdateInfo, 0, len(c.cache))
	for _, info := range c.cache {
		all = append(all, info)
	}
	return all
}

// GetUpdateFor returns the cached entry for one component.
func (c *Checker) GetUpdateFor(component string) (UpdateInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.cache[component]
	return info, ok
}

func (c *Checker) checkDaemon(ctx context.Context) (UpdateInfo, bool) {
	current, ok := c.versions.GetComponent(ctx, "nettapd")
	if !ok || current.Status != versions.StatusOK {
		return UpdateInfo{}, false
	}

	url := fmt.Sprintf("%s/repos/%s/releases/latest", c.cfg.GitHubBaseURL, c.cfg.GitHubRepo)
	var release struct {
		TagName string `json:"tag_name"`
	}
	if err := c.getJSON(ctx, url, &release); err != nil {
		log.Debug().Err(err).Msg("GitHub release check failed")
		return UpdateInfo{}, false
	}

	updateType := versions.CompareVersions(current.CurrentVersion, release.TagName)
	if updateType == versions.UpdateSame || updateType == versions.UpdateUnknown {
		return UpdateInfo{}, false
	}
	return UpdateInfo{
		Component:      "nettapd",
		CurrentVersion: current.CurrentVersion,
		LatestVersion:  release.TagName,
		UpdateType:     updateType,
		Source:         SourceGitHub,
		CheckedAt:      c.clock.Now().UTC(),
	}, true
}

func (c *Checker) checkContainer(ctx context.Context, component string) (UpdateInfo, bool) {
	current, ok := c.versions.GetComponent(ctx, component)
	if !ok || current.Status != versions.StatusOK {
		return UpdateInfo{}, false
	}

	url := fmt.Sprintf("%s/v2/repositories/%s/tags/?page_size=5&ordering=last_updated",
		c.cfg.DockerHubBaseURL, dockerHubImages[component])
	var tags struct {
		Results []struct {
			Name string `json:"name"`
		} `json:"results"`
	}
	if err := c.getJSON(ctx, url, &tags); err != nil {
		log.Debug().Err(err).Str("component", component).Msg("Docker Hub check failed")
		return UpdateInfo{}, false
	}

	// Take the newest tag that parses as a version; "latest" and
	// channel tags never do.
	for _, tag := range tags.Results {
		if _, parses := versions.ParseVersion(tag.Name); !parses {
			continue
		}
		updateType := versions.CompareVersions(current.CurrentVersion, tag.Name)
		if updateType == versions.UpdateSame || updateType == versions.UpdateUnknown {
			return UpdateInfo{}, false
		}
		return UpdateInfo{
			Component:      component,
			CurrentVersion: current.CurrentVersion,
			LatestVersion:  tag.Name,
			UpdateType:     updateType,
			Source:         SourceDockerHub,
			CheckedAt:      c.clock.Now().UTC(),
		}, true
	}
	return UpdateInfo{}, false
}

func (c *Checker) checkFileAge(component, path string, maxAge time.Duration) (UpdateInfo, bool) {
	stat, err := os.Stat(path)
	if err != nil {
		log.Debug().Err(err).Str("component", component).Msg("File age check failed")
		return UpdateInfo{}, false
	}
	age := c.clock.Now().Sub(stat.ModTime())
	if age < maxAge {
		return UpdateInfo{}, false
	}
	return UpdateInfo{
		Component:      component,
		CurrentVersion: fmt.Sprintf("%dh old", int(age.Hours())),
		LatestVersion:  "refresh available",
		UpdateType:     versions.UpdateUnknown,
		Source:         SourceFileAge,
		CheckedAt:      c.clock.Now().UTC(),
	}, true
}

func (c *Checker) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upstream returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
