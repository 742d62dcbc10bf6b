// Package versions inventories the software components of the
// appliance across Docker, APT, file, and cluster sources.
package versions

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/nettap/nettapd/internal/command"
	"github.com/nettap/nettapd/internal/search"
)

// Component categories.
const (
	CategoryCore     = "core"
	CategoryDocker   = "docker"
	CategorySystem   = "system"
	CategoryDatabase = "database"
	CategoryOS       = "os"
)

// Component statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

const (
	cacheTTL     = 600 * time.Second
	scanTimeout  = 10 * time.Second
	scanPoolSize = 5
)

// Component is one inventoried software component.
type Component struct {
	Name           string    `json:"name"`
	Category       string    `json:"category"`
	CurrentVersion string    `json:"current_version"`
	InstallType    string    `json:"install_type"`
	Status         string    `json:"status"`
	Details        string    `json:"details,omitempty"`
	CheckedAt      time.Time `json:"checked_at"`
}

// dockerComponents maps component names to their container names.
var dockerComponents = map[string]string{
	"zeek":       "nettap-zeek",
	"suricata":   "nettap-suricata",
	"arkime":     "nettap-arkime",
	"opensearch": "nettap-opensearch",
	"tshark":     "nettap-tshark",
}

// systemTools maps component names to their version argv.
var systemTools = map[string][]string{
	"docker":         {"docker", "--version"},
	"docker-compose": {"docker", "compose", "version"},
	"python3":        {"python3", "--version"},
}

// Config locates the version sources that live on disk.
type Config struct {
	VersionFile   string // daemon VERSION file
	OSReleaseFile string // /etc/os-release
}

// Manager scans component versions in parallel and caches the
// inventory.
type Manager struct {
	cfg    Config
	runner command.Runner
	search search.Searcher
	clock  clockwork.Clock
	pool   pond.ResultPool[[]Component]

	mu        sync.Mutex
	cache     map[string]Component
	scannedAt time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock substitutes the clock.
func WithClock(c clockwork.Clock) Option { return func(m *Manager) { m.clock = c } }

// NewManager creates a version manager. searcher may be nil when no
// cluster is reachable; the database scan then reports an error entry.
func NewManager(cfg Config, runner command.Runner, searcher search.Searcher, opts ...Option) *Manager {
	if cfg.VersionFile == "" {
		cfg.VersionFile = "/opt/nettap/VERSION"
	}
	if cfg.OSReleaseFile == "" {
		cfg.OSReleaseFile = "/etc/os-release"
	}
	m := &Manager{
		cfg:    cfg,
		runner: runner,
		search: searcher,
		clock:  clockwork.NewRealClock(),
		pool:   pond.NewResultPool[[]Component](scanPoolSize),
		cache:  map[string]Component{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ScanVersions runs all five category scans in parallel and replaces
// the cache atomically. Individual scan failures produce error entries
// rather than failing the inventory.
func (m *Manager) ScanVersions(ctx context.Context) []Component {
	group := m.pool.NewGroupContext(ctx)

	scans := []func(context.Context) []Component{
		m.scanCore,
		m.scanDocker,
		m.scanSystem,
		m.scanDatabase,
		m.scanOS,
	}
	for _, scan := range scans {
		scan := scan
		group.SubmitErr(func() ([]Component, error) {
			return scan(ctx), nil
		})
	}

	results, err := group.Wait()
	if err != nil {
		log.Warn().Err(err).Msg("Version scan group failed")
	}

	var all []Component
	for _, batch := range results {
		all = append(all, batch...)
	}

	m.mu.Lock()
	m.cache = make(map[string]Component, len(all))
	for _, c := range all {
		m.cache[c.Name] = c
	}
	m.scannedAt = m.clock.Now()
	m.mu.Unlock()

	return all
}

// GetVersions returns the cached inventory, scanning first when the
// cache is empty or stale.
func (m *Manager) GetVersions(ctx context.Context) []Component {
	m.mu.Lock()
	fresh := len(m.cache) > 0 && m.clock.Now().Sub(m.scannedAt) < cacheTTL
	m.mu.Unlock()

	if !fresh {
		return m.ScanVersions(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]Component, 0, len(m.cache))
	for _, c := range m.cache {
		all = append(all, c)
	}
	return all
}

// GetComponent returns one cached entry.
func (m *Manager) GetComponent(ctx context.Context, name string) (Component, bool) {
	m.GetVersions(ctx) // ensure a scan has happened
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cache[name]
	return c, ok
}

// Refresh rescans a single component after an update and returns its
// new entry.
func (m *Manager) Refresh(ctx context.Context, name string) (Component, bool) {
	m.ScanVersions(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cache[name]
	return c, ok
}

func (m *Manager) scanCore(ctx context.Context) []Component {
	c := m.component("nettapd", CategoryCore)
	data, err := os.ReadFile(m.cfg.VersionFile)
	if err != nil {
		return []Component{m.errored(c, err)}
	}
	c.CurrentVersion = strings.TrimSpace(string(data))
	c.Status = StatusOK
	return []Component{c}
}

func (m *Manager) scanDocker(ctx context.Context) []Component {
	components := make([]Component, 0, len(dockerComponents))
	for name, container := range dockerComponents {
		c := m.component(name, CategoryDocker)
		result, err := m.runner.Run(ctx, scanTimeout, "docker",
			"inspect", "-f", "{{index .Config.Image}}", container)
		if err != nil || result.Code != 0 {
			components = append(components, m.errored(c, fmt.Errorf("inspect failed: %s", result.Output())))
			continue
		}
		c.CurrentVersion = imageTag(strings.TrimSpace(result.Stdout))
		c.Details = strings.TrimSpace(result.Stdout)
		c.Status = StatusOK
		components = append(components, c)
	}
	return components
}

func (m *Manager) scanSystem(ctx context.Context) []Component {
	components := make([]Component, 0, len(systemTools))
	for name, argv := range systemTools {
		c := m.component(name, CategorySystem)
		result, err := m.runner.Run(ctx, scanTimeout, argv[0], argv[1:]...)
		if err != nil || result.Code != 0 {
			components = append(components, m.errored(c, fmt.Errorf("probe failed: %s", result.Output())))
			continue
		}
		c.CurrentVersion = extractVersion(result.Output())
		c.Status = StatusOK
		components = append(components, c)
	}
	return components
}

func (m *Manager) scanDatabase(ctx context.Context) []Component {
	c := m.component("opensearch-cluster", CategoryDatabase)
	if m.search == nil {
		return []Component{m.errored(c, fmt.Errorf("no cluster client configured"))}
	}
	info, err := m.search.Info(ctx)
	if err != nil {
		return []Component{m.errored(c, err)}
	}
	c.CurrentVersion = info.Version.Number
	c.Details = info.ClusterName
	c.Status = StatusOK
	return []Component{c}
}

func (m *Manager) scanOS(ctx context.Context) []Component {
	distro := m.component("distro", CategoryOS)
	if name, version, err := readOSRelease(m.cfg.OSReleaseFile); err != nil {
		distro = m.errored(distro, err)
	} else {
		distro.CurrentVersion = version
		distro.Details = name
		distro.Status = StatusOK
	}

	kernel := m.component("kernel", CategoryOS)
	result, err := m.runner.Run(ctx, scanTimeout, "uname", "-r")
	if err != nil || result.Code != 0 {
		kernel = m.errored(kernel, fmt.Errorf("uname failed"))
	} else {
		kernel.CurrentVersion = strings.TrimSpace(result.Stdout)
		kernel.Status = StatusOK
	}

	return []Component{distro, kernel}
}

func (m *Manager) component(name, category string) Component {
	installType := "builtin"
	switch category {
	case CategoryDocker, CategoryDatabase:
		installType = "docker"
	case CategorySystem:
		installType = "apt"
	}
	return Component{
		Name:        name,
		Category:    category,
		InstallType: installType,
		Status:      StatusError,
		CheckedAt:   m.clock.Now().UTC(),
	}
}

func (m *Manager) errored(c Component, err error) Component {
	log.Debug().Err(err).Str("component", c.Name).Msg("Version scan failed")
	c.CurrentVersion = "unknown"
	c.Status = StatusError
	c.Details = err.Error()
	return c
}

var versionPattern = regexp.MustCompile(`\d+\.\d+(\.\d+)?`)

// extractVersion pulls the first dotted number out of tool output like
// "Docker version 27.1.1, build 123".
func extractVersion(output string) string {
	if match := versionPattern.FindString(output); match != "" {
		return match
	}
	return "unknown"
}

// imageTag returns the tag portion of an image reference, or the full
// reference when untagged.
func imageTag(image string) string {
	if i := strings.LastIndex(image, ":"); i >= 0 && !strings.Contains(image[i+1:], "/") {
		return image[i+1:]
	}
	return image
}

func readOSRelease(path string) (name, version string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.Trim(value, `"`)
		switch key {
		case "PRETTY_NAME":
			name = value
		case "VERSION_ID":
			version = value
		}
	}
	if name == "" && version == "" {
		return "", "", fmt.Errorf("no release fields in %s", path)
	}
	return name, version, nil
}
