package updates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/nettap/nettapd/internal/command"
	svcerr "github.com/nettap/nettapd/internal/errors"
	"github.com/nettap/nettapd/internal/history"
	"github.com/nettap/nettapd/internal/versions"
)

const (
	updateTimeout     = 5 * time.Minute
	historyCapacity   = 50
	backupStampLayout = "20060102_150405"
)

// Component classes the executor knows how to update.
const (
	classDocker = "docker"
	classRules  = "rules"
	classGeoIP  = "geoip"
	classOther  = "other"
)

// ErrUpdateInProgress is returned when ApplyUpdate is already running.
var ErrUpdateInProgress = svcerr.New(svcerr.KindConflict, "updates.apply",
	fmt.Errorf("An update is already in progress"))

// UpdateResult is the outcome for one component.
type UpdateResult struct {
	Component         string    `json:"component"`
	Success           bool      `json:"success"`
	OldVersion        string    `json:"old_version"`
	NewVersion        string    `json:"new_version,omitempty"`
	Output            string    `json:"output,omitempty"`
	Error             string    `json:"error,omitempty"`
	RollbackAvailable bool      `json:"rollback_available"`
	Timestamp         time.Time `json:"timestamp"`
}

// BatchResult is one ApplyUpdate invocation.
type BatchResult struct {
	ID          string         `json:"id"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	Total       int            `json:"total"`
	Succeeded   int            `json:"succeeded"`
	Failed      int            `json:"failed"`
	Results     []UpdateResult `json:"results"`
}

// InProgress describes the update currently holding the critical
// section.
type InProgress struct {
	ID         string    `json:"id"`
	Components []string  `json:"components"`
	StartedAt  time.Time `json:"started_at"`
}

// backupMetadata is written alongside every backup.
type backupMetadata struct {
	Component  string    `json:"component"`
	Timestamp  time.Time `json:"timestamp"`
	OldVersion string    `json:"old_version"`
	ImageID    string    `json:"image_id,omitempty"`
	FilePath   string    `json:"file_path,omitempty"`
}

// ExecutorConfig locates backups, compose, and watched files.
type ExecutorConfig struct {
	BackupDir  string
	ComposeDir string // working directory containing docker-compose.yml
	RulesPath  string
	GeoIPPath  string
}

// Executor applies updates one batch at a time with pre-update
// backups and bounded history.
type Executor struct {
	cfg      ExecutorConfig
	runner   command.Runner
	versions *versions.Manager
	clock    clockwork.Clock
	entropy  io.Reader

	mu         sync.Mutex
	inProgress *InProgress
	hist       *history.Ring[BatchResult]
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorClock substitutes the clock.
func WithExecutorClock(c clockwork.Clock) ExecutorOption {
	return func(e *Executor) { e.clock = c }
}

// NewExecutor creates an update executor.
func NewExecutor(cfg ExecutorConfig, runner command.Runner, vm *versions.Manager, opts ...ExecutorOption) *Executor {
	if cfg.BackupDir == "" {
		cfg.BackupDir = "/opt/nettap/backups"
	}
	if cfg.RulesPath == "" {
		cfg.RulesPath = "/opt/nettap/suricata/rules/suricata.rules"
	}
	if cfg.GeoIPPath == "" {
		cfg.GeoIPPath = "/opt/nettap/geoip/GeoLite2-Country.mmdb"
	}
	e := &Executor{
		cfg:      cfg,
		runner:   runner,
		versions: vm,
		clock:    clockwork.NewRealClock(),
		entropy:  rand.New(rand.NewSource(time.Now().UnixNano())),
		hist:     history.New[BatchResult](historyCapacity),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ApplyUpdate updates the listed components sequentially. At most one
// batch runs at a time; a concurrent call fails fast with the
// in-progress descriptor left untouched.
func (e *Executor) ApplyUpdate(ctx context.Context, components []string) (BatchResult, error) {
	e.mu.Lock()
	if e.inProgress != nil {
		e.mu.Unlock()
		return BatchResult{}, ErrUpdateInProgress
	}
	batch := BatchResult{
		ID:        ulid.MustNew(ulid.Timestamp(e.clock.Now()), e.entropy).String(),
		StartedAt: e.clock.Now().UTC(),
		Total:     len(components),
	}
	e.inProgress = &InProgress{
		ID:         batch.ID,
		Components: append([]string(nil), components...),
		StartedAt:  batch.StartedAt,
	}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.inProgress = nil
		e.mu.Unlock()
	}()

	for _, component := range components {
		result := e.updateOne(ctx, component)
		if result.Success {
			batch.Succeeded++
		} else {
			batch.Failed++
		}
		batch.Results = append(batch.Results, result)
	}
	batch.CompletedAt = e.clock.Now().UTC()

	e.mu.Lock()
	e.hist.Append(batch)
	e.mu.Unlock()

	log.Info().Str("batch", batch.ID).Int("succeeded", batch.Succeeded).
		Int("failed", batch.Failed).Msg("Update batch finished")
	return batch, nil
}

// Current returns the in-progress descriptor, if any.
func (e *Executor) Current() (InProgress, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inProgress == nil {
		return InProgress{}, false
	}
	return *e.inProgress, true
}

// History returns past batches, newest first.
func (e *Executor) History() []BatchResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hist.Snapshot()
}

func (e *Executor) updateOne(ctx context.Context, component string) UpdateResult {
	result := UpdateResult{
		Component: component,
		Timestamp: e.clock.Now().UTC(),
	}
	if current, ok := e.versions.GetComponent(ctx, component); ok {
		result.OldVersion = current.CurrentVersion
	}

	class := classify(component)
	backedUp := e.backup(ctx, component, class, result.OldVersion)
	result.RollbackAvailable = backedUp

	cmd := updateArgv(class, component, e.cfg)
	if cmd == nil {
		result.Error = fmt.Sprintf("no update procedure for component %q", component)
		return result
	}

	run, err := e.runner.Run(ctx, updateTimeout, cmd[0], cmd[1:]...)
	result.Output = strings.TrimSpace(run.Output())
	if err != nil || run.Code != 0 {
		if err != nil {
			result.Error = err.Error()
		} else {
			result.Error = fmt.Sprintf("update command exited %d", run.Code)
		}
		return result
	}

	if class == classDocker {
		restart, err := e.runner.Run(ctx, updateTimeout, "docker",
			e.composeArgs("up", "-d", "--no-deps", component)...)
		if err != nil || restart.Code != 0 {
			result.Error = fmt.Sprintf("restart failed: %s", restart.Output())
			return result
		}
		if refreshed, ok := e.versions.Refresh(ctx, component); ok {
			result.NewVersion = refreshed.CurrentVersion
		}
	}

	result.Success = true
	return result
}

// backup snapshots the component state into a timestamped directory.
// Failures are logged and non-fatal.
func (e *Executor) backup(ctx context.Context, component, class, oldVersion string) bool {
	stamp := e.clock.Now().UTC().Format(backupStampLayout)
	dir := filepath.Join(e.cfg.BackupDir, component, stamp)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Warn().Err(err).Str("component", component).Msg("Backup directory creation failed")
		return false
	}

	meta := backupMetadata{
		Component:  component,
		Timestamp:  e.clock.Now().UTC(),
		OldVersion: oldVersion,
	}

	switch class {
	case classDocker:
		inspect, err := e.runner.Run(ctx, 10*time.Second, "docker",
			"inspect", "-f", "{{.Image}}", containerName(component))
		if err != nil || inspect.Code != 0 {
			log.Warn().Str("component", component).Msg("Image id snapshot failed")
			return false
		}
		meta.ImageID = strings.TrimSpace(inspect.Stdout)
	case classRules, classGeoIP:
		src := e.cfg.RulesPath
		if class == classGeoIP {
			src = e.cfg.GeoIPPath
		}
		dst := filepath.Join(dir, filepath.Base(src))
		if err := copyFile(src, dst); err != nil {
			log.Warn().Err(err).Str("component", component).Msg("File backup failed")
			return false
		}
		meta.FilePath = src
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return false
	}
	if err := os.WriteFile(filepath.Join(dir, "metadata.json"), data, 0o644); err != nil {
		log.Warn().Err(err).Str("component", component).Msg("Backup metadata write failed")
		return false
	}
	return true
}

// Rollback restores the most recent backup of a component. For docker
// components the saved image id is retagged onto the composed image
// reference and the container restarted; for file components the
// backup is copied back.
func (e *Executor) Rollback(ctx context.Context, component string) UpdateResult {
	result := UpdateResult{
		Component: component,
		Timestamp: e.clock.Now().UTC(),
	}

	dir, meta, err := e.latestBackup(component)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.OldVersion = meta.OldVersion

	switch classify(component) {
	case classDocker:
		if meta.ImageID == "" {
			result.Error = "backup holds no image id"
			return result
		}
		tag, err := e.runner.Run(ctx, updateTimeout, "docker",
			"tag", meta.ImageID, composedImage(component, meta.OldVersion))
		if err != nil || tag.Code != 0 {
			result.Error = fmt.Sprintf("retag failed: %s", tag.Output())
			return result
		}
		restart, err := e.runner.Run(ctx, updateTimeout, "docker",
			e.composeArgs("up", "-d", "--no-deps", component)...)
		if err != nil || restart.Code != 0 {
			result.Error = fmt.Sprintf("restart failed: %s", restart.Output())
			return result
		}
	case classRules, classGeoIP:
		if meta.FilePath == "" {
			result.Error = "backup holds no file path"
			return result
		}
		src := filepath.Join(dir, filepath.Base(meta.FilePath))
		if err := copyFile(src, meta.FilePath); err != nil {
			result.Error = fmt.Sprintf("restore failed: %v", err)
			return result
		}
	default:
		result.Error = fmt.Sprintf("no rollback procedure for component %q", component)
		return result
	}

	result.Success = true
	result.NewVersion = meta.OldVersion
	log.Info().Str("component", component).Str("version", meta.OldVersion).
		Msg("Component rolled back")
	return result
}

// latestBackup finds the newest timestamp directory for a component.
func (e *Executor) latestBackup(component string) (string, backupMetadata, error) {
	base := filepath.Join(e.cfg.BackupDir, component)
	entries, err := os.ReadDir(base)
	if err != nil || len(entries) == 0 {
		return "", backupMetadata{}, fmt.Errorf("no backup found for %q", component)
	}

	var stamps []string
	for _, entry := range entries {
		if entry.IsDir() {
			stamps = append(stamps, entry.Name())
		}
	}
	if len(stamps) == 0 {
		return "", backupMetadata{}, fmt.Errorf("no backup found for %q", component)
	}
	sort.Strings(stamps)
	dir := filepath.Join(base, stamps[len(stamps)-1])

	data, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	if err != nil {
		return "", backupMetadata{}, fmt.Errorf("backup metadata unreadable: %w", err)
	}
	var meta backupMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return "", backupMetadata{}, fmt.Errorf("backup metadata corrupt: %w", err)
	}
	return dir, meta, nil
}

func (e *Executor) composeArgs(args ...string) []string {
	out := []string{"compose"}
	if e.cfg.ComposeDir != "" {
		out = append(out, "--project-directory", e.cfg.ComposeDir)
	}
	return append(out, args...)
}

func classify(component string) string {
	switch component {
	case "zeek", "suricata", "arkime", "opensearch", "tshark":
		return classDocker
	case "suricata-rules":
		return classRules
	case "geoip-db":
		return classGeoIP
	default:
		return classOther
	}
}

func updateArgv(class, component string, cfg ExecutorConfig) []string {
	switch class {
	case classDocker:
		argv := []string{"docker", "compose"}
		if cfg.ComposeDir != "" {
			argv = append(argv, "--project-directory", cfg.ComposeDir)
		}
		return append(argv, "pull", component)
	case classRules:
		return []string{"docker", "exec", containerName("suricata"), "suricata-update"}
	case classGeoIP:
		return []string{"geoipupdate"}
	default:
		return nil
	}
}

func containerName(component string) string {
	return "nettap-" + component
}

func composedImage(component, version string) string {
	refs := map[string]string{
		"zeek":       "zeek/zeek",
		"suricata":   "jasonish/suricata",
		"arkime":     "arkime/arkime",
		"opensearch": "opensearchproject/opensearch",
		"tshark":     "nettap/tshark",
	}
	repo, ok := refs[component]
	if !ok {
		repo = component
	}
	if version == "" || version == "unknown" {
		return repo + ":rollback"
	}
	return repo + ":" + version
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
