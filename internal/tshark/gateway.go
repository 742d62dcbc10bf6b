// Package tshark runs bounded, validated packet analysis inside the
// sibling analysis container. Every request is translated to an argv
// vector; a shell is never involved.
package tshark

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog/log"

	"github.com/nettap/nettapd/internal/command"
	svcerr "github.com/nettap/nettapd/internal/errors"
)

const (
	analysisTimeout   = 30 * time.Second
	inspectTimeout    = 5 * time.Second
	maxFilterLength   = 500
	maxFields         = 50
	maxPacketLimit    = 1000
	defaultPackets    = 100
	ancillaryCacheTTL = time.Hour
)

var (
	allowedExtensions = map[string]bool{".pcap": true, ".pcapng": true, ".cap": true}
	fieldPattern      = regexp.MustCompile(`^[a-z0-9_.]+$`)
	forbiddenFilter   = []string{";", "`", "$", `"`, "'", "\n", "\r", "\x00"}
)

// Request describes one analysis run against a capture file.
type Request struct {
	PcapPath      string   `json:"pcap_path"`
	DisplayFilter string   `json:"display_filter"`
	MaxPackets    int      `json:"max_packets"`
	OutputFormat  string   `json:"output_format"`
	Fields        []string `json:"fields"`
}

// Result carries parsed analysis output.
type Result struct {
	Packets     []map[string]any `json:"packets,omitempty"`
	Raw         string           `json:"raw,omitempty"`
	PacketCount int              `json:"packet_count"`
	Format      string           `json:"format"`
	TruncatedAt int              `json:"truncated_at,omitempty"`
}

// Config locates the analysis container and the capture store.
type Config struct {
	Container string // sibling container name
	BaseDir   string // host-side capture directory
	MountDir  string // where BaseDir is mounted inside the container
}

// Gateway validates requests and executes them via docker exec.
type Gateway struct {
	cfg    Config
	runner command.Runner
	cache  *ttlcache.Cache[string, string]
}

// NewGateway creates a gateway. Ancillary lookups (version, protocol
// and field inventories, availability) are cached in-process.
func NewGateway(cfg Config, runner command.Runner) *Gateway {
	if cfg.Container == "" {
		cfg.Container = "nettap-tshark"
	}
	if cfg.BaseDir == "" {
		cfg.BaseDir = "/opt/nettap/pcap"
	}
	if cfg.MountDir == "" {
		cfg.MountDir = "/pcap"
	}
	cache := ttlcache.New[string, string](
		ttlcache.WithTTL[string, string](ancillaryCacheTTL),
	)
	go cache.Start()
	return &Gateway{cfg: cfg, runner: runner, cache: cache}
}

// Close stops the cache janitor.
func (g *Gateway) Close() {
	g.cache.Stop()
}

// validate normalizes the request and returns the container-side path
// the analysis will read. Reject-by-default.
func (g *Gateway) validate(r *Request) (string, error) {
	containerPath, err := g.mapPcapPath(r.PcapPath)
	if err != nil {
		return "", err
	}

	if len(r.DisplayFilter) > maxFilterLength {
		return "", svcerr.Validation("tshark.validate",
			fmt.Errorf("display filter exceeds %d characters", maxFilterLength))
	}
	for _, tok := range forbiddenFilter {
		if strings.Contains(r.DisplayFilter, tok) {
			return "", svcerr.Validation("tshark.validate",
				fmt.Errorf("display filter contains forbidden character"))
		}
	}

	if len(r.Fields) > maxFields {
		return "", svcerr.Validation("tshark.validate",
			fmt.Errorf("too many fields: %d > %d", len(r.Fields), maxFields))
	}
	for _, f := range r.Fields {
		if !fieldPattern.MatchString(f) {
			return "", svcerr.Validation("tshark.validate",
				fmt.Errorf("invalid field name %q", f))
		}
	}

	if r.MaxPackets == 0 {
		r.MaxPackets = defaultPackets
	}
	if r.MaxPackets < 1 {
		r.MaxPackets = 1
	}
	if r.MaxPackets > maxPacketLimit {
		r.MaxPackets = maxPacketLimit
	}

	if r.OutputFormat == "" {
		r.OutputFormat = "json"
	}
	switch r.OutputFormat {
	case "json", "text", "pdml":
	default:
		return "", svcerr.Validation("tshark.validate",
			fmt.Errorf("unsupported output format %q", r.OutputFormat))
	}

	return containerPath, nil
}

// mapPcapPath normalizes a capture path and remaps it onto the
// container mount point.
func (g *Gateway) mapPcapPath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", svcerr.Validation("tshark.path", fmt.Errorf("pcap path is required"))
	}
	if strings.Contains(path, "\x00") {
		return "", svcerr.Validation("tshark.path", fmt.Errorf("invalid pcap path"))
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !allowedExtensions[ext] {
		return "", svcerr.Validation("tshark.path",
			fmt.Errorf("unsupported capture extension %q", ext))
	}

	var rel string
	if filepath.IsAbs(path) {
		clean := filepath.Clean(path)
		base := filepath.Clean(g.cfg.BaseDir)
		if clean != base && !strings.HasPrefix(clean, base+string(filepath.Separator)) {
			return "", svcerr.Validation("tshark.path",
				fmt.Errorf("traversal detected: path escapes capture directory"))
		}
		rel = strings.TrimPrefix(clean, base)
		rel = strings.TrimPrefix(rel, string(filepath.Separator))
	} else {
		clean := filepath.Clean(path)
		if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) ||
			strings.Contains(path, "..") {
			return "", svcerr.Validation("tshark.path",
				fmt.Errorf("traversal detected: path escapes capture directory"))
		}
		rel = clean
	}
	if rel == "" || rel == "." {
		return "", svcerr.Validation("tshark.path", fmt.Errorf("invalid pcap path"))
	}

	return filepath.Join(g.cfg.MountDir, rel), nil
}

// buildArgs assembles the docker exec argv for a validated request.
func (g *Gateway) buildArgs(r Request, containerPath string) []string {
	args := []string{
		"exec", g.cfg.Container, "tshark",
		"-r", containerPath,
		"-c", strconv.Itoa(r.MaxPackets),
	}
	if r.DisplayFilter != "" {
		args = append(args, "-Y", r.DisplayFilter)
	}
	if len(r.Fields) > 0 {
		args = append(args, "-T", "fields")
		for _, f := range r.Fields {
			args = append(args, "-e", f)
		}
		args = append(args, "-E", "header=y", "-E", "separator=\t")
		return args
	}
	switch r.OutputFormat {
	case "json":
		args = append(args, "-T", "json")
	case "pdml":
		args = append(args, "-T", "pdml")
	}
	return args
}

// Analyze validates the request, runs the analysis, and parses the
// output according to the requested format.
func (g *Gateway) Analyze(ctx context.Context, req Request) (*Result, error) {
	containerPath, err := g.validate(&req)
	if err != nil {
		return nil, err
	}

	args := g.buildArgs(req, containerPath)
	log.Debug().Str("pcap", containerPath).Int("max_packets", req.MaxPackets).
		Msg("Running packet analysis")

	result, err := g.runner.Run(ctx, analysisTimeout, "docker", args...)
	if err != nil {
		if result.TimedOut {
			return nil, svcerr.Validation("tshark.analyze",
				fmt.Errorf("analysis timed out after %s", analysisTimeout))
		}
		return nil, svcerr.New(svcerr.KindSubprocess, "tshark.analyze", err)
	}
	if result.Code != 0 {
		return nil, svcerr.New(svcerr.KindSubprocess, "tshark.analyze",
			fmt.Errorf("tshark exited %d: %s", result.Code, strings.TrimSpace(result.Stderr)))
	}

	return parseOutput(req, result.Stdout)
}

func parseOutput(req Request, stdout string) (*Result, error) {
	out := &Result{Format: req.OutputFormat}
	if len(req.Fields) > 0 {
		out.Format = "fields"
	}

	switch {
	case out.Format == "json":
		var packets []map[string]any
		if err := json.Unmarshal([]byte(stdout), &packets); err != nil {
			return nil, svcerr.New(svcerr.KindSubprocess, "tshark.parse",
				fmt.Errorf("malformed analysis output: %w", err))
		}
		out.Packets = packets
		out.PacketCount = len(packets)
	case out.Format == "text" || out.Format == "fields":
		for i, line := range strings.Split(strings.TrimRight(stdout, "\n"), "\n") {
			if line == "" {
				continue
			}
			out.Packets = append(out.Packets, map[string]any{
				"no":  i + 1,
				"raw": line,
			})
		}
		out.PacketCount = len(out.Packets)
	default: // pdml passes through raw
		out.Raw = stdout
	}
	return out, nil
}

// GetVersion reports the analyzer version line, cached.
func (g *Gateway) GetVersion(ctx context.Context) (string, error) {
	return g.cached(ctx, "version", func() (string, error) {
		result, err := g.runner.Run(ctx, inspectTimeout, "docker",
			"exec", g.cfg.Container, "tshark", "--version")
		if err != nil || result.Code != 0 {
			return "", svcerr.New(svcerr.KindSubprocess, "tshark.version",
				fmt.Errorf("version probe failed: %s", result.Output()))
		}
		line, _, _ := strings.Cut(result.Stdout, "\n")
		return strings.TrimSpace(line), nil
	})
}

// GetProtocols lists dissector names, cached.
func (g *Gateway) GetProtocols(ctx context.Context) ([]string, error) {
	raw, err := g.cached(ctx, "protocols", func() (string, error) {
		result, err := g.runner.Run(ctx, analysisTimeout, "docker",
			"exec", g.cfg.Container, "tshark", "-G", "protocols")
		if err != nil || result.Code != 0 {
			return "", svcerr.New(svcerr.KindSubprocess, "tshark.protocols",
				fmt.Errorf("protocol inventory failed: %s", result.Output()))
		}
		return result.Stdout, nil
	})
	if err != nil {
		return nil, err
	}
	return parseTabbedColumn(raw, 2), nil
}

// GetFields lists field names with the given prefix. The full
// inventory is fetched once and cached; filtering is per call.
func (g *Gateway) GetFields(ctx context.Context, prefix string) ([]string, error) {
	raw, err := g.cached(ctx, "fields", func() (string, error) {
		result, err := g.runner.Run(ctx, analysisTimeout, "docker",
			"exec", g.cfg.Container, "tshark", "-G", "fields")
		if err != nil || result.Code != 0 {
			return "", svcerr.New(svcerr.KindSubprocess, "tshark.fields",
				fmt.Errorf("field inventory failed: %s", result.Output()))
		}
		return result.Stdout, nil
	})
	if err != nil {
		return nil, err
	}

	var fields []string
	for _, name := range parseTabbedColumn(raw, 2) {
		if prefix == "" || strings.HasPrefix(name, prefix) {
			fields = append(fields, name)
		}
	}
	return fields, nil
}

// IsAvailable reports whether the analysis container is running. It
// degrades cleanly: any probe failure reads as unavailable.
func (g *Gateway) IsAvailable(ctx context.Context) bool {
	result, err := g.runner.Run(ctx, inspectTimeout, "docker",
		"inspect", "-f", "{{.State.Running}}", g.cfg.Container)
	if err != nil || result.Code != 0 {
		return false
	}
	return strings.TrimSpace(result.Stdout) == "true"
}

func (g *Gateway) cached(ctx context.Context, key string, fetch func() (string, error)) (string, error) {
	if item := g.cache.Get(key); item != nil {
		return item.Value(), nil
	}
	value, err := fetch()
	if err != nil {
		return "", err
	}
	g.cache.Set(key, value, ttlcache.DefaultTTL)
	return value, nil
}

// parseTabbedColumn extracts one tab-separated column from tshark -G
// output, skipping malformed lines.
func parseTabbedColumn(raw string, col int) []string {
	var values []string
	for _, line := range strings.Split(raw, "\n") {
		parts := strings.Split(line, "\t")
		if len(parts) <= col || strings.TrimSpace(parts[col]) == "" {
			continue
		}
		values = append(values, strings.TrimSpace(parts[col]))
	}
	return values
}
