package versions

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nettap/nettapd/internal/command"
	"github.com/nettap/nettapd/internal/search"
)

// scriptedRunner answers by argv prefix match.
type scriptedRunner struct {
	mu      sync.Mutex
	replies map[string]command.Result
	calls   int
}

func (r *scriptedRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (command.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	key := strings.Join(append([]string{name}, args...), " ")
	for prefix, result := range r.replies {
		if strings.HasPrefix(key, prefix) {
			return result, nil
		}
	}
	return command.Result{Code: 127, Stderr: "not found"}, errors.New("not found")
}

type infoFake struct {
	info *search.ClusterInfo
	err  error
}

func (f infoFake) Search(ctx context.Context, index string, body search.M) (*search.Result, error) {
	return &search.Result{}, nil
}
func (f infoFake) CatIndices(ctx context.Context) ([]search.CatIndex, error) { return nil, nil }
func (f infoFake) DeleteIndex(ctx context.Context, name string) error        { return nil }
func (f infoFake) Info(ctx context.Context) (*search.ClusterInfo, error)     { return f.info, f.err }

func clusterInfo(name, version string) *search.ClusterInfo {
	info := &search.ClusterInfo{ClusterName: name}
	info.Version.Number = version
	return info
}

func newTestManager(t *testing.T, runner command.Runner, searcher search.Searcher) (*Manager, *clockwork.FakeClock) {
	t.Helper()
	dir := t.TempDir()

	versionFile := filepath.Join(dir, "VERSION")
	require.NoError(t, os.WriteFile(versionFile, []byte("1.4.2\n"), 0o644))

	osRelease := filepath.Join(dir, "os-release")
	require.NoError(t, os.WriteFile(osRelease, []byte(
		"PRETTY_NAME=\"Debian GNU/Linux 12 (bookworm)\"\nVERSION_ID=\"12\"\n"), 0o644))

	clock := clockwork.NewFakeClockAt(time.Date(2026, 2, 26, 10, 0, 0, 0, time.UTC))
	m := NewManager(Config{VersionFile: versionFile, OSReleaseFile: osRelease},
		runner, searcher, WithClock(clock))
	return m, clock
}

func healthyRunner() *scriptedRunner {
	return &scriptedRunner{replies: map[string]command.Result{
		"docker inspect -f {{index .Config.Image}} nettap-zeek":       {Stdout: "zeek/zeek:6.0.1\n"},
		"docker inspect -f {{index .Config.Image}} nettap-suricata":   {Stdout: "jasonish/suricata:7.0.2\n"},
		"docker inspect -f {{index .Config.Image}} nettap-arkime":     {Stdout: "arkime/arkime:5.0.0\n"},
		"docker inspect -f {{index .Config.Image}} nettap-opensearch": {Stdout: "opensearchproject/opensearch:2.11.0\n"},
		"docker inspect -f {{index .Config.Image}} nettap-tshark":     {Stdout: "nettap/tshark:4.2.0\n"},
		"docker --version":                                            {Stdout: "Docker version 27.1.1, build 6312585\n"},
		"docker compose version":                                      {Stdout: "Docker Compose version v2.29.1\n"},
		"python3 --version":                                           {Stdout: "Python 3.11.2\n"},
		"uname -r":                                                    {Stdout: "6.1.0-18-amd64\n"},
	}}
}

func byName(components []Component) map[string]Component {
	out := make(map[string]Component, len(components))
	for _, c := range components {
		out[c.Name] = c
	}
	return out
}

func TestScanVersionsAllCategories(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, healthyRunner(), infoFake{info: clusterInfo("nettap", "2.11.0")})
	all := byName(m.ScanVersions(context.Background()))

	assert.Equal(t, "1.4.2", all["nettapd"].CurrentVersion)
	assert.Equal(t, CategoryCore, all["nettapd"].Category)

	assert.Equal(t, "6.0.1", all["zeek"].CurrentVersion)
	assert.Equal(t, "7.0.2", all["suricata"].CurrentVersion)
	assert.Equal(t, StatusOK, all["zeek"].Status)

	assert.Equal(t, "27.1.1", all["docker"].CurrentVersion)
	assert.Equal(t, "2.29.1", all["docker-compose"].CurrentVersion)
	assert.Equal(t, "3.11.2", all["python3"].CurrentVersion)

	assert.Equal(t, "2.11.0", all["opensearch-cluster"].CurrentVersion)
	assert.Equal(t, "12", all["distro"].CurrentVersion)
	assert.Equal(t, "Debian GNU/Linux 12 (bookworm)", all["distro"].Details)
	assert.Equal(t, "6.1.0-18-amd64", all["kernel"].CurrentVersion)
}

func TestScanDegradesPerComponent(t *testing.T) {
	t.Parallel()

	// Nothing on the system answers; the cluster is down too.
	m, _ := newTestManager(t, &scriptedRunner{replies: map[string]command.Result{}},
		infoFake{err: errors.New("connection refused")})
	all := byName(m.ScanVersions(context.Background()))

	assert.Len(t, all, 12)
	for _, name := range []string{"zeek", "docker", "opensearch-cluster", "kernel"} {
		assert.Equal(t, StatusError, all[name].Status, name)
		assert.Equal(t, "unknown", all[name].CurrentVersion, name)
	}
	// The VERSION file still reads fine.
	assert.Equal(t, StatusOK, all["nettapd"].Status)
}

func TestGetVersionsCachesUntilTTL(t *testing.T) {
	t.Parallel()

	runner := healthyRunner()
	m, clock := newTestManager(t, runner, infoFake{info: clusterInfo("nettap", "2.11.0")})

	m.GetVersions(context.Background())
	first := runner.calls

	m.GetVersions(context.Background())
	assert.Equal(t, first, runner.calls, "within TTL, no rescan")

	clock.Advance(601 * time.Second)
	m.GetVersions(context.Background())
	assert.Greater(t, runner.calls, first, "stale cache triggers rescan")
}

func TestGetComponent(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, healthyRunner(), infoFake{info: clusterInfo("nettap", "2.11.0")})

	c, ok := m.GetComponent(context.Background(), "suricata")
	require.True(t, ok)
	assert.Equal(t, "7.0.2", c.CurrentVersion)

	_, ok = m.GetComponent(context.Background(), "nonexistent")
	assert.False(t, ok)
}

func TestParseVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Version
		ok   bool
	}{
		{"1.2.3", Version{1, 2, 3}, true},
		{"v1.2.3", Version{1, 2, 3}, true},
		{"1.2", Version{1, 2, 0}, true},
		{"7", Version{7, 0, 0}, true},
		{"2.11.0-alpha.1", Version{2, 11, 0}, true},
		{"1.2.3+build.99", Version{1, 2, 3}, true},
		{" v6.0.1 ", Version{6, 0, 1}, true},
		{"", Version{}, false},
		{"abc", Version{}, false},
		{"1.x.3", Version{}, false},
	}
	for _, tc := range tests {
		got, ok := ParseVersion(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		if tc.ok {
			assert.Equal(t, tc.want, got, tc.in)
		}
	}
}

func TestCompareVersions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		current, latest, want string
	}{
		{"1.2.3", "2.0.0", UpdateMajor},
		{"1.2.3", "1.3.0", UpdateMinor},
		{"1.2.3", "1.2.4", UpdatePatch},
		{"1.2.3", "1.2.3", UpdateSame},
		{"2.0.0", "1.9.9", UpdateSame},
		{"v1.2", "1.2.1", UpdatePatch},
		{"unknown", "1.2.3", UpdateUnknown},
		{"1.2.3", "latest", UpdateUnknown},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, CompareVersions(tc.current, tc.latest),
			"%s -> %s", tc.current, tc.latest)
	}
}

func TestCompareVersionsAntisymmetry(t *testing.T) {
	t.Parallel()

	pairs := [][2]string{
		{"1.0.0", "2.0.0"},
		{"1.1.0", "1.2.0"},
		{"1.1.1", "1.1.2"},
	}
	for _, p := range pairs {
		assert.NotEqual(t, UpdateSame, CompareVersions(p[0], p[1]))
		assert.Equal(t, UpdateSame, CompareVersions(p[1], p[0]))
	}
}

func TestImageTag(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "6.0.1", imageTag("zeek/zeek:6.0.1"))
	assert.Equal(t, "2.11.0", imageTag("registry:5000/opensearch:2.11.0"))
	assert.Equal(t, "ubuntu", imageTag("ubuntu"))
}
