package updates

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nettap/nettapd/internal/command"
	"github.com/nettap/nettapd/internal/versions"
)

// versionManagerFor builds a real version manager fed by canned
// subprocess output so the checker sees known current versions.
func versionManagerFor(t *testing.T, daemonVersion, suricataTag string) *versions.Manager {
	t.Helper()
	dir := t.TempDir()
	versionFile := filepath.Join(dir, "VERSION")
	require.NoError(t, os.WriteFile(versionFile, []byte(daemonVersion+"\n"), 0o644))
	osRelease := filepath.Join(dir, "os-release")
	require.NoError(t, os.WriteFile(osRelease, []byte("VERSION_ID=\"12\"\n"), 0o644))

	runner := &scriptedRunner{replies: map[string]command.Result{
		"docker inspect -f {{index .Config.Image}} nettap-suricata": {
			Stdout: "jasonish/suricata:" + suricataTag + "\n",
		},
	}}
	return versions.NewManager(versions.Config{
		VersionFile:   versionFile,
		OSReleaseFile: osRelease,
	}, runner, nil)
}

func newTestChecker(t *testing.T, vm *versions.Manager, github, dockerhub http.HandlerFunc) (*Checker, func()) {
	t.Helper()
	gh := httptest.NewServer(github)
	dh := httptest.NewServer(dockerhub)

	rules := filepath.Join(t.TempDir(), "suricata.rules")
	require.NoError(t, os.WriteFile(rules, []byte("alert tcp any any -> any any\n"), 0o644))

	c := NewChecker(CheckerConfig{
		GitHubBaseURL:    gh.URL,
		DockerHubBaseURL: dh.URL,
		GitHubRepo:       "nettap/nettapd",
		RulesPath:        rules,
		GeoIPPath:        filepath.Join(t.TempDir(), "missing.mmdb"),
	}, vm)
	return c, func() {
		gh.Close()
		dh.Close()
	}
}

func TestCheckUpdatesFindsDaemonRelease(t *testing.T) {
	t.Parallel()

	vm := versionManagerFor(t, "1.4.2", "7.0.2")
	c, done := newTestChecker(t, vm,
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/repos/nettap/nettapd/releases/latest", r.URL.Path)
			w.Write([]byte(`{"tag_name": "v1.5.0"}`))
		},
		func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"results": [{"name": "latest"}, {"name": "7.0.2"}]}`))
		})
	defer done()

	c.CheckUpdates(context.Background())

	info, ok := c.GetUpdateFor("nettapd")
	require.True(t, ok)
	assert.Equal(t, "v1.5.0", info.LatestVersion)
	assert.Equal(t, versions.UpdateMinor, info.UpdateType)
	assert.Equal(t, SourceGitHub, info.Source)

	// suricata is current, so no entry.
	_, ok = c.GetUpdateFor("suricata")
	assert.False(t, ok)
}

func TestCheckUpdatesContainerTag(t *testing.T) {
	t.Parallel()

	vm := versionManagerFor(t, "1.4.2", "7.0.2")
	c, done := newTestChecker(t, vm,
		func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"tag_name": "v1.4.2"}`))
		},
		func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"results": [{"name": "latest"}, {"name": "master"}, {"name": "7.0.3"}]}`))
		})
	defer done()

	c.CheckUpdates(context.Background())

	info, ok := c.GetUpdateFor("suricata")
	require.True(t, ok)
	assert.Equal(t, "7.0.3", info.LatestVersion)
	assert.Equal(t, versions.UpdatePatch, info.UpdateType)
	assert.Equal(t, SourceDockerHub, info.Source)
}

func TestCheckUpdatesUpstreamFailureIsSilent(t *testing.T) {
	t.Parallel()

	vm := versionManagerFor(t, "1.4.2", "7.0.2")
	c, done := newTestChecker(t, vm,
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden) // rate limited
		},
		func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`not json`))
		})
	defer done()

	available := c.CheckUpdates(context.Background())
	for _, info := range available {
		assert.NotEqual(t, "nettapd", info.Component)
		assert.NotEqual(t, "suricata", info.Component)
	}
}

func TestCheckUpdatesStaleRulesFile(t *testing.T) {
	t.Parallel()

	vm := versionManagerFor(t, "1.4.2", "7.0.2")
	c, done := newTestChecker(t, vm,
		func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"tag_name": "v1.4.2"}`)) },
		func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"results": []}`)) })
	defer done()

	// Age the ruleset past the refresh threshold.
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(c.cfg.RulesPath, old, old))

	c.CheckUpdates(context.Background())

	info, ok := c.GetUpdateFor("suricata-rules")
	require.True(t, ok)
	assert.Equal(t, SourceFileAge, info.Source)

	// The GeoIP path does not exist: no entry, no error.
	_, ok = c.GetUpdateFor("geoip-db")
	assert.False(t, ok)
}
