package tshark

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nettap/nettapd/internal/command"
	svcerr "github.com/nettap/nettapd/internal/errors"
)

// recordingRunner captures argv and plays back a canned result.
type recordingRunner struct {
	result command.Result
	err    error
	calls  [][]string
}

func (r *recordingRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (command.Result, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	return r.result, r.err
}

func newTestGateway(runner command.Runner) *Gateway {
	return NewGateway(Config{
		Container: "nettap-tshark",
		BaseDir:   "/opt/nettap/pcap",
		MountDir:  "/pcap",
	}, runner)
}

func TestPathTraversalRejected(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{}
	g := newTestGateway(runner)
	t.Cleanup(g.Close)

	_, err := g.Analyze(context.Background(), Request{PcapPath: "../etc/passwd.pcap"})
	require.Error(t, err)
	assert.ErrorIs(t, err, svcerr.ErrInvalidInput)
	assert.Contains(t, err.Error(), "traversal detected")
	assert.Empty(t, runner.calls, "no subprocess may be spawned for a rejected request")
}

func TestPathValidationTable(t *testing.T) {
	t.Parallel()

	g := newTestGateway(&recordingRunner{})
	t.Cleanup(g.Close)

	tests := []struct {
		name    string
		path    string
		mapped  string
		wantErr string
	}{
		{"relative ok", "capture.pcap", "/pcap/capture.pcap", ""},
		{"nested relative", "2026/02/session.pcapng", "/pcap/2026/02/session.pcapng", ""},
		{"absolute under base", "/opt/nettap/pcap/session.cap", "/pcap/session.cap", ""},
		{"absolute outside base", "/etc/shadow.pcap", "", "traversal detected"},
		{"dotdot absolute", "/opt/nettap/pcap/../../etc/x.pcap", "", "traversal detected"},
		{"dotdot relative", "../x.pcap", "", "traversal detected"},
		{"hidden dotdot", "a/../../x.pcap", "", "traversal detected"},
		{"wrong extension", "notes.txt", "", "extension"},
		{"empty path", "", "", "required"},
		{"bare base dir", "/opt/nettap/pcap", "", "extension"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mapped, err := g.mapPcapPath(tc.path)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.mapped, mapped)
		})
	}
}

func TestFilterValidation(t *testing.T) {
	t.Parallel()

	g := newTestGateway(&recordingRunner{})
	t.Cleanup(g.Close)

	base := Request{PcapPath: "a.pcap"}

	ok := base
	ok.DisplayFilter = "tcp.port == 443 && ip.addr == 10.0.0.5 || dns"
	_, err := g.validate(&ok)
	assert.NoError(t, err, "native filter operators are allowed")

	for _, bad := range []string{
		"tcp; rm -rf /",
		"tcp `id`",
		"tcp $PATH",
		`tcp "x"`,
		"tcp 'x'",
		"tcp\nudp",
	} {
		req := base
		req.DisplayFilter = bad
		_, err := g.validate(&req)
		assert.Error(t, err, bad)
	}

	long := base
	long.DisplayFilter = string(make([]byte, maxFilterLength+1))
	_, err = g.validate(&long)
	assert.Error(t, err)
}

func TestFieldValidation(t *testing.T) {
	t.Parallel()

	g := newTestGateway(&recordingRunner{})
	t.Cleanup(g.Close)

	req := Request{PcapPath: "a.pcap", Fields: []string{"ip.src", "tcp.port", "dns.qry_name"}}
	_, err := g.validate(&req)
	assert.NoError(t, err)

	for _, bad := range []string{"ip.src; id", "IP.SRC", "tcp port", "a-b"} {
		req := Request{PcapPath: "a.pcap", Fields: []string{bad}}
		_, err := g.validate(&req)
		assert.Error(t, err, bad)
	}

	many := Request{PcapPath: "a.pcap"}
	for i := 0; i <= maxFields; i++ {
		many.Fields = append(many.Fields, "ip.src")
	}
	_, err = g.validate(&many)
	assert.Error(t, err)
}

func TestMaxPacketsClamping(t *testing.T) {
	t.Parallel()

	g := newTestGateway(&recordingRunner{})
	t.Cleanup(g.Close)

	tests := []struct {
		in, out int
	}{
		{0, defaultPackets},
		{-5, 1},
		{1, 1},
		{500, 500},
		{5000, maxPacketLimit},
	}
	for _, tc := range tests {
		req := Request{PcapPath: "a.pcap", MaxPackets: tc.in}
		_, err := g.validate(&req)
		require.NoError(t, err)
		assert.Equal(t, tc.out, req.MaxPackets)
	}
}

func TestBuildArgs(t *testing.T) {
	t.Parallel()

	g := newTestGateway(&recordingRunner{})
	t.Cleanup(g.Close)

	args := g.buildArgs(Request{
		MaxPackets:    100,
		DisplayFilter: "tcp.port == 443",
		OutputFormat:  "json",
	}, "/pcap/a.pcap")
	assert.Equal(t, []string{
		"exec", "nettap-tshark", "tshark",
		"-r", "/pcap/a.pcap", "-c", "100",
		"-Y", "tcp.port == 443", "-T", "json",
	}, args)

	args = g.buildArgs(Request{
		MaxPackets: 10,
		Fields:     []string{"ip.src", "ip.dst"},
	}, "/pcap/a.pcap")
	assert.Equal(t, []string{
		"exec", "nettap-tshark", "tshark",
		"-r", "/pcap/a.pcap", "-c", "10",
		"-T", "fields", "-e", "ip.src", "-e", "ip.dst",
		"-E", "header=y", "-E", "separator=\t",
	}, args)
}

func TestAnalyzeJSON(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{result: command.Result{
		Stdout: `[{"_index": "packets", "layers": {"ip": {}}}, {"_index": "packets"}]`,
	}}
	g := newTestGateway(runner)
	t.Cleanup(g.Close)

	result, err := g.Analyze(context.Background(), Request{
		PcapPath:     "a.pcap",
		OutputFormat: "json",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.PacketCount)
	assert.Len(t, result.Packets, 2)
	require.Len(t, runner.calls, 1)
	assert.Equal(t, "docker", runner.calls[0][0])
}

func TestAnalyzeText(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{result: command.Result{
		Stdout: "  1 0.000 10.0.0.5 -> 1.1.1.1 DNS query\n  2 0.020 1.1.1.1 -> 10.0.0.5 DNS response\n",
	}}
	g := newTestGateway(runner)
	t.Cleanup(g.Close)

	result, err := g.Analyze(context.Background(), Request{
		PcapPath:     "a.pcap",
		OutputFormat: "text",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.PacketCount)
	assert.Equal(t, 1, result.Packets[0]["no"])
	assert.Contains(t, result.Packets[0]["raw"], "DNS query")
}

func TestAnalyzeTimeoutIsValidationError(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{
		result: command.Result{TimedOut: true, Code: -1},
		err:    context.DeadlineExceeded,
	}
	g := newTestGateway(runner)
	t.Cleanup(g.Close)

	_, err := g.Analyze(context.Background(), Request{PcapPath: "a.pcap"})
	require.Error(t, err)
	assert.ErrorIs(t, err, svcerr.ErrInvalidInput)
	assert.Contains(t, err.Error(), "timed out")
}

func TestAnalyzeNonZeroExit(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{result: command.Result{
		Code:   2,
		Stderr: "tshark: The file \"/pcap/a.pcap\" doesn't exist.\n",
	}}
	g := newTestGateway(runner)
	t.Cleanup(g.Close)

	_, err := g.Analyze(context.Background(), Request{PcapPath: "a.pcap"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited 2")
}

func TestGetVersionCaches(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{result: command.Result{
		Stdout: "TShark (Wireshark) 4.2.0\nCopyright 1998-2023\n",
	}}
	g := newTestGateway(runner)
	t.Cleanup(g.Close)

	v1, err := g.GetVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "TShark (Wireshark) 4.2.0", v1)

	_, err = g.GetVersion(context.Background())
	require.NoError(t, err)
	assert.Len(t, runner.calls, 1, "second call served from cache")
}

func TestGetProtocols(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{result: command.Result{
		Stdout: "Transmission Control Protocol\tTCP\ttcp\nDomain Name System\tDNS\tdns\n",
	}}
	g := newTestGateway(runner)
	t.Cleanup(g.Close)

	protocols, err := g.GetProtocols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"tcp", "dns"}, protocols)
}

func TestGetFieldsPrefixFilter(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{result: command.Result{
		Stdout: "F\tSource Address\tip.src\nF\tDestination Address\tip.dst\nF\tQuery Name\tdns.qry.name\n",
	}}
	g := newTestGateway(runner)
	t.Cleanup(g.Close)

	fields, err := g.GetFields(context.Background(), "ip.")
	require.NoError(t, err)
	assert.Equal(t, []string{"ip.src", "ip.dst"}, fields)
}

func TestIsAvailable(t *testing.T) {
	t.Parallel()

	g := newTestGateway(&recordingRunner{result: command.Result{Stdout: "true\n"}})
	t.Cleanup(g.Close)
	assert.True(t, g.IsAvailable(context.Background()))

	g2 := newTestGateway(&recordingRunner{err: errors.New("docker not found")})
	t.Cleanup(g2.Close)
	assert.False(t, g2.IsAvailable(context.Background()))
}
