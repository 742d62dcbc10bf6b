package enrich

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeOUIFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "oui.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadOUITable(t *testing.T) {
	t.Parallel()

	path := writeOUIFile(t, `# manufacturer prefixes
B8:27:EB	Raspberry Pi Foundation
00:1A:2B	Example Corp

DC-A6-32	Raspberry Pi Trading
`)

	table := LoadOUITable(path)
	assert.Equal(t, 3, table.Len())
	assert.Equal(t, "Raspberry Pi Foundation", table.Lookup("b8:27:eb:01:02:03"))
	assert.Equal(t, "Raspberry Pi Trading", table.Lookup("DC:A6:32:AA:BB:CC"))
}

func TestLookupSeparatorVariants(t *testing.T) {
	t.Parallel()

	path := writeOUIFile(t, "B8:27:EB\tRaspberry Pi Foundation\n")
	table := LoadOUITable(path)

	for _, mac := range []string{
		"B8:27:EB:11:22:33",
		"b8-27-eb-11-22-33",
		"b827.eb11.2233",
		"B827EB112233",
	} {
		assert.Equal(t, "Raspberry Pi Foundation", table.Lookup(mac), mac)
	}
}

func TestLookupUnknownAndMalformed(t *testing.T) {
	t.Parallel()

	path := writeOUIFile(t, "B8:27:EB\tRaspberry Pi Foundation\n")
	table := LoadOUITable(path)

	assert.Equal(t, "Unknown", table.Lookup("00:11:22:33:44:55"))
	assert.Equal(t, "Unknown", table.Lookup("not a mac"))
	assert.Equal(t, "Unknown", table.Lookup(""))
	assert.Equal(t, "Unknown", table.Lookup("B8:27"))
	assert.Equal(t, "Unknown", table.Lookup("ZZ:27:EB:11:22:33"))
}

func TestLoadOUITableMissingFile(t *testing.T) {
	t.Parallel()

	table := LoadOUITable(filepath.Join(t.TempDir(), "absent.txt"))
	assert.Equal(t, 0, table.Len())
	assert.Equal(t, "Unknown", table.Lookup("B8:27:EB:11:22:33"))
}

func TestNormalizeMAC(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "B8:27:EB:11:22:33", NormalizeMAC("b827.eb11.2233"))
	assert.Equal(t, "B8:27:EB:11:22:33", NormalizeMAC("b8-27-eb-11-22-33"))
	assert.Equal(t, "", NormalizeMAC("b827eb1122"))
	assert.Equal(t, "", NormalizeMAC("hello world"))
}
