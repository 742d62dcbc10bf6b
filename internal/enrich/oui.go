package enrich

import (
	"bufio"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// OUITable resolves MAC address prefixes to manufacturer names.
type OUITable struct {
	mu       sync.RWMutex
	prefixes map[string]string
}

// LoadOUITable reads a tab-separated "prefix\tmanufacturer" file.
// Blank lines and #-comments are skipped. A missing file yields an
// empty table with a warning; lookups then return "Unknown".
func LoadOUITable(path string) *OUITable {
	table := &OUITable{prefixes: map[string]string{}}

	file, err := os.Open(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("OUI table unavailable, manufacturer lookups disabled")
		return table
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			continue
		}
		prefix := normalizeOUIPrefix(parts[0])
		manufacturer := strings.TrimSpace(parts[1])
		if prefix == "" || manufacturer == "" {
			continue
		}
		table.prefixes[prefix] = manufacturer
	}
	if err := scanner.Err(); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("OUI table read incomplete")
	}

	log.Info().Int("entries", len(table.prefixes)).Str("path", path).Msg("Loaded OUI table")
	return table
}

// Lookup returns the manufacturer for a MAC address, or "Unknown".
// Colon, dash and dot separators are accepted in any mix.
func (t *OUITable) Lookup(mac string) string {
	prefix := ouiPrefix(mac)
	if prefix == "" {
		return "Unknown"
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if manufacturer, ok := t.prefixes[prefix]; ok {
		return manufacturer
	}
	return "Unknown"
}

// Len reports the number of loaded prefixes.
func (t *OUITable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.prefixes)
}

// NormalizeMAC renders a MAC address as colon-separated uppercase
// octets. Returns "" when the input does not contain 12 hex digits.
func NormalizeMAC(mac string) string {
	hex := extractHex(mac)
	if len(hex) != 12 {
		return ""
	}
	var b strings.Builder
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(hex[i : i+2])
	}
	return b.String()
}

// ouiPrefix returns the first three octets, colon-separated uppercase.
func ouiPrefix(mac string) string {
	normalized := NormalizeMAC(mac)
	if normalized == "" {
		return ""
	}
	return normalized[:8]
}

func normalizeOUIPrefix(raw string) string {
	hex := extractHex(raw)
	if len(hex) < 6 {
		return ""
	}
	return hex[0:2] + ":" + hex[2:4] + ":" + hex[4:6]
}

func extractHex(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(raw)) {
		switch {
		case r >= '0' && r <= '9', r >= 'A' && r <= 'F':
			b.WriteRune(r)
		case r == ':' || r == '-' || r == '.':
			// separator, skip
		default:
			return ""
		}
	}
	return b.String()
}
