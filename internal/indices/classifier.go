package indices

import (
	"regexp"
	"strings"
	"time"
)

// Tier names for time-sharded indices. The tier decides which retention
// window applies and in which order the pruner visits the index.
const (
	TierHot     = "hot"
	TierWarm    = "warm"
	TierCold    = "cold"
	TierUnknown = "unknown"
)

// tierPrefixes maps index-name prefixes to tiers. Arkime session data
// is cheapest to re-ingest, Zeek logs are the most valuable.
var tierPrefixes = []struct {
	prefix string
	tier   string
}{
	{"arkime", TierCold},
	{"sessions", TierCold},
	{"suricata", TierWarm},
	{"zeek", TierHot},
}

// Date patterns anchored at end of name, tried in order.
var datePatterns = []struct {
	re     *regexp.Regexp
	layout string
}{
	{regexp.MustCompile(`(\d{4})\.(\d{2})\.(\d{2})$`), "2006.01.02"},
	{regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})$`), "2006-01-02"},
	{regexp.MustCompile(`(\d{6})$`), "060102"},
}

// Tier classifies an index name by case-insensitive prefix match.
func Tier(name string) string {
	lower := strings.ToLower(name)
	for _, p := range tierPrefixes {
		if strings.HasPrefix(lower, p.prefix) {
			return p.tier
		}
	}
	return TierUnknown
}

// IndexDate extracts the shard date from an index name. It tries the
// dotted, dashed and compact YYMMDD patterns in order and returns the
// first that parses to a valid calendar date at UTC midnight.
func IndexDate(name string) (time.Time, bool) {
	for _, p := range datePatterns {
		match := p.re.FindString(name)
		if match == "" {
			continue
		}
		t, err := time.ParseInLocation(p.layout, match, time.UTC)
		if err != nil {
			continue
		}
		return t, true
	}
	return time.Time{}, false
}

// IsSystem reports whether the name denotes an internal index. System
// indices are never eligible for retention pruning.
func IsSystem(name string) bool {
	return strings.HasPrefix(name, ".")
}
