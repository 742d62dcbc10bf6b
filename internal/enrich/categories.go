package enrich

import (
	"context"
	"sort"
	"strings"

	wildcard "github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/rs/zerolog/log"

	"github.com/nettap/nettapd/internal/search"
)

// domainRules are ordered glob patterns, most specific first. The
// first match wins.
var domainRules = []struct {
	pattern  string
	category string
}{
	{"*.youtube.com", "streaming"},
	{"*.netflix.com", "streaming"},
	{"*.nflxvideo.net", "streaming"},
	{"*.hulu.com", "streaming"},
	{"*.twitch.tv", "streaming"},
	{"*.spotify.com", "streaming"},
	{"*.facebook.com", "social"},
	{"*.fbcdn.net", "social"},
	{"*.instagram.com", "social"},
	{"*.twitter.com", "social"},
	{"*.x.com", "social"},
	{"*.tiktok.com", "social"},
	{"*.tiktokcdn.com", "social"},
	{"*.reddit.com", "social"},
	{"*.steampowered.com", "gaming"},
	{"*.steamcontent.com", "gaming"},
	{"*.epicgames.com", "gaming"},
	{"*.playstation.net", "gaming"},
	{"*.xboxlive.com", "gaming"},
	{"*.nintendo.net", "gaming"},
	{"*.zoom.us", "conferencing"},
	{"*.teams.microsoft.com", "conferencing"},
	{"*.meet.google.com", "conferencing"},
	{"*.webex.com", "conferencing"},
	{"*.windowsupdate.com", "updates"},
	{"*.update.microsoft.com", "updates"},
	{"*.swcdn.apple.com", "updates"},
	{"*.archive.ubuntu.com", "updates"},
	{"*.icloud.com", "cloud"},
	{"*.dropbox.com", "cloud"},
	{"*.drive.google.com", "cloud"},
	{"*.onedrive.com", "cloud"},
	{"*.s3.amazonaws.com", "cloud"},
	{"*.amazon.com", "shopping"},
	{"*.ebay.com", "shopping"},
	{"*.doubleclick.net", "advertising"},
	{"*.googlesyndication.com", "advertising"},
	{"*.adnxs.com", "advertising"},
	{"*.googleapis.com", "cloud"},
	{"*.google.com", "search"},
	{"*.bing.com", "search"},
	{"*.duckduckgo.com", "search"},
}

// serviceCategories maps Zeek service labels to categories.
var serviceCategories = map[string]string{
	"dns":      "infrastructure",
	"ntp":      "infrastructure",
	"dhcp":     "infrastructure",
	"http":     "web",
	"https":    "web",
	"ssl":      "web",
	"quic":     "web",
	"smtp":     "email",
	"imap":     "email",
	"pop3":     "email",
	"ssh":      "remote_access",
	"rdp":      "remote_access",
	"vnc":      "remote_access",
	"ftp":      "file_transfer",
	"smb":      "file_transfer",
	"nfs":      "file_transfer",
	"sip":      "voip",
	"rtp":      "voip",
}

// portCategories maps well-known ports to categories, used only when
// neither domain nor service classified the flow.
var portCategories = map[int]string{
	53:   "infrastructure",
	123:  "infrastructure",
	67:   "infrastructure",
	68:   "infrastructure",
	80:   "web",
	443:  "web",
	8080: "web",
	8443: "web",
	25:   "email",
	465:  "email",
	587:  "email",
	993:  "email",
	995:  "email",
	22:   "remote_access",
	3389: "remote_access",
	5900: "remote_access",
	21:   "file_transfer",
	445:  "file_transfer",
	2049: "file_transfer",
	5060: "voip",
	5061: "voip",
}

// CategoryStat is aggregate traffic attributed to one category.
type CategoryStat struct {
	Category    string `json:"category"`
	Connections int64  `json:"connections"`
	TotalBytes  int64  `json:"total_bytes"`
}

// Classify assigns a traffic category from whichever evidence is
// available: domain first, then service, then port.
func Classify(service, domain string, port int) string {
	if category := classifyDomain(domain); category != "other" {
		return category
	}
	if category := classifyService(service); category != "other" {
		return category
	}
	return classifyPort(port)
}

func classifyDomain(domain string) string {
	if domain == "" {
		return "other"
	}
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))
	for _, rule := range domainRules {
		if wildcard.Match(rule.pattern, domain) || wildcard.Match(strings.TrimPrefix(rule.pattern, "*."), domain) {
			return rule.category
		}
	}
	return "other"
}

func classifyService(service string) string {
	if category, ok := serviceCategories[strings.ToLower(service)]; ok {
		return category
	}
	return "other"
}

func classifyPort(port int) string {
	if category, ok := portCategories[port]; ok {
		return category
	}
	return "other"
}

// CategoryStats aggregates traffic categories over a time range: top
// DNS queries contribute connection counts, top services contribute
// byte volumes. Categories with no traffic are omitted; the result is
// sorted by total bytes descending.
func CategoryStats(ctx context.Context, client search.Searcher, tr search.TimeRange) []CategoryStat {
	totals := map[string]*CategoryStat{}
	get := func(category string) *CategoryStat {
		if stat, ok := totals[category]; ok {
			return stat
		}
		stat := &CategoryStat{Category: category}
		totals[category] = stat
		return stat
	}

	dnsBody := search.Body{
		Query: search.BoolQuery{Filter: []search.M{search.TimeRangeFilter(tr)}}.Build(),
		Aggs:  search.M{"queries": search.TermsAgg("query", 100, nil)},
		Size:  search.IntPtr(0),
	}.Build()

	if result, err := client.Search(ctx, dnsIndex, dnsBody); err == nil {
		for _, bucket := range result.Buckets("queries") {
			category := classifyDomain(bucket.KeyString())
			if category == "other" {
				continue
			}
			get(category).Connections += bucket.DocCount
		}
	} else {
		log.Debug().Err(err).Msg("DNS category aggregation failed")
	}

	connBody := search.Body{
		Query: search.BoolQuery{Filter: []search.M{search.TimeRangeFilter(tr)}}.Build(),
		Aggs: search.M{"services": search.TermsAgg("service", 30, search.M{
			"bytes": search.ScriptedTotalBytesAgg(),
		})},
		Size: search.IntPtr(0),
	}.Build()

	if result, err := client.Search(ctx, connIndex, connBody); err == nil {
		for _, bucket := range result.Buckets("services") {
			category := classifyService(bucket.KeyString())
			if category == "other" {
				continue
			}
			stat := get(category)
			stat.TotalBytes += int64(bucket.SumValue("bytes"))
			stat.Connections += bucket.DocCount
		}
	} else {
		log.Debug().Err(err).Msg("Service category aggregation failed")
	}

	out := make([]CategoryStat, 0, len(totals))
	for _, stat := range totals {
		out = append(out, *stat)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalBytes != out[j].TotalBytes {
			return out[i].TotalBytes > out[j].TotalBytes
		}
		return out[i].Connections > out[j].Connections
	})
	return out
}
