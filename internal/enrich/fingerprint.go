package enrich

import (
	"context"
	"regexp"

	"github.com/rs/zerolog/log"

	"github.com/nettap/nettapd/internal/search"
)

// Index patterns for the passive fingerprinting lookups.
const (
	dhcpIndex = "zeek-dhcp-*"
	connIndex = "zeek-conn-*"
	dnsIndex  = "zeek-dns-*"
	httpIndex = "zeek-http-*"
	sslIndex  = "zeek-ssl-*"
)

// osPatterns maps User-Agent fragments to OS labels, most specific
// first. Order matters: "Windows NT 10" must win over plain "Windows".
var osPatterns = []struct {
	re    *regexp.Regexp
	label string
}{
	{regexp.MustCompile(`Windows NT 10\.0`), "Windows 10/11"},
	{regexp.MustCompile(`Windows NT 6\.3`), "Windows 8.1"},
	{regexp.MustCompile(`Windows NT 6\.2`), "Windows 8"},
	{regexp.MustCompile(`Windows NT 6\.1`), "Windows 7"},
	{regexp.MustCompile(`Windows NT`), "Windows (legacy)"},
	{regexp.MustCompile(`iPhone|iPad`), "iOS"},
	{regexp.MustCompile(`Macintosh|Mac OS X`), "macOS"},
	{regexp.MustCompile(`Android`), "Android"},
	{regexp.MustCompile(`CrOS`), "ChromeOS"},
	{regexp.MustCompile(`PlayStation`), "PlayStation"},
	{regexp.MustCompile(`Xbox`), "Xbox"},
	{regexp.MustCompile(`Nintendo`), "Nintendo"},
	{regexp.MustCompile(`SmartTV|SMART-TV|Tizen`), "Smart TV"},
	{regexp.MustCompile(`Linux`), "Linux"},
}

// Fingerprinter infers device identity attributes from passive
// telemetry. Every lookup is best-effort: an OpenSearch failure is
// logged at debug and yields an absent result, never an error.
type Fingerprinter struct {
	client search.Searcher
}

// NewFingerprinter creates a Fingerprinter over the shared client.
func NewFingerprinter(client search.Searcher) *Fingerprinter {
	return &Fingerprinter{client: client}
}

// MAC finds the hardware address most recently associated with an IP.
// DHCP leases are authoritative; layer-2 sightings on conn logs are
// the fallback.
func (f *Fingerprinter) MAC(ctx context.Context, ip string, tr search.TimeRange) (string, bool) {
	body := search.Body{
		Query: search.BoolQuery{
			Filter: []search.M{
				search.Term("client_addr", ip),
				search.TimeRangeFilter(tr),
			},
		}.Build(),
		Size: search.IntPtr(1),
		Sort: search.SortByTimeDesc(),
	}.Build()

	if result, err := f.client.Search(ctx, dhcpIndex, body); err == nil {
		for _, hit := range result.Hits {
			if mac, ok := hit.Source["mac"].(string); ok && mac != "" {
				return NormalizeMAC(mac), true
			}
		}
	} else {
		log.Debug().Err(err).Str("ip", ip).Msg("DHCP MAC lookup failed")
	}

	body = search.Body{
		Query: search.BoolQuery{
			Filter: []search.M{
				search.Term("id.orig_h", ip),
				search.Exists("orig_l2_addr"),
				search.TimeRangeFilter(tr),
			},
		}.Build(),
		Size: search.IntPtr(1),
		Sort: search.SortByTimeDesc(),
	}.Build()

	if result, err := f.client.Search(ctx, connIndex, body); err == nil {
		for _, hit := range result.Hits {
			if mac, ok := hit.Source["orig_l2_addr"].(string); ok && mac != "" {
				return NormalizeMAC(mac), true
			}
		}
	} else {
		log.Debug().Err(err).Str("ip", ip).Msg("Conn MAC lookup failed")
	}

	return "", false
}

// Hostname finds the DNS name most often resolving to an IP.
func (f *Fingerprinter) Hostname(ctx context.Context, ip string, tr search.TimeRange) (string, bool) {
	body := search.Body{
		Query: search.BoolQuery{
			Filter: []search.M{
				search.Term("answers", ip),
				search.TimeRangeFilter(tr),
			},
		}.Build(),
		Aggs: search.M{"names": search.TermsAgg("query", 1, nil)},
		Size: search.IntPtr(0),
	}.Build()

	result, err := f.client.Search(ctx, dnsIndex, body)
	if err != nil {
		log.Debug().Err(err).Str("ip", ip).Msg("Hostname lookup failed")
		return "", false
	}
	buckets := result.Buckets("names")
	if len(buckets) == 0 {
		return "", false
	}
	return buckets[0].KeyString(), true
}

// OSHint guesses the operating system from the device's most common
// HTTP User-Agent, falling back to TLS fingerprinting.
func (f *Fingerprinter) OSHint(ctx context.Context, ip string, tr search.TimeRange) (string, bool) {
	body := search.Body{
		Query: search.BoolQuery{
			Filter: []search.M{
				search.Term("id.orig_h", ip),
				search.TimeRangeFilter(tr),
			},
		}.Build(),
		Aggs: search.M{"agents": search.TermsAgg("user_agent", 1, nil)},
		Size: search.IntPtr(0),
	}.Build()

	result, err := f.client.Search(ctx, httpIndex, body)
	if err != nil {
		log.Debug().Err(err).Str("ip", ip).Msg("User-Agent lookup failed")
		return f.osFromJA3(ctx, ip, tr)
	}
	for _, bucket := range result.Buckets("agents") {
		if label, ok := osFromUserAgent(bucket.KeyString()); ok {
			return label, true
		}
	}
	return f.osFromJA3(ctx, ip, tr)
}

// osFromJA3 would match TLS client fingerprints against a JA3 table.
// No curated table ships yet, so the hint is always absent.
func (f *Fingerprinter) osFromJA3(ctx context.Context, ip string, tr search.TimeRange) (string, bool) {
	return "", false
}

func osFromUserAgent(userAgent string) (string, bool) {
	for _, p := range osPatterns {
		if p.re.MatchString(userAgent) {
			return p.label, true
		}
	}
	return "", false
}
