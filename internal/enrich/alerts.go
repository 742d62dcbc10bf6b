package enrich

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

// SIDInfo is the curated explanation for one Suricata signature ID.
type SIDInfo struct {
	Description    string `json:"description"`
	RiskContext    string `json:"risk_context"`
	Recommendation string `json:"recommendation"`
}

// AlertEnricher attaches plain-language descriptions, risk context and
// recommendations to raw Suricata alerts. Curated SID entries win;
// otherwise the signature prefix decides the category.
type AlertEnricher struct {
	sids map[string]SIDInfo
}

// categoryPrefixes maps Emerging Threats rule-set prefixes to
// categories, most specific first.
var categoryPrefixes = []struct {
	prefix   string
	category string
}{
	{"ET MALWARE", "malware"},
	{"ET SCAN", "scan"},
	{"ET TROJAN", "trojan"},
	{"ET EXPLOIT", "exploit"},
	{"ET POLICY", "policy"},
	{"ET INFO", "info"},
	{"ET DNS", "dns"},
	{"ET WEB_SERVER", "web_server"},
	{"ET WEB_CLIENT", "web_client"},
	{"ET HUNTING", "hunting"},
	{"ET CURRENT_EVENTS", "current_events"},
	{"ET ATTACK_RESPONSE", "attack_response"},
	{"ET DOS", "dos"},
	{"ET DROP", "drop"},
	{"GPL", "gpl"},
}

var categoryDescriptions = map[string]string{
	"malware":         "Potential malware activity detected",
	"scan":            "Network scanning activity detected",
	"trojan":          "Trojan communication pattern detected",
	"exploit":         "Exploitation attempt detected",
	"policy":          "Policy violation detected",
	"info":            "Informational network event",
	"dns":             "Suspicious DNS activity detected",
	"web_server":      "Web server attack pattern detected",
	"web_client":      "Web client attack pattern detected",
	"hunting":         "Threat hunting indicator matched",
	"current_events":  "Activity matching a current threat campaign",
	"attack_response": "Possible response to a successful attack",
	"dos":             "Denial of service pattern detected",
	"drop":            "Traffic to a known-bad address detected",
	"gpl":             "Legacy signature matched",
	"other":           "Network security event detected",
}

// severityRisk is the default risk context by Suricata severity
// (1 = highest).
var severityRisk = map[int]string{
	1: "High risk: this alert class is strongly associated with active compromise.",
	2: "Medium risk: this activity is suspicious and warrants review.",
	3: "Low risk: likely informational, review if it recurs.",
}

// categorySeverityRisk overrides the default for the categories where
// severity alone understates the risk.
var categorySeverityRisk = map[string]map[int]string{
	"malware": {
		1: "Critical: malware command-and-control or payload delivery is likely active on this device.",
		2: "High risk: malware-associated traffic observed; the device may be infected.",
		3: "Medium risk: traffic matches known malware infrastructure.",
	},
	"trojan": {
		1: "Critical: trojan activity indicates the device is likely compromised.",
		2: "High risk: trojan-associated communication observed.",
		3: "Medium risk: traffic matches known trojan patterns.",
	},
	"exploit": {
		1: "Critical: an exploitation attempt against this device or service was detected.",
		2: "High risk: exploit traffic observed; verify the target service is patched.",
		3: "Medium risk: possible exploit probing.",
	},
	"scan": {
		1: "High risk: aggressive scanning often precedes an attack.",
		2: "Medium risk: the device is being probed or is probing others.",
		3: "Low risk: routine scanning noise from the internet.",
	},
}

var categoryRecommendations = map[string]string{
	"malware":         "Isolate the device and run a full anti-malware scan. Review its recent connections.",
	"trojan":          "Isolate the device and investigate for persistence mechanisms.",
	"exploit":         "Patch the targeted service and review logs for successful exploitation.",
	"scan":            "Verify firewall rules; block the scanning source if external.",
	"policy":          "Confirm the activity is sanctioned by your usage policy.",
	"info":            "No action required unless the pattern repeats unexpectedly.",
	"dns":             "Review the queried domains and consider blocking them at the resolver.",
	"web_server":      "Review web server access logs and ensure the server is patched.",
	"web_client":      "Check the client device's browser and plugins for compromise.",
	"hunting":         "Correlate with other alerts from the same device before acting.",
	"current_events":  "Check threat intelligence for the referenced campaign.",
	"attack_response": "Treat as a likely compromise: investigate the device immediately.",
	"dos":             "Verify service availability and consider rate limiting at the edge.",
	"drop":            "Traffic was matched against a blocklist; verify the device's behaviour.",
	"gpl":             "Review the matched signature; legacy rules can be noisy.",
	"other":           "Review the alert details and the device's recent activity.",
}

// NewAlertEnricher loads the curated SID map from a JSON file of the
// form {"2027863": {"description": ..., ...}}. A missing or corrupt
// file yields an enricher that relies on prefix categories only.
func NewAlertEnricher(path string) *AlertEnricher {
	enricher := &AlertEnricher{sids: map[string]SIDInfo{}}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Alert description map unavailable, using category fallbacks")
		return enricher
	}
	if err := json.Unmarshal(data, &enricher.sids); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Alert description map corrupt, using category fallbacks")
		enricher.sids = map[string]SIDInfo{}
	}

	log.Info().Int("entries", len(enricher.sids)).Msg("Loaded alert description map")
	return enricher
}

// Enrich returns a copy of the alert document with plain_description,
// risk_context and recommendation added. All original fields are
// preserved.
func (e *AlertEnricher) Enrich(alert map[string]any) map[string]any {
	out := make(map[string]any, len(alert)+3)
	for k, v := range alert {
		out[k] = v
	}

	signature, severity, sid := alertFields(alert)

	if info, ok := e.sids[sid]; ok && sid != "" {
		out["plain_description"] = info.Description
		out["risk_context"] = info.RiskContext
		out["recommendation"] = info.Recommendation
		return out
	}

	category := categoryFromSignature(signature)
	out["plain_description"] = fmt.Sprintf("%s: %s", categoryDescriptions[category], signature)
	out["risk_context"] = riskContext(category, severity)
	out["recommendation"] = categoryRecommendations[category]
	return out
}

func riskContext(category string, severity int) string {
	if overrides, ok := categorySeverityRisk[category]; ok {
		if msg, ok := overrides[severity]; ok {
			return msg
		}
	}
	if msg, ok := severityRisk[severity]; ok {
		return msg
	}
	return severityRisk[3]
}

func categoryFromSignature(signature string) string {
	upper := strings.ToUpper(signature)
	for _, p := range categoryPrefixes {
		if strings.HasPrefix(upper, p.prefix) {
			return p.category
		}
	}
	return "other"
}

// alertFields digs signature, severity and SID out of a raw Suricata
// event document, tolerating both flattened and nested layouts.
func alertFields(doc map[string]any) (signature string, severity int, sid string) {
	severity = 3

	nested, _ := doc["alert"].(map[string]any)
	if nested != nil {
		if s, ok := nested["signature"].(string); ok {
			signature = s
		}
		if v, ok := asInt(nested["severity"]); ok {
			severity = v
		}
		if v, ok := asInt(nested["signature_id"]); ok {
			sid = fmt.Sprintf("%d", v)
		}
	}
	if signature == "" {
		if s, ok := doc["signature"].(string); ok {
			signature = s
		}
	}
	if sid == "" {
		if v, ok := asInt(doc["signature_id"]); ok {
			sid = fmt.Sprintf("%d", v)
		}
	}
	if v, ok := asInt(doc["severity"]); ok && nested == nil {
		severity = v
	}
	return signature, severity, sid
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
	case string:
		var i int
		if _, err := fmt.Sscanf(n, "%d", &i); err == nil {
			return i, true
		}
	}
	return 0, false
}
