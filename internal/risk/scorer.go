package risk

// DeviceStats are the per-device inputs derived from telemetry over a
// time range.
type DeviceStats struct {
	AlertCount               int     `json:"alert_count"`
	ConnectionCount          int     `json:"connection_count"`
	NetworkAvgConnections    float64 `json:"network_avg_connections"`
	NetworkStddevConnections float64 `json:"network_stddev_connections"`
	ExternalConnectionCount  int     `json:"external_connection_count"`
	TotalConnectionCount     int     `json:"total_connection_count"`
	PortsUsed                []int   `json:"ports_used"`
	OrigBytes                int64   `json:"orig_bytes"`
	RespBytes                int64   `json:"resp_bytes"`
}

// Factor is one scored component of a device risk assessment.
type Factor struct {
	Name        string `json:"name"`
	Score       int    `json:"score"`
	Max         int    `json:"max"`
	Description string `json:"description"`
}

// Score is a complete risk assessment for one device.
type Score struct {
	Score   int      `json:"score"`
	Level   string   `json:"level"`
	Factors []Factor `json:"factors"`
}

// Factor weights. They sum to exactly 100.
const (
	maxAlertCount   = 35
	maxConnAnomaly  = 20
	maxExternal     = 15
	maxSuspPorts    = 15
	maxExfiltration = 15
)

// suspiciousPorts are well-known backdoor and scanner favourites.
var suspiciousPorts = map[int]bool{
	4444: true, 5555: true, 6666: true, 8888: true,
	9999: true, 31337: true, 12345: true, 65535: true,
}

// commonPorts are expected service ports on a home/SMB segment.
var commonPorts = map[int]bool{
	20: true, 21: true, 22: true, 23: true, 25: true, 53: true,
	67: true, 68: true, 80: true, 110: true, 123: true,
	137: true, 138: true, 139: true, 143: true, 161: true, 162: true,
	443: true, 445: true, 465: true, 587: true,
	993: true, 995: true, 1900: true, 3389: true, 5353: true,
	8080: true, 8443: true,
}

// ScoreDevice computes the five-factor weighted risk score.
func ScoreDevice(stats DeviceStats) Score {
	factors := []Factor{
		scoreAlerts(stats.AlertCount),
		scoreConnectionAnomaly(stats),
		scoreExternalRatio(stats),
		scorePorts(stats.PortsUsed),
		scoreExfiltration(stats),
	}

	total := 0
	for _, f := range factors {
		total += f.Score
	}
	if total > 100 {
		total = 100
	}

	return Score{
		Score:   total,
		Level:   Level(total),
		Factors: factors,
	}
}

// Level maps a 0-100 score onto its band.
func Level(score int) string {
	switch {
	case score >= 75:
		return "critical"
	case score >= 50:
		return "high"
	case score >= 25:
		return "medium"
	default:
		return "low"
	}
}

func scoreAlerts(count int) Factor {
	score := 0
	switch {
	case count >= 11:
		score = 35
	case count >= 6:
		score = 30
	case count >= 3:
		score = 20
	case count >= 1:
		score = 10
	}
	return Factor{
		Name:        "alert_count",
		Score:       score,
		Max:         maxAlertCount,
		Description: "IDS alerts attributed to this device in the window",
	}
}

func scoreConnectionAnomaly(stats DeviceStats) Factor {
	factor := Factor{
		Name:        "connection_anomaly",
		Max:         maxConnAnomaly,
		Description: "Connection volume relative to the network baseline",
	}
	if stats.NetworkStddevConnections <= 0 || stats.NetworkAvgConnections <= 0 {
		return factor
	}
	deviation := (float64(stats.ConnectionCount) - stats.NetworkAvgConnections) / stats.NetworkStddevConnections
	switch {
	case deviation > 3:
		factor.Score = 20
	case deviation > 2:
		factor.Score = 15
	case deviation > 1:
		factor.Score = 10
	}
	return factor
}

func scoreExternalRatio(stats DeviceStats) Factor {
	factor := Factor{
		Name:        "external_ratio",
		Max:         maxExternal,
		Description: "Share of connections leaving the local network",
	}
	if stats.TotalConnectionCount <= 0 {
		return factor
	}
	ratio := float64(stats.ExternalConnectionCount) / float64(stats.TotalConnectionCount)
	switch {
	case ratio >= 0.8:
		factor.Score = 15
	case ratio >= 0.6:
		factor.Score = 10
	case ratio >= 0.3:
		factor.Score = 5
	}
	return factor
}

func scorePorts(ports []int) Factor {
	factor := Factor{
		Name:        "suspicious_ports",
		Max:         maxSuspPorts,
		Description: "Destination ports associated with backdoors or scanning",
	}
	uncommon := false
	for _, port := range ports {
		if suspiciousPorts[port] {
			factor.Score = 15
			return factor
		}
		if !commonPorts[port] {
			uncommon = true
		}
	}
	if uncommon {
		factor.Score = 8
	}
	return factor
}

func scoreExfiltration(stats DeviceStats) Factor {
	factor := Factor{
		Name:        "data_exfiltration",
		Max:         maxExfiltration,
		Description: "Upload-heavy traffic ratio",
	}
	total := stats.OrigBytes + stats.RespBytes
	if total <= 0 {
		return factor
	}
	upload := float64(stats.OrigBytes) / float64(total)
	switch {
	case upload >= 0.5:
		factor.Score = 15
	case upload >= 0.3:
		factor.Score = 10
	case upload >= 0.1:
		factor.Score = 5
	}
	return factor
}
