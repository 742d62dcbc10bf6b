package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds the daemon configuration resolved from the environment.
type Config struct {
	// HTTP
	ListenAddr string

	// OpenSearch
	OpenSearchURL     string
	OpenSearchTimeout time.Duration

	// Data paths
	DataDir            string
	AlertAckFile       string
	BaselineFile       string
	InvestigationsFile string
	SchedulesFile      string
	DetectionPackFile  string
	OUIFile            string
	AlertDescFile      string
	GeoIPDBPath        string
	RulesPath          string
	BackupDir          string

	// Retention
	Retention RetentionConfig

	// Bridge / interfaces
	BridgeInterface string
	WANInterface    string
	LANInterface    string
	BypassFile      string
	WatchdogUnit    string

	// TShark gateway
	PcapBaseDir     string
	TSharkContainer string
	ContainerMount  string

	// Updates
	ComposeFile string
	GitHubRepo  string

	// Intervals
	RetentionInterval time.Duration
	BridgeInterval    time.Duration
	InternetInterval  time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

// RetentionConfig describes the tiered retention policy.
type RetentionConfig struct {
	HotDays            int
	WarmDays           int
	ColdDays           int
	DiskThreshold      float64 // fraction in (0,1)
	EmergencyThreshold float64 // fraction in (0,1), must exceed DiskThreshold
	CheckPath          string
}

// Load resolves configuration from the environment, reading an optional
// .env file first. Invalid values fall back to defaults with a warning.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded environment from .env")
	}

	dataDir := envString("NETTAP_DATA_DIR", "/opt/nettap/data")

	cfg := &Config{
		ListenAddr: envString("NETTAP_LISTEN_ADDR", ":8080"),

		OpenSearchURL:     envString("OPENSEARCH_URL", "http://localhost:9200"),
		OpenSearchTimeout: envDuration("OPENSEARCH_TIMEOUT", 30*time.Second),

		DataDir:            dataDir,
		AlertAckFile:       envString("ALERT_ACK_FILE", dataDir+"/alert_acks.json"),
		BaselineFile:       envString("BASELINE_FILE", dataDir+"/device_baseline.json"),
		InvestigationsFile: envString("INVESTIGATIONS_FILE", dataDir+"/investigations.json"),
		SchedulesFile:      envString("SCHEDULES_FILE", dataDir+"/report_schedules.json"),
		DetectionPackFile:  envString("DETECTION_PACK_FILE", dataDir+"/detection_packs.json"),
		OUIFile:            envString("OUI_FILE", dataDir+"/oui.txt"),
		AlertDescFile:      envString("ALERT_DESC_FILE", dataDir+"/alert_descriptions.json"),
		GeoIPDBPath:        envString("GEOIP_DB_PATH", "/opt/nettap/geoip/GeoLite2-City.mmdb"),
		RulesPath:          envString("SURICATA_RULES_PATH", "/opt/nettap/rules/suricata.rules"),
		BackupDir:          envString("NETTAP_BACKUP_DIR", "/opt/nettap/backups"),

		Retention: RetentionConfig{
			HotDays:            envInt("RETENTION_HOT_DAYS", 90),
			WarmDays:           envInt("RETENTION_WARM_DAYS", 180),
			ColdDays:           envInt("RETENTION_COLD_DAYS", 30),
			DiskThreshold:      envFloat("DISK_THRESHOLD", 0.80),
			EmergencyThreshold: envFloat("EMERGENCY_THRESHOLD", 0.90),
			CheckPath:          envString("DISK_CHECK_PATH", "/"),
		},

		BridgeInterface: envString("BRIDGE_INTERFACE", "br0"),
		WANInterface:    envString("WAN_INTERFACE", "eth0"),
		LANInterface:    envString("LAN_INTERFACE", "eth1"),
		BypassFile:      envString("BYPASS_FILE", "/var/run/nettap-bypass-active"),
		WatchdogUnit:    envString("WATCHDOG_UNIT", "nettap-watchdog"),

		PcapBaseDir:     envString("PCAP_BASE_DIR", "/opt/nettap/pcap"),
		TSharkContainer: envString("TSHARK_CONTAINER", "nettap-tshark"),
		ContainerMount:  envString("TSHARK_MOUNT", "/pcap"),

		ComposeFile: envString("COMPOSE_FILE", "/opt/nettap/docker-compose.yml"),
		GitHubRepo:  envString("NETTAP_GITHUB_REPO", "nettap/nettapd"),

		RetentionInterval: envDuration("RETENTION_INTERVAL", 15*time.Minute),
		BridgeInterval:    envDuration("BRIDGE_INTERVAL", 30*time.Second),
		InternetInterval:  envDuration("INTERNET_INTERVAL", 60*time.Second),

		LogLevel:  envString("LOG_LEVEL", "info"),
		LogFormat: envString("LOG_FORMAT", "auto"),
	}

	cfg.Retention.normalize()
	return cfg
}

// normalize enforces the threshold invariants so a misconfigured
// environment cannot disable retention entirely.
func (r *RetentionConfig) normalize() {
	if r.DiskThreshold <= 0 || r.DiskThreshold >= 1 {
		log.Warn().Float64("value", r.DiskThreshold).Msg("Invalid disk threshold, using 0.80")
		r.DiskThreshold = 0.80
	}
	if r.EmergencyThreshold <= 0 || r.EmergencyThreshold >= 1 {
		log.Warn().Float64("value", r.EmergencyThreshold).Msg("Invalid emergency threshold, using 0.90")
		r.EmergencyThreshold = 0.90
	}
	if r.EmergencyThreshold <= r.DiskThreshold {
		log.Warn().
			Float64("disk", r.DiskThreshold).
			Float64("emergency", r.EmergencyThreshold).
			Msg("Emergency threshold must exceed disk threshold, using disk+0.10")
		r.EmergencyThreshold = r.DiskThreshold + 0.10
		if r.EmergencyThreshold >= 1 {
			r.EmergencyThreshold = 0.99
		}
	}
	if r.HotDays <= 0 {
		r.HotDays = 90
	}
	if r.WarmDays <= 0 {
		r.WarmDays = 180
	}
	if r.ColdDays <= 0 {
		r.ColdDays = 30
	}
	if r.CheckPath == "" {
		r.CheckPath = "/"
	}
}

// RetentionDays returns the retention window in days for a tier name,
// or 0 for an unknown tier.
func (r RetentionConfig) RetentionDays(tier string) int {
	switch tier {
	case "hot":
		return r.HotDays
	case "warm":
		return r.WarmDays
	case "cold":
		return r.ColdDays
	}
	return 0
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid integer in environment, using default")
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid float in environment, using default")
		return fallback
	}
	return f
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid duration in environment, using default")
		return fallback
	}
	return d
}
