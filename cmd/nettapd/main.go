// nettapd is the appliance management daemon: it watches storage
// pressure over the telemetry indices, monitors the inline bridge and
// upstream connectivity, tracks component versions and updates, and
// serves the management API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nettap/nettapd/internal/api"
	"github.com/nettap/nettapd/internal/bridge"
	"github.com/nettap/nettapd/internal/command"
	"github.com/nettap/nettapd/internal/config"
	"github.com/nettap/nettapd/internal/enrich"
	"github.com/nettap/nettapd/internal/logging"
	"github.com/nettap/nettapd/internal/metrics"
	"github.com/nettap/nettapd/internal/nethealth"
	"github.com/nettap/nettapd/internal/search"
	"github.com/nettap/nettapd/internal/storage"
	"github.com/nettap/nettapd/internal/store"
	"github.com/nettap/nettapd/internal/tshark"
	"github.com/nettap/nettapd/internal/updates"
	"github.com/nettap/nettapd/internal/versions"
)

// Overridden at build time via -ldflags.
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "nettapd",
		Short:         "Network tap appliance management daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the daemon version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "nettapd",
	})
	log.Info().Str("version", version).Msg("Starting nettapd")

	client, err := search.NewClient(cfg.OpenSearchURL, cfg.OpenSearchTimeout)
	if err != nil {
		return fmt.Errorf("opensearch client: %w", err)
	}

	runner := command.ExecRunner{}
	m := metrics.New()

	storageMgr := storage.NewManager(client, cfg.Retention)
	bridgeMon := bridge.NewMonitor(bridge.Config{
		BridgeInterface: cfg.BridgeInterface,
		WANInterface:    cfg.WANInterface,
		LANInterface:    cfg.LANInterface,
		BypassFile:      cfg.BypassFile,
		WatchdogUnit:    cfg.WatchdogUnit,
	}, runner, nil)
	prober := nethealth.NewProber(nethealth.Config{})
	gateway := tshark.NewGateway(tshark.Config{
		Container: cfg.TSharkContainer,
		BaseDir:   cfg.PcapBaseDir,
		MountDir:  cfg.ContainerMount,
	}, runner)
	defer gateway.Close()

	versionMgr := versions.NewManager(versions.Config{}, runner, client)
	checker := updates.NewChecker(updates.CheckerConfig{
		GitHubRepo: cfg.GitHubRepo,
		RulesPath:  cfg.RulesPath,
		GeoIPPath:  cfg.GeoIPDBPath,
	}, versionMgr)
	executor := updates.NewExecutor(updates.ExecutorConfig{
		BackupDir:  cfg.BackupDir,
		ComposeDir: filepath.Dir(cfg.ComposeFile),
		RulesPath:  cfg.RulesPath,
		GeoIPPath:  cfg.GeoIPDBPath,
	}, runner, versionMgr)

	server := api.NewServer(api.Deps{
		Config:         cfg,
		Search:         client,
		ILM:            client,
		Storage:        storageMgr,
		OUI:            enrich.LoadOUITable(cfg.OUIFile),
		Fingerprint:    enrich.NewFingerprinter(client),
		Alerts:         enrich.NewAlertEnricher(cfg.AlertDescFile),
		Bridge:         bridgeMon,
		Internet:       prober,
		TShark:         gateway,
		Versions:       versionMgr,
		Checker:        checker,
		Executor:       executor,
		Acks:           store.NewAckStore(cfg.AlertAckFile),
		Baseline:       store.NewBaselineStore(cfg.BaselineFile),
		Investigations: store.NewInvestigationStore(cfg.InvestigationsFile),
		Schedules:      store.NewScheduleStore(cfg.SchedulesFile),
		Packs:          store.NewPackStore(cfg.DetectionPackFile),
		Metrics:        m,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go runRetentionDriver(ctx, storageMgr, m, cfg.RetentionInterval)
	go runBridgeDriver(ctx, bridgeMon, m, cfg.BridgeInterval)
	go runInternetDriver(ctx, prober, m, cfg.InternetInterval)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("API listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Graceful shutdown incomplete")
	}
	log.Info().Msg("Stopped")
	return nil
}

// runRetentionDriver runs the prune cycle on its interval and keeps
// the disk gauge current.
func runRetentionDriver(ctx context.Context, mgr *storage.Manager, m *metrics.Metrics, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if usage, err := mgr.CheckDiskUsage(ctx, ""); err == nil {
			m.DiskUsage.Set(usage)
		}
		mgr.RunCycle(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runBridgeDriver(ctx context.Context, mon *bridge.Monitor, m *metrics.Metrics, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		sample := mon.Sample(ctx)
		m.ProbeOutcomes.WithLabelValues("bridge", sample.HealthStatus).Inc()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runInternetDriver(ctx context.Context, prober *nethealth.Prober, m *metrics.Metrics, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		sample := prober.Probe(ctx)
		m.ProbeOutcomes.WithLabelValues("internet", sample.Status).Inc()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
