// Package api is the HTTP surface of the daemon: thin JSON handlers
// composing the storage, enrichment, health, version, and store
// subsystems.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/nettap/nettapd/internal/bridge"
	"github.com/nettap/nettapd/internal/config"
	"github.com/nettap/nettapd/internal/enrich"
	svcerr "github.com/nettap/nettapd/internal/errors"
	"github.com/nettap/nettapd/internal/metrics"
	"github.com/nettap/nettapd/internal/nethealth"
	"github.com/nettap/nettapd/internal/search"
	"github.com/nettap/nettapd/internal/storage"
	"github.com/nettap/nettapd/internal/store"
	"github.com/nettap/nettapd/internal/tshark"
	"github.com/nettap/nettapd/internal/updates"
	"github.com/nettap/nettapd/internal/versions"
)

// Telemetry index patterns queried by the handlers.
const (
	alertIndex = "suricata-*"
	connIndex  = "zeek-conn-*"
	dnsIndex   = "zeek-dns-*"
)

// ILMApplier installs lifecycle policies; implemented by the search
// client.
type ILMApplier interface {
	PutILMPolicy(ctx context.Context, name string, policy search.M) error
}

// Deps are the process-wide singletons the surface composes.
type Deps struct {
	Config         *config.Config
	Search         search.Searcher
	ILM            ILMApplier
	Storage        *storage.Manager
	OUI            *enrich.OUITable
	Fingerprint    *enrich.Fingerprinter
	Alerts         *enrich.AlertEnricher
	Bridge         *bridge.Monitor
	Internet       *nethealth.Prober
	TShark         *tshark.Gateway
	Versions       *versions.Manager
	Checker        *updates.Checker
	Executor       *updates.Executor
	Acks           *store.AckStore
	Baseline       *store.BaselineStore
	Investigations *store.InvestigationStore
	Schedules      *store.ScheduleStore
	Packs          *store.PackStore
	Metrics        *metrics.Metrics
}

// Server owns the router.
type Server struct {
	Deps
	startedAt time.Time
}

// NewServer wires the handler set.
func NewServer(deps Deps) *Server {
	return &Server{Deps: deps, startedAt: time.Now()}
}

// Routes builds the chi router with the shared middleware stack.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(s.recoverPanics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/system/health", s.handleSystemHealth)

		r.Get("/storage/status", s.handleStorageStatus)
		r.Post("/storage/prune", s.handleStoragePrune)
		r.Get("/indices", s.handleIndices)
		r.Post("/ilm/apply", s.handleILMApply)

		r.Get("/alerts", s.handleAlerts)
		r.Get("/alerts/count", s.handleAlertCount)
		r.Get("/alerts/{id}", s.handleAlert)
		r.Post("/alerts/{id}/acknowledge", s.handleAcknowledge)
		r.Delete("/alerts/{id}/acknowledge", s.handleUnacknowledge)

		r.Get("/devices", s.handleDevices)
		r.Get("/devices/{ip}", s.handleDevice)
		r.Get("/devices/{ip}/connections", s.handleDeviceConnections)
		r.Get("/baseline", s.handleBaselineList)
		r.Post("/baseline", s.handleBaselineAdd)
		r.Delete("/baseline/{mac}", s.handleBaselineRemove)

		r.Get("/risk/scores", s.handleRiskScores)
		r.Get("/risk/scores/{ip}", s.handleRiskScore)

		r.Route("/traffic", func(r chi.Router) {
			r.Get("/summary", s.handleTrafficSummary)
			r.Get("/top-talkers", s.handleTopTalkers)
			r.Get("/top-destinations", s.handleTopDestinations)
			r.Get("/protocols", s.handleProtocols)
			r.Get("/bandwidth", s.handleBandwidth)
			r.Get("/connections", s.handleConnections)
			r.Get("/categories", s.handleCategories)
		})

		r.Route("/bridge", func(r chi.Router) {
			r.Get("/health", s.handleBridgeHealth)
			r.Get("/history", s.handleBridgeHistory)
			r.Get("/stats", s.handleBridgeStats)
			r.Post("/bypass/enable", s.handleBypassEnable)
			r.Post("/bypass/disable", s.handleBypassDisable)
		})

		r.Route("/internet", func(r chi.Router) {
			r.Get("/health", s.handleInternetHealth)
			r.Get("/history", s.handleInternetHistory)
			r.Get("/stats", s.handleInternetStats)
		})

		r.Route("/system", func(r chi.Router) {
			r.Get("/versions", s.handleVersions)
			r.Get("/versions/{name}", s.handleVersion)
			r.Post("/versions/scan", s.handleVersionScan)
			r.Get("/updates/available", s.handleUpdatesAvailable)
			r.Get("/updates/available/{component}", s.handleUpdateFor)
			r.Post("/updates/check", s.handleUpdatesCheck)
			r.Post("/updates/apply", s.handleUpdatesApply)
			r.Post("/updates/rollback", s.handleUpdateRollback)
			r.Get("/updates/history", s.handleUpdateHistory)
		})

		r.Route("/analysis", func(r chi.Router) {
			r.Post("/pcap", s.handleAnalyze)
			r.Get("/info", s.handleAnalyzerInfo)
		})

		r.Route("/investigations", func(r chi.Router) {
			r.Get("/", s.handleInvestigations)
			r.Post("/", s.handleInvestigationCreate)
			r.Get("/{id}", s.handleInvestigation)
			r.Put("/{id}", s.handleInvestigationUpdate)
			r.Delete("/{id}", s.handleInvestigationDelete)
			r.Post("/{id}/notes", s.handleNoteAdd)
			r.Put("/{id}/notes/{noteID}", s.handleNoteUpdate)
			r.Delete("/{id}/notes/{noteID}", s.handleNoteDelete)
		})

		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", s.handleSchedules)
			r.Post("/", s.handleScheduleCreate)
			r.Get("/{id}", s.handleSchedule)
			r.Put("/{id}", s.handleScheduleUpdate)
			r.Delete("/{id}", s.handleScheduleDelete)
		})

		r.Route("/packs", func(r chi.Router) {
			r.Get("/", s.handlePacks)
			r.Post("/", s.handlePackRegister)
			r.Put("/{id}/enabled", s.handlePackToggle)
			r.Delete("/{id}", s.handlePackRemove)
		})
	})

	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics.Handler())
	}
	return r
}

// logRequests emits one structured line per request and feeds the
// HTTP metrics.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}

		if s.Metrics != nil {
			s.Metrics.HTTPRequests.WithLabelValues(
				r.Method, route, strconv.Itoa(ww.Status())).Inc()
			s.Metrics.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
		}

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", elapsed).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request")
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Any("panic", rec).Str("path", r.URL.Path).Msg("Handler panicked")
				writeErrorMessage(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug().Err(err).Msg("Response encode failed")
	}
}

func writeErrorMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeError maps a service error onto the status-code policy.
func writeError(w http.ResponseWriter, err error) {
	status := svcerr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("Request failed")
	} else {
		log.Debug().Err(err).Msg("Request rejected")
	}
	writeErrorMessage(w, status, err.Error())
}

// timeRange resolves from/to query parameters with the 24 h fallback.
func timeRange(r *http.Request) search.TimeRange {
	return search.ParseTimeRange(
		r.URL.Query().Get("from"),
		r.URL.Query().Get("to"),
		time.Now().UTC(),
	)
}

// pagination resolves page/size with the documented bounds.
func pagination(r *http.Request) (page, size int) {
	page = queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}
	size = queryInt(r, "size", 50)
	if size < 1 {
		size = 1
	}
	if size > 200 {
		size = 200
	}
	return page, size
}

// limitParam resolves a limit parameter bounded by cap.
func limitParam(r *http.Request, fallback, max int) int {
	limit := queryInt(r, "limit", fallback)
	if limit < 1 {
		limit = fallback
	}
	if limit > max {
		limit = max
	}
	return limit
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func decodeBody(r *http.Request, out any) error {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return svcerr.Validation("api.decode", err)
	}
	return nil
}
