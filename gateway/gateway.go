// Package gateway provides the HTTP surface of the aggregation service:
// snapshot polling, live streams, history, export, views, health and metrics.
package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JevgeniGandsuUT/TallinnATOM/errors"
	"github.com/JevgeniGandsuUT/TallinnATOM/health"
	"github.com/JevgeniGandsuUT/TallinnATOM/history"
	"github.com/JevgeniGandsuUT/TallinnATOM/snapcache"
	"github.com/JevgeniGandsuUT/TallinnATOM/snapshot"
	"github.com/JevgeniGandsuUT/TallinnATOM/stream"
	"github.com/JevgeniGandsuUT/TallinnATOM/viewstore"
)

// getOrGenerateRequestID extracts the request ID from headers or generates a
// new one so log lines for a single request can be correlated
func getOrGenerateRequestID(r *http.Request) string {
	if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
		return reqID
	}

	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// Config carries the gateway-level knobs.
type Config struct {
	EnableCORS bool
}

// Gateway wires the service components into an http.ServeMux
type Gateway struct {
	config      Config
	cache       *snapcache.Cache
	broadcaster *stream.Broadcaster
	history     *history.Service
	views       *viewstore.Store
	registry    *prometheus.Registry
	checks      []health.Check
	logger      *slog.Logger
}

// New creates a gateway over the given components
func New(cfg Config, cache *snapcache.Cache, b *stream.Broadcaster, hist *history.Service,
	views *viewstore.Store, registry *prometheus.Registry, checks []health.Check,
	logger *slog.Logger) *Gateway {
	return &Gateway{
		config:      cfg,
		cache:       cache,
		broadcaster: b,
		history:     hist,
		views:       views,
		registry:    registry,
		checks:      checks,
		logger:      logger.With("component", "gateway"),
	}
}

// Routes registers all handlers on a fresh mux
func (g *Gateway) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/devices/latest", g.wrap(g.handleLatest))
	mux.HandleFunc("GET /api/device/{uid}/history", g.wrap(g.handleHistory))
	mux.HandleFunc("GET /api/device/{uid}/view", g.wrap(g.handleView))
	mux.HandleFunc("GET /api/export", g.wrap(g.handleExport))
	mux.HandleFunc("GET /events/devices", g.withCORS(g.broadcaster.ServeSSE))
	mux.HandleFunc("GET /ws/devices", g.broadcaster.ServeWS)
	mux.HandleFunc("GET /health", g.wrap(g.handleHealth))
	mux.Handle("GET /metrics", promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{}))

	return mux
}

// wrap applies request ID, CORS and access logging to a handler
func (g *Gateway) wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqID := getOrGenerateRequestID(r)
		w.Header().Set("X-Request-ID", reqID)
		g.applyCORS(w, r)

		start := time.Now()
		next(w, r)
		g.logger.Debug("request handled",
			"request_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds())
	}
}

func (g *Gateway) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.applyCORS(w, r)
		next(w, r)
	}
}

// applyCORS applies permissive CORS headers when enabled. The dashboard is
// served from the same origin in production; this exists for local frontend
// development against a remote backend.
func (g *Gateway) applyCORS(w http.ResponseWriter, r *http.Request) {
	if !g.config.EnableCORS {
		return
	}

	if origin := r.Header.Get("Origin"); origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	} else {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// latestResponse is the polling fallback for clients without SSE support
type latestResponse struct {
	ServerTimeUTC string       `json:"server_time_utc"`
	Devices       snapshot.Set `json:"devices"`
}

func (g *Gateway) handleLatest(w http.ResponseWriter, r *http.Request) {
	devices, err := g.cache.GetOrRefresh(r.Context())
	if err != nil {
		g.writeError(w, g.mapErrorToHTTPStatus(err), err.Error())
		return
	}
	if devices == nil {
		devices = snapshot.Set{}
	}

	g.writeJSON(w, http.StatusOK, latestResponse{
		ServerTimeUTC: time.Now().UTC().Format(snapshot.TimeFormat),
		Devices:       devices,
	})
}

func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("uid")
	if deviceID == "" {
		g.writeError(w, http.StatusBadRequest, "device id is required")
		return
	}

	hours := queryInt(r, "hours", 24)
	limit := queryInt(r, "limit", 100)

	timeline, err := g.history.Device(r.Context(), deviceID, hours, limit)
	if err != nil {
		g.writeError(w, g.mapErrorToHTTPStatus(err), err.Error())
		return
	}

	g.writeJSON(w, http.StatusOK, timeline)
}

func (g *Gateway) handleView(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("uid")
	fragment, err := g.views.Load(deviceID)
	if err != nil {
		if errors.Is(err, errors.ErrViewNotFound) {
			g.writeError(w, http.StatusNotFound, "no view for device")
			return
		}
		g.writeError(w, g.mapErrorToHTTPStatus(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(fragment)
}

func (g *Gateway) handleExport(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("uid")
	hours := queryInt(r, "hours", 24)
	limit := queryInt(r, "limit", 10000)

	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "json" {
		g.writeError(w, http.StatusBadRequest, "format must be csv or json")
		return
	}

	rows, err := g.history.Export(r.Context(), deviceID, hours, limit)
	if err != nil {
		g.writeError(w, g.mapErrorToHTTPStatus(err), err.Error())
		return
	}

	stamp := time.Now().UTC().Format("20060102-150405")
	if format == "json" {
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", "export-"+stamp+".json"))
		g.writeJSON(w, http.StatusOK, rows)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "export-"+stamp+".csv"))
	w.WriteHeader(http.StatusOK)
	if err := history.WriteCSV(w, rows); err != nil {
		g.logger.Warn("csv write aborted", "error", err)
	}
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := health.Aggregate("atomhub", g.checks...)

	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	g.writeJSON(w, code, status)
}

// mapErrorToHTTPStatus maps classified errors to HTTP status codes
func (g *Gateway) mapErrorToHTTPStatus(err error) int {
	if err == nil {
		return http.StatusInternalServerError
	}

	if errors.IsInvalid(err) {
		return http.StatusBadRequest
	}
	if errors.IsTransient(err) {
		if strings.Contains(err.Error(), "timeout") {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	}
	if errors.IsFatal(err) {
		return http.StatusInternalServerError
	}

	if strings.Contains(err.Error(), "not found") {
		return http.StatusNotFound
	}

	return http.StatusInternalServerError
}

func (g *Gateway) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Warn("response write failed", "error", err)
	}
}

// writeError writes an error response envelope
func (g *Gateway) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := map[string]any{
		"error":  message,
		"status": statusCode,
	}

	data, _ := json.Marshal(response)
	w.Write(data)
}

// queryInt reads an integer query parameter, falling back on absence or
// garbage. Range clamping happens in the history service.
func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

// Server builds an http.Server around the gateway routes
func (g *Gateway) Server(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           g.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Shutdown drains the given server within the timeout
func Shutdown(ctx context.Context, srv *http.Server, timeout time.Duration) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "Gateway", "Shutdown", "server drain")
	}
	return nil
}
