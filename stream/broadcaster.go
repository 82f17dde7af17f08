// Package stream pushes device snapshot updates to long-lived subscriber
// connections on a fixed cadence, over Server-Sent Events or WebSocket.
// Every tick reads the snapshot cache; subscribers never reach the store.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/JevgeniGandsuUT/TallinnATOM/metric"
	"github.com/JevgeniGandsuUT/TallinnATOM/snapcache"
	"github.com/JevgeniGandsuUT/TallinnATOM/snapshot"
)

// CacheSource is the snapshot cache surface the broadcaster reads
type CacheSource interface {
	GetOrRefresh(ctx context.Context) (snapshot.Set, error)
	Info() snapcache.Info
}

// Payload is one full-state snapshot event. Consumers apply it as a
// complete replace keyed by device_id, not a delta.
type Payload struct {
	ServerTimeUTC string       `json:"server_time_utc"`
	CacheAgeMS    *int64       `json:"cache_age_ms"`
	CacheError    *string      `json:"cache_error"`
	Devices       snapshot.Set `json:"devices"`
}

// ErrorPayload is the body of a named "error" event
type ErrorPayload struct {
	Error string `json:"error"`
}

// Broadcaster drives per-subscriber push loops off the snapshot cache
type Broadcaster struct {
	cache    CacheSource
	interval time.Duration
	retry    time.Duration
	metrics  *metric.Metrics
	logger   *slog.Logger
}

// New creates a broadcaster. interval is the tick cadence (already clamped
// by config validation); retry is the reconnect-interval directive sent to
// each subscriber on connect.
func New(cache CacheSource, interval, retry time.Duration, metrics *metric.Metrics, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		cache:    cache,
		interval: interval,
		retry:    retry,
		metrics:  metrics,
		logger:   logger.With("component", "stream"),
	}
}

// payload assembles one snapshot event from the cache
func (b *Broadcaster) payload(ctx context.Context) (*Payload, error) {
	devices, err := b.cache.GetOrRefresh(ctx)
	if err != nil {
		return nil, err
	}
	if devices == nil {
		devices = snapshot.Set{}
	}

	now := time.Now().UTC()
	info := b.cache.Info()

	p := &Payload{
		ServerTimeUTC: now.Format(snapshot.TimeFormat),
		CacheAgeMS:    info.AgeMS(now),
		Devices:       devices,
	}
	if info.LastError != "" {
		p.CacheError = &info.LastError
	}

	b.metrics.CacheAgeSeconds.Set(float64(now.Sub(info.ProducedAt)) / float64(time.Second))
	return p, nil
}

// ServeSSE handles one Server-Sent Events subscriber. The loop is bound to
// the request context: client disconnect stops it promptly and releases the
// ticker. Payload failures emit a named "error" event and the loop
// continues; only transport failure ends the stream.
func (b *Broadcaster) ServeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	subscriber := uuid.NewString()
	b.metrics.Subscribers.WithLabelValues("sse").Inc()
	defer b.metrics.Subscribers.WithLabelValues("sse").Dec()
	b.logger.Info("subscriber connected", "transport", "sse", "subscriber", subscriber)
	defer b.logger.Info("subscriber disconnected", "transport", "sse", "subscriber", subscriber)

	// Reconnection directive first, before any event
	fmt.Fprintf(w, "retry: %d\n\n", b.retry.Milliseconds())
	flusher.Flush()

	ctx := r.Context()
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		if err := b.tickSSE(ctx, w); err != nil {
			return
		}
		flusher.Flush()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tickSSE writes one heartbeat and snapshot event. The returned error means
// the transport is gone; payload production failures are reported in-band.
func (b *Broadcaster) tickSSE(ctx context.Context, w io.Writer) error {
	payload, err := b.payload(ctx)
	if err != nil {
		b.metrics.EventsPublished.WithLabelValues("sse", "error").Inc()
		return writeSSEEvent(w, "error", ErrorPayload{Error: err.Error()})
	}

	if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
		return err
	}
	b.metrics.EventsPublished.WithLabelValues("sse", "devices").Inc()
	return writeSSEEvent(w, "devices", payload)
}

// writeSSEEvent writes one named event with a JSON data line
func writeSSEEvent(w io.Writer, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
