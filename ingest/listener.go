// Package ingest consumes device status and init messages from NATS and
// lands them in the store and view store.
package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/JevgeniGandsuUT/TallinnATOM/errors"
	"github.com/JevgeniGandsuUT/TallinnATOM/metric"
	"github.com/JevgeniGandsuUT/TallinnATOM/natsclient"
	"github.com/JevgeniGandsuUT/TallinnATOM/snapshot"
	"github.com/JevgeniGandsuUT/TallinnATOM/store"
	"github.com/JevgeniGandsuUT/TallinnATOM/viewstore"
)

// StatusWriter is the store surface the listener writes to
type StatusWriter interface {
	WriteStatus(ctx context.Context, p store.StatusPoint) error
}

// Listener subscribes to the sensor subjects and persists what arrives
type Listener struct {
	client        *natsclient.Client
	store         StatusWriter
	views         *viewstore.Store
	statusSubject string
	initSubject   string
	metrics       *metric.Metrics
	logger        *slog.Logger
}

// New creates a listener over an already-connected NATS client
func New(client *natsclient.Client, writer StatusWriter, views *viewstore.Store,
	statusSubject, initSubject string, metrics *metric.Metrics, logger *slog.Logger) *Listener {
	return &Listener{
		client:        client,
		store:         writer,
		views:         views,
		statusSubject: statusSubject,
		initSubject:   initSubject,
		metrics:       metrics,
		logger:        logger.With("component", "ingest"),
	}
}

// Start registers both subscriptions. Handlers run until the client closes.
func (l *Listener) Start(ctx context.Context) error {
	if err := l.client.Subscribe(ctx, l.statusSubject, l.handleStatus); err != nil {
		return errors.Wrap(err, "Listener", "Start", "status subscription")
	}
	if err := l.client.Subscribe(ctx, l.initSubject, l.handleInit); err != nil {
		return errors.Wrap(err, "Listener", "Start", "init subscription")
	}
	l.logger.Info("listening", "status_subject", l.statusSubject, "init_subject", l.initSubject)
	return nil
}

// statusMessage is the device status wire format. Firmware revisions differ
// on field names, so both timestamp and pressure carry aliases.
type statusMessage struct {
	DeviceID        string          `json:"device_id"`
	Team            string          `json:"team"`
	ValveState      string          `json:"valve_state"`
	Timestamp       json.Number     `json:"timestamp"`
	TimestampMS     json.Number     `json:"timestamp_ms"`
	PressureNow     json.RawMessage `json:"pressure_now"`
	Pressure30msAgo json.RawMessage `json:"pressure_30ms_ago"`
	PressurePrev    json.RawMessage `json:"pressure_prev"`
}

func (l *Listener) handleStatus(ctx context.Context, _ string, data []byte) {
	var msg statusMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		l.metrics.IngestErrorsTotal.WithLabelValues("decode").Inc()
		l.logger.Warn("bad status payload", "error", err)
		return
	}

	point := store.StatusPoint{
		DeviceID:     defaultString(msg.DeviceID, "unknown"),
		Team:         defaultString(msg.Team, "unknown"),
		ValveState:   defaultString(msg.ValveState, "unknown"),
		PressureNow:  numericField(msg.PressureNow),
		PressurePrev: firstNumeric(msg.Pressure30msAgo, msg.PressurePrev),
		Time:         messageTime(msg.TimestampMS, msg.Timestamp),
	}

	if err := l.store.WriteStatus(ctx, point); err != nil {
		l.metrics.IngestErrorsTotal.WithLabelValues("write").Inc()
		l.logger.Warn("status write failed", "device", point.DeviceID, "error", err)
		return
	}

	l.logger.Debug("status stored",
		"device", point.DeviceID,
		"valve", point.ValveState)
}

// handleInit stores the device's self-describing dashboard fragment. The
// device id is the middle token of the subject (sensors.<uid>.init).
func (l *Listener) handleInit(_ context.Context, subject string, data []byte) {
	deviceID := subjectDeviceID(subject)
	if deviceID == "" {
		l.metrics.IngestErrorsTotal.WithLabelValues("subject").Inc()
		l.logger.Warn("init message without device token", "subject", subject)
		return
	}

	if err := l.views.Save(deviceID, data); err != nil {
		l.metrics.IngestErrorsTotal.WithLabelValues("view").Inc()
		l.logger.Warn("view save failed", "device", deviceID, "error", err)
		return
	}

	l.logger.Info("device view stored", "device", deviceID, "bytes", len(data))
}

func subjectDeviceID(subject string) string {
	parts := strings.Split(subject, ".")
	if len(parts) != 3 {
		return ""
	}
	return parts[1]
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// messageTime resolves the message timestamp: timestamp_ms preferred,
// timestamp accepted, second-resolution values promoted to milliseconds,
// zero means "now" (resolved by the store).
func messageTime(candidates ...json.Number) time.Time {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		ms, err := c.Int64()
		if err != nil {
			if f, ferr := c.Float64(); ferr == nil {
				ms = int64(f)
			} else {
				continue
			}
		}
		if ms <= 0 {
			continue
		}
		if ms < 10_000_000_000 {
			ms *= 1000
		}
		return time.UnixMilli(ms).UTC()
	}
	return time.Time{}
}

// numericField coerces a raw JSON value to float64, tolerating numbers
// quoted as strings. Anything else is treated as absent.
func numericField(raw json.RawMessage) *float64 {
	if len(raw) == 0 {
		return nil
	}
	var v any
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	f, ok := snapshot.Float64(v)
	if !ok {
		return nil
	}
	return &f
}

func firstNumeric(candidates ...json.RawMessage) *float64 {
	for _, c := range candidates {
		if v := numericField(c); v != nil {
			return v
		}
	}
	return nil
}
