// Package history reconstructs bounded historical timelines for one device
// from windowed store queries: a down-sampled pressure chart series and a
// de-duplicated timeline of valve state transitions. It bypasses the
// snapshot cache and queries the store per request.
package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/JevgeniGandsuUT/TallinnATOM/snapshot"
	"github.com/JevgeniGandsuUT/TallinnATOM/store"
)

// Request bounds
const (
	MinHours       = 1
	MaxHours       = 168
	MaxEventLimit  = 500
	MaxExportLimit = 50000
)

// ChartPoint is one down-sampled pressure reading
type ChartPoint struct {
	T int64   `json:"t"`
	V float64 `json:"v"`
}

// ValveEvent is one valve state transition. Consecutive samples with the
// same state are collapsed; the timeline only records flips.
type ValveEvent struct {
	T     int64  `json:"t"`
	State string `json:"state"`
}

// Timeline is the reconstructed history document for one device
type Timeline struct {
	Chart  []ChartPoint `json:"chart"`
	Events []ValveEvent `json:"events"`
}

// Querier is the store surface the reconstructor needs
type Querier interface {
	Window(ctx context.Context, deviceID string, hours int, every time.Duration, fields []string) ([]store.RawRecord, error)
	Pivot(ctx context.Context, deviceID string, hours, limit int) ([]store.PivotRow, error)
}

// Service reconstructs device timelines
type Service struct {
	store       Querier
	chartWindow time.Duration
	eventWindow time.Duration
	logger      *slog.Logger
}

// New creates a history service. chartWindow is the coarse aggregation
// window feeding the continuous line chart; eventWindow is the fine window
// the transition timeline is reduced from.
func New(q Querier, chartWindow, eventWindow time.Duration, logger *slog.Logger) *Service {
	return &Service{
		store:       q,
		chartWindow: chartWindow,
		eventWindow: eventWindow,
		logger:      logger.With("component", "history"),
	}
}

// Device returns the chart series and valve-flip timeline for one device.
// hours is clamped to [1,168] and limit to [1,500]. The two queries share
// the device and range but use independent window granularities.
func (s *Service) Device(ctx context.Context, deviceID string, hours, limit int) (*Timeline, error) {
	hours = clamp(hours, MinHours, MaxHours)
	limit = clamp(limit, 1, MaxEventLimit)

	chartRecords, err := s.store.Window(ctx, deviceID, hours, s.chartWindow, []string{store.FieldPressureNow})
	if err != nil {
		return nil, err
	}

	eventRecords, err := s.store.Window(ctx, deviceID, hours, s.eventWindow, store.PressureFields)
	if err != nil {
		return nil, err
	}

	timeline := &Timeline{
		Chart:  chartSeries(chartRecords),
		Events: valveFlips(eventRecords, limit),
	}
	return timeline, nil
}

// chartSeries keeps every window point; a record whose value cannot be
// coerced drops only that point, never the response.
func chartSeries(records []store.RawRecord) []ChartPoint {
	points := make([]ChartPoint, 0, len(records))
	for _, rec := range records {
		v, ok := snapshot.Float64(rec.Value)
		if !ok {
			continue
		}
		points = append(points, ChartPoint{T: rec.Time.UnixMilli(), V: v})
	}
	return points
}

// valveFlips reduces a fine-windowed sample series into a sparse transition
// log: iterate in time order and keep a point only when its state differs
// from the previously kept point's state. The result is trimmed from the
// head so the most recent transitions survive the limit.
func valveFlips(records []store.RawRecord, limit int) []ValveEvent {
	events := make([]ValveEvent, 0)
	last := ""
	for _, rec := range records {
		state := snapshot.NormalizeValve(rec.ValveTag)
		if state == last {
			continue
		}
		events = append(events, ValveEvent{T: rec.Time.UnixMilli(), State: state})
		last = state
	}
	if len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
