// Package store wraps the InfluxDB v2 HTTP API behind the narrow query
// surface the aggregation engine needs: windowed, tag-filtered, last-value
// range queries flattened into RawRecord sequences, plus point writes for
// the ingest path.
package store

import (
	"context"
	"log/slog"
	"sort"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/query"

	"github.com/JevgeniGandsuUT/TallinnATOM/config"
	"github.com/JevgeniGandsuUT/TallinnATOM/errors"
	"github.com/JevgeniGandsuUT/TallinnATOM/metric"
)

// Client issues bounded queries against the time-series store
type Client struct {
	influx      influxdb2.Client
	query       api.QueryAPI
	write       api.WriteAPIBlocking
	bucket      string
	measurement string
	team        string
	lookback    time.Duration
	timeout     time.Duration
	metrics     *metric.Metrics
	logger      *slog.Logger
}

// New creates a store client from configuration
func New(cfg *config.Config, metrics *metric.Metrics, logger *slog.Logger) *Client {
	opts := influxdb2.DefaultOptions().
		SetHTTPRequestTimeout(uint(cfg.Influx.QueryTimeout.Std() / time.Second)).
		SetUseGZip(true)
	client := influxdb2.NewClientWithOptions(cfg.Influx.URL, cfg.Influx.Token, opts)

	return &Client{
		influx:      client,
		query:       client.QueryAPI(cfg.Influx.Org),
		write:       client.WriteAPIBlocking(cfg.Influx.Org, cfg.Influx.Bucket),
		bucket:      cfg.Influx.Bucket,
		measurement: cfg.Measurement,
		team:        cfg.Team,
		lookback:    cfg.Range.Std(),
		timeout:     cfg.Influx.QueryTimeout.Std(),
		metrics:     metrics,
		logger:      logger.With("component", "store"),
	}
}

// Close releases the underlying HTTP client
func (c *Client) Close() {
	c.influx.Close()
}

// Ping checks store reachability
func (c *Client) Ping(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	ok, err := c.influx.Ping(ctx)
	if err != nil {
		return false, errors.WrapTransient(err, "Store", "Ping", "store ping")
	}
	return ok, nil
}

// Latest returns the per-series last value for every device of the team
// within the configured lookback range.
func (c *Client) Latest(ctx context.Context) ([]RawRecord, error) {
	flux := latestFlux(c.bucket, c.measurement, c.team, c.lookback)
	return c.queryRecords(ctx, "latest", flux)
}

// Window returns fixed-window last values for one device, ascending in time.
// Multiple fields come back as separate per-field tables; the flattened
// result is re-sorted into one ascending sequence.
func (c *Client) Window(ctx context.Context, deviceID string, hours int, every time.Duration, fields []string) ([]RawRecord, error) {
	flux := windowFlux(c.bucket, c.measurement, c.team, deviceID, hours, every, fields)
	name := "chart"
	if len(fields) > 1 {
		name = "events"
	}
	records, err := c.queryRecords(ctx, name, flux)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Time.Before(records[j].Time)
	})
	return records, nil
}

// Pivot returns export rows with every pressure field and the valve tag
// glued onto one row per (time, device).
func (c *Client) Pivot(ctx context.Context, deviceID string, hours, limit int) ([]PivotRow, error) {
	flux := pivotFlux(c.bucket, c.measurement, c.team, deviceID, hours, limit)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	result, err := c.runQuery(ctx, flux)
	c.metrics.ObserveQuery("export", start, err)
	if err != nil {
		return nil, err
	}

	var rows []PivotRow
	for result.Next() {
		rec := result.Record()
		row := PivotRow{
			DeviceID:    stringValue(rec, TagDeviceID),
			ValveState:  stringValue(rec, TagValveState),
			Time:        rec.Time(),
			PressureNow: floatValue(rec, FieldPressureNow),
		}
		// Either previous-pressure alias satisfies the column
		row.PressurePrev = floatValue(rec, FieldPressurePrev)
		if row.PressurePrev == nil {
			row.PressurePrev = floatValue(rec, FieldPressure30msAgo)
		}
		if row.Time.IsZero() {
			continue
		}
		rows = append(rows, row)
	}
	if err := result.Err(); err != nil {
		c.metrics.StoreErrorsTotal.WithLabelValues("export").Inc()
		return nil, errors.WrapTransient(err, "Store", "Pivot", "result iteration")
	}
	return rows, nil
}

// WriteStatus writes one device status observation as a tagged point.
// The delta field is materialized when both pressure fields are present.
func (c *Client) WriteStatus(ctx context.Context, p StatusPoint) error {
	tags := map[string]string{
		TagDeviceID:   p.DeviceID,
		TagTeam:       p.Team,
		TagValveState: p.ValveState,
	}
	fields := map[string]any{}
	if p.PressureNow != nil {
		fields[FieldPressureNow] = *p.PressureNow
	}
	if p.PressurePrev != nil {
		fields[FieldPressurePrev] = *p.PressurePrev
	}
	if p.PressureNow != nil && p.PressurePrev != nil {
		fields[FieldPressureDelta] = *p.PressureNow - *p.PressurePrev
	}
	if len(fields) == 0 {
		// Tag-only updates carry no series value to store
		return nil
	}

	ts := p.Time
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	point := influxdb2.NewPoint(c.measurement, tags, fields, ts)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.write.WritePoint(ctx, point); err != nil {
		return errors.WrapTransient(err, "Store", "WriteStatus", "point write")
	}
	c.metrics.PointsWritten.Inc()
	return nil
}

// queryRecords runs a Flux query and flattens the result tables into
// RawRecords. Rows without a timestamp are dropped.
func (c *Client) queryRecords(ctx context.Context, name, flux string) ([]RawRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	result, err := c.runQuery(ctx, flux)
	c.metrics.ObserveQuery(name, start, err)
	if err != nil {
		return nil, err
	}

	var records []RawRecord
	for result.Next() {
		rec := result.Record()
		if rec.Time().IsZero() {
			continue
		}
		records = append(records, RawRecord{
			DeviceID: stringValue(rec, TagDeviceID),
			Field:    rec.Field(),
			Value:    rec.Value(),
			ValveTag: stringValue(rec, TagValveState),
			Time:     rec.Time(),
		})
	}
	if err := result.Err(); err != nil {
		c.metrics.StoreErrorsTotal.WithLabelValues(name).Inc()
		return nil, errors.WrapTransient(err, "Store", "queryRecords", "result iteration")
	}
	return records, nil
}

// runQuery executes a Flux query; the caller owns the context deadline,
// which must outlive result iteration.
func (c *Client) runQuery(ctx context.Context, flux string) (*api.QueryTableResult, error) {
	result, err := c.query.Query(ctx, flux)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.WrapTransient(errors.ErrQueryTimeout, "Store", "runQuery", "query")
		}
		return nil, errors.WrapTransient(err, "Store", "runQuery", "query")
	}
	return result, nil
}

func stringValue(rec *query.FluxRecord, key string) string {
	if v, ok := rec.ValueByKey(key).(string); ok {
		return v
	}
	return ""
}

func floatValue(rec *query.FluxRecord, key string) *float64 {
	switch v := rec.ValueByKey(key).(type) {
	case float64:
		return &v
	case int64:
		f := float64(v)
		return &f
	default:
		return nil
	}
}
