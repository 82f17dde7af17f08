package history

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JevgeniGandsuUT/TallinnATOM/errors"
	"github.com/JevgeniGandsuUT/TallinnATOM/store"
)

type fakeStore struct {
	windows     map[time.Duration][]store.RawRecord
	pivotRows   []store.PivotRow
	windowCalls []windowCall
	pivotCalls  []pivotCall
	err         error
}

type windowCall struct {
	deviceID string
	hours    int
	every    time.Duration
	fields   []string
}

type pivotCall struct {
	deviceID string
	hours    int
	limit    int
}

func (f *fakeStore) Window(_ context.Context, deviceID string, hours int, every time.Duration, fields []string) ([]store.RawRecord, error) {
	f.windowCalls = append(f.windowCalls, windowCall{deviceID, hours, every, fields})
	if f.err != nil {
		return nil, f.err
	}
	return f.windows[every], nil
}

func (f *fakeStore) Pivot(_ context.Context, deviceID string, hours, limit int) ([]store.PivotRow, error) {
	f.pivotCalls = append(f.pivotCalls, pivotCall{deviceID, hours, limit})
	if f.err != nil {
		return nil, f.err
	}
	return f.pivotRows, nil
}

func newService(f *fakeStore) *Service {
	return New(f, 10*time.Second, time.Second, slog.Default())
}

func eventRec(valve string, at time.Time) store.RawRecord {
	return store.RawRecord{DeviceID: "d", Field: store.FieldPressureNow, Value: 1.0, ValveTag: valve, Time: at}
}

func TestDeviceValveFlipDeduplication(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	states := []string{"open", "open", "open", "closed", "closed", "open"}

	fine := make([]store.RawRecord, 0, len(states))
	for i, s := range states {
		fine = append(fine, eventRec(s, base.Add(time.Duration(i)*time.Second)))
	}

	f := &fakeStore{windows: map[time.Duration][]store.RawRecord{time.Second: fine}}
	timeline, err := newService(f).Device(context.Background(), "d", 24, 50)
	require.NoError(t, err)

	require.Len(t, timeline.Events, 3)
	assert.Equal(t, ValveEvent{T: base.UnixMilli(), State: "open"}, timeline.Events[0])
	assert.Equal(t, ValveEvent{T: base.Add(3 * time.Second).UnixMilli(), State: "closed"}, timeline.Events[1])
	assert.Equal(t, ValveEvent{T: base.Add(5 * time.Second).UnixMilli(), State: "open"}, timeline.Events[2])
}

func TestDeviceChartKeepsEveryWindowPoint(t *testing.T) {
	base := time.Now().UTC()
	coarse := []store.RawRecord{
		{DeviceID: "d", Field: store.FieldPressureNow, Value: 1.0, Time: base},
		{DeviceID: "d", Field: store.FieldPressureNow, Value: 1.0, Time: base.Add(10 * time.Second)},
		{DeviceID: "d", Field: store.FieldPressureNow, Value: "garbage", Time: base.Add(20 * time.Second)},
		{DeviceID: "d", Field: store.FieldPressureNow, Value: 2.5, Time: base.Add(30 * time.Second)},
	}

	f := &fakeStore{windows: map[time.Duration][]store.RawRecord{10 * time.Second: coarse}}
	timeline, err := newService(f).Device(context.Background(), "d", 24, 50)
	require.NoError(t, err)

	// Repeated values are kept (no dedup on the chart path); the
	// uncoercible point alone is dropped.
	require.Len(t, timeline.Chart, 3)
	assert.Equal(t, 1.0, timeline.Chart[0].V)
	assert.Equal(t, 1.0, timeline.Chart[1].V)
	assert.Equal(t, 2.5, timeline.Chart[2].V)
}

func TestDeviceClampsHoursAndLimit(t *testing.T) {
	f := &fakeStore{}
	_, err := newService(f).Device(context.Background(), "d", 5000, 9999)
	require.NoError(t, err)

	require.Len(t, f.windowCalls, 2)
	assert.Equal(t, 168, f.windowCalls[0].hours)
	assert.Equal(t, 168, f.windowCalls[1].hours)

	_, err = newService(f).Device(context.Background(), "d", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, f.windowCalls[2].hours)
}

func TestDeviceEventLimitKeepsMostRecent(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	states := []string{"open", "closed", "open", "closed", "open"}
	fine := make([]store.RawRecord, 0, len(states))
	for i, s := range states {
		fine = append(fine, eventRec(s, base.Add(time.Duration(i)*time.Second)))
	}

	f := &fakeStore{windows: map[time.Duration][]store.RawRecord{time.Second: fine}}
	timeline, err := newService(f).Device(context.Background(), "d", 24, 2)
	require.NoError(t, err)

	require.Len(t, timeline.Events, 2)
	assert.Equal(t, base.Add(3*time.Second).UnixMilli(), timeline.Events[0].T)
	assert.Equal(t, base.Add(4*time.Second).UnixMilli(), timeline.Events[1].T)
}

func TestDeviceStoreFailureSurfaces(t *testing.T) {
	f := &fakeStore{err: errors.ErrStoreUnavailable}
	_, err := newService(f).Device(context.Background(), "d", 24, 50)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStoreUnavailable))
}

func float(v float64) *float64 { return &v }

func TestExportRows(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f := &fakeStore{pivotRows: []store.PivotRow{
		{DeviceID: "a", ValveState: "Lahti", Time: at, PressureNow: float(6.2), PressurePrev: float(5.0)},
		{DeviceID: "b", ValveState: "kinni", Time: at.Add(time.Second), PressureNow: float(3.0)},
	}}

	rows, err := newService(f).Export(context.Background(), "", 24, 5000)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, at.Unix(), rows[0].Timestamp)
	assert.Equal(t, at.UnixMilli(), rows[0].TimestampMS)
	require.NotNil(t, rows[0].PressureDelta)
	assert.InDelta(t, 1.2, *rows[0].PressureDelta, 1e-9)
	assert.Equal(t, "Lahti", rows[0].ValveState, "export carries the raw upstream tag")

	assert.Nil(t, rows[1].PressureDelta)
	assert.Nil(t, rows[1].Pressure30msAgo)
}

func TestExportClamps(t *testing.T) {
	f := &fakeStore{}
	_, err := newService(f).Export(context.Background(), "d", 500, 999999)
	require.NoError(t, err)

	require.Len(t, f.pivotCalls, 1)
	assert.Equal(t, 168, f.pivotCalls[0].hours)
	assert.Equal(t, 50000, f.pivotCalls[0].limit)
	assert.Equal(t, "d", f.pivotCalls[0].deviceID)
}

func TestWriteCSV(t *testing.T) {
	rows := []ExportRow{
		{DeviceID: "a", Timestamp: 100, TimestampMS: 100000, ValveState: "open",
			Pressure30msAgo: float(5), PressureNow: float(6.25), PressureDelta: float(1.25)},
		{DeviceID: "b", Timestamp: 101, TimestampMS: 101000, ValveState: "closed"},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, rows))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "device_id,timestamp,timestamp_ms,valve_state,pressure_30ms_ago,pressure_now,pressure_delta", lines[0])
	assert.Equal(t, "a,100,100000,open,5,6.25,1.25", lines[1])
	assert.Equal(t, "b,101,101000,closed,,,", lines[2])
}
