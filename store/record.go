package store

import "time"

// Field names carried by status points. The previous-pressure field has a
// historical alias written by early firmware revisions; both satisfy
// "previous" during merging.
const (
	FieldPressureNow     = "pressure_now"
	FieldPressurePrev    = "pressure_prev"
	FieldPressure30msAgo = "pressure_30ms_ago"
	FieldPressureDelta   = "pressure_delta"

	TagDeviceID   = "device_id"
	TagTeam       = "team"
	TagValveState = "valve_state"
)

// PressureFields lists every pressure field a status point may carry.
var PressureFields = []string{FieldPressureNow, FieldPressurePrev, FieldPressure30msAgo}

// RawRecord is one flattened row from a store query: a single field value
// (or tag observation) for one device at one instant. A logical device state
// is scattered across several records because the store keeps one series per
// (device, field) pair.
type RawRecord struct {
	DeviceID string
	Field    string
	Value    any
	ValveTag string
	Time     time.Time
}

// PivotRow is one pivoted export row carrying both pressure fields and the
// valve tag together.
type PivotRow struct {
	DeviceID     string
	ValveState   string
	Time         time.Time
	PressureNow  *float64
	PressurePrev *float64
}

// StatusPoint is one inbound device status observation written by the
// ingest listener.
type StatusPoint struct {
	DeviceID     string
	Team         string
	ValveState   string
	PressureNow  *float64
	PressurePrev *float64
	Time         time.Time
}
