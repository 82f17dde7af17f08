// Package snapshot merges scattered per-series store records into coherent
// per-device state: one Device per device_id, with derived pressure delta
// and staleness classification.
package snapshot

import "time"

// TimeFormat is the UTC display format used on the wire
const TimeFormat = "2006-01-02 15:04:05"

// Device is the canonical current state of one device, assembled from
// multiple raw series. Optional floats are nil when the series never
// reported them inside the lookback range.
type Device struct {
	DeviceID     string   `json:"device_id"`
	ValveState   string   `json:"valve_state"`
	PressureNow  *float64 `json:"pressure_now"`
	PressurePrev *float64 `json:"pressure_prev"`
	Delta        *float64 `json:"delta"`
	Offline      bool     `json:"offline"`
	TimeUTC      string   `json:"time_utc"`
	TimeMS       *int64   `json:"time_ms"`
	HasView      bool     `json:"has_view"`

	// LastSeen is the newest raw instant observed for the device; zero when
	// no record carried a timestamp.
	LastSeen time.Time `json:"-"`
}

// Set is an ordered snapshot of all known devices, sorted by device id for
// deterministic display.
type Set []Device

// Offline classifies a device as offline from the elapsed time since its
// last observed sample. A device that was never seen is always offline.
func Offline(lastSeen, now time.Time, threshold time.Duration) bool {
	if lastSeen.IsZero() {
		return true
	}
	return now.Sub(lastSeen) > threshold
}
