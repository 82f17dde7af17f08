package store

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatestFlux(t *testing.T) {
	flux := latestFlux("TallinnAtom", "device_status", "TallinnAtom", 10*time.Minute)

	assert.Contains(t, flux, `from(bucket: "TallinnAtom")`)
	assert.Contains(t, flux, `range(start: -10m0s)`)
	assert.Contains(t, flux, `r._measurement == "device_status"`)
	assert.Contains(t, flux, `r.team == "TallinnAtom"`)
	// Groups per (device, field) so per-series last() glues the
	// open/closed tag series back together.
	assert.Contains(t, flux, `group(columns: ["device_id","_field"])`)
	assert.Contains(t, flux, "last()")
}

func TestWindowFlux(t *testing.T) {
	flux := windowFlux("b", "m", "team", "esp-01", 24, time.Second, PressureFields)

	assert.Contains(t, flux, `range(start: -24h)`)
	assert.Contains(t, flux, `r.device_id == "esp-01"`)
	assert.Contains(t, flux, `r._field == "pressure_now" or r._field == "pressure_prev" or r._field == "pressure_30ms_ago"`)
	assert.Contains(t, flux, `aggregateWindow(every: 1s, fn: last, createEmpty: false)`)
	assert.Contains(t, flux, `sort(columns: ["_time"], desc: false)`)
	assert.Contains(t, flux, `"valve_state"`)
}

func TestPivotFlux(t *testing.T) {
	flux := pivotFlux("b", "m", "team", "esp-01", 24, 5000)

	assert.Contains(t, flux, `pivot(rowKey: ["_time","device_id"], columnKey: ["_field"], valueColumn: "_value")`)
	assert.Contains(t, flux, `limit(n: 5000)`)
	assert.Contains(t, flux, `r.device_id == "esp-01"`)
}

func TestPivotFluxWithoutDevice(t *testing.T) {
	flux := pivotFlux("b", "m", "team", "", 24, 100)
	assert.NotContains(t, flux, "device_id ==")
}

func TestFluxStringEscaping(t *testing.T) {
	flux := windowFlux("b", "m", "team", `esp"1\x`, 1, time.Second, []string{FieldPressureNow})

	assert.NotContains(t, strings.ReplaceAll(flux, `\"`, ""), `esp"1`,
		"raw quote must not survive unescaped")
	assert.Contains(t, flux, `esp\"1\\x`)
}
