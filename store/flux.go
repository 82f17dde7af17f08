package store

import (
	"fmt"
	"strings"
	"time"
)

// fluxString escapes a value for interpolation into a Flux string literal.
// Device ids arrive from URLs, so quotes and backslashes must not break out
// of the literal.
func fluxString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

// fluxDuration renders a duration as a Flux duration literal
func fluxDuration(d time.Duration) string {
	return d.String()
}

// fieldFilter builds a Flux predicate matching any of the given fields
func fieldFilter(fields []string) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf(`r._field == "%s"`, fluxString(f)))
	}
	return strings.Join(parts, " or ")
}

// latestFlux returns the query producing the per-series last value for every
// device of the team within the lookback range.
//
// valve_state is a tag, so open/closed observations land in different
// series; last() works per series, so the query groups by (device_id,
// _field) to glue them back together before taking the last value.
func latestFlux(bucket, measurement, team string, lookback time.Duration) string {
	return fmt.Sprintf(`from(bucket: "%s")
  |> range(start: -%s)
  |> filter(fn: (r) => r._measurement == "%s")
  |> filter(fn: (r) => r.team == "%s")
  |> group(columns: ["device_id","_field"])
  |> last()`,
		fluxString(bucket), fluxDuration(lookback), fluxString(measurement), fluxString(team))
}

// windowFlux returns a fixed-window last-value query for one device,
// ascending in time. Used with a coarse window for the chart series and a
// fine window for the valve transition timeline.
func windowFlux(bucket, measurement, team, deviceID string, hours int, every time.Duration, fields []string) string {
	return fmt.Sprintf(`from(bucket: "%s")
  |> range(start: -%dh)
  |> filter(fn: (r) => r._measurement == "%s")
  |> filter(fn: (r) => r.team == "%s")
  |> filter(fn: (r) => r.device_id == "%s")
  |> filter(fn: (r) => %s)
  |> group(columns: ["device_id","_field"])
  |> aggregateWindow(every: %s, fn: last, createEmpty: false)
  |> keep(columns: ["_time","_field","_value","valve_state"])
  |> sort(columns: ["_time"], desc: false)`,
		fluxString(bucket), hours, fluxString(measurement), fluxString(team),
		fluxString(deviceID), fieldFilter(fields), fluxDuration(every))
}

// pivotFlux returns the bulk export query: raw rows pivoted so each row
// carries every pressure field and the valve tag together.
func pivotFlux(bucket, measurement, team, deviceID string, hours, limit int) string {
	deviceFilter := ""
	if deviceID != "" {
		deviceFilter = fmt.Sprintf("\n  |> filter(fn: (r) => r.device_id == \"%s\")", fluxString(deviceID))
	}
	return fmt.Sprintf(`from(bucket: "%s")
  |> range(start: -%dh)
  |> filter(fn: (r) => r._measurement == "%s")
  |> filter(fn: (r) => r.team == "%s")%s
  |> filter(fn: (r) => %s)
  |> group(columns: ["device_id","_field"])
  |> keep(columns: ["_time","device_id","valve_state","_field","_value"])
  |> pivot(rowKey: ["_time","device_id"], columnKey: ["_field"], valueColumn: "_value")
  |> sort(columns: ["_time"], desc: false)
  |> limit(n: %d)`,
		fluxString(bucket), hours, fluxString(measurement), fluxString(team),
		deviceFilter, fieldFilter(PressureFields), limit)
}
