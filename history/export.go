package history

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"

	"github.com/JevgeniGandsuUT/TallinnATOM/errors"
)

// ExportRow is one pivoted raw row for bulk export: both pressure fields
// and the valve tag together, with the delta computed when both pressures
// are present.
type ExportRow struct {
	DeviceID        string   `json:"device_id"`
	Timestamp       int64    `json:"timestamp"`
	TimestampMS     int64    `json:"timestamp_ms"`
	ValveState      string   `json:"valve_state"`
	Pressure30msAgo *float64 `json:"pressure_30ms_ago"`
	PressureNow     *float64 `json:"pressure_now"`
	PressureDelta   *float64 `json:"pressure_delta"`
}

// csvHeader is the fixed column order of the row-oriented serialization
var csvHeader = []string{
	"device_id", "timestamp", "timestamp_ms", "valve_state",
	"pressure_30ms_ago", "pressure_now", "pressure_delta",
}

// Export returns bulk raw rows for the optional device over the range.
// hours is clamped to [1,168] and limit to [1,50000]. There is no cache
// fallback on this path; store failures surface directly.
func (s *Service) Export(ctx context.Context, deviceID string, hours, limit int) ([]ExportRow, error) {
	hours = clamp(hours, MinHours, MaxHours)
	limit = clamp(limit, 1, MaxExportLimit)

	pivoted, err := s.store.Pivot(ctx, deviceID, hours, limit)
	if err != nil {
		return nil, err
	}

	rows := make([]ExportRow, 0, len(pivoted))
	for _, p := range pivoted {
		utc := p.Time.UTC()
		row := ExportRow{
			DeviceID:        p.DeviceID,
			Timestamp:       utc.Unix(),
			TimestampMS:     utc.UnixMilli(),
			ValveState:      p.ValveState,
			Pressure30msAgo: p.PressurePrev,
			PressureNow:     p.PressureNow,
		}
		if p.PressureNow != nil && p.PressurePrev != nil {
			delta := *p.PressureNow - *p.PressurePrev
			row.PressureDelta = &delta
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// WriteCSV writes rows in the row-oriented delimited serialization
func WriteCSV(w io.Writer, rows []ExportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return errors.Wrap(err, "History", "WriteCSV", "header write")
	}
	for _, row := range rows {
		record := []string{
			row.DeviceID,
			strconv.FormatInt(row.Timestamp, 10),
			strconv.FormatInt(row.TimestampMS, 10),
			row.ValveState,
			formatFloat(row.Pressure30msAgo),
			formatFloat(row.PressureNow),
			formatFloat(row.PressureDelta),
		}
		if err := cw.Write(record); err != nil {
			return errors.Wrap(err, "History", "WriteCSV", "row write")
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
