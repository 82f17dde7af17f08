package snapshot

import (
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/JevgeniGandsuUT/TallinnATOM/store"
)

// ViewChecker reports whether a per-device init artifact exists. It is a
// pure existence predicate; the merge only uses it to populate HasView.
type ViewChecker interface {
	Exists(deviceID string) bool
}

// accumulator collects per-device state while folding records
type accumulator struct {
	lastSeen time.Time
	valveTag string
	now      *float64
	prev     *float64
}

// Merge folds an unordered sequence of raw records into one Device per
// distinct device id, sorted by device id.
//
// The valve tag is taken from whichever record carries the newest raw
// timestamp across any field, which can pick the tag from a different
// underlying series than the pressure fields used for the delta. That
// matches the store's write pattern (every status point carries the tag)
// and is kept as a known precision tradeoff.
func Merge(records []store.RawRecord, now time.Time, offlineAfter time.Duration, views ViewChecker) Set {
	devices := make(map[string]*accumulator)

	for _, rec := range records {
		if rec.DeviceID == "" {
			// Cannot be attributed; silently dropped
			continue
		}

		acc, ok := devices[rec.DeviceID]
		if !ok {
			acc = &accumulator{valveTag: rec.ValveTag}
			devices[rec.DeviceID] = acc
		}

		// Newest timestamp wins for the valve tag; ties keep the first
		// seen record so a single invocation stays idempotent.
		if !rec.Time.IsZero() && rec.Time.After(acc.lastSeen) {
			acc.lastSeen = rec.Time
			acc.valveTag = rec.ValveTag
		}

		// Pressure fields are tracked independently of the tag-winning
		// record because they arrive as different underlying series.
		// Unparseable values are absent, never zero.
		switch rec.Field {
		case store.FieldPressureNow:
			if v, ok := Float64(rec.Value); ok {
				acc.now = &v
			}
		case store.FieldPressurePrev, store.FieldPressure30msAgo:
			if v, ok := Float64(rec.Value); ok {
				acc.prev = &v
			}
		}
	}

	set := make(Set, 0, len(devices))
	for id, acc := range devices {
		dev := Device{
			DeviceID:     id,
			ValveState:   NormalizeValve(acc.valveTag),
			PressureNow:  acc.now,
			PressurePrev: acc.prev,
			LastSeen:     acc.lastSeen,
			Offline:      Offline(acc.lastSeen, now, offlineAfter),
			TimeUTC:      "-",
		}

		if acc.now != nil && acc.prev != nil {
			delta := *acc.now - *acc.prev
			dev.Delta = &delta
		}

		if !acc.lastSeen.IsZero() {
			utc := acc.lastSeen.UTC()
			dev.TimeUTC = utc.Format(TimeFormat)
			ms := utc.UnixMilli()
			dev.TimeMS = &ms
		}

		if views != nil {
			dev.HasView = views.Exists(id)
		}

		set = append(set, dev)
	}

	sort.Slice(set, func(i, j int) bool {
		return set[i].DeviceID < set[j].DeviceID
	})
	return set
}

// Float64 coerces a raw store value to float64. Unparseable values report
// ok=false so the caller treats them as absent rather than zero.
func Float64(v any) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case int:
		return float64(value), true
	case int32:
		return float64(value), true
	case int64:
		return float64(value), true
	case uint64:
		return float64(value), true
	case json.Number:
		f, err := value.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(value, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
