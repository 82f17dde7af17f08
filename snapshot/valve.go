package snapshot

import "strings"

// Valve state enum values after normalization
const (
	ValveOpen    = "open"
	ValveClosed  = "closed"
	ValveUnknown = "?"
)

// NormalizeValve maps raw upstream valve state strings onto the fixed
// vocabulary. Device firmware reports localized terms (Estonian
// lahti/kinni) alongside numeric and boolean spellings; unrecognized
// non-empty values pass through unchanged.
func NormalizeValve(raw string) string {
	switch strings.ToLower(raw) {
	case "lahti", "open", "opened", "on", "1", "true":
		return ValveOpen
	case "kinni", "closed", "off", "0", "false":
		return ValveClosed
	case "":
		return ValveUnknown
	default:
		return raw
	}
}
