package model

import (
	"strconv"
	"time"
)

// CoerceDecimal renders a decimal value through the field's declared
// precision into the canonical fixed-point text form the store holds.
// Values that are not numeric pass through unchanged.
func CoerceDecimal(value any, f Field) any {
	var n float64
	switch v := value.(type) {
	case float64:
		n = v
	case float32:
		n = float64(v)
	case int:
		n = float64(v)
	case int64:
		n = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return value
		}
		n = parsed
	default:
		return value
	}
	return strconv.FormatFloat(n, 'f', f.DecimalPlaces, 64)
}

// CoerceTemporal converts a stored temporal value back to time.Time. The
// store may hand back RFC 3339 text or epoch seconds depending on the
// adapter; nil and already-typed values pass through.
func CoerceTemporal(value any) any {
	switch v := value.(type) {
	case time.Time:
		return v.UTC()
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return ts.UTC()
		}
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			return ts.UTC()
		}
		return value
	case int64:
		return time.Unix(v, 0).UTC()
	default:
		return value
	}
}
