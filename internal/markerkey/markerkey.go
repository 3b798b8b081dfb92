// Package markerkey derives the deterministic names of unique-constraint
// marker records. Hashing the full combination spreads markers evenly
// across the store's key space, eliminating hot-partition risk.
package markerkey

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/jacentio/lattice/datastore"
)

// Name computes the marker name for one (kind, column combination, values)
// triple. Columns are sorted first so the name is independent of the order
// the combination was declared or filtered in.
func Name(kind string, columns []string, values map[string]any) string {
	sorted := append([]string(nil), columns...)
	sort.Strings(sorted)

	data := kind
	for _, col := range sorted {
		data += "|" + col + ":" + encode(values[col])
	}
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:16]) // 128-bit name
}

// encode renders a value into a canonical text form so that equal values
// always hash identically across processes.
func encode(v any) string {
	switch val := datastore.NormalizeValue(v).(type) {
	case nil:
		return "\x00null"
	case int64:
		return "i" + strconv.FormatInt(val, 10)
	case float64:
		return "f" + strconv.FormatFloat(val, 'g', -1, 64)
	case bool:
		return "b" + strconv.FormatBool(val)
	case string:
		return "s" + val
	case []byte:
		return "x" + hex.EncodeToString(val)
	case time.Time:
		return "t" + val.UTC().Format(time.RFC3339Nano)
	case *datastore.Key:
		return "k" + val.String()
	default:
		return fmt.Sprintf("v%v", val)
	}
}
