package datasource

import (
	"fmt"
	"math"
	"time"

	"github.com/liamcoop/checkers/rules"
)

// normalize converts a driver value into a dataset scalar: string, int64,
// float64, bool or nil
func normalize(v any) any {
	switch x := v.(type) {
	case nil, string, int64, float64, bool:
		return x
	case []byte:
		return string(x)
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return unsigned(uint64(x))
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return unsigned(x)
	case float32:
		return float64(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func unsigned(u uint64) any {
	if u > math.MaxInt64 {
		return float64(u)
	}
	return int64(u)
}

// normalizeStatic converts decoded JSON or YAML rows. Integral float64 values
// become int64 since JSON does not tell them apart.
func normalizeStatic(rows [][]any) rules.Dataset {
	out := make(rules.Dataset, len(rows))
	for i, row := range rows {
		r := make(rules.Row, len(row))
		for j, v := range row {
			if f, ok := v.(float64); ok && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
				r[j] = int64(f)
				continue
			}
			r[j] = normalize(v)
		}
		out[i] = r
	}
	return out
}
