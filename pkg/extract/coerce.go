package extract

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// coerce converts a decoded value into the field's type. Anything that does not
// fit, or a string outside AllowedValues, resolves to the default.
func coerce(f Field, v any) any {
	switch f.Type {
	case TypeInt:
		if n, ok := toInt(v); ok {
			return n
		}
	case TypeBool:
		switch b := v.(type) {
		case bool:
			return b
		case string:
			if parsed, err := strconv.ParseBool(strings.TrimSpace(b)); err == nil {
				return parsed
			}
		}
	case TypeList:
		if l, ok := v.([]any); ok {
			return l
		}
	case TypeObject:
		if m, ok := v.(map[string]any); ok {
			return m
		}
	default:
		s, ok := toString(v)
		if !ok {
			break
		}
		if len(f.AllowedValues) == 0 {
			return s
		}
		if canon, ok := allowed(s, f.AllowedValues); ok {
			return canon
		}
	}
	return f.zero()
}

func allowed(s string, values []string) (string, bool) {
	s = strings.TrimSpace(s)
	for _, a := range values {
		if strings.EqualFold(s, a) {
			return a, true
		}
	}
	return "", false
}

func toString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(s), true
	case nil:
		return "", false
	default:
		raw, err := json.Marshal(s)
		if err != nil {
			return "", false
		}
		return string(raw), true
	}
}

// toInt accepts JSON numbers with no fractional part and numeric strings.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return int(n), true
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i, true
		}
	}
	return 0, false
}

// Int converts a decoded JSON value to int. Exposed for callers walking list items.
func Int(v any) (int, bool) {
	return toInt(v)
}
