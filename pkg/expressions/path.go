package expressions

import (
	"encoding/json"
	"strconv"
	"strings"
)

const (
	splitToken     = "."
	indexOpenChar  = "["
	indexCloseChar = "]"
)

// Resolve looks up a dotted path such as "A.response.items[0].id" in data.
// Numeric segments also index into sequences ("items.0.id").
// The boolean is false when any segment is missing, which callers treat as absent.
func Resolve(data any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, false
	}

	current := data
	for _, segment := range strings.Split(path, splitToken) {
		key, indexes, ok := parseSegment(segment)
		if !ok {
			return nil, false
		}

		if key != "" {
			if current, ok = lookupKey(current, key); !ok {
				return nil, false
			}
		}

		for _, index := range indexes {
			if current, ok = lookupIndex(current, index); !ok {
				return nil, false
			}
		}
	}

	return current, true
}

// parseSegment splits "items[0][1]" into "items" and [0 1]
func parseSegment(segment string) (string, []int, bool) {
	open := strings.Index(segment, indexOpenChar)
	if open < 0 {
		return segment, nil, segment != ""
	}

	key := segment[:open]
	rest := segment[open:]
	var indexes []int
	for rest != "" {
		if !strings.HasPrefix(rest, indexOpenChar) {
			return "", nil, false
		}
		end := strings.Index(rest, indexCloseChar)
		if end < 0 {
			return "", nil, false
		}
		index, err := strconv.Atoi(rest[1:end])
		if err != nil {
			return "", nil, false
		}
		indexes = append(indexes, index)
		rest = rest[end+1:]
	}

	return key, indexes, true
}

func lookupKey(current any, key string) (any, bool) {
	switch v := current.(type) {
	case map[string]any:
		value, ok := v[key]
		return value, ok
	case map[string]string:
		value, ok := v[key]
		return value, ok
	case []any:
		index, err := strconv.Atoi(key)
		if err != nil {
			return nil, false
		}
		return lookupIndex(v, index)
	default:
		return nil, false
	}
}

func lookupIndex(current any, index int) (any, bool) {
	items, ok := current.([]any)
	if !ok {
		return nil, false
	}
	if index < 0 {
		index += len(items)
	}
	if index < 0 || index >= len(items) {
		return nil, false
	}
	return items[index], true
}

// Normalize converts a value to its JSON-decoded form (maps, slices, float64, string, bool, nil)
// so that path resolution and comparisons see a single representation.
func Normalize(value any) any {
	switch value.(type) {
	case nil, string, bool, float64:
		return value
	}

	b, err := json.Marshal(value)
	if err != nil {
		return value
	}

	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return value
	}
	return out
}

// NormalizeMap is Normalize for map inputs
func NormalizeMap(value map[string]any) map[string]any {
	if value == nil {
		return nil
	}
	if out, ok := Normalize(value).(map[string]any); ok {
		return out
	}
	return value
}
