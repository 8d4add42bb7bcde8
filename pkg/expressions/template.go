package expressions

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// templatePattern matches {{ path }} references
var templatePattern = regexp.MustCompile(`\{\{\s*(.+?)\s*\}\}`)

// AbsentValue marks an output field whose reference could not be resolved
type AbsentValue struct{}

// Absent is the marker rendered in place of unresolved output references
var Absent = AbsentValue{}

func (AbsentValue) MarshalJSON() ([]byte, error) {
	return []byte(`{"$absent":true}`), nil
}

func (AbsentValue) String() string {
	return "<absent>"
}

// IsAbsent reports whether v is the absent marker
func IsAbsent(v any) bool {
	_, ok := v.(AbsentValue)
	return ok
}

// RenderOutput renders an output template against the context data.
// Literal values are copied. A field whose string contains a reference that
// does not resolve renders as Absent. Rendering never fails.
func RenderOutput(template map[string]any, data map[string]any) map[string]any {
	if template == nil {
		return nil
	}
	out := make(map[string]any, len(template))
	for key, value := range template {
		out[key] = render(value, data, true)
	}
	return out
}

// RenderValue renders request values. A value that is a single reference keeps the
// referenced type, or nil when unresolved. References inside longer strings are
// substituted, with unresolved ones replaced by "".
func RenderValue(value any, data map[string]any) any {
	return render(value, data, false)
}

// RenderString renders a string for places that only accept strings, such as headers
func RenderString(template string, data map[string]any) string {
	rendered := RenderValue(template, data)
	if rendered == nil {
		return ""
	}
	return Stringify(rendered)
}

// RenderMap renders every value of a map
func RenderMap(input map[string]any, data map[string]any) map[string]any {
	if input == nil {
		return nil
	}
	out := make(map[string]any, len(input))
	for key, value := range input {
		out[key] = RenderValue(value, data)
	}
	return out
}

func render(value any, data map[string]any, output bool) any {
	switch v := value.(type) {
	case string:
		rendered, ok := renderString(v, data)
		if !ok && output {
			return Absent
		}
		return rendered

	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = render(item, data, output)
		}
		return out

	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = render(item, data, output)
		}
		return out

	default:
		return value
	}
}

// renderString resolves references in s. The boolean is false if any reference was unresolved.
func renderString(s string, data map[string]any) (any, bool) {
	matches := templatePattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, true
	}

	// A string that is exactly one reference yields the raw value
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		value, ok := Resolve(data, s[matches[0][2]:matches[0][3]])
		if !ok {
			return nil, false
		}
		return value, true
	}

	resolvedAll := true
	var sb strings.Builder
	last := 0
	for _, m := range matches {
		sb.WriteString(s[last:m[0]])
		if value, ok := Resolve(data, s[m[2]:m[3]]); ok {
			sb.WriteString(Stringify(value))
		} else {
			resolvedAll = false
		}
		last = m[1]
	}
	sb.WriteString(s[last:])

	return sb.String(), resolvedAll
}

// Stringify renders a value for string interpolation
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// HasTemplates checks if a string contains references
func HasTemplates(s string) bool {
	return templatePattern.MatchString(s)
}

// ExtractReferences returns every path referenced by a template string
func ExtractReferences(template string) []string {
	matches := templatePattern.FindAllStringSubmatch(template, -1)
	refs := make([]string, 0, len(matches))
	for _, match := range matches {
		refs = append(refs, strings.TrimSpace(match[1]))
	}
	return refs
}
