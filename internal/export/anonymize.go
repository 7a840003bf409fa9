package export

import "strings"

// sensitiveKeys are masked wherever they appear in an exported document,
// regardless of nesting depth.
var sensitiveKeys = map[string]bool{
	"email":           true,
	"name":            true,
	"personal_number": true,
	"address":         true,
	"phone":           true,
}

// Anonymize returns a masked deep copy of the document. The input is never
// mutated, and the output depends only on the input.
func Anonymize(doc *Document) *Document {
	out := *doc
	out.Sections = anonymizeMap(doc.Sections)
	return &out
}

func anonymizeValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return anonymizeMap(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = anonymizeValue(item)
		}
		return out
	case []map[string]any:
		// The row shape every domain source produces.
		out := make([]map[string]any, len(v))
		for i, item := range v {
			out[i] = anonymizeMap(item)
		}
		return out
	default:
		return value
	}
}

func anonymizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for key, value := range m {
		if sensitiveKeys[key] {
			if s, ok := value.(string); ok {
				out[key] = maskString(s)
				continue
			}
		}
		out[key] = anonymizeValue(value)
	}
	return out
}

// maskString hides a sensitive value while keeping enough shape for a human
// to recognize their own data. Emails keep the domain; other strings keep the
// first and last character.
func maskString(s string) string {
	if at := strings.Index(s, "@"); at >= 0 {
		return "***@" + s[at+1:]
	}
	runes := []rune(s)
	if len(runes) <= 2 {
		return "***"
	}
	return string(runes[0]) + strings.Repeat("*", len(runes)-2) + string(runes[len(runes)-1])
}
