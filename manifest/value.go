package manifest

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Pair is one key of an Inline table.
type Pair struct {
	Key   string
	Value any
}

// Inline is an inline table that keeps its key order when encoded,
// e.g. { git = "https://..." }.
type Inline []Pair

// decodeValue decodes the text of a single value.
func decodeValue(text string) (any, error) {
	var m map[string]any
	if err := toml.Unmarshal([]byte("v = "+text), &m); err != nil {
		return nil, err
	}
	return m["v"], nil
}

func isBareKeyChar(c byte) bool {
	return c == '_' || c == '-' ||
		('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

func encodeKey(k string) string {
	if k == "" {
		return `""`
	}
	for i := 0; i < len(k); i++ {
		if !isBareKeyChar(k[i]) {
			return encodeString(k)
		}
	}
	return k
}

func encodeString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 || r == 0x7f {
				fmt.Fprintf(&b, `\u%04X`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}

// encodeValue renders v the way cargo's own templates write values.
func encodeValue(v any) (string, error) {
	switch v := v.(type) {
	case string:
		return encodeString(v), nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case []string:
		items := make([]any, len(v))
		for i := range v {
			items[i] = v[i]
		}
		return encodeValue(items)
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			s, err := encodeValue(item)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	case Inline:
		if len(v) == 0 {
			return "{}", nil
		}
		parts := make([]string, 0, len(v))
		for _, p := range v {
			s, err := encodeValue(p.Value)
			if err != nil {
				return "", err
			}
			parts = append(parts, encodeKey(p.Key)+" = "+s)
		}
		return "{ " + strings.Join(parts, ", ") + " }", nil
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		inline := make(Inline, 0, len(keys))
		for _, k := range keys {
			inline = append(inline, Pair{Key: k, Value: v[k]})
		}
		return encodeValue(inline)
	default:
		return "", fmt.Errorf("cannot encode %T as a TOML value", v)
	}
}
