package cache

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// GenerateKey builds a deterministic cache key from a prefix and a parameter
// map. Parameter names are sorted so that logically identical queries collide
// to the same key regardless of map iteration or insertion order. The key
// carries a readable sanitized form plus an xxhash of the exact payload.
func GenerateKey(prefix string, params map[string]interface{}) string {
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(name)
		b.WriteByte(':')
		v, err := json.Marshal(params[name])
		if err != nil {
			// unencodable values degrade to their Go representation
			b.WriteString(fmt.Sprintf("%v", params[name]))
			continue
		}
		b.Write(v)
	}
	payload := b.String()

	safe := sanitizeForKey(payload)
	const maxTextLen = 160
	if len(safe) > maxTextLen {
		safe = safe[:maxTextLen]
	}

	sum := xxhash.Sum64String(payload)
	return fmt.Sprintf("%s:%s:h=%016x", sanitizeForKey(prefix), safe, sum)
}

func sanitizeForKey(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		var out rune
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-' || r == '=' || r == '&':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
