package draft

import "strings"

const (
	// maxTagLen caps each stored tag at 40 runes.
	maxTagLen = 40
	// maxTags caps each tag set at 20 entries.
	maxTags = 20
)

// sentinelTags are placeholder values the wizard UI emits for "other" and
// "none" choices; they are never stored.
var sentinelTags = map[string]bool{
	"other": true,
	"none":  true,
}

// NormalizeTags trims entries, truncates each to 40 runes, drops the
// "other"/"none" sentinels (case-insensitively), de-duplicates
// case-insensitively keeping the first occurrence, and caps the result at
// 20 entries. Order is preserved.
//
// Normalization is idempotent: applying it to its own output is a no-op.
func NormalizeTags(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if runes := []rune(v); len(runes) > maxTagLen {
			v = strings.TrimSpace(string(runes[:maxTagLen]))
			if v == "" {
				continue
			}
		}
		// Sentinel check runs on the truncated form: an entry whose first
		// 40 runes trim down to "other" must not slip through.
		if sentinelTags[strings.ToLower(v)] {
			continue
		}
		key := strings.ToLower(v)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
		if len(out) == maxTags {
			break
		}
	}
	return out
}
