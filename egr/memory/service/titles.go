package service

import (
	"strings"
)

var quoteReplacer = strings.NewReplacer("’", "'", "‘", "'", "“", `"`, "”", `"`)

// TitleMentioned reports whether text mentions title, ignoring case and
// treating "Magic of CSS, The" and "The Magic of CSS" as the same title.
func TitleMentioned(text, title string) bool {
	haystack := normalizeTitle(text)
	for _, v := range titleVariants(title) {
		if v != "" && strings.Contains(haystack, v) {
			return true
		}
	}
	return false
}

// GroundingRatio returns the share of titles mentioned in answer. ok is false
// when there are no titles to check.
func GroundingRatio(answer string, titles []string) (ratio float64, ok bool) {
	if len(titles) == 0 {
		return 0, false
	}
	var hits int
	for _, t := range titles {
		if TitleMentioned(answer, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(titles)), true
}

func titleVariants(title string) []string {
	t := normalizeTitle(title)
	switch {
	case strings.HasSuffix(t, ", the"):
		base := strings.TrimSuffix(t, ", the")
		return []string{t, "the " + base}
	case strings.HasPrefix(t, "the "):
		base := strings.TrimPrefix(t, "the ")
		return []string{t, base + ", the"}
	default:
		return []string{t}
	}
}

func normalizeTitle(s string) string {
	s = strings.ToLower(quoteReplacer.Replace(s))
	return strings.Join(strings.Fields(s), " ")
}
