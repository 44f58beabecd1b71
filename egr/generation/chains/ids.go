package chains

import (
	"maps"
	"slices"
	"strings"

	"github.com/ZanzyTHEbar/episode-graphrag/egr/memory/service"
)

// ExtractIDs collects every string under an "_id" key in v, at any depth,
// deduplicated in first-seen order.
func ExtractIDs(v any) []string {
	var ids []string
	walk(v, func(obj map[string]any) {
		if id, ok := obj["_id"].(string); ok && id != "" {
			ids = append(ids, id)
		}
	})
	return dedupeStrings(ids)
}

// ExtractEpisodeTitles collects the titles of objects whose _id is an
// episode id.
func ExtractEpisodeTitles(v any) []string {
	var titles []string
	walk(v, func(obj map[string]any) {
		id, _ := obj["_id"].(string)
		if service.ItemKind(id) != "episode" {
			return
		}
		if title, ok := obj["title"].(string); ok && title != "" {
			titles = append(titles, title)
		}
	})
	return dedupeStrings(titles)
}

func walk(v any, visit func(map[string]any)) {
	switch t := v.(type) {
	case service.Row:
		walk(map[string]any(t), visit)
	case []service.Row:
		for _, r := range t {
			walk(r, visit)
		}
	case map[string]any:
		visit(t)
		// keys in order so nested ids are found deterministically
		for _, k := range slices.Sorted(maps.Keys(t)) {
			walk(t[k], visit)
		}
	case []any:
		for _, child := range t {
			walk(child, visit)
		}
	}
}

func dedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
