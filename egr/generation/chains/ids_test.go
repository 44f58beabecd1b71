package chains

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ZanzyTHEbar/episode-graphrag/egr/memory/service"
)

func TestExtractIDs(t *testing.T) {
	rows := []service.Row{
		{
			"_id":   "episode:lets-learn-astro",
			"title": "Let's Learn Astro",
			"guests": []any{
				map[string]any{"_id": "person:ben-holmes", "name": "Ben Holmes"},
				map[string]any{"name": "no id"},
			},
			"topic": map[string]any{"_id": "topic:astro"},
		},
		{"_id": "episode:lets-learn-astro"},
		{"count": 3},
	}

	assert.Equal(t, []string{"episode:lets-learn-astro", "person:ben-holmes", "topic:astro"}, ExtractIDs(rows))
	assert.Empty(t, ExtractIDs([]service.Row{{"n": 1}}))
}

func TestExtractEpisodeTitles(t *testing.T) {
	rows := []service.Row{
		{"_id": "episode:magic-of-css", "title": "Magic of CSS, The"},
		{"_id": "topic:css", "title": "not an episode"},
		{"_id": "person:x", "episodes": []any{map[string]any{"_id": "episode:a", "title": "A"}}},
	}
	assert.Equal(t, []string{"Magic of CSS, The", "A"}, ExtractEpisodeTitles(rows))
}
