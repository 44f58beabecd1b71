package service

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ZanzyTHEbar/episode-graphrag/egr/config"
	"github.com/ZanzyTHEbar/episode-graphrag/egr/db"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testFixture = `{
  "episodes": [
    {
      "slug": "lets-learn-astro",
      "number": 301,
      "url": "https://www.learnwithjason.dev/lets-learn-astro",
      "title": "Let's Learn Astro",
      "date": "2023-05-01",
      "description": "Ben Holmes teaches Astro.",
      "topics": [{"slug": "astro", "name": "Astro"}, {"slug": "javascript", "name": "JavaScript"}],
      "resources": [{"url": "https://astro.build", "title": "Astro"}],
      "people": [{"slug": "ben-holmes", "name": "Ben Holmes"}, {"slug": "jason-lengstorf", "name": "Jason Lengstorf", "role": "host"}],
      "chunks": [
        {"order": 0, "text": "Astro ships zero JavaScript by default.", "start": 0, "end": 30, "embedding": [1, 0, 0]},
        {"order": 1, "text": "Islands let you hydrate only what needs it.", "start": 30, "end": 60, "embedding": [0.9, 0.1, 0]}
      ]
    },
    {
      "slug": "magic-of-css",
      "url": "https://www.learnwithjason.dev/magic-of-css",
      "title": "Magic of CSS, The",
      "date": "2022-01-10",
      "topics": [{"slug": "css", "name": "CSS"}],
      "chunks": [
        {"order": 0, "text": "Container queries change responsive design.", "embedding": [0, 1, 0]}
      ]
    }
  ]
}`

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(context.Background(), config.DatabaseConfig{
		URL:          "file:" + filepath.Join(t.TempDir(), "corpus.db"),
		MaxOpenConns: 4,
		AutoMigrate:  true,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func seededDB(t *testing.T) *sql.DB {
	t.Helper()
	conn := openTestDB(t)
	f, err := LoadFixture(strings.NewReader(testFixture))
	require.NoError(t, err)
	_, err = NewSeeder(conn, zerolog.Nop()).Seed(context.Background(), f)
	require.NoError(t, err)
	return conn
}
