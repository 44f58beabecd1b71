package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ZanzyTHEbar/episode-graphrag/egr/db"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

// Fixture is the corpus exchange format read by the seed command.
type Fixture struct {
	Episodes []FixtureEpisode `json:"episodes"`
}

// FixtureEpisode is one episode with everything it mentions.
type FixtureEpisode struct {
	Slug        string            `json:"slug"`
	Number      int               `json:"number,omitempty"`
	URL         string            `json:"url"`
	Title       string            `json:"title"`
	Date        string            `json:"date,omitempty"`
	Description string            `json:"description,omitempty"`
	Transcript  string            `json:"transcript,omitempty"`
	Topics      []FixtureTopic    `json:"topics,omitempty"`
	Resources   []FixtureResource `json:"resources,omitempty"`
	People      []FixturePerson   `json:"people,omitempty"`
	Chunks      []FixtureChunk    `json:"chunks,omitempty"`
}

type FixtureTopic struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
}

type FixtureResource struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

type FixturePerson struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
	Role string `json:"role,omitempty"` // guest (default) or host
}

type FixtureChunk struct {
	Order     int       `json:"order"`
	Text      string    `json:"text"`
	Start     float64   `json:"start,omitempty"`
	End       float64   `json:"end,omitempty"`
	Embedding []float64 `json:"embedding,omitempty"`
}

// SeedStats counts the rows written by Seed.
type SeedStats struct {
	Episodes  int `json:"episodes"`
	Topics    int `json:"topics"`
	Resources int `json:"resources"`
	People    int `json:"people"`
	Chunks    int `json:"chunks"`
}

// LoadFixture decodes a fixture from r.
func LoadFixture(r io.Reader) (*Fixture, error) {
	var f Fixture
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode fixture: %w", err)
	}
	for i, ep := range f.Episodes {
		if ep.Slug == "" || ep.URL == "" || ep.Title == "" {
			return nil, fmt.Errorf("episode %d: slug, url and title are required", i)
		}
	}
	return &f, nil
}

// LoadFixtureFile decodes the fixture stored at path.
func LoadFixtureFile(path string) (*Fixture, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fixture: %w", err)
	}
	defer file.Close()
	return LoadFixture(file)
}

// Seeder writes fixtures into the corpus tables.
type Seeder struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSeeder creates a seeder.
func NewSeeder(conn *sql.DB, logger zerolog.Logger) *Seeder {
	return &Seeder{db: conn, logger: logger.With().Str("component", "seeder").Logger()}
}

// Seed upserts every item of f in a single transaction. Re-seeding the same
// fixture is idempotent.
func (s *Seeder) Seed(ctx context.Context, f *Fixture) (SeedStats, error) {
	var stats SeedStats

	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, ep := range f.Episodes {
			episodeID := EpisodeID(ep.Slug)
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO episodes (id, slug, number, url, title, date, description, transcript)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					number = excluded.number, url = excluded.url, title = excluded.title,
					date = excluded.date, description = excluded.description, transcript = excluded.transcript`,
				episodeID, ep.Slug, nullInt(ep.Number), ep.URL, ep.Title, nullString(ep.Date), ep.Description, ep.Transcript,
			); err != nil {
				return fmt.Errorf("failed to upsert episode %s: %w", ep.Slug, err)
			}
			stats.Episodes++

			for _, t := range ep.Topics {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO topics (id, slug, name) VALUES (?, ?, ?)
					ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
					TopicID(t.Slug), t.Slug, t.Name,
				); err != nil {
					return fmt.Errorf("failed to upsert topic %s: %w", t.Slug, err)
				}
				if _, err := tx.ExecContext(ctx,
					"INSERT OR IGNORE INTO episode_topics (episode_id, topic_id) VALUES (?, ?)",
					episodeID, TopicID(t.Slug),
				); err != nil {
					return fmt.Errorf("failed to link topic %s: %w", t.Slug, err)
				}
				stats.Topics++
			}

			for _, r := range ep.Resources {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO resources (id, url, title) VALUES (?, ?, ?)
					ON CONFLICT(id) DO UPDATE SET title = COALESCE(excluded.title, resources.title)`,
					ResourceID(r.URL), r.URL, nullString(r.Title),
				); err != nil {
					return fmt.Errorf("failed to upsert resource %s: %w", r.URL, err)
				}
				if _, err := tx.ExecContext(ctx,
					"INSERT OR IGNORE INTO episode_resources (episode_id, resource_id) VALUES (?, ?)",
					episodeID, ResourceID(r.URL),
				); err != nil {
					return fmt.Errorf("failed to link resource %s: %w", r.URL, err)
				}
				stats.Resources++
			}

			for _, p := range ep.People {
				role := p.Role
				if role == "" {
					role = "guest"
				}
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO people (id, slug, name, url) VALUES (?, ?, ?, ?)
					ON CONFLICT(id) DO UPDATE SET name = excluded.name, url = COALESCE(excluded.url, people.url)`,
					PersonID(p.Slug), p.Slug, p.Name, nullString(p.URL),
				); err != nil {
					return fmt.Errorf("failed to upsert person %s: %w", p.Slug, err)
				}
				if _, err := tx.ExecContext(ctx,
					"INSERT OR IGNORE INTO episode_people (episode_id, person_id, role) VALUES (?, ?, ?)",
					episodeID, PersonID(p.Slug), role,
				); err != nil {
					return fmt.Errorf("failed to link person %s: %w", p.Slug, err)
				}
				stats.People++
			}

			for _, c := range ep.Chunks {
				var blob any
				if len(c.Embedding) > 0 {
					blob = EncodeVector(c.Embedding)
				}
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO chunks (id, episode_id, ord, text, start_time, end_time, embedding)
					VALUES (?, ?, ?, ?, ?, ?, ?)
					ON CONFLICT(id) DO UPDATE SET
						text = excluded.text, start_time = excluded.start_time,
						end_time = excluded.end_time, embedding = COALESCE(excluded.embedding, chunks.embedding)`,
					ChunkID(ep.Slug, c.Order), episodeID, c.Order, c.Text, c.Start, c.End, blob,
				); err != nil {
					return fmt.Errorf("failed to upsert chunk %s--%d: %w", ep.Slug, c.Order, err)
				}
				stats.Chunks++
			}
		}
		return nil
	})
	if err != nil {
		return SeedStats{}, err
	}

	s.logger.Info().
		Int("episodes", stats.Episodes).
		Int("topics", stats.Topics).
		Int("resources", stats.Resources).
		Int("people", stats.People).
		Int("chunks", stats.Chunks).
		Msg("corpus seeded")
	return stats, nil
}

// EmbedMissing fills in chunk embeddings absent from f using embedder, in
// batches of batchSize texts. It returns the number of chunks embedded.
func EmbedMissing(ctx context.Context, f *Fixture, embedder Embedder, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 32
	}

	var missing []*FixtureChunk
	for i := range f.Episodes {
		for j := range f.Episodes[i].Chunks {
			if c := &f.Episodes[i].Chunks[j]; len(c.Embedding) == 0 && c.Text != "" {
				missing = append(missing, c)
			}
		}
	}

	pl := pool.New().WithContext(ctx).WithCancelOnError().WithMaxGoroutines(4)
	for start := 0; start < len(missing); start += batchSize {
		batch := missing[start:min(start+batchSize, len(missing))]
		pl.Go(func(ctx context.Context) error {
			texts := make([]string, len(batch))
			for i, c := range batch {
				texts[i] = c.Text
			}
			vecs, err := embedder.Embed(ctx, texts)
			if err != nil {
				return fmt.Errorf("failed to embed chunks: %w", err)
			}
			if len(vecs) != len(batch) {
				return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vecs), len(batch))
			}
			for i, c := range batch {
				c.Embedding = vecs[i]
			}
			return nil
		})
	}
	if err := pl.Wait(); err != nil {
		return 0, err
	}
	return len(missing), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}
