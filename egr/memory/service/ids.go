package service

import (
	"fmt"
	"strings"
)

// Knowledge item id prefixes. Ids are globally unique across item kinds.
const (
	EpisodePrefix  = "episode:"
	ChunkPrefix    = "chunk:"
	TopicPrefix    = "topic:"
	ResourcePrefix = "resource:"
	PersonPrefix   = "person:"
)

func EpisodeID(slug string) string { return EpisodePrefix + slug }
func TopicID(slug string) string   { return TopicPrefix + slug }
func ResourceID(url string) string { return ResourcePrefix + url }
func PersonID(slug string) string  { return PersonPrefix + slug }

// ChunkID identifies chunk order of the episode with the given slug.
func ChunkID(episodeSlug string, order int) string {
	return fmt.Sprintf("%s%s--%d", ChunkPrefix, episodeSlug, order)
}

// ItemKind returns the kind encoded in a knowledge item id, or "" if the id
// has no known prefix.
func ItemKind(id string) string {
	for _, p := range []string{EpisodePrefix, ChunkPrefix, TopicPrefix, ResourcePrefix, PersonPrefix} {
		if strings.HasPrefix(id, p) {
			return strings.TrimSuffix(p, ":")
		}
	}
	return ""
}
