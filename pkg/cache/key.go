package cache

import (
	"strconv"
	"strings"
)

// Well-known keys.
const (
	// BestStoryIDsKey holds the current ranked id list.
	BestStoryIDsKey = "beststories_ids"

	// StaleBestStoryIDsKey holds the last successfully fetched id list with a
	// long TTL, read only when the upstream is unavailable.
	StaleBestStoryIDsKey = "beststories_ids:stale"

	// ItemKeyPrefix prefixes per-story entries.
	ItemKeyPrefix = "story_"

	// DefaultPrefix namespaces all keys in a shared Redis.
	DefaultPrefix = "hn"
)

// ItemKey returns the cache key for a story id.
//
// Example:
//
//	ItemKey(8863) == "story_8863"
func ItemKey(id int) string {
	return ItemKeyPrefix + strconv.Itoa(id)
}

// prefixedKey joins a namespace prefix and key with ':'.
// Leading and trailing separators on the prefix are trimmed.
func prefixedKey(prefix, key string) string {
	prefix = strings.Trim(prefix, ":")
	if prefix == "" {
		return key
	}
	return prefix + ":" + key
}
