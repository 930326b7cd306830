package rediskey

import "fmt"

// Club keys (global convention across services)
const (
	ClubPrefix     = "club"
	ClubSlugPrefix = "club:slug"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildClubIDKey returns "club:{clubID}"
func BuildClubIDKey(clubID string) string {
	return NamespaceKey(ClubPrefix, clubID)
}

// BuildClubSlugKey returns "club:slug:{slug}"
func BuildClubSlugKey(slug string) string {
	return NamespaceKey(ClubSlugPrefix, slug)
}
