package normalize

import "strings"

// Email returns a normalized form of an email address suitable for
// storage and comparisons. Normalization currently trims surrounding
// whitespace and lower-cases the address.
func Email(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// ChannelID trims a channel identifier taken from a route or query string.
// Channel ids are case-sensitive, so no case folding is applied.
func ChannelID(id string) string {
	return strings.TrimSpace(id)
}
