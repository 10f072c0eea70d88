package normalize

import "strings"

// Email returns a normalized form of an email address suitable for
// storage and comparisons. Normalization currently trims surrounding
// whitespace and lower-cases the address.
func Email(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// SearchableName is the lower-cased value user search runs against: the
// display name when one is set, otherwise the email address.
func SearchableName(displayName, email string) string {
	if n := strings.TrimSpace(displayName); n != "" {
		return strings.ToLower(n)
	}
	return Email(email)
}

// Fold lower-cases s for case-insensitive substring matching.
func Fold(s string) string {
	return strings.ToLower(s)
}
