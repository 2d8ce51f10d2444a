package common

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ErrEmptySlug = errors.New("slug cannot be empty")
	nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)
)

func Slugify(input, fallback string) (string, error) {
	return SlugifyMax(input, fallback, 0)
}

// SlugifyMax behaves like Slugify but caps the slug at maxLen bytes (0 means
// no cap). Trailing hyphens left by the cut are trimmed.
func SlugifyMax(input, fallback string, maxLen int) (string, error) {
	slug := slugify(input, maxLen)
	if slug == "" {
		slug = slugify(fallback, maxLen)
	}
	if slug == "" {
		return "", ErrEmptySlug
	}
	return slug, nil
}

func slugify(s string, maxLen int) string {
	lower := strings.ToLower(strings.TrimSpace(s))
	slug := strings.Trim(nonSlugChars.ReplaceAllString(lower, "-"), "-")
	if maxLen > 0 && len(slug) > maxLen {
		slug = strings.TrimRight(slug[:maxLen], "-")
	}
	return slug
}
