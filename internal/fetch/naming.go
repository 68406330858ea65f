package fetch

import (
	"regexp"
	"strings"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// SnakeCase lowercases s and collapses every run of non-alphanumeric
// characters into a single underscore.
func SnakeCase(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonAlnum.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

var nonDigit = regexp.MustCompile(`[^0-9]`)

// FileName builds the deterministic download name
// YYYYMMDD_customtitle_sourcetitle.mp4, skipping empty pieces.
func FileName(eventDate, customTitle, sourceTitle string) string {
	parts := make([]string, 0, 3)
	if d := nonDigit.ReplaceAllString(eventDate, ""); d != "" {
		parts = append(parts, d)
	}
	if t := SnakeCase(customTitle); t != "" {
		parts = append(parts, t)
	}
	if t := SnakeCase(sourceTitle); t != "" {
		parts = append(parts, t)
	}
	if len(parts) == 0 {
		parts = append(parts, "video")
	}
	return strings.Join(parts, "_") + ".mp4"
}
