package common

import (
	"html"
	"regexp"
	"strings"
)

var (
	tagPattern  = regexp.MustCompile(`<[^>]+>`)
	yearPattern = regexp.MustCompile(`\d{4}`)
)

const unknownYear = "unknown"

func CleanHTMLText(raw string) string {
	value := strings.TrimSpace(raw)
	value = html.UnescapeString(value)
	value = tagPattern.ReplaceAllString(value, " ")
	value = strings.Join(strings.Fields(value), " ")
	return value
}

// CollapseSpaces trims the value and folds every whitespace run into a single
// space.
func CollapseSpaces(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}

// ExtractYear returns the first run of four digits in raw, or "unknown".
func ExtractYear(raw string) string {
	if match := yearPattern.FindString(raw); match != "" {
		return match
	}
	return unknownYear
}
