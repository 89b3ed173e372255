// Package links pulls hyperlink targets out of comment bodies.
package links

import (
	"regexp"
	"slices"

	"golang.org/x/net/html"
)

// Only double-quoted href attributes on anchor tags are recognised.
var anchorHref = regexp.MustCompile(`<a[^>]* href="([^"]*)"`)

// Extract returns the distinct href targets of every anchor in text, sorted.
// Entities are unescaped first, so "https:&#x2F;&#x2F;example.com" yields
// "https://example.com". It returns nil when nothing matches.
func Extract(text string) []string {
	if text == "" {
		return nil
	}
	matches := anchorHref.FindAllStringSubmatch(html.UnescapeString(text), -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		target := m[1]
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	slices.Sort(out)
	return out
}

// Count returns len(Extract(text)).
func Count(text string) int {
	return len(Extract(text))
}
