// Package storage holds the naming rules shared by every story store.
// Implementations live in the local, memory and gcs subpackages.
package storage

import (
	"strconv"
	"strings"
)

const (
	maxDirLabelRunes = 25
	maxFileRunes     = 30
)

// StoryDirName returns "<id> <label>", where label is the last path segment of
// url or, when that is empty, the title. The label is cut to 25 runes.
func StoryDirName(id int64, title, url string) string {
	label := lastSegment(url)
	if label == "" {
		label = title
	}
	label = truncate(sanitize(label), maxDirLabelRunes)
	return strconv.FormatInt(id, 10) + " " + label
}

// FileName maps a URL to a file name: its last path segment or, when that is
// unusable, the whole URL with "/" turned into "-" and "." into "_". The
// result is cut to 30 runes.
func FileName(url string) string {
	name := lastSegment(url)
	if name == "" || name == "." || name == ".." {
		name = strings.NewReplacer("/", "-", ".", "_").Replace(url)
	}
	name = truncate(sanitize(name), maxFileRunes)
	if name == "" {
		return "index"
	}
	return name
}

func lastSegment(url string) string {
	if i := strings.LastIndexByte(url, '/'); i >= 0 {
		return url[i+1:]
	}
	return url
}

func sanitize(s string) string {
	return strings.NewReplacer("/", "-", "\x00", "-").Replace(s)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
