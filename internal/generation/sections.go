// Package generation builds the fixed instructions sent to the text-generation
// gateway and turns its free-text replies back into structured results.
//
// Parsing is two-staged: strict extractors (ExtractSection, SplitNumbered,
// ExtractJSONArray) followed by a total fallback that never yields an empty
// list. Parsers report whether the fallback was used so callers can log it.
package generation

import (
	"regexp"
	"strings"
	"sync"
)

// headerPattern matches a section header at the start of a line, tolerating
// markdown decoration such as "**HEADLINES:**" or "## Headlines".
func headerPattern(header string) string {
	return `(?:^|\n)[ \t]*[*#_]*[ \t]*` + regexp.QuoteMeta(header) + `\b[ \t]*[*_]*[ \t]*:?[ \t]*[*_]*`
}

// sectionCache holds compiled section patterns keyed by header list.
var sectionCache sync.Map

func sectionRegexp(header string, nextHeaders []string) *regexp.Regexp {
	key := header + "|" + strings.Join(nextHeaders, "|")
	if re, ok := sectionCache.Load(key); ok {
		return re.(*regexp.Regexp)
	}
	var b strings.Builder
	b.WriteString(`(?is)`)
	b.WriteString(headerPattern(header))
	b.WriteString(`(.*?)(?:`)
	for _, next := range nextHeaders {
		b.WriteString(headerPattern(next))
		b.WriteString(`|`)
	}
	b.WriteString(`\z)`)
	re := regexp.MustCompile(b.String())
	sectionCache.Store(key, re)
	return re
}

// ExtractSection returns the body of the section introduced by header, up to
// the next of nextHeaders or the end of the reply. Matching is
// case-insensitive. The boolean is false when the header is absent.
func ExtractSection(reply, header string, nextHeaders ...string) (string, bool) {
	m := sectionRegexp(header, nextHeaders).FindStringSubmatch(reply)
	if m == nil {
		return "", false
	}
	return m[1], true
}

var numberedMarker = regexp.MustCompile(`(?m)^[ \t]*\d+[.)]\s+`)

var bulletPrefix = regexp.MustCompile(`^[-*•][ \t]+`)

// SplitNumbered splits a section on line-leading "<n>. " markers, trimming
// every item and dropping empty ones. Text before the first marker is
// discarded. A section without any marker yields its non-empty lines.
func SplitNumbered(section string) []string {
	locs := numberedMarker.FindAllStringIndex(section, -1)
	if len(locs) == 0 {
		var items []string
		for _, line := range strings.Split(section, "\n") {
			line = strings.TrimSpace(bulletPrefix.ReplaceAllString(strings.TrimSpace(line), ""))
			if line != "" {
				items = append(items, line)
			}
		}
		return items
	}

	items := make([]string, 0, len(locs))
	for i, loc := range locs {
		end := len(section)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		if item := strings.TrimSpace(section[loc[1]:end]); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// withFallback returns items, or a single placeholder when items is empty.
func withFallback(items []string, placeholder string) ([]string, bool) {
	if len(items) == 0 {
		return []string{placeholder}, true
	}
	return items, false
}
