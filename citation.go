package sift

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// citationRe matches inline citation markers of the form [S3].
var citationRe = regexp.MustCompile(`\[S(\d+)\]`)

// CitationIndices returns the distinct citation indices referenced by text,
// in first-appearance order.
func CitationIndices(text string) []int {
	seen := make(map[int]bool)
	var out []int
	for _, m := range citationRe.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// ValidateCitations checks that every marker in text resolves to a source
// index. Returns one warning per unresolvable marker; nil when all resolve.
func ValidateCitations(text string, sources []Source) []string {
	var warnings []string
	for _, idx := range CitationIndices(text) {
		if idx < 1 || idx > len(sources) {
			warnings = append(warnings, fmt.Sprintf("citation [S%d] does not resolve to a source (have %d)", idx, len(sources)))
		}
	}
	return warnings
}

// StripCitations removes all [S#] markers from text. Used for no-evidence
// answers, which must not carry citation markers.
func StripCitations(text string) string {
	return strings.TrimSpace(citationRe.ReplaceAllString(text, ""))
}

// SourcesSection renders the mandatory trailing "Sources" section for a
// non-empty answer. cited lists the indices the answer actually referenced;
// when the answer cites nothing, all sources are enumerated so the evidence
// trail is never dropped.
func SourcesSection(sources []Source, cited []int) string {
	if len(sources) == 0 {
		return ""
	}

	include := make(map[int]bool, len(cited))
	for _, idx := range cited {
		if idx >= 1 && idx <= len(sources) {
			include[idx] = true
		}
	}
	all := len(include) == 0

	var b strings.Builder
	b.WriteString("Sources:\n")
	for _, s := range sources {
		if !all && !include[s.Index] {
			continue
		}
		fmt.Fprintf(&b, "[S%d] %s", s.Index, s.Title)
		if s.Heading != "" {
			if s.Title != "" {
				b.WriteString(" — ")
			}
			b.WriteString(s.Heading)
		}
		if s.Title == "" && s.Heading == "" {
			fmt.Fprintf(&b, "document %s", s.DocumentID)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
