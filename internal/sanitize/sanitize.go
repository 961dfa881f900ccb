// Package sanitize cleans oracle-produced text before it is stored as rule
// or correction content. Stored rules are replayed into later oracle
// preambles, so control characters, markup and heading markers are stripped
// to prevent stored prompt injection while preserving meaning.
package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxTextLength is the maximum length of rule conditions, actions and
// extracted generalizations.
const MaxTextLength = 1000

// MaxNameLength is the maximum length of rule names.
const MaxNameLength = 120

// MaxFieldPathLength is the maximum length of a field path.
const MaxFieldPathLength = 200

var (
	// reXMLTag matches XML/HTML tags, processing instructions and unclosed
	// tags at end-of-string.
	reXMLTag = regexp.MustCompile(`<[/?!]?[a-zA-Z][a-zA-Z0-9]*(?:\s+[^>]*)?/?\s*>|<\?[^?]*\?>|</\s+[a-zA-Z][^>]*>|<[/?!]?[a-zA-Z][^>]*$`)

	reHTMLComment = regexp.MustCompile(`<!--[\s\S]*?-->`)
	reCDATA       = regexp.MustCompile(`<!\[CDATA\[[\s\S]*?\]\]>`)

	// reMarkdownHeading matches headings at the start of a line.
	reMarkdownHeading = regexp.MustCompile(`(?m)^#{1,6}\s+`)

	reTripleBacktick = regexp.MustCompile("```+")

	// reWhitespaceRun matches runs of whitespace, newlines included.
	reWhitespaceRun = regexp.MustCompile(`\s+`)

	reRepeatedHyphens     = regexp.MustCompile(`-{2,}`)
	reRepeatedUnderscores = regexp.MustCompile(`_{2,}`)
	reRepeatedDots        = regexp.MustCompile(`\.{2,}`)
)

// SanitizeRuleText cleans a free-text condition, action or generalization.
// Rule text is single-line, so all whitespace runs collapse to one space.
//
// The pipeline runs in this order:
//  1. Strip null bytes and ASCII control characters (except \n, \t)
//  2. Strip HTML comments, CDATA sections and XML/HTML tags
//  3. Drop markdown heading markers
//  4. Collapse backtick fences to a single backtick
//  5. Collapse whitespace and trim
//  6. Truncate to MaxTextLength
func SanitizeRuleText(input string) string {
	if input == "" {
		return ""
	}

	s := stripControlChars(input)
	s = reHTMLComment.ReplaceAllString(s, "")
	s = reCDATA.ReplaceAllString(s, "")
	s = reXMLTag.ReplaceAllString(s, "")
	s = reMarkdownHeading.ReplaceAllString(s, "")
	s = reTripleBacktick.ReplaceAllString(s, "`")
	s = strings.TrimSpace(reWhitespaceRun.ReplaceAllString(s, " "))

	if utf8.RuneCountInString(s) > MaxTextLength {
		runes := []rune(s)
		s = string(runes[:MaxTextLength]) + "..."
	}
	return s
}

// SanitizeRuleName keeps [a-zA-Z0-9-_/.], turning spaces into hyphens, collapses
// repeated separators and enforces MaxNameLength.
func SanitizeRuleName(input string) string {
	if input == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(input))
	for _, r := range strings.TrimSpace(input) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '-', r == '_', r == '/', r == '.':
			b.WriteRune(r)
		case r == ' ' || r == '\t':
			b.WriteRune('-')
		}
	}
	s := b.String()
	s = reRepeatedHyphens.ReplaceAllString(s, "-")
	s = reRepeatedUnderscores.ReplaceAllString(s, "_")
	s = reRepeatedDots.ReplaceAllString(s, ".")

	if utf8.RuneCountInString(s) > MaxNameLength {
		runes := []rune(s)
		s = string(runes[:MaxNameLength])
	}
	return s
}

// SanitizeFieldPath keeps identifier characters and dots of a dotted field
// path and drops empty segments ("a..b" becomes "a.b").
func SanitizeFieldPath(input string) string {
	if input == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.' {
			b.WriteRune(r)
		}
	}

	parts := strings.Split(b.String(), ".")
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	s := strings.Join(kept, ".")
	if len(s) > MaxFieldPathLength {
		s = s[:MaxFieldPathLength]
	}
	return strings.TrimRight(s, ".")
}

// stripControlChars removes ASCII control characters (0x00-0x1F) and DEL
// (0x7F), except newline and tab.
func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r < 0x20 || r == 0x7F) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
