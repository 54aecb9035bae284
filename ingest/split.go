package ingest

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// segment is an internal unit of split text. Degenerate segments were
// force-split by raw length and are never merged with neighbors.
type segment struct {
	text       string
	degenerate bool
}

// splitBudget splits text into budget-sized segments with overlap.
// Strategy: split on paragraphs (\n\n), then sentences, then words.
func splitBudget(text string, maxChars, overlapChars int) []segment {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= maxChars {
		return []segment{{text: text}}
	}
	return mergeWithOverlap(splitRecursive(text, maxChars), maxChars, overlapChars)
}

func splitRecursive(text string, maxChars int) []segment {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= maxChars {
		return []segment{{text: text}}
	}

	// Level 1: paragraph boundaries.
	paragraphs := strings.Split(text, "\n\n")
	if len(paragraphs) > 1 {
		var segments []segment
		for _, p := range paragraphs {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if len(p) <= maxChars {
				segments = append(segments, segment{text: p})
			} else {
				segments = append(segments, splitOnSentences(p, maxChars)...)
			}
		}
		return segments
	}

	// Level 2: sentence boundaries.
	sentenceSegments := splitOnSentences(text, maxChars)
	if len(sentenceSegments) > 1 {
		return sentenceSegments
	}

	// Level 3: word boundaries.
	return splitOnWords(text, maxChars)
}

// splitOnSentences packs whole sentences into budget-sized segments. A
// sentence that alone exceeds the budget is force-split on words and its
// fragments are marked degenerate.
func splitOnSentences(text string, maxChars int) []segment {
	boundaries := findSentenceBoundaries(text)
	if len(boundaries) == 0 {
		return splitOnWords(text, maxChars)
	}

	var segments []segment
	appendSeg := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if len(s) <= maxChars {
			segments = append(segments, segment{text: s})
		} else {
			segments = append(segments, splitOnWords(s, maxChars)...)
		}
	}

	start := 0
	lastGood := -1
	for _, boundary := range boundaries {
		candidate := text[start:boundary]
		if len(candidate) <= maxChars {
			lastGood = boundary
			continue
		}
		if lastGood > start {
			appendSeg(text[start:lastGood])
			start = lastGood
			if len(strings.TrimSpace(text[start:boundary])) <= maxChars {
				lastGood = boundary
			} else {
				lastGood = -1
			}
		} else {
			appendSeg(text[start:boundary])
			start = boundary
			lastGood = -1
		}
	}

	if lastGood > start {
		appendSeg(text[start:lastGood])
		start = lastGood
	}
	appendSeg(text[start:])

	return segments
}

// abbreviations that should NOT be treated as sentence boundaries.
var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true,
	"prof": true, "sr": true, "jr": true,
	"vs": true, "etc": true, "inc": true, "ltd": true,
	"e.g": true, "i.e": true, "viz": true, "al": true,
	"approx": true, "dept": true, "est": true,
	"fig": true, "no": true, "vol": true,
}

// isAbbreviation checks if the text ending at the '.' at dotPos is a common
// abbreviation.
func isAbbreviation(text string, dotPos int) bool {
	start := dotPos
	for start > 0 {
		r, size := utf8.DecodeLastRuneInString(text[:start])
		if !unicode.IsLetter(r) && r != '.' {
			break
		}
		start -= size
	}
	return abbreviations[strings.ToLower(text[start:dotPos])]
}

// isDecimalDot checks if the dot at dotPos is part of a number (3.14, $1.50).
func isDecimalDot(text string, dotPos int) bool {
	if dotPos == 0 || dotPos+1 >= len(text) {
		return false
	}
	prev, next := text[dotPos-1], text[dotPos+1]
	return prev >= '0' && prev <= '9' && next >= '0' && next <= '9'
}

// findSentenceBoundaries returns byte positions suitable for splitting text
// at sentence boundaries. Handles ASCII punctuation (.!?) with abbreviation
// and decimal number awareness, plus CJK sentence-ending punctuation (。！？).
func findSentenceBoundaries(text string) []int {
	var boundaries []int
	runes := []rune(text)
	n := len(runes)

	byteOffsets := make([]int, n+1)
	off := 0
	for i, r := range runes {
		byteOffsets[i] = off
		off += utf8.RuneLen(r)
	}
	byteOffsets[n] = off

	for i := 0; i < n; i++ {
		r := runes[i]

		// CJK sentence-ending punctuation is always a boundary.
		if r == '。' || r == '！' || r == '？' {
			boundaries = append(boundaries, byteOffsets[i+1])
			continue
		}
		if r != '.' && r != '!' && r != '?' {
			continue
		}

		dotBytePos := byteOffsets[i]
		if r == '.' && (isDecimalDot(text, dotBytePos) || isAbbreviation(text, dotBytePos)) {
			continue
		}

		// Need whitespace or newline after punctuation.
		if i+1 < n && (runes[i+1] == ' ' || runes[i+1] == '\n') {
			if runes[i+1] == '\n' {
				boundaries = append(boundaries, byteOffsets[i+1])
			} else if i+2 < n && unicode.IsUpper(runes[i+2]) {
				boundaries = append(boundaries, byteOffsets[i+2])
			} else if i+2 >= n {
				boundaries = append(boundaries, byteOffsets[n])
			}
		}
	}
	return boundaries
}

// splitOnWords force-splits text on word boundaries (and mid-word for words
// longer than the budget). Every output is marked degenerate: the caller only
// lands here when sentence structure could not fit the budget.
func splitOnWords(text string, maxChars int) []segment {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var segments []segment
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			segments = append(segments, segment{text: strings.TrimSpace(current.String()), degenerate: true})
			current.Reset()
		}
	}

	for _, word := range words {
		if len(word) > maxChars {
			flush()
			for i := 0; i < len(word); i += maxChars {
				end := min(i+maxChars, len(word))
				segments = append(segments, segment{text: word[i:end], degenerate: true})
			}
			continue
		}

		needed := len(word)
		if current.Len() > 0 {
			needed = current.Len() + 1 + len(word)
		}
		if needed > maxChars {
			flush()
		} else if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(word)
	}
	flush()

	return segments
}

// mergeWithOverlap packs segments into budget-sized chunks, carrying a
// word-aligned suffix of each chunk into the next for context continuity.
// Degenerate segments pass through unmerged.
func mergeWithOverlap(segments []segment, maxChars, overlapChars int) []segment {
	if len(segments) == 0 {
		return nil
	}

	var out []segment
	var current strings.Builder

	for _, seg := range segments {
		if seg.degenerate {
			if current.Len() > 0 {
				out = append(out, segment{text: current.String()})
				current.Reset()
			}
			out = append(out, seg)
			continue
		}

		needed := len(seg.text)
		if current.Len() > 0 {
			needed = current.Len() + 1 + len(seg.text)
		}

		if needed <= maxChars {
			if current.Len() > 0 {
				current.WriteByte('\n')
			}
			current.WriteString(seg.text)
			continue
		}

		if current.Len() > 0 {
			chunk := current.String()
			out = append(out, segment{text: chunk})

			overlap := overlapSuffix(chunk, overlapChars)
			current.Reset()
			if overlap != "" && len(overlap)+1+len(seg.text) <= maxChars {
				current.WriteString(overlap)
				current.WriteByte('\n')
			}
		}
		current.WriteString(seg.text)
	}

	if current.Len() > 0 {
		out = append(out, segment{text: current.String()})
	}

	var result []segment
	for _, s := range out {
		if strings.TrimSpace(s.text) != "" {
			result = append(result, s)
		}
	}
	return result
}

// overlapSuffix returns the last n bytes of text, trimmed forward to the
// next word boundary.
func overlapSuffix(text string, n int) string {
	if len(text) <= n {
		return text
	}
	suffix := text[len(text)-n:]
	if idx := strings.Index(suffix, " "); idx >= 0 {
		return strings.TrimSpace(suffix[idx+1:])
	}
	return strings.TrimSpace(suffix)
}
