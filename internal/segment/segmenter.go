// Package segment splits document field text into bounded chunks for embedding.
package segment

import (
	"strings"
	"unicode"

	"github.com/hyperjump/jinzai/internal/models"
	"github.com/hyperjump/jinzai/pkg/utils"
)

// Segment is one chunk of a field, the unit that gets embedded.
type Segment struct {
	Text      string
	FieldType models.FieldType
	// Ordinal is the position of the segment within its field, starting at 0.
	Ordinal int
}

// Segmenter splits field text into chunks of at most maxLen characters.
type Segmenter struct {
	maxLen int
}

// NewSegmenter creates a segmenter with the given maximum chunk length (in characters).
func NewSegmenter(maxLen int) *Segmenter {
	return &Segmenter{maxLen: maxLen}
}

// MaxLen returns the configured maximum chunk length.
func (s *Segmenter) MaxLen() int {
	return s.maxLen
}

// Segment splits text of field f using the segmenter's maximum length.
func (s *Segmenter) Segment(text string, f models.FieldType) []Segment {
	return Split(text, f, s.maxLen)
}

// Split normalizes text and returns its chunks in original order.
//
// Text whose normalized length fits in maxLen comes back as a single chunk. Longer text is
// split at sentence boundaries and sentences are packed greedily into chunks of at most maxLen
// characters. A sentence longer than maxLen is emitted whole as its own oversized chunk.
// Blank input yields no chunks; maxLen <= 0 disables splitting.
func Split(text string, f models.FieldType, maxLen int) []Segment {
	normalized := Normalize(text)
	if normalized == "" {
		return nil
	}
	if maxLen <= 0 || utils.RuneLen(normalized) <= maxLen {
		return []Segment{{Text: normalized, FieldType: f, Ordinal: 0}}
	}
	var (
		segments []Segment
		current  strings.Builder
		curLen   int
	)
	emit := func() {
		if curLen == 0 {
			return
		}
		segments = append(segments, Segment{Text: current.String(), FieldType: f, Ordinal: len(segments)})
		current.Reset()
		curLen = 0
	}
	for _, sentence := range Sentences(normalized) {
		n := utils.RuneLen(sentence)
		if curLen > 0 && curLen+1+n > maxLen {
			emit()
		}
		if curLen > 0 {
			current.WriteByte(' ')
			curLen++
		}
		current.WriteString(sentence)
		curLen += n
	}
	emit()
	return segments
}

// Normalize collapses whitespace runs to single spaces and trims the text.
func Normalize(text string) string {
	return utils.NormalizeWhitespace(text)
}

// Sentences splits normalized text after each run of '.', '!' or '?' that is followed by
// whitespace or the end of the text. Terminators stay with their sentence, so joining the
// result with single spaces reproduces the input. Terminators inside tokens ("3.5", "node.js")
// do not split.
func Sentences(normalized string) []string {
	runes := []rune(normalized)
	var (
		out   []string
		start int
	)
	for i := 0; i < len(runes); i++ {
		if !isTerminator(runes[i]) {
			continue
		}
		end := i
		for end+1 < len(runes) && isTerminator(runes[end+1]) {
			end++
		}
		i = end
		if end+1 < len(runes) && !unicode.IsSpace(runes[end+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : end+1])); s != "" {
			out = append(out, s)
		}
		start = end + 1
	}
	if start < len(runes) {
		if s := strings.TrimSpace(string(runes[start:])); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Join reassembles segments with single spaces. For the segments of one field this
// reconstructs the normalized field text.
func Join(segments []Segment) string {
	parts := make([]string, len(segments))
	for i, s := range segments {
		parts[i] = s.Text
	}
	return strings.Join(parts, " ")
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
