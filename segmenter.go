package aqgeval

import (
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
)

// defaultSeparators are tried in order, coarsest first
var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// Segmenter splits text into chunks of at most ChunkSize characters,
// preferring paragraph, then line, then word boundaries. Separators stay
// attached to the start of the piece that follows them, so no text is lost
// apart from whitespace trimmed at chunk edges.
type Segmenter struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
}

// NewSegmenter returns a splitter with zero overlap and the default separators
func NewSegmenter(chunkSize int) *Segmenter {
	return &Segmenter{ChunkSize: chunkSize, Separators: defaultSeparators}
}

// SegmentTranscript splits transcript into chunks of at most size characters
func SegmentTranscript(transcript string, size int) []string {
	return NewSegmenter(size).Split(transcript)
}

// Split returns the ordered chunks of text
func (s *Segmenter) Split(text string) []string {
	seps := s.Separators
	if len(seps) == 0 {
		seps = defaultSeparators
	}
	return s.split(text, seps)
}

func (s *Segmenter) split(text string, separators []string) []string {
	var chunks []string

	separator := separators[len(separators)-1]
	var rest []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	var pending []string
	for _, piece := range splitKeepingSeparator(text, separator) {
		if runeLen(piece) < s.ChunkSize {
			pending = append(pending, piece)
			continue
		}
		if len(pending) > 0 {
			chunks = append(chunks, s.merge(pending)...)
			pending = nil
		}
		if len(rest) == 0 {
			if chunk := strings.TrimSpace(piece); chunk != "" {
				chunks = append(chunks, chunk)
			}
		} else {
			chunks = append(chunks, s.split(piece, rest)...)
		}
	}
	if len(pending) > 0 {
		chunks = append(chunks, s.merge(pending)...)
	}
	return chunks
}

// merge packs pieces into chunks no longer than ChunkSize
func (s *Segmenter) merge(pieces []string) []string {
	var (
		chunks  []string
		current []string
		total   int
	)
	for _, piece := range pieces {
		n := runeLen(piece)
		if total+n > s.ChunkSize {
			if total > s.ChunkSize {
				log.Warn().Int("length", total).Int("chunk_size", s.ChunkSize).Msg("created a chunk longer than the chunk size")
			}
			if len(current) > 0 {
				if chunk := strings.TrimSpace(strings.Join(current, "")); chunk != "" {
					chunks = append(chunks, chunk)
				}
				for total > s.ChunkOverlap || (total+n > s.ChunkSize && total > 0) {
					total -= runeLen(current[0])
					current = current[1:]
				}
			}
		}
		current = append(current, piece)
		total += n
	}
	if chunk := strings.TrimSpace(strings.Join(current, "")); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}

// splitKeepingSeparator splits text on sep and prefixes every piece after the
// first with the separator that preceded it. An empty sep splits into runes.
func splitKeepingSeparator(text, sep string) []string {
	var pieces []string
	if sep == "" {
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
		return pieces
	}
	parts := strings.Split(text, sep)
	for i, p := range parts {
		if i > 0 {
			p = sep + p
		}
		if p != "" {
			pieces = append(pieces, p)
		}
	}
	return pieces
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
