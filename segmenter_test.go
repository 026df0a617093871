package aqgeval

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSegmentTranscriptSplitsAtWordBoundaries(t *testing.T) {
	transcript := strings.Repeat("word ", 104) // 520 characters

	chunks := SegmentTranscript(transcript, 500)
	if len(chunks) != 2 {
		t.Fatalf("Expected 2 segments, got %d", len(chunks))
	}
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c); n > 500 {
			t.Errorf("Segment %d has %d characters", i, n)
		}
		if strings.HasPrefix(c, " ") || strings.HasSuffix(c, " ") {
			t.Errorf("Segment %d is not trimmed: %q", i, c)
		}
	}
	if got := strings.Join(chunks, " "); got != strings.TrimSpace(transcript) {
		t.Errorf("Rejoined segments lost text")
	}
}

func TestSegmentTranscriptShortText(t *testing.T) {
	chunks := SegmentTranscript("  just a few words  ", 500)
	if len(chunks) != 1 || chunks[0] != "just a few words" {
		t.Fatalf("Expected one trimmed segment, got %q", chunks)
	}
}

func TestSegmentTranscriptEmpty(t *testing.T) {
	if chunks := SegmentTranscript("   ", 500); len(chunks) != 0 {
		t.Fatalf("Expected no segments, got %q", chunks)
	}
}

func TestSegmentTranscriptPrefersParagraphs(t *testing.T) {
	first := strings.Repeat("a", 30)
	second := strings.Repeat("b", 30)

	chunks := SegmentTranscript(first+"\n\n"+second, 40)
	if len(chunks) != 2 {
		t.Fatalf("Expected 2 segments, got %q", chunks)
	}
	if chunks[0] != first || chunks[1] != second {
		t.Errorf("Unexpected segments %q", chunks)
	}
}

func TestSegmentTranscriptLongWord(t *testing.T) {
	chunks := SegmentTranscript(strings.Repeat("x", 25), 10)
	if len(chunks) != 3 {
		t.Fatalf("Expected 3 segments, got %q", chunks)
	}
	for _, c := range chunks {
		if len(c) > 10 {
			t.Errorf("Segment %q longer than 10", c)
		}
	}
}

func TestSegmentTranscriptCountsRunes(t *testing.T) {
	text := strings.Repeat("é ", 10)
	chunks := SegmentTranscript(text, 100)
	if len(chunks) != 1 {
		t.Fatalf("Expected 1 segment, got %d", len(chunks))
	}
}

func TestSegmentTranscriptTinySizeHasNoBlankSegments(t *testing.T) {
	transcript := "ab c\nd  e\n\nf"
	for _, size := range []int{1, 2, 3} {
		chunks := SegmentTranscript(transcript, size)
		for i, c := range chunks {
			if strings.TrimSpace(c) == "" {
				t.Errorf("size %d: segment %d is blank", size, i)
			}
		}
		if got, want := strings.Join(strings.Fields(strings.Join(chunks, "")), ""), "abcdef"; got != want {
			t.Errorf("size %d: segments cover %q, want %q", size, got, want)
		}
	}
}
