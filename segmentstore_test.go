package aqgeval

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// storeFactory returns a prepared, empty store
type storeFactory func(t *testing.T) SegmentStore

func fileStore(t *testing.T) SegmentStore {
	s := NewFileSegmentStore(filepath.Join(t.TempDir(), "Segments"), zerolog.Nop(), nil)
	if err := s.Prepare(); err != nil {
		t.Fatal(err)
	}
	return s
}

func sqliteStore(t *testing.T) SegmentStore {
	db, err := OpenDB(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.CloseDB() })
	if err := db.CreateTables(); err != nil {
		t.Fatal(err)
	}
	s := db.Segments("lecture", nil)
	if err := s.Prepare(); err != nil {
		t.Fatal(err)
	}
	return s
}

func forEachStore(t *testing.T, fn func(t *testing.T, s SegmentStore)) {
	for name, factory := range map[string]storeFactory{"file": fileStore, "sqlite": sqliteStore} {
		t.Run(name, func(t *testing.T) { fn(t, factory(t)) })
	}
}

func TestSegmentStoreRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, s SegmentStore) {
		seg := NewSegment("Arthur Samuel coined the term.")
		seg.Summary = "Samuel named the field."
		seg.SetTranscriptKeywords(WordsFrequency([]string{"Samuel"}, seg.Transcript, 3))
		seg.SetQuestions(BLQ, []Question{{Question: "Did Samuel coin it?", Answer: BoolAnswer(true)}})

		written, err := s.Write(0, seg)
		if err != nil || !written {
			t.Fatalf("Write = %v, %v", written, err)
		}
		got, err := s.Read(0)
		if err != nil {
			t.Fatal(err)
		}
		if got.Summary != seg.Summary || !got.MCQsKeywords.Equal(seg.MCQsKeywords) {
			t.Errorf("Round trip changed the record: %+v", got)
		}
		if !reflect.DeepEqual(got.BLQs, seg.BLQs) {
			t.Errorf("Questions changed: %+v", got.BLQs)
		}
		if got.GFQs == nil || got.GFQsKeywords == nil {
			t.Error("Empty containers should decode as empty, not nil")
		}
	})
}

func TestSegmentStoreSkipsIdenticalWrite(t *testing.T) {
	forEachStore(t, func(t *testing.T, s SegmentStore) {
		seg := NewSegment("same text")
		if _, err := s.Write(0, seg); err != nil {
			t.Fatal(err)
		}
		written, err := s.Write(0, seg)
		if err != nil {
			t.Fatal(err)
		}
		if written {
			t.Error("Identical rewrite should be skipped")
		}
	})
}

func TestSegmentStoreNewIndexIsAlwaysWritten(t *testing.T) {
	forEachStore(t, func(t *testing.T, s SegmentStore) {
		seg := NewSegment("repeated chunk")
		for i := 0; i < 2; i++ {
			if _, err := s.Write(i, seg); err != nil {
				t.Fatal(err)
			}
		}
		indices, err := s.Indices()
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(indices, []int{0, 1}) {
			t.Errorf("Expected indices [0 1], got %v", indices)
		}
	})
}

func TestSegmentStoreDelete(t *testing.T) {
	forEachStore(t, func(t *testing.T, s SegmentStore) {
		if _, err := s.Write(0, NewSegment("a")); err != nil {
			t.Fatal(err)
		}
		if err := s.Delete(0); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Read(0); !errors.Is(err, ErrSegmentNotFound) {
			t.Errorf("Expected ErrSegmentNotFound, got %v", err)
		}
		if err := s.Delete(0); !errors.Is(err, ErrSegmentNotFound) {
			t.Errorf("Expected ErrSegmentNotFound on second delete, got %v", err)
		}
	})
}

func TestFileSegmentStoreRefusesMissingFolder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "Segments")
	s := NewFileSegmentStore(dir, zerolog.Nop(), nil)

	if _, err := s.Write(0, NewSegment("x")); !errors.Is(err, ErrFolderMissing) {
		t.Fatalf("Expected ErrFolderMissing, got %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("Write must not create the folder")
	}
}

func TestFileSegmentStoreIndicesIgnoreOtherFiles(t *testing.T) {
	s := fileStore(t).(*FileSegmentStore)
	for _, i := range []int{10, 2} {
		if _, err := s.Write(i, NewSegment(strings.Repeat("x", i))); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(s.dir, "notes.json"), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	indices, err := s.Indices()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(indices, []int{2, 10}) {
		t.Errorf("Expected numeric order [2 10], got %v", indices)
	}
}

func TestEncodeSegmentLayout(t *testing.T) {
	data, err := EncodeSegment(NewSegment("a < b"))
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	if !strings.HasPrefix(text, "{\n    \"transcript\": \"a < b\",\n    \"summary\": \"\",") {
		t.Errorf("Unexpected layout:\n%s", text)
	}
	if strings.HasSuffix(text, "\n") {
		t.Error("Encoded segment should not end with a newline")
	}
	if strings.Index(text, `"saqs"`) > strings.Index(text, `"mcqs"`) {
		t.Error("Question lists out of order")
	}
}
