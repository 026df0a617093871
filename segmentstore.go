package aqgeval

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/rs/zerolog"
)

// SegmentStore persists segment records keyed by their 0-based index
type SegmentStore interface {
	// Read returns the record at index, or ErrSegmentNotFound.
	Read(index int) (*Segment, error)
	// Write stores seg at index. It reports false without writing when an
	// existing sibling record is byte-identical, and fails with
	// ErrFolderMissing when the store location is gone.
	Write(index int, seg *Segment) (bool, error)
	// Indices returns the stored indices in ascending order.
	Indices() ([]int, error)
	Delete(index int) error
	// Prepare creates the store location if needed.
	Prepare() error
	// Ready reports whether the store location exists.
	Ready() bool
}

// readOrEmpty returns the record at index, or an empty segment if absent
func readOrEmpty(store SegmentStore, index int) (*Segment, error) {
	seg, err := store.Read(index)
	if errors.Is(err, ErrSegmentNotFound) {
		return NewSegment(""), nil
	}
	return seg, err
}

// EncodeSegment returns the canonical on-disk form of seg
func EncodeSegment(seg *Segment) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(seg); err != nil {
		return nil, fmt.Errorf("failed to encode segment: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// DecodeSegment parses a stored record, filling absent containers
func DecodeSegment(data []byte) (*Segment, error) {
	var seg Segment
	if err := json.Unmarshal(data, &seg); err != nil {
		return nil, fmt.Errorf("failed to decode segment: %w", err)
	}
	seg.normalize()
	return &seg, nil
}

var segmentFilePattern = regexp.MustCompile(`^segment-file-(\d+)\.json$`)

// FileSegmentStore keeps one JSON file per segment in a folder
type FileSegmentStore struct {
	dir     string
	log     zerolog.Logger
	metrics *Metrics
}

// NewFileSegmentStore returns a store over dir. The folder is not created.
func NewFileSegmentStore(dir string, logger zerolog.Logger, metrics *Metrics) *FileSegmentStore {
	return &FileSegmentStore{
		dir:     dir,
		log:     componentLogger(logger, "segment-store").With().Str("dir", dir).Logger(),
		metrics: metrics,
	}
}

// SegmentFileName returns the file name of the record at index
func SegmentFileName(index int) string {
	return fmt.Sprintf("segment-file-%d.json", index)
}

func (s *FileSegmentStore) path(index int) string {
	return filepath.Join(s.dir, SegmentFileName(index))
}

// Prepare creates the segment folder
func (s *FileSegmentStore) Prepare() error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create segment folder: %w", err)
	}
	return nil
}

// Ready reports whether the segment folder exists
func (s *FileSegmentStore) Ready() bool {
	info, err := os.Stat(s.dir)
	return err == nil && info.IsDir()
}

// Read decodes the segment file at index
func (s *FileSegmentStore) Read(index int) (*Segment, error) {
	data, err := os.ReadFile(s.path(index))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: index %d", ErrSegmentNotFound, index)
		}
		return nil, fmt.Errorf("failed to read segment %d: %w", index, err)
	}
	return DecodeSegment(data)
}

// Write stores seg at index unless the file already holds the same record.
// It reports whether the file was written.
func (s *FileSegmentStore) Write(index int, seg *Segment) (bool, error) {
	if !s.Ready() {
		s.log.Error().Int("index", index).Msg("segment folder does not exist, refusing write")
		s.metrics.RecordSegmentWrite("failed")
		return false, ErrFolderMissing
	}

	data, err := EncodeSegment(seg)
	if err != nil {
		s.metrics.RecordSegmentWrite("failed")
		return false, err
	}

	target := s.path(index)
	if _, err := os.Stat(target); err == nil {
		entries, err := os.ReadDir(s.dir)
		if err != nil {
			return false, fmt.Errorf("failed to list segment folder: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			existing, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
			if err != nil {
				continue
			}
			if bytes.Equal(existing, data) {
				s.log.Debug().Int("index", index).Str("identical_to", entry.Name()).Msg("segment record unchanged, skipping write")
				s.metrics.RecordSegmentWrite("skipped")
				return false, nil
			}
		}
	}

	if err := os.WriteFile(target, data, 0644); err != nil {
		s.metrics.RecordSegmentWrite("failed")
		return false, fmt.Errorf("failed to write segment %d: %w", index, err)
	}
	s.metrics.RecordSegmentWrite("written")
	return true, nil
}

// Indices returns the stored segment indices in ascending order
func (s *FileSegmentStore) Indices() ([]int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFolderMissing
		}
		return nil, fmt.Errorf("failed to list segment folder: %w", err)
	}
	var indices []int
	for _, entry := range entries {
		m := segmentFilePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices, nil
}

// Delete removes the segment file at index
func (s *FileSegmentStore) Delete(index int) error {
	if err := os.Remove(s.path(index)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: index %d", ErrSegmentNotFound, index)
		}
		return fmt.Errorf("failed to delete segment %d: %w", index, err)
	}
	s.log.Debug().Int("index", index).Msg("deleted segment record")
	return nil
}
