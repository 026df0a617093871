package aqgeval

import (
	"bytes"
	"fmt"
	"sort"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// KeywordCounts is an insertion-ordered keyword to frequency mapping. The
// JSON form is an object whose key order is the insertion order.
type KeywordCounts struct {
	om *orderedmap.OrderedMap[string, int]
}

// NewKeywordCounts returns an empty mapping
func NewKeywordCounts() *KeywordCounts {
	return &KeywordCounts{om: orderedmap.New[string, int]()}
}

func (kc *KeywordCounts) m() *orderedmap.OrderedMap[string, int] {
	if kc.om == nil {
		kc.om = orderedmap.New[string, int]()
	}
	return kc.om
}

// Set stores count under keyword, keeping its position if it exists
func (kc *KeywordCounts) Set(keyword string, count int) {
	kc.m().Set(keyword, count)
}

// Get returns the count of keyword and whether it is present
func (kc *KeywordCounts) Get(keyword string) (int, bool) {
	if kc == nil {
		return 0, false
	}
	return kc.m().Get(keyword)
}

// Has reports whether keyword is present
func (kc *KeywordCounts) Has(keyword string) bool {
	_, ok := kc.Get(keyword)
	return ok
}

// Delete removes keyword and reports whether it was present
func (kc *KeywordCounts) Delete(keyword string) bool {
	_, ok := kc.m().Delete(keyword)
	return ok
}

// Len returns the number of keywords
func (kc *KeywordCounts) Len() int {
	if kc == nil {
		return 0
	}
	return kc.m().Len()
}

// Keys returns the keywords in order
func (kc *KeywordCounts) Keys() []string {
	if kc == nil {
		return nil
	}
	keys := make([]string, 0, kc.Len())
	for pair := kc.m().Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Copy returns an independent mapping with the same entries and order
func (kc *KeywordCounts) Copy() *KeywordCounts {
	out := NewKeywordCounts()
	if kc == nil {
		return out
	}
	for pair := kc.m().Oldest(); pair != nil; pair = pair.Next() {
		out.Set(pair.Key, pair.Value)
	}
	return out
}

// SortDescending reorders entries by count, highest first. Ties keep their
// relative order.
func (kc *KeywordCounts) SortDescending() {
	type entry struct {
		key   string
		count int
	}
	entries := make([]entry, 0, kc.Len())
	for pair := kc.m().Oldest(); pair != nil; pair = pair.Next() {
		entries = append(entries, entry{pair.Key, pair.Value})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].count > entries[j].count
	})
	kc.om = orderedmap.New[string, int]()
	for _, e := range entries {
		kc.om.Set(e.key, e.count)
	}
}

// Equal reports whether both mappings hold the same entries in the same order
func (kc *KeywordCounts) Equal(other *KeywordCounts) bool {
	if kc.Len() != other.Len() {
		return false
	}
	if kc.Len() == 0 {
		return true
	}
	a, b := kc.m().Oldest(), other.m().Oldest()
	for ; a != nil && b != nil; a, b = a.Next(), b.Next() {
		if a.Key != b.Key || a.Value != b.Value {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the counts as an object in keyword order
func (kc *KeywordCounts) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if kc != nil {
		first := true
		for pair := kc.m().Oldest(); pair != nil; pair = pair.Next() {
			if !first {
				buf.WriteByte(',')
			}
			first = false
			key, err := marshalNoEscape(pair.Key)
			if err != nil {
				return nil, err
			}
			buf.Write(key)
			fmt.Fprintf(&buf, ":%d", pair.Value)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object, keeping its key order
func (kc *KeywordCounts) UnmarshalJSON(data []byte) error {
	om := orderedmap.New[string, int]()
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if err := om.UnmarshalJSON(trimmed); err != nil {
			return fmt.Errorf("failed to decode keyword counts: %w", err)
		}
	}
	kc.om = om
	return nil
}
