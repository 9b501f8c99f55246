package param

import (
	"fmt"
	"strconv"
)

// Handle is a stable position in a Store, returned by Add.
type Handle int

// Entry is a single named value.
type Entry struct {
	Name  string
	Value Value
}

// Store is an insertion-ordered set of uniquely named values. Lookups by
// name are linear; stores are expected to hold tens of entries.
type Store struct {
	items []Entry
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// Add installs value under name. An existing entry is overwritten in place
// and keeps its handle; otherwise a new entry is appended.
// Meant for initialization; use At with the returned handle afterwards.
func (s *Store) Add(name string, value Value) Handle {
	if i := s.indexOf(name); i >= 0 {
		s.items[i].Value = value
		return Handle(i)
	}
	s.items = append(s.items, Entry{Name: name, Value: value})
	return Handle(len(s.items) - 1)
}

// Set replaces the value stored under name. Unknown names are ignored.
func (s *Store) Set(name string, value Value) {
	if i := s.indexOf(name); i >= 0 {
		s.items[i].Value = value
	}
}

// Has reports whether name exists. Names are case-sensitive.
func (s *Store) Has(name string) bool {
	return s.indexOf(name) >= 0
}

// Get returns the value stored under name.
func (s *Store) Get(name string) (Value, bool) {
	i := s.indexOf(name)
	if i < 0 {
		return Value{}, false
	}
	return s.items[i].Value, true
}

// At returns the value at h for in-place mutation.
// It panics if h was not produced by this store.
func (s *Store) At(h Handle) *Value {
	s.check(h)
	return &s.items[h].Value
}

// Name returns the name at h. It panics if h is out of range.
func (s *Store) Name(h Handle) string {
	s.check(h)
	return s.items[h].Name
}

// Len returns the number of entries.
func (s *Store) Len() int { return len(s.items) }

// Clear removes all entries. Previously returned handles become invalid.
func (s *Store) Clear() { s.items = s.items[:0] }

// Entries returns a copy of all entries in insertion order.
func (s *Store) Entries() []Entry {
	out := make([]Entry, len(s.items))
	copy(out, s.items)
	return out
}

// TrySetFromText parses text into the kind already stored under name and
// replaces the value on success. It returns false for unknown names, for
// text that does not parse, and for empty slots, which have no kind to
// parse into. The kind of an entry never changes.
func (s *Store) TrySetFromText(name, text string) bool {
	i := s.indexOf(name)
	if i < 0 {
		return false
	}
	v := &s.items[i].Value
	switch v.Kind() {
	case KindInt:
		n, err := strconv.Atoi(text)
		if err != nil {
			return false
		}
		v.SetInt(n)
	case KindBool:
		b, ok := parseBool(text)
		if !ok {
			return false
		}
		v.SetBool(b)
	case KindText:
		v.SetText(text)
	default:
		return false
	}
	return true
}

// parseBool accepts strconv.ParseBool forms plus the on/off pair browsers
// send for checkboxes.
func parseBool(text string) (bool, bool) {
	switch text {
	case "on":
		return true, true
	case "off":
		return false, true
	}
	b, err := strconv.ParseBool(text)
	if err != nil {
		return false, false
	}
	return b, true
}

func (s *Store) indexOf(name string) int {
	for i := range s.items {
		if s.items[i].Name == name {
			return i
		}
	}
	return -1
}

func (s *Store) check(h Handle) {
	if h < 0 || int(h) >= len(s.items) {
		panic(fmt.Sprintf("param: handle %d out of range [0,%d)", int(h), len(s.items)))
	}
}
