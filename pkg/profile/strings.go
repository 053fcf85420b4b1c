package profile

import "sync"

// StringTable is an append-only table of interned strings shared by all
// threads of a profile. Indices never change meaning once assigned, so readers
// may keep them across symbolication passes.
type StringTable struct {
	mu      sync.RWMutex
	strings []string
	index   map[string]int
}

func NewStringTable(strs ...string) *StringTable {
	t := &StringTable{
		strings: make([]string, 0, len(strs)),
		index:   make(map[string]int, len(strs)),
	}
	for _, s := range strs {
		t.Intern(s)
	}
	return t
}

// Intern returns the index of s, appending it to the table if needed.
func (t *StringTable) Intern(s string) int {
	t.mu.RLock()
	i, ok := t.index[s]
	t.mu.RUnlock()
	if ok {
		return i
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if i, ok = t.index[s]; ok {
		return i
	}
	i = len(t.strings)
	t.strings = append(t.strings, s)
	t.index[s] = i
	return i
}

// Index returns the index of s without interning it.
func (t *StringTable) Index(s string) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i, ok := t.index[s]
	return i, ok
}

// String returns the string at index i. Null and out of range indices
// resolve to an empty string.
func (t *StringTable) String(i int) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i < 0 || i >= len(t.strings) {
		return ""
	}
	return t.strings[i]
}

func (t *StringTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.strings)
}

// Strings returns a snapshot of the table contents.
func (t *StringTable) Strings() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := make([]string, len(t.strings))
	copy(s, t.strings)
	return s
}
