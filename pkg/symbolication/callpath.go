package symbolication

import (
	"encoding/binary"
	"slices"

	"github.com/cespare/xxhash/v2"
)

// CallNodePath is a path in the call tree, as func ids from root to leaf.
type CallNodePath []int

// ApplyFuncSubstitutionToCallPath replaces every func of the path that has an
// entry in the map with its chain of new funcs. Funcs without an entry are
// kept as is.
func ApplyFuncSubstitutionToCallPath(m FuncRenamingMap, path CallNodePath) CallNodePath {
	out := make(CallNodePath, 0, len(path))
	for _, fn := range path {
		if newFuncs, ok := m[fn]; ok {
			out = append(out, newFuncs...)
			continue
		}
		out = append(out, fn)
	}
	return out
}

// ApplyFuncSubstitutionToPathSetAndIncludeNewAncestors substitutes every path
// of the set. When the leaf of a path expands into several funcs, the paths
// leading to the intermediate funcs are added as well, so that every path of
// the result has its ancestors in the set whenever the input did.
func ApplyFuncSubstitutionToPathSetAndIncludeNewAncestors(m FuncRenamingMap, set *PathSet) *PathSet {
	out := NewPathSet()
	for _, path := range set.Paths() {
		if len(path) == 0 {
			out.Add(path)
			continue
		}
		prefix := ApplyFuncSubstitutionToCallPath(m, path[:len(path)-1])
		leaf := path[len(path)-1]
		newFuncs, ok := m[leaf]
		if !ok {
			if endsParentExpansion(m, path) {
				// The parent's inline chain already ends with the leaf: both
				// name the same call.
				out.Add(prefix)
				continue
			}
			out.Add(append(prefix, leaf))
			continue
		}
		if len(newFuncs) == 0 {
			// The leaf is gone, its parent path takes its place.
			if len(prefix) > 0 {
				out.Add(prefix)
			}
			continue
		}
		for i := range newFuncs {
			p := make(CallNodePath, 0, len(prefix)+i+1)
			p = append(p, prefix...)
			p = append(p, newFuncs[:i+1]...)
			out.Add(p)
		}
	}
	return out
}

func endsParentExpansion(m FuncRenamingMap, path CallNodePath) bool {
	if len(path) < 2 {
		return false
	}
	chain := m[path[len(path)-2]]
	return len(chain) > 1 && chain[len(chain)-1] == path[len(path)-1]
}

// PathSet is a set of call node paths that remembers insertion order.
type PathSet struct {
	paths []CallNodePath
	index map[uint64][]int
}

func NewPathSet(paths ...CallNodePath) *PathSet {
	s := &PathSet{index: make(map[uint64][]int)}
	for _, p := range paths {
		s.Add(p)
	}
	return s
}

func hashPath(path CallNodePath) uint64 {
	d := xxhash.New()
	var b [8]byte
	for _, fn := range path {
		binary.LittleEndian.PutUint64(b[:], uint64(fn))
		_, _ = d.Write(b[:])
	}
	return d.Sum64()
}

func (s *PathSet) find(h uint64, path CallNodePath) int {
	for _, i := range s.index[h] {
		if slices.Equal(s.paths[i], path) {
			return i
		}
	}
	return -1
}

// Add inserts a copy of the path. It reports whether the path was new.
func (s *PathSet) Add(path CallNodePath) bool {
	h := hashPath(path)
	if s.find(h, path) >= 0 {
		return false
	}
	s.index[h] = append(s.index[h], len(s.paths))
	s.paths = append(s.paths, slices.Clone(path))
	return true
}

func (s *PathSet) Has(path CallNodePath) bool {
	return s.find(hashPath(path), path) >= 0
}

func (s *PathSet) Len() int {
	return len(s.paths)
}

// Paths returns the paths in insertion order. The result must not be
// modified.
func (s *PathSet) Paths() []CallNodePath {
	return s.paths
}
