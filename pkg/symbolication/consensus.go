package symbolication

import "slices"

// funcSubstitutions collects (old func, new func chain) observations and keeps
// only the old funcs for which every observation agreed.
type funcSubstitutions struct {
	confirmed map[int][]int
	divergent map[int]struct{}
}

func newFuncSubstitutions() *funcSubstitutions {
	return &funcSubstitutions{
		confirmed: make(map[int][]int),
		divergent: make(map[int]struct{}),
	}
}

func (s *funcSubstitutions) observe(oldFunc int, newFuncs []int) {
	if _, ok := s.divergent[oldFunc]; ok {
		return
	}
	prev, ok := s.confirmed[oldFunc]
	if !ok {
		s.confirmed[oldFunc] = slices.Clone(newFuncs)
		return
	}
	if !slices.Equal(prev, newFuncs) {
		delete(s.confirmed, oldFunc)
		s.divergent[oldFunc] = struct{}{}
	}
}

// renamingMap returns the confirmed substitutions. A func whose row was
// reused for its own replacement maps to itself.
func (s *funcSubstitutions) renamingMap() FuncRenamingMap {
	m := make(FuncRenamingMap, len(s.confirmed))
	for oldFunc, newFuncs := range s.confirmed {
		m[oldFunc] = newFuncs
	}
	return m
}
