package symbolication

import (
	"fmt"
	"slices"

	"github.com/grafana/profile-symbolicator/pkg/profile"
)

// ApplySymbolicationSteps applies the steps to a copy of oldThread and
// rebuilds its stack table once. oldThread is left untouched.
//
// The steps must have been gathered from oldThread. New strings are interned
// into the shared string table.
func ApplySymbolicationSteps(oldThread *profile.Thread, strings *profile.StringTable, steps []SymbolicationStep) (*profile.Thread, FuncRenamingMap, error) {
	a := newStepApplier(oldThread, strings)
	for i, step := range steps {
		if err := a.validateStep(step); err != nil {
			return nil, nil, fmt.Errorf("apply symbolication step %d: %w", i, err)
		}
	}
	a.pinUncoveredFuncs(steps)
	for i, step := range steps {
		if err := a.apply(step); err != nil {
			return nil, nil, fmt.Errorf("apply symbolication step %d: %w", i, err)
		}
	}

	t := a.thread
	if len(a.expansions) > 0 || slices.Contains(a.removeFrame, true) {
		t.Stacks, t.Samples = rebuildStacks(oldThread.Stacks, oldThread.Samples, a.removeFrame, a.expansions)
	}

	return t, a.funcRenamingMap(), nil
}

// funcRenamingMap builds the consensus over all frames of the old thread.
// Frames left untouched by every step still count: they keep their func.
func (a *stepApplier) funcRenamingMap() FuncRenamingMap {
	subs := newFuncSubstitutions()
	observed := make(map[int]struct{}, len(a.observations))
	for _, o := range a.observations {
		observed[o.oldFunc] = struct{}{}
	}
	for frame := 0; frame < a.old.Frames.Len(); frame++ {
		if o, ok := a.observations[frame]; ok {
			subs.observe(o.oldFunc, o.newFuncs)
			continue
		}
		fn := a.old.Frames.Func[frame]
		if _, ok := observed[fn]; ok {
			subs.observe(fn, []int{fn})
		}
	}
	return subs.renamingMap()
}
