package symbolication

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana/profile-symbolicator/pkg/profile"
)

// testThread builds a thread the way ingestion does: every native frame owns
// a unique placeholder func and there are no native symbols yet.
type testThread struct {
	p         *profile.Profile
	t         *profile.Thread
	resources map[int]int
}

func newTestThread(libs ...string) *testThread {
	p := profile.New()
	tt := &testThread{p: p, t: &profile.Thread{Name: "main"}, resources: make(map[int]int)}
	for i, name := range libs {
		p.Libs = append(p.Libs, profile.Library{
			Name:       name,
			DebugName:  name,
			BreakpadID: "ID" + name,
		})
		tt.resources[i] = tt.t.Resources.Append(profile.ResourceTypeLibrary, p.Strings.Intern(name), i)
	}
	p.Threads = []*profile.Thread{tt.t}
	return tt
}

func (tt *testThread) lib(i int) LibraryDescriptor {
	return descriptorOf(tt.p.Libs[i])
}

// nativeFrame adds a frame at a library-relative address.
func (tt *testThread) nativeFrame(lib int, address int64) int {
	return tt.frameWithFunc(tt.resources[lib], address, profile.PlaceholderName(address))
}

// otherFrame adds a frame that belongs to no library.
func (tt *testThread) otherFrame(name string) int {
	return tt.frameWithFunc(profile.Null, profile.Null, name)
}

func (tt *testThread) frameWithFunc(resource int, address int64, name string) int {
	fn := tt.t.Funcs.Append(profile.Func{
		Name:         tt.p.Strings.Intern(name),
		Resource:     resource,
		FileName:     profile.Null,
		LineNumber:   profile.Null,
		ColumnNumber: profile.Null,
		Address:      address,
	})
	return tt.t.Frames.Append(profile.Frame{
		Address:        address,
		Category:       1,
		Subcategory:    2,
		Func:           fn,
		NativeSymbol:   profile.Null,
		InnerWindowID:  0,
		Implementation: profile.Null,
		Line:           profile.Null,
		Column:         profile.Null,
	})
}

// sample adds a sample whose stack goes through the frames, root first.
func (tt *testThread) sample(frames ...int) int {
	stack := profile.Null
	for _, f := range frames {
		stack = findOrAppendStack(&tt.t.Stacks, stack, f)
	}
	return tt.t.Samples.Append(float64(tt.t.Samples.Len()), stack, 1)
}

func findOrAppendStack(stacks *profile.StackTable, prefix, frame int) int {
	for i := 0; i < stacks.Len(); i++ {
		if stacks.Prefix[i] == prefix && stacks.Frame[i] == frame {
			return i
		}
	}
	return stacks.Append(frame, prefix)
}

// steps gathers the thread and pairs every library with its results.
func steps(t *profile.Thread, libs []profile.Library, results map[string]map[uint64]AddressResult) []SymbolicationStep {
	infos := GatherThreadLibraryInfo(t, libs)
	keys := make([]string, 0, len(infos))
	for k := range infos {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	var out []SymbolicationStep
	for _, k := range keys {
		r, ok := results[k]
		if !ok {
			continue
		}
		out = append(out, SymbolicationStep{ThreadLibraryInfo: infos[k], ResultsForLibrary: r})
	}
	return out
}

func (tt *testThread) apply(t *testing.T, th *profile.Thread, results map[string]map[uint64]AddressResult) (*profile.Thread, FuncRenamingMap) {
	t.Helper()
	newThread, m, err := ApplySymbolicationSteps(th, tt.p.Strings, steps(th, tt.p.Libs, results))
	require.NoError(t, err)
	require.NoError(t, newThread.Validate())
	requireWellFormedStacks(t, newThread)
	requireCallPathsRemapped(t, th, newThread, m)
	return newThread, m
}

func (tt *testThread) funcName(th *profile.Thread, fn int) string {
	return tt.p.Strings.String(th.Funcs.Name[fn])
}

func (tt *testThread) funcNames(th *profile.Thread, path []int) []string {
	names := make([]string, len(path))
	for i, fn := range path {
		names[i] = tt.funcName(th, fn)
	}
	return names
}

// requireWellFormedStacks checks that the stack table is a forest without
// duplicate nodes.
func requireWellFormedStacks(t *testing.T, th *profile.Thread) {
	t.Helper()
	type node struct{ prefix, frame int }
	seen := make(map[node]int, th.Stacks.Len())
	for i := 0; i < th.Stacks.Len(); i++ {
		p := th.Stacks.Prefix[i]
		require.True(t, p == profile.Null || (p >= 0 && p < i), "stack %d has prefix %d", i, p)
		n := node{prefix: p, frame: th.Stacks.Frame[i]}
		prev, dup := seen[n]
		require.False(t, dup, "stacks %d and %d are the same node", prev, i)
		seen[n] = i
	}
}

// requireCallPathsRemapped checks the renaming map against the samples: the
// call path of a sample before the pass, remapped, is its call path after
// the pass whenever every library func of the old path has an entry.
func requireCallPathsRemapped(t *testing.T, before, after *profile.Thread, m FuncRenamingMap) {
	t.Helper()
	for i := 0; i < before.Samples.Len(); i++ {
		oldStack, newStack := before.Samples.Stack[i], after.Samples.Stack[i]
		if oldStack == profile.Null {
			require.Equal(t, profile.Null, newStack)
			continue
		}
		oldPath := before.Stacks.FuncPath(oldStack, &before.Frames)
		newPath := after.Stacks.FuncPath(newStack, &after.Frames)
		remappable := true
		for _, fn := range oldPath {
			if _, ok := m[fn]; !ok && isLibraryFunc(before, fn) {
				remappable = false
			}
		}
		if remappable {
			require.Equal(t, newPath, []int(ApplyFuncSubstitutionToCallPath(m, oldPath)), "sample %d", i)
		}
	}
}

// requireFuncsMatchSymbols checks that every physical frame with a native
// symbol has a func of the same name.
func requireFuncsMatchSymbols(t *testing.T, tt *testThread, th *profile.Thread) {
	t.Helper()
	for frame := 0; frame < th.Frames.Len(); frame++ {
		ns := th.Frames.NativeSymbol[frame]
		if ns == profile.Null || th.Frames.InlineDepth[frame] > 0 {
			continue
		}
		require.Equal(t,
			tt.p.Strings.String(th.NativeSymbols.Name[ns]),
			tt.funcName(th, th.Frames.Func[frame]),
			"frame %d", frame)
	}
}

func isLibraryFunc(th *profile.Thread, fn int) bool {
	r := th.Funcs.Resource[fn]
	return r != profile.Null && th.Resources.Type[r] == profile.ResourceTypeLibrary
}
