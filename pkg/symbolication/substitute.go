package symbolication

import (
	"fmt"

	"github.com/grafana/profile-symbolicator/pkg/profile"
)

type funcKey struct {
	name int
	file int
}

type chainElement struct {
	key  funcKey
	line int
}

type frameObservation struct {
	oldFunc  int
	newFuncs []int
}

// stepApplier applies symbolication steps to a private copy of a thread.
// Stack rebuild is deferred until all steps are applied.
type stepApplier struct {
	old     *profile.Thread
	thread  *profile.Thread
	strings *profile.StringTable

	// removeFrame flags old frames whose stack nodes must be spliced out.
	removeFrame []bool
	// expansions maps an old physical frame to the frames replacing it in
	// every stack, outermost first. Only chains longer than one are kept.
	expansions map[int][]int
	// observations are keyed by old frame so that a later step for the same
	// library overwrites an earlier one.
	observations map[int]frameObservation

	// funcs is shared by all steps: frames of different libraries that
	// resolve to the same (name, file) get the same func.
	funcs        map[funcKey]int
	claimedFuncs map[int]struct{}
	// pinnedFuncs are referenced by frames that no step reassigns.
	pinnedFuncs map[int]struct{}
}

func newStepApplier(old *profile.Thread, strings *profile.StringTable) *stepApplier {
	return &stepApplier{
		old:          old,
		thread:       old.Clone(),
		strings:      strings,
		removeFrame:  make([]bool, old.Frames.Len()),
		expansions:   make(map[int][]int),
		observations: make(map[int]frameObservation),
		funcs:        make(map[funcKey]int),
		claimedFuncs: make(map[int]struct{}),
		pinnedFuncs:  make(map[int]struct{}),
	}
}

// pinUncoveredFuncs pins the funcs of frames that none of the steps covers.
// Such rows keep their content, whichever library they are attributed to.
func (a *stepApplier) pinUncoveredFuncs(steps []SymbolicationStep) {
	covered := make([]bool, a.old.Frames.Len())
	for _, step := range steps {
		info := step.ThreadLibraryInfo
		for _, frames := range [][]int{info.Frames, info.InlineFrames} {
			for _, f := range frames {
				covered[f] = true
			}
		}
	}
	for frame, ok := range covered {
		if !ok {
			a.pinnedFuncs[a.old.Frames.Func[frame]] = struct{}{}
		}
	}
}

func (a *stepApplier) validateStep(step SymbolicationStep) error {
	info := step.ThreadLibraryInfo
	if info == nil {
		return fmt.Errorf("symbolication step for thread has no library info")
	}
	if len(info.Frames) != len(info.Addresses) {
		return fmt.Errorf("library %s: %d frames but %d addresses", info.Library, len(info.Frames), len(info.Addresses))
	}
	for _, frames := range [][]int{info.Frames, info.InlineFrames} {
		for _, f := range frames {
			if f < 0 || f >= a.old.Frames.Len() {
				return fmt.Errorf("library %s: frame %d is out of range", info.Library, f)
			}
		}
	}
	for _, fn := range info.Funcs {
		if fn < 0 || fn >= a.old.Funcs.Len() {
			return fmt.Errorf("library %s: func %d is out of range", info.Library, fn)
		}
	}
	for _, ns := range info.NativeSymbols {
		if ns < 0 || ns >= a.old.NativeSymbols.Len() {
			return fmt.Errorf("library %s: native symbol %d is out of range", info.Library, ns)
		}
	}
	if info.Resource < 0 || info.Resource >= a.old.Resources.Len() {
		return fmt.Errorf("library %s: resource %d is out of range", info.Library, info.Resource)
	}
	return nil
}

// apply substitutes the symbols of one library into the thread's funcs,
// native symbols and frames. The step must have been validated.
func (a *stepApplier) apply(step SymbolicationStep) error {
	info := step.ThreadLibraryInfo
	t := a.thread

	resolved := a.resolveFrames(step.ResultsForLibrary, info)

	symbols, err := a.canonicalizeNativeSymbols(info, resolved)
	if err != nil {
		return err
	}

	chains := make([][]chainElement, len(info.Frames))
	for i, r := range resolved {
		chains[i] = a.inlineChain(r)
	}
	if err := a.assignFuncs(info, resolved, chains); err != nil {
		return err
	}

	// Frames of the previous inline expansion are superseded: their stack
	// nodes are removed and their rows are reused for the new expansion.
	free := info.InlineFrames
	for _, frame := range info.InlineFrames {
		a.removeFrame[frame] = true
		a.observations[frame] = frameObservation{oldFunc: a.old.Frames.Func[frame], newFuncs: []int{}}
	}

	for i, frame := range info.Frames {
		chain := chains[i]
		newFuncs := make([]int, len(chain))
		for j, e := range chain {
			fn, ok := a.funcs[e.key]
			if !ok {
				return invariantf("library %s: no func for %q", info.Library, a.strings.String(e.key.name))
			}
			newFuncs[j] = fn
		}
		ns, ok := symbols[resolved[i].SymbolAddress]
		if !ok {
			return invariantf("library %s: no canonical native symbol for 0x%x", info.Library, resolved[i].SymbolAddress)
		}

		physical := t.Frames.Row(frame)
		physical.Func = newFuncs[0]
		physical.NativeSymbol = ns
		physical.Line = chain[0].line
		t.Frames.Set(frame, physical)

		a.observations[frame] = frameObservation{oldFunc: a.old.Frames.Func[frame], newFuncs: newFuncs}
		if len(chain) == 1 {
			delete(a.expansions, frame)
			continue
		}

		expansion := make([]int, 1, len(chain))
		expansion[0] = frame
		for depth := 1; depth < len(chain); depth++ {
			inlined := profile.Frame{
				Address:        physical.Address,
				InlineDepth:    depth,
				Category:       physical.Category,
				Subcategory:    physical.Subcategory,
				Func:           newFuncs[depth],
				NativeSymbol:   ns,
				InnerWindowID:  physical.InnerWindowID,
				Implementation: physical.Implementation,
				Line:           chain[depth].line,
				Column:         profile.Null,
			}
			var row int
			if len(free) > 0 {
				row, free = free[0], free[1:]
				t.Frames.Set(row, inlined)
			} else {
				row = t.Frames.Append(inlined)
			}
			expansion = append(expansion, row)
		}
		a.expansions[frame] = expansion
	}
	return nil
}

// resolveFrames returns the symbol of every frame of the step. All frames
// anchored at the same symbol address get the same name and size, taken
// from the first explicit result for that symbol address if there is one.
// Frames without a result also take its file.
func (a *stepApplier) resolveFrames(results map[uint64]AddressResult, info *ThreadLibraryInfo) []AddressResult {
	bySymbol := make(map[uint64]AddressResult)
	for _, addr := range info.Addresses {
		r, ok := results[addr]
		if !ok {
			continue
		}
		if _, ok := bySymbol[r.SymbolAddress]; !ok {
			bySymbol[r.SymbolAddress] = r
		}
	}

	resolved := make([]AddressResult, len(info.Frames))
	for i, frame := range info.Frames {
		r, ok := results[info.Addresses[i]]
		if ok {
			c := bySymbol[r.SymbolAddress]
			r.Name, r.FunctionSize = c.Name, c.FunctionSize
			resolved[i] = r
			continue
		}
		r = a.fallback(frame, info.Addresses[i])
		if c, ok := bySymbol[r.SymbolAddress]; ok {
			r.Name, r.File, r.FunctionSize = c.Name, c.File, c.FunctionSize
		} else {
			bySymbol[r.SymbolAddress] = r
		}
		resolved[i] = r
	}
	return resolved
}

// fallback describes an address without a result: the frame keeps its
// previous native symbol, or gets a placeholder anchored at the address
// itself.
func (a *stepApplier) fallback(frame int, address uint64) AddressResult {
	if ns := a.old.Frames.NativeSymbol[frame]; ns != profile.Null {
		r := AddressResult{
			SymbolAddress: uint64(a.old.NativeSymbols.Address[ns]),
			Name:          a.strings.String(a.old.NativeSymbols.Name[ns]),
		}
		if size := a.old.NativeSymbols.FunctionSize[ns]; size >= 0 {
			s := uint64(size)
			r.FunctionSize = &s
		}
		return r
	}
	return AddressResult{
		SymbolAddress: address,
		Name:          profile.PlaceholderName(int64(address)),
	}
}

func (a *stepApplier) inlineChain(r AddressResult) []chainElement {
	chain := make([]chainElement, 0, 1+len(r.Inlines))
	chain = append(chain, chainElement{key: a.funcKey(r.Name, r.File), line: lineOrNull(r.Line)})
	for _, inl := range r.Inlines {
		chain = append(chain, chainElement{key: a.funcKey(inl.Name, inl.File), line: lineOrNull(inl.Line)})
	}
	return chain
}

func (a *stepApplier) funcKey(name, file string) funcKey {
	k := funcKey{name: a.strings.Intern(name), file: profile.Null}
	if file != "" {
		k.file = a.strings.Intern(file)
	}
	return k
}

func lineOrNull(line int) int {
	if line <= 0 {
		return profile.Null
	}
	return line
}

// canonicalizeNativeSymbols picks one native symbol row per symbol address.
// A frame's previous symbol is preferred, then unclaimed symbols of the
// library, then new rows.
func (a *stepApplier) canonicalizeNativeSymbols(info *ThreadLibraryInfo, resolved []AddressResult) (map[uint64]int, error) {
	t := a.thread
	owned := make(map[int]struct{}, len(info.NativeSymbols))
	for _, ns := range info.NativeSymbols {
		owned[ns] = struct{}{}
	}

	canonical := make(map[uint64]int)
	claimed := make(map[int]struct{})
	for i, frame := range info.Frames {
		ns := a.old.Frames.NativeSymbol[frame]
		if ns == profile.Null {
			continue
		}
		if _, ok := owned[ns]; !ok {
			continue
		}
		if _, ok := claimed[ns]; ok {
			continue
		}
		addr := resolved[i].SymbolAddress
		if _, ok := canonical[addr]; ok {
			continue
		}
		canonical[addr] = ns
		claimed[ns] = struct{}{}
	}

	pool := make([]int, 0, len(info.NativeSymbols))
	for _, ns := range info.NativeSymbols {
		if _, ok := claimed[ns]; !ok {
			pool = append(pool, ns)
		}
	}

	written := make(map[uint64]struct{}, len(canonical))
	for _, r := range resolved {
		addr := r.SymbolAddress
		if _, ok := written[addr]; ok {
			continue
		}
		written[addr] = struct{}{}
		row := profile.NativeSymbol{
			LibIndex:     info.LibIndex,
			Address:      int64(addr),
			Name:         a.strings.Intern(r.Name),
			FunctionSize: profile.Null,
		}
		if r.FunctionSize != nil {
			row.FunctionSize = int64(*r.FunctionSize)
		}
		ns, ok := canonical[addr]
		switch {
		case ok:
		case len(pool) > 0:
			ns, pool = pool[0], pool[1:]
		default:
			ns = t.NativeSymbols.Append(row)
		}
		if ns < 0 || ns >= t.NativeSymbols.Len() {
			return nil, invariantf("native symbol %d for 0x%x is out of range", ns, addr)
		}
		canonical[addr] = ns
		t.NativeSymbols.Set(ns, row)
	}
	return canonical, nil
}

// assignFuncs picks one func row per (name, file) pair with the same reuse
// policy as native symbols: a frame's previous func is preferred for its
// outermost function. Pairs picked by an earlier step are reused as is.
func (a *stepApplier) assignFuncs(info *ThreadLibraryInfo, resolved []AddressResult, chains [][]chainElement) error {
	t := a.thread
	owned := make(map[int]struct{}, len(info.Funcs))
	for _, fn := range info.Funcs {
		if _, ok := a.pinnedFuncs[fn]; !ok {
			owned[fn] = struct{}{}
		}
	}

	written := make(map[funcKey]struct{}, len(a.funcs))
	for key := range a.funcs {
		written[key] = struct{}{}
	}

	for i, frame := range info.Frames {
		fn := a.old.Frames.Func[frame]
		if _, ok := owned[fn]; !ok {
			continue
		}
		if _, ok := a.claimedFuncs[fn]; ok {
			continue
		}
		key := chains[i][0].key
		if _, ok := a.funcs[key]; ok {
			continue
		}
		a.funcs[key] = fn
		a.claimedFuncs[fn] = struct{}{}
	}

	pool := make([]int, 0, len(owned))
	for _, fn := range info.Funcs {
		if _, ok := owned[fn]; !ok {
			continue
		}
		if _, ok := a.claimedFuncs[fn]; !ok {
			pool = append(pool, fn)
		}
	}

	for i, chain := range chains {
		for depth, e := range chain {
			if _, ok := written[e.key]; ok {
				continue
			}
			written[e.key] = struct{}{}
			row := profile.Func{
				Name:         e.key.name,
				Resource:     info.Resource,
				FileName:     e.key.file,
				LineNumber:   profile.Null,
				ColumnNumber: profile.Null,
				Address:      profile.Null,
			}
			if depth == 0 {
				row.Address = int64(resolved[i].SymbolAddress)
			}
			fn, ok := a.funcs[e.key]
			switch {
			case ok:
			case len(pool) > 0:
				fn, pool = pool[0], pool[1:]
			default:
				fn = t.Funcs.Append(row)
			}
			if fn < 0 || fn >= t.Funcs.Len() {
				return invariantf("func %d for %q is out of range", fn, a.strings.String(e.key.name))
			}
			a.funcs[e.key] = fn
			a.claimedFuncs[fn] = struct{}{}
			t.Funcs.Set(fn, row)
		}
	}
	return nil
}
