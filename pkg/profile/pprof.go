package profile

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	pprof "github.com/google/pprof/profile"
)

const pprofThreadName = "pprof"

// PlaceholderName is the name given to a func of a native frame that has
// not been symbolicated yet.
func PlaceholderName(address int64) string {
	return "0x" + strconv.FormatUint(uint64(address), 16)
}

// FromPprof converts a pprof profile into a single-threaded Profile.
//
// Every mapping becomes a library with its own resource. Locations that carry
// lines become an inline chain of frames (the last pprof line is the outermost
// function); locations without lines become a single frame owning a unique
// placeholder func, ready to be symbolicated. Addresses of frames attributed to
// a mapping are made relative to the mapping start.
func FromPprof(src *pprof.Profile) (*Profile, error) {
	p := New()
	p.Meta = Meta{
		Product:   "pprof",
		Interval:  float64(src.Period),
		StartTime: float64(src.TimeNanos) / 1e6,
	}
	t := &Thread{Name: pprofThreadName}

	resourceByMapping := make(map[uint64]int, len(src.Mapping))
	for _, m := range src.Mapping {
		name := filepath.Base(m.File)
		p.Libs = append(p.Libs, Library{
			Name:       name,
			Path:       m.File,
			DebugName:  name,
			DebugPath:  m.File,
			BreakpadID: m.BuildID,
			CodeID:     m.BuildID,
			Start:      m.Start,
			End:        m.Limit,
			Offset:     m.Offset,
		})
		resourceByMapping[m.ID] = t.Resources.Append(ResourceTypeLibrary, p.Strings.Intern(name), len(p.Libs)-1)
	}

	type funcKey struct {
		id       uint64
		resource int
	}
	funcs := make(map[funcKey]int)
	framesByLocation := make(map[uint64][]int, len(src.Location))

	for _, loc := range src.Location {
		resource := Null
		address := int64(loc.Address)
		if loc.Mapping != nil {
			r, ok := resourceByMapping[loc.Mapping.ID]
			if !ok {
				return nil, fmt.Errorf("location %d references unknown mapping %d", loc.ID, loc.Mapping.ID)
			}
			// A location below its mapping has no library-relative address:
			// it is kept as a plain address outside of any library.
			if loc.Address >= loc.Mapping.Start {
				resource = r
				address = int64(loc.Address - loc.Mapping.Start + loc.Mapping.Offset)
			}
		}

		if len(loc.Line) == 0 {
			fn := t.Funcs.Append(Func{
				Name:         p.Strings.Intern(PlaceholderName(address)),
				Resource:     resource,
				FileName:     Null,
				LineNumber:   Null,
				ColumnNumber: Null,
				Address:      address,
			})
			framesByLocation[loc.ID] = []int{t.Frames.Append(newFrame(address, 0, fn, Null))}
			continue
		}

		frames := make([]int, 0, len(loc.Line))
		for i := len(loc.Line) - 1; i >= 0; i-- {
			line := loc.Line[i]
			if line.Function == nil {
				return nil, fmt.Errorf("location %d has a line without function", loc.ID)
			}
			key := funcKey{id: line.Function.ID, resource: resource}
			fn, ok := funcs[key]
			if !ok {
				fileName := Null
				if line.Function.Filename != "" {
					fileName = p.Strings.Intern(line.Function.Filename)
				}
				lineNumber := Null
				if line.Function.StartLine > 0 {
					lineNumber = int(line.Function.StartLine)
				}
				fn = t.Funcs.Append(Func{
					Name:         p.Strings.Intern(line.Function.Name),
					Resource:     resource,
					FileName:     fileName,
					LineNumber:   lineNumber,
					ColumnNumber: Null,
					Address:      Null,
				})
				funcs[key] = fn
			}
			lineNo := Null
			if line.Line > 0 {
				lineNo = int(line.Line)
			}
			frames = append(frames, t.Frames.Append(newFrame(address, len(frames), fn, lineNo)))
		}
		framesByLocation[loc.ID] = frames
	}

	type stackKey struct{ prefix, frame int }
	stacks := make(map[stackKey]int)
	for i, s := range src.Sample {
		stack := Null
		for j := len(s.Location) - 1; j >= 0; j-- {
			for _, frame := range framesByLocation[s.Location[j].ID] {
				key := stackKey{prefix: stack, frame: frame}
				next, ok := stacks[key]
				if !ok {
					next = t.Stacks.Append(frame, stack)
					stacks[key] = next
				}
				stack = next
			}
		}
		var weight int64 = 1
		if len(s.Value) > 0 {
			weight = s.Value[0]
		}
		t.Samples.Append(float64(i), stack, weight)
	}

	p.Threads = []*Thread{t}
	return p, nil
}

func newFrame(address int64, inlineDepth, fn, line int) Frame {
	return Frame{
		Address:        address,
		InlineDepth:    inlineDepth,
		Category:       Null,
		Subcategory:    Null,
		Func:           fn,
		NativeSymbol:   Null,
		Implementation: Null,
		Line:           line,
		Column:         Null,
	}
}

// ToPprof exports one thread as a pprof profile. A physical frame together
// with the inline frames that follow it becomes one pprof location.
func (p *Profile) ToPprof(threadIndex int) (*pprof.Profile, error) {
	if threadIndex < 0 || threadIndex >= len(p.Threads) {
		return nil, fmt.Errorf("thread index %d out of range", threadIndex)
	}
	t := p.Threads[threadIndex]
	out := &pprof.Profile{
		SampleType: []*pprof.ValueType{{Type: "samples", Unit: "count"}},
		PeriodType: &pprof.ValueType{Type: "cpu", Unit: "nanoseconds"},
		Period:     int64(p.Meta.Interval),
		TimeNanos:  int64(p.Meta.StartTime * 1e6),
	}

	mappings := make(map[int]*pprof.Mapping)
	mappingFor := func(fn int) *pprof.Mapping {
		res := t.Funcs.Resource[fn]
		if res == Null || t.Resources.Lib[res] == Null {
			return nil
		}
		libIndex := t.Resources.Lib[res]
		if m, ok := mappings[libIndex]; ok {
			return m
		}
		lib := p.Libs[libIndex]
		m := &pprof.Mapping{
			ID:      uint64(len(out.Mapping) + 1),
			Start:   lib.Start,
			Limit:   lib.End,
			Offset:  lib.Offset,
			File:    lib.Path,
			BuildID: lib.BreakpadID,
		}
		out.Mapping = append(out.Mapping, m)
		mappings[libIndex] = m
		return m
	}

	functions := make(map[int]*pprof.Function)
	functionFor := func(fn int) *pprof.Function {
		if f, ok := functions[fn]; ok {
			return f
		}
		name := p.Strings.String(t.Funcs.Name[fn])
		f := &pprof.Function{
			ID:         uint64(len(out.Function) + 1),
			Name:       name,
			SystemName: name,
		}
		if file := t.Funcs.FileName[fn]; file != Null {
			f.Filename = p.Strings.String(file)
		}
		if line := t.Funcs.LineNumber[fn]; line != Null {
			f.StartLine = int64(line)
		}
		out.Function = append(out.Function, f)
		functions[fn] = f
		return f
	}

	locations := make(map[string]*pprof.Location)
	locationFor := func(group []int) *pprof.Location {
		key := frameGroupKey(group)
		if loc, ok := locations[key]; ok {
			return loc
		}
		outer := group[0]
		loc := &pprof.Location{
			ID:      uint64(len(out.Location) + 1),
			Mapping: mappingFor(t.Frames.Func[outer]),
		}
		if addr := t.Frames.Address[outer]; addr >= 0 {
			loc.Address = uint64(addr)
			if loc.Mapping != nil {
				loc.Address = loc.Address - loc.Mapping.Offset + loc.Mapping.Start
			}
		}
		for i := len(group) - 1; i >= 0; i-- {
			frame := group[i]
			line := pprof.Line{Function: functionFor(t.Frames.Func[frame])}
			if l := t.Frames.Line[frame]; l != Null {
				line.Line = int64(l)
			}
			loc.Line = append(loc.Line, line)
		}
		out.Location = append(out.Location, loc)
		locations[key] = loc
		return loc
	}

	for i := 0; i < t.Samples.Len(); i++ {
		sample := &pprof.Sample{Value: []int64{t.Samples.Weight[i]}}
		if stack := t.Samples.Stack[i]; stack != Null {
			var groups [][]int
			for _, frame := range t.Stacks.FramePath(stack) {
				if t.Frames.InlineDepth[frame] > 0 && len(groups) > 0 {
					groups[len(groups)-1] = append(groups[len(groups)-1], frame)
					continue
				}
				groups = append(groups, []int{frame})
			}
			for j := len(groups) - 1; j >= 0; j-- {
				sample.Location = append(sample.Location, locationFor(groups[j]))
			}
		}
		out.Sample = append(out.Sample, sample)
	}

	if err := out.CheckValid(); err != nil {
		return nil, fmt.Errorf("invalid pprof profile: %w", err)
	}
	return out, nil
}

func frameGroupKey(group []int) string {
	var b strings.Builder
	for i, f := range group {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(f))
	}
	return b.String()
}
