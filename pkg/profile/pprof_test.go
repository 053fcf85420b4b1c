package profile

import (
	"testing"

	pprof "github.com/google/pprof/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPprof() *pprof.Profile {
	m := &pprof.Mapping{ID: 1, Start: 0x1000, Limit: 0x5000, Offset: 0x200, File: "/usr/lib/libfoo.so", BuildID: "ABCDEF0"}
	mainFn := &pprof.Function{ID: 1, Name: "main", SystemName: "main", Filename: "main.c", StartLine: 3}
	inlined := &pprof.Function{ID: 2, Name: "helper", SystemName: "helper", Filename: "helper.h"}
	raw := &pprof.Location{ID: 1, Mapping: m, Address: 0x1010}
	symbolicated := &pprof.Location{ID: 2, Mapping: m, Address: 0x1030, Line: []pprof.Line{
		{Function: inlined, Line: 12},
		{Function: mainFn, Line: 7},
	}}
	return &pprof.Profile{
		SampleType: []*pprof.ValueType{{Type: "samples", Unit: "count"}},
		PeriodType: &pprof.ValueType{Type: "cpu", Unit: "nanoseconds"},
		Period:     1000,
		Mapping:    []*pprof.Mapping{m},
		Function:   []*pprof.Function{mainFn, inlined},
		Location:   []*pprof.Location{raw, symbolicated},
		Sample: []*pprof.Sample{
			{Location: []*pprof.Location{raw, symbolicated}, Value: []int64{5}},
			{Location: []*pprof.Location{symbolicated}, Value: []int64{2}},
		},
	}
}

func TestPlaceholderName(t *testing.T) {
	assert.Equal(t, "0x10", PlaceholderName(0x10))
	assert.Equal(t, "0xdeadbeef", PlaceholderName(0xdeadbeef))
}

func TestFromPprof(t *testing.T) {
	p, err := FromPprof(newTestPprof())
	require.NoError(t, err)
	require.NoError(t, p.Validate())

	require.Len(t, p.Libs, 1)
	lib := p.Libs[0]
	assert.Equal(t, "libfoo.so", lib.DebugName)
	assert.Equal(t, "ABCDEF0", lib.BreakpadID)
	assert.Equal(t, uint64(0x200), lib.Offset)

	require.Len(t, p.Threads, 1)
	th := p.Threads[0]
	require.Equal(t, 3, th.Frames.Len())

	// The unsymbolicated location owns a placeholder func at its
	// library-relative address.
	assert.Equal(t, int64(0x210), th.Frames.Address[0])
	assert.Equal(t, "0x210", p.Strings.String(th.Funcs.Name[th.Frames.Func[0]]))
	assert.Equal(t, int64(0x210), th.Funcs.Address[th.Frames.Func[0]])

	// The symbolicated location becomes an inline chain, outermost first.
	assert.Equal(t, []int{0, 1}, th.Frames.InlineDepth[1:])
	assert.Equal(t, "main", p.Strings.String(th.Funcs.Name[th.Frames.Func[1]]))
	assert.Equal(t, "helper", p.Strings.String(th.Funcs.Name[th.Frames.Func[2]]))
	assert.Equal(t, []int{7, 12}, th.Frames.Line[1:])

	require.Equal(t, 2, th.Samples.Len())
	assert.Equal(t, []int64{5, 2}, th.Samples.Weight)
	// Leaf first in pprof, root first in the stack table.
	assert.Equal(t, []int{1, 2, 0}, th.Stacks.FramePath(th.Samples.Stack[0]))
	assert.Equal(t, []int{1, 2}, th.Stacks.FramePath(th.Samples.Stack[1]))
	// Shared prefixes are shared stack nodes.
	assert.Equal(t, 3, th.Stacks.Len())
}

func TestFromPprofUnknownMapping(t *testing.T) {
	src := newTestPprof()
	src.Location[0].Mapping = &pprof.Mapping{ID: 9}
	_, err := FromPprof(src)
	require.ErrorContains(t, err, "unknown mapping 9")
}

func TestFromPprofLocationBelowMapping(t *testing.T) {
	src := newTestPprof()
	src.Location[0].Address = 0x800
	p, err := FromPprof(src)
	require.NoError(t, err)
	require.NoError(t, p.Validate())

	th := p.Threads[0]
	assert.Equal(t, int64(0x800), th.Frames.Address[0])
	assert.Equal(t, Null, th.Funcs.Resource[th.Frames.Func[0]])
	assert.Equal(t, "0x800", p.Strings.String(th.Funcs.Name[th.Frames.Func[0]]))
	// Other locations of the mapping are unaffected.
	assert.NotEqual(t, Null, th.Funcs.Resource[th.Frames.Func[1]])
}

func TestPprofRoundTrip(t *testing.T) {
	src := newTestPprof()
	p, err := FromPprof(src)
	require.NoError(t, err)

	out, err := p.ToPprof(0)
	require.NoError(t, err)
	require.Len(t, out.Sample, 2)
	require.Len(t, out.Mapping, 1)
	assert.Equal(t, uint64(0x200), out.Mapping[0].Offset)

	leaf := out.Sample[0].Location[0]
	assert.Equal(t, uint64(0x1010), leaf.Address)
	require.Len(t, leaf.Line, 1)
	assert.Equal(t, "0x210", leaf.Line[0].Function.Name)

	caller := out.Sample[0].Location[1]
	assert.Equal(t, uint64(0x1030), caller.Address)
	require.Len(t, caller.Line, 2)
	assert.Equal(t, "helper", caller.Line[0].Function.Name)
	assert.Equal(t, int64(12), caller.Line[0].Line)
	assert.Equal(t, "main", caller.Line[1].Function.Name)
	assert.Equal(t, "main.c", caller.Line[1].Function.Filename)
	assert.Same(t, caller, out.Sample[1].Location[0])
	assert.Equal(t, []int64{2}, out.Sample[1].Value)

	back, err := FromPprof(out)
	require.NoError(t, err)
	assert.Equal(t, p.Threads[0].Stacks, back.Threads[0].Stacks)
	assert.Equal(t, p.Threads[0].Frames, back.Threads[0].Frames)
}

func TestToPprofThreadOutOfRange(t *testing.T) {
	_, err := New().ToPprof(0)
	require.Error(t, err)
}
