package symbolication_test

import (
	"context"
	"errors"
	"flag"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/grafana/profile-symbolicator/pkg/profile"
	"github.com/grafana/profile-symbolicator/pkg/symbolication"
	"github.com/grafana/profile-symbolicator/pkg/test/mocks/mocksymbolprovider"
	"github.com/grafana/profile-symbolicator/pkg/util"
)

var (
	libL = symbolication.LibraryDescriptor{DebugName: "libL.so", BreakpadID: "L1"}
	libM = symbolication.LibraryDescriptor{DebugName: "libM.so", BreakpadID: "M1"}
)

// newProfile returns a profile with two threads. Both use libL, only the
// first one uses libM.
func newProfile() *profile.Profile {
	p := profile.New()
	p.Libs = []profile.Library{
		{Name: "libL.so", DebugName: libL.DebugName, BreakpadID: libL.BreakpadID},
		{Name: "libM.so", DebugName: libM.DebugName, BreakpadID: libM.BreakpadID},
	}
	newThread := func(name string, frames map[int][]int64) *profile.Thread {
		t := &profile.Thread{Name: name}
		stack := profile.Null
		for lib := 0; lib < len(p.Libs); lib++ {
			addrs, ok := frames[lib]
			if !ok {
				continue
			}
			res := t.Resources.Append(profile.ResourceTypeLibrary, p.Strings.Intern(p.Libs[lib].Name), lib)
			for _, addr := range addrs {
				fn := t.Funcs.Append(profile.Func{
					Name:         p.Strings.Intern(profile.PlaceholderName(addr)),
					Resource:     res,
					FileName:     profile.Null,
					LineNumber:   profile.Null,
					ColumnNumber: profile.Null,
					Address:      addr,
				})
				frame := t.Frames.Append(profile.Frame{
					Address:        addr,
					Category:       profile.Null,
					Subcategory:    profile.Null,
					Func:           fn,
					NativeSymbol:   profile.Null,
					Implementation: profile.Null,
					Line:           profile.Null,
					Column:         profile.Null,
				})
				stack = t.Stacks.Append(frame, stack)
			}
		}
		t.Samples.Append(0, stack, 1)
		return t
	}
	p.Threads = []*profile.Thread{
		newThread("main", map[int][]int64{0: {0x10, 0x20}, 1: {0x40}}),
		newThread("worker", map[int][]int64{0: {0x20, 0x30}}),
	}
	return p
}

func newSymbolicator(t *testing.T, reg prometheus.Registerer) *symbolication.Symbolicator {
	s, err := symbolication.New(log.NewNopLogger(), symbolication.Config{MaxConcurrency: 2}, reg)
	require.NoError(t, err)
	return s
}

func funcNames(p *profile.Profile, thread int) []string {
	t := p.Threads[thread]
	stack := t.Samples.Stack[0]
	var names []string
	for _, fn := range t.Stacks.FuncPath(stack, &t.Frames) {
		names = append(names, p.Strings.String(t.Funcs.Name[fn]))
	}
	return names
}

func TestSymbolicateProfile(t *testing.T) {
	p := newProfile()
	provider := mocksymbolprovider.NewMockSymbolProvider(t)
	provider.EXPECT().LookupAddresses(mock.Anything, mock.Anything).RunAndReturn(
		func(_ context.Context, req symbolication.LibraryRequest) (map[uint64]symbolication.AddressResult, error) {
			out := make(map[uint64]symbolication.AddressResult)
			for _, a := range req.Addresses {
				out[a] = symbolication.AddressResult{SymbolAddress: a, Name: strings.TrimSuffix(req.Library.DebugName, ".so") + "_fn"}
			}
			return out, nil
		}).Times(2)

	type call struct {
		thread  int
		library string
		addrs   []uint64
	}
	var calls []call
	err := newSymbolicator(t, nil).SymbolicateProfile(context.Background(), p, provider, func(thread int, step symbolication.SymbolicationStep) {
		calls = append(calls, call{thread: thread, library: step.ThreadLibraryInfo.Library.DebugName, addrs: step.ThreadLibraryInfo.Addresses})
		for _, a := range step.ThreadLibraryInfo.Addresses {
			assert.Contains(t, step.ResultsForLibrary, a)
		}
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []call{
		{thread: 0, library: "libL.so", addrs: []uint64{0x10, 0x20}},
		{thread: 1, library: "libL.so", addrs: []uint64{0x20, 0x30}},
		{thread: 0, library: "libM.so", addrs: []uint64{0x40}},
	}, calls)

	// Each library is requested once with the union of the addresses.
	provider.AssertCalled(t, "LookupAddresses", mock.Anything, symbolication.LibraryRequest{Library: libL, Addresses: []uint64{0x10, 0x20, 0x30}})
	provider.AssertCalled(t, "LookupAddresses", mock.Anything, symbolication.LibraryRequest{Library: libM, Addresses: []uint64{0x40}})

	// The profile is not modified.
	assert.Equal(t, newProfile().Threads, p.Threads)
}

func TestSymbolicateProfileOptions(t *testing.T) {
	p := newProfile()
	var concurrent, maxConcurrent atomic.Int32
	provider := symbolication.SymbolProviderFunc(func(_ context.Context, req symbolication.LibraryRequest) (map[uint64]symbolication.AddressResult, error) {
		n := concurrent.Add(1)
		defer concurrent.Add(-1)
		if n > maxConcurrent.Load() {
			maxConcurrent.Store(n)
		}
		assert.True(t, req.IgnoreCache)
		return nil, nil
	})

	var steps atomic.Int32
	ctx := util.WithLogger(context.Background(), log.NewNopLogger())
	err := symbolication.SymbolicateProfile(ctx, p, provider, func(int, symbolication.SymbolicationStep) {
		steps.Add(1)
	}, symbolication.WithMaxConcurrency(1), symbolication.WithIgnoreCache(true))
	require.NoError(t, err)
	assert.Equal(t, int32(3), steps.Load())
	assert.Equal(t, int32(1), maxConcurrent.Load())

	err = symbolication.SymbolicateProfile(ctx, p, provider, nil, symbolication.WithMaxConcurrency(0))
	require.Error(t, err)
}

func TestSymbolicateProfileLookupError(t *testing.T) {
	defer goleak.VerifyNone(t)
	p := newProfile()
	boom := errors.New("boom")
	provider := symbolication.SymbolProviderFunc(func(_ context.Context, req symbolication.LibraryRequest) (map[uint64]symbolication.AddressResult, error) {
		if req.Library == libL {
			return nil, boom
		}
		return map[uint64]symbolication.AddressResult{}, nil
	})

	reg := prometheus.NewRegistry()
	err := newSymbolicator(t, reg).SymbolicateProfile(context.Background(), p, provider, func(thread int, step symbolication.SymbolicationStep) {
		assert.Equal(t, libM, step.ThreadLibraryInfo.Library)
	})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "libL.so/L1")

	_, err = newSymbolicator(t, reg).Symbolicate(context.Background(), p, provider)
	require.ErrorIs(t, err, boom)
	n, err := testutil.GatherAndCount(reg, "symbolicator_profile_symbolication_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSymbolicate(t *testing.T) {
	p := newProfile()
	reg := prometheus.NewRegistry()
	provider := mocksymbolprovider.NewMockSymbolProvider(t)
	provider.MockLibrary(libL, map[uint64]symbolication.AddressResult{
		0x10: {SymbolAddress: 0x10, Name: "alpha"},
		0x20: {SymbolAddress: 0x20, Name: "beta", Inlines: []symbolication.InlineResult{{Name: "gamma"}}},
		0x30: {SymbolAddress: 0x10, Name: "alpha"},
	}, nil)
	provider.MockSymbolsNotFound(libM)

	res, err := newSymbolicator(t, reg).Symbolicate(context.Background(), p, provider)
	require.NoError(t, err)
	require.NoError(t, res.Profile.Validate())
	require.Len(t, res.RenamingMaps, 2)

	// libM is left unsymbolicated, libL frames are resolved in both threads.
	assert.Equal(t, []string{"alpha", "beta", "gamma", "0x40"}, funcNames(res.Profile, 0))
	assert.Equal(t, []string{"beta", "gamma", "alpha"}, funcNames(res.Profile, 1))
	assert.Equal(t, []string{"0x10", "0x20", "0x40"}, funcNames(p, 0))
	assert.Same(t, p.Strings, res.Profile.Strings)

	// The renaming map carries the old call paths over.
	old := p.Threads[1]
	oldPath := old.Stacks.FuncPath(old.Samples.Stack[0], &old.Frames)
	newThread := res.Profile.Threads[1]
	assert.Equal(t,
		newThread.Stacks.FuncPath(newThread.Samples.Stack[0], &newThread.Frames),
		[]int(symbolication.ApplyFuncSubstitutionToCallPath(res.RenamingMaps[1], oldPath)),
	)

	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP symbolicator_library_lookups_total Total number of library symbol lookups by status
# TYPE symbolicator_library_lookups_total counter
symbolicator_library_lookups_total{status="not_found"} 1
symbolicator_library_lookups_total{status="success"} 1
# HELP symbolicator_steps_total Total number of per thread library symbolication steps produced
# TYPE symbolicator_steps_total counter
symbolicator_steps_total 2
`), "symbolicator_library_lookups_total", "symbolicator_steps_total"))
}

func TestSymbolicateNoLibraries(t *testing.T) {
	p := newProfile()
	p.Libs = nil
	for _, th := range p.Threads {
		th.Resources = profile.ResourceTable{}
		for i := range th.Funcs.Resource {
			th.Funcs.Resource[i] = profile.Null
		}
	}
	provider := mocksymbolprovider.NewMockSymbolProvider(t)

	res, err := newSymbolicator(t, nil).Symbolicate(context.Background(), p, provider)
	require.NoError(t, err)
	for i, th := range res.Profile.Threads {
		assert.Same(t, p.Threads[i], th)
		assert.Empty(t, res.RenamingMaps[i])
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := symbolication.Config{}
	fs := flag.NewFlagSet("test", flag.PanicOnError)
	cfg.RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"-symbolication.ignore-cache"}))
	assert.Equal(t, symbolication.Config{MaxConcurrency: 8, IgnoreCache: true}, cfg)
	require.NoError(t, cfg.Validate())

	cfg.MaxConcurrency = 0
	require.Error(t, cfg.Validate())
	_, err := symbolication.New(log.NewNopLogger(), cfg, nil)
	require.Error(t, err)
}
