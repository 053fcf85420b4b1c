package symbolication

import (
	"context"
	"fmt"

	"github.com/grafana/profile-symbolicator/pkg/profile"
)

// LibraryDescriptor identifies a library towards a symbol provider.
type LibraryDescriptor struct {
	DebugName  string
	BreakpadID string
}

func (d LibraryDescriptor) Key() string {
	return d.DebugName + "/" + d.BreakpadID
}

func (d LibraryDescriptor) String() string {
	return d.Key()
}

func descriptorOf(lib profile.Library) LibraryDescriptor {
	return LibraryDescriptor{DebugName: lib.DebugName, BreakpadID: lib.BreakpadID}
}

// LibraryRequest asks a provider to resolve a set of library-relative
// addresses. Addresses are sorted and unique.
type LibraryRequest struct {
	Library   LibraryDescriptor
	Addresses []uint64
	// IgnoreCache makes the provider bypass memoized results.
	IgnoreCache bool
}

// AddressResult describes the symbol containing one address.
type AddressResult struct {
	// SymbolAddress is the start address of the function that contains the
	// requested address.
	SymbolAddress uint64
	Name          string
	File          string
	// Line is 0 when unknown.
	Line         int
	FunctionSize *uint64
	// Inlines lists the functions inlined at the address, ordered from outer
	// to inner. Empty when nothing was inlined.
	Inlines []InlineResult
}

type InlineResult struct {
	Name string
	File string
	Line int
}

// SymbolProvider resolves addresses of one library.
//
// A provider returns a SymbolsNotFoundError when it has no symbols for the
// library; the driver treats it as a recoverable failure. Any other error
// aborts the pass. The result may be sparse: addresses missing from the map
// keep their previous attribution.
type SymbolProvider interface {
	LookupAddresses(ctx context.Context, req LibraryRequest) (map[uint64]AddressResult, error)
}

// SymbolProviderFunc adapts a function to the SymbolProvider interface.
type SymbolProviderFunc func(ctx context.Context, req LibraryRequest) (map[uint64]AddressResult, error)

func (f SymbolProviderFunc) LookupAddresses(ctx context.Context, req LibraryRequest) (map[uint64]AddressResult, error) {
	return f(ctx, req)
}

// ThreadLibraryInfo is the per thread, per library bookkeeping collected by
// the address gatherer. It is needed to apply the symbols of the library to
// the thread later.
type ThreadLibraryInfo struct {
	Library  LibraryDescriptor
	LibIndex int
	// Resource is the resource of the thread that represents the library.
	Resource int
	// Funcs and NativeSymbols attributed to the library. They are the pool
	// rows are reused from.
	Funcs         []int
	NativeSymbols []int
	// Frames holds the physical frames (inline depth 0) of the library, with
	// their library-relative addresses at the same positions in Addresses.
	Frames    []int
	Addresses []uint64
	// InlineFrames holds frames produced by a previous inline expansion.
	InlineFrames []int
}

// SymbolicationStep carries the symbols of one library for one thread.
type SymbolicationStep struct {
	ThreadLibraryInfo *ThreadLibraryInfo
	ResultsForLibrary map[uint64]AddressResult
}

// StepCallback receives symbolication steps as library results arrive. Calls
// are serialized.
type StepCallback func(threadIndex int, step SymbolicationStep)

// FuncRenamingMap maps an old func to the chain of funcs that replaced it in
// every frame it was used by. An empty chain means that all frames of the
// func were removed.
type FuncRenamingMap map[int][]int

func (m FuncRenamingMap) String() string {
	return fmt.Sprintf("FuncRenamingMap(%d entries)", len(m))
}
