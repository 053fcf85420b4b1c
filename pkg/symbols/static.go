package symbols

import (
	"context"
	"sync"

	"github.com/grafana/profile-symbolicator/pkg/symbolication"
)

// StaticProvider serves symbols from memory. Libraries without symbols are
// reported as not found.
type StaticProvider struct {
	mu        sync.RWMutex
	libraries map[string]map[uint64]symbolication.AddressResult
}

func NewStaticProvider() *StaticProvider {
	return &StaticProvider{libraries: make(map[string]map[uint64]symbolication.AddressResult)}
}

// Add registers results for addresses of a library, replacing earlier
// results for the same addresses.
func (p *StaticProvider) Add(lib symbolication.LibraryDescriptor, results map[uint64]symbolication.AddressResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.libraries[lib.Key()]
	if !ok {
		m = make(map[uint64]symbolication.AddressResult, len(results))
		p.libraries[lib.Key()] = m
	}
	for addr, r := range results {
		m[addr] = r
	}
}

// AddSymbolFile registers the symbols of the given addresses, looked up in f.
func (p *StaticProvider) AddSymbolFile(lib symbolication.LibraryDescriptor, f *SymbolFile, addresses []uint64) {
	p.Add(lib, lookupAll(f, addresses))
}

func (p *StaticProvider) LookupAddresses(_ context.Context, req symbolication.LibraryRequest) (map[uint64]symbolication.AddressResult, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.libraries[req.Library.Key()]
	if !ok {
		return nil, &symbolication.SymbolsNotFoundError{Library: req.Library}
	}
	out := make(map[uint64]symbolication.AddressResult, len(req.Addresses))
	for _, addr := range req.Addresses {
		if r, ok := m[addr]; ok {
			out[addr] = r
		}
	}
	return out, nil
}

func lookupAll(f *SymbolFile, addresses []uint64) map[uint64]symbolication.AddressResult {
	out := make(map[uint64]symbolication.AddressResult, len(addresses))
	for _, addr := range addresses {
		if r, ok := f.Lookup(addr); ok {
			out[addr] = r
		}
	}
	return out
}
