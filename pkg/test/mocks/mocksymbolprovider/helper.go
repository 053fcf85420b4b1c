package mocksymbolprovider

import (
	"github.com/stretchr/testify/mock"

	"github.com/grafana/profile-symbolicator/pkg/symbolication"
)

// MatchLibrary matches requests for the given library.
func MatchLibrary(lib symbolication.LibraryDescriptor) interface{} {
	return mock.MatchedBy(func(req symbolication.LibraryRequest) bool {
		return req.Library == lib
	})
}

// MockLibrary answers every request for lib with results, or fails it with err.
func (m *MockSymbolProvider) MockLibrary(lib symbolication.LibraryDescriptor, results map[uint64]symbolication.AddressResult, err error) *MockSymbolProvider_LookupAddresses_Call {
	return m.EXPECT().LookupAddresses(mock.Anything, MatchLibrary(lib)).Return(results, err)
}

// MockSymbolsNotFound fails every request for lib as if the provider had no
// symbols for it.
func (m *MockSymbolProvider) MockSymbolsNotFound(lib symbolication.LibraryDescriptor) *MockSymbolProvider_LookupAddresses_Call {
	return m.MockLibrary(lib, nil, &symbolication.SymbolsNotFoundError{Library: lib})
}
