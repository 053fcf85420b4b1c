package symbols

import (
	"context"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/profile-symbolicator/pkg/symbolication"
)

func TestStaticProvider(t *testing.T) {
	p := NewStaticProvider()
	p.Add(testLibrary, map[uint64]symbolication.AddressResult{
		0x10: {SymbolAddress: 0x10, Name: "a"},
		0x20: {SymbolAddress: 0x20, Name: "b"},
	})
	p.Add(testLibrary, map[uint64]symbolication.AddressResult{
		0x20: {SymbolAddress: 0x18, Name: "c"},
	})

	res, err := p.LookupAddresses(context.Background(), symbolication.LibraryRequest{
		Library:   testLibrary,
		Addresses: []uint64{0x10, 0x20, 0x30},
	})
	require.NoError(t, err)
	assert.Equal(t, map[uint64]symbolication.AddressResult{
		0x10: {SymbolAddress: 0x10, Name: "a"},
		0x20: {SymbolAddress: 0x18, Name: "c"},
	}, res)

	_, err = p.LookupAddresses(context.Background(), symbolication.LibraryRequest{
		Library:   symbolication.LibraryDescriptor{DebugName: "unknown.so", BreakpadID: "00"},
		Addresses: []uint64{0x10},
	})
	require.Error(t, err)
	assert.True(t, symbolication.IsSymbolsNotFound(err))
}

func TestStaticProviderSymbolFile(t *testing.T) {
	f, err := ParseSymbolFile(strings.NewReader(testSymbolFile))
	require.NoError(t, err)
	p := NewStaticProvider()
	p.AddSymbolFile(testLibrary, f, []uint64{0x1034, 0x100})

	res, err := p.LookupAddresses(context.Background(), symbolication.LibraryRequest{
		Library:   testLibrary,
		Addresses: []uint64{0x100, 0x1034},
	})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "main", res[0x1034].Name)
	assert.Len(t, res[0x1034].Inlines, 2)
}

func TestDecompress(t *testing.T) {
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	zstdData := enc.EncodeAll([]byte(testSymbolFile), nil)
	require.NoError(t, enc.Close())

	for name, data := range map[string][]byte{
		"plain": []byte(testSymbolFile),
		"gzip":  gzipped(t, testSymbolFile),
		"zstd":  zstdData,
	} {
		t.Run(name, func(t *testing.T) {
			out, err := decompress(data)
			require.NoError(t, err)
			assert.Equal(t, testSymbolFile, string(out))
		})
	}

	_, err = decompress([]byte{0x1f, 0x8b, 0x00})
	require.Error(t, err)
}
