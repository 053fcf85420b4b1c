package symbols

import (
	"bufio"
	"cmp"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/grafana/profile-symbolicator/pkg/symbolication"
)

// Module is the MODULE record of a Breakpad symbol file.
type Module struct {
	OS         string
	Arch       string
	BreakpadID string
	DebugName  string
}

type addrRange struct {
	addr uint64
	size uint64
}

func (r addrRange) contains(addr uint64) bool {
	return addr >= r.addr && addr-r.addr < r.size
}

type lineRecord struct {
	addrRange
	line int
	file int
}

type inlineRecord struct {
	depth    int
	callLine int
	callFile int
	origin   int
	ranges   []addrRange
}

type function struct {
	addrRange
	name    string
	lines   []lineRecord
	inlines []inlineRecord
}

type public struct {
	addr uint64
	name string
}

// SymbolFile is a parsed Breakpad text symbol file.
type SymbolFile struct {
	Module Module

	files   map[int]string
	origins map[int]string
	funcs   []function
	publics []public
}

const maxLineSize = 1 << 20

// ParseSymbolFile reads a Breakpad symbol file. STACK and INFO records are
// skipped.
func ParseSymbolFile(r io.Reader) (*SymbolFile, error) {
	f := &SymbolFile{
		files:   make(map[int]string),
		origins: make(map[int]string),
	}
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var current *function
	for n := 1; s.Scan(); n++ {
		line := strings.TrimRight(s.Text(), "\r")
		if line == "" {
			continue
		}
		keyword, rest, _ := strings.Cut(line, " ")
		var err error
		switch keyword {
		case "MODULE":
			err = f.parseModule(rest)
		case "FILE":
			err = parseIndexed(rest, f.files)
		case "INLINE_ORIGIN":
			err = parseIndexed(rest, f.origins)
		case "FUNC":
			var fn function
			fn, err = parseFunc(rest)
			if err == nil {
				f.funcs = append(f.funcs, fn)
				current = &f.funcs[len(f.funcs)-1]
			}
		case "INLINE":
			if current == nil {
				err = fmt.Errorf("INLINE record outside of a FUNC")
				break
			}
			var in inlineRecord
			in, err = parseInline(rest)
			current.inlines = append(current.inlines, in)
		case "PUBLIC":
			var p public
			p, err = parsePublic(rest)
			f.publics = append(f.publics, p)
			current = nil
		case "STACK", "INFO":
			current = nil
		default:
			if current == nil {
				err = fmt.Errorf("unexpected record %q", keyword)
				break
			}
			var l lineRecord
			l, err = parseLine(line)
			current.lines = append(current.lines, l)
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("read symbol file: %w", err)
	}

	slices.SortFunc(f.funcs, func(a, b function) int { return cmp.Compare(a.addr, b.addr) })
	for i := range f.funcs {
		slices.SortFunc(f.funcs[i].lines, func(a, b lineRecord) int { return cmp.Compare(a.addr, b.addr) })
	}
	slices.SortFunc(f.publics, func(a, b public) int { return cmp.Compare(a.addr, b.addr) })
	return f, nil
}

// lastAtOrBefore returns the index of the last element of s that starts at
// or before addr, or -1. s must be sorted by start address.
func lastAtOrBefore[E any](s []E, addr uint64, start func(E) uint64) int {
	i, _ := slices.BinarySearchFunc(s, addr, func(e E, target uint64) int {
		if start(e) <= target {
			return -1
		}
		return 1
	})
	return i - 1
}

func (f *SymbolFile) parseModule(rest string) error {
	fields := strings.SplitN(rest, " ", 4)
	if len(fields) != 4 {
		return fmt.Errorf("malformed MODULE record")
	}
	f.Module = Module{OS: fields[0], Arch: fields[1], BreakpadID: fields[2], DebugName: fields[3]}
	return nil
}

func parseIndexed(rest string, into map[int]string) error {
	idx, name, ok := strings.Cut(rest, " ")
	if !ok {
		return fmt.Errorf("malformed record %q", rest)
	}
	i, err := strconv.Atoi(idx)
	if err != nil {
		return err
	}
	into[i] = name
	return nil
}

// trimMulti strips the optional "m" marker of FUNC and PUBLIC records.
func trimMulti(rest string) string {
	if r, ok := strings.CutPrefix(rest, "m "); ok {
		return r
	}
	return rest
}

func parseHex(s string) (uint64, error) {
	return strconv.ParseUint(s, 16, 64)
}

func parseFunc(rest string) (function, error) {
	fields := strings.SplitN(trimMulti(rest), " ", 4)
	if len(fields) < 3 {
		return function{}, fmt.Errorf("malformed FUNC record")
	}
	addr, err := parseHex(fields[0])
	if err != nil {
		return function{}, err
	}
	size, err := parseHex(fields[1])
	if err != nil {
		return function{}, err
	}
	fn := function{addrRange: addrRange{addr: addr, size: size}}
	if len(fields) == 4 {
		fn.name = fields[3]
	}
	return fn, nil
}

func parsePublic(rest string) (public, error) {
	fields := strings.SplitN(trimMulti(rest), " ", 3)
	if len(fields) < 2 {
		return public{}, fmt.Errorf("malformed PUBLIC record")
	}
	addr, err := parseHex(fields[0])
	if err != nil {
		return public{}, err
	}
	p := public{addr: addr}
	if len(fields) == 3 {
		p.name = fields[2]
	}
	return p, nil
}

func parseLine(line string) (lineRecord, error) {
	fields := strings.Fields(line)
	if len(fields) != 4 {
		return lineRecord{}, fmt.Errorf("malformed line record %q", line)
	}
	addr, err := parseHex(fields[0])
	if err != nil {
		return lineRecord{}, err
	}
	size, err := parseHex(fields[1])
	if err != nil {
		return lineRecord{}, err
	}
	l, err := strconv.Atoi(fields[2])
	if err != nil {
		return lineRecord{}, err
	}
	file, err := strconv.Atoi(fields[3])
	if err != nil {
		return lineRecord{}, err
	}
	return lineRecord{addrRange: addrRange{addr: addr, size: size}, line: l, file: file}, nil
}

func parseInline(rest string) (inlineRecord, error) {
	fields := strings.Fields(rest)
	if len(fields) < 6 || len(fields)%2 != 0 {
		return inlineRecord{}, fmt.Errorf("malformed INLINE record")
	}
	var nums [4]int
	for i := range nums {
		v, err := strconv.Atoi(fields[i])
		if err != nil {
			return inlineRecord{}, err
		}
		nums[i] = v
	}
	in := inlineRecord{depth: nums[0], callLine: nums[1], callFile: nums[2], origin: nums[3]}
	for i := 4; i < len(fields); i += 2 {
		addr, err := parseHex(fields[i])
		if err != nil {
			return inlineRecord{}, err
		}
		size, err := parseHex(fields[i+1])
		if err != nil {
			return inlineRecord{}, err
		}
		in.ranges = append(in.ranges, addrRange{addr: addr, size: size})
	}
	return in, nil
}

// Lookup returns the symbol of a module-relative address. FUNC records are
// preferred; an address outside of every FUNC falls back to the closest
// PUBLIC record before it.
func (f *SymbolFile) Lookup(addr uint64) (symbolication.AddressResult, bool) {
	i := lastAtOrBefore(f.funcs, addr, func(fn function) uint64 { return fn.addr })
	if i >= 0 && f.funcs[i].contains(addr) {
		return f.lookupFunc(&f.funcs[i], addr), true
	}

	j := lastAtOrBefore(f.publics, addr, func(p public) uint64 { return p.addr })
	if j < 0 {
		return symbolication.AddressResult{}, false
	}
	p := f.publics[j]
	// A FUNC between the public symbol and the address ends before it.
	if i >= 0 && f.funcs[i].addr > p.addr {
		return symbolication.AddressResult{}, false
	}
	return symbolication.AddressResult{SymbolAddress: p.addr, Name: p.name}, true
}

func (f *SymbolFile) lookupFunc(fn *function, addr uint64) symbolication.AddressResult {
	size := fn.size
	r := symbolication.AddressResult{
		SymbolAddress: fn.addr,
		Name:          fn.name,
		FunctionSize:  &size,
	}

	// Innermost source position.
	file, line := -1, 0
	k := lastAtOrBefore(fn.lines, addr, func(l lineRecord) uint64 { return l.addr })
	if k >= 0 && fn.lines[k].contains(addr) {
		file, line = fn.lines[k].file, fn.lines[k].line
	}

	var active []inlineRecord
	for _, in := range fn.inlines {
		if slices.ContainsFunc(in.ranges, func(r addrRange) bool { return r.contains(addr) }) {
			active = append(active, in)
		}
	}
	slices.SortFunc(active, func(a, b inlineRecord) int { return a.depth - b.depth })

	if len(active) == 0 {
		r.File, r.Line = f.files[file], line
		return r
	}
	// Every function of the chain is positioned at the call site of the
	// next one; the innermost at the line record.
	r.File, r.Line = f.files[active[0].callFile], active[0].callLine
	r.Inlines = make([]symbolication.InlineResult, len(active))
	for d, in := range active {
		inl := symbolication.InlineResult{Name: f.origins[in.origin]}
		if d+1 < len(active) {
			inl.File, inl.Line = f.files[active[d+1].callFile], active[d+1].callLine
		} else {
			inl.File, inl.Line = f.files[file], line
		}
		r.Inlines[d] = inl
	}
	return r
}
