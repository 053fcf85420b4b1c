package profile

import (
	"fmt"
	"slices"

	"github.com/hashicorp/go-multierror"
)

// Null marks an absent table reference or an absent optional value.
const Null = -1

type ResourceType uint8

const (
	ResourceTypeOther ResourceType = iota
	ResourceTypeLibrary
	ResourceTypeAddon
	ResourceTypeWebhost
)

func (t ResourceType) String() string {
	switch t {
	case ResourceTypeLibrary:
		return "library"
	case ResourceTypeAddon:
		return "addon"
	case ResourceTypeWebhost:
		return "webhost"
	default:
		return "other"
	}
}

// Library describes a native binary loaded into a process. Addresses of
// frames, funcs and native symbols attributed to a library are relative to
// Start.
type Library struct {
	Name       string
	Path       string
	DebugName  string
	DebugPath  string
	BreakpadID string
	CodeID     string
	Arch       string
	Start      uint64
	End        uint64
	// Offset is the file offset mapped at Start.
	Offset     uint64
}

// Key identifies the library towards a symbol provider.
func (l Library) Key() string {
	return l.DebugName + "/" + l.BreakpadID
}

type ResourceTable struct {
	Type []ResourceType
	Name []int
	Lib  []int
}

func (t *ResourceTable) Len() int { return len(t.Type) }

func (t *ResourceTable) Append(typ ResourceType, name, lib int) int {
	t.Type = append(t.Type, typ)
	t.Name = append(t.Name, name)
	t.Lib = append(t.Lib, lib)
	return len(t.Type) - 1
}

func (t *ResourceTable) validate() error {
	return checkColumns("resources", t.Len(), map[string]int{
		"name": len(t.Name),
		"lib":  len(t.Lib),
	})
}

func (t ResourceTable) clone() ResourceTable {
	return ResourceTable{
		Type: slices.Clone(t.Type),
		Name: slices.Clone(t.Name),
		Lib:  slices.Clone(t.Lib),
	}
}

// Func is a single row of FuncTable, used to append and overwrite rows.
type Func struct {
	Name          int
	IsJS          bool
	RelevantForJS bool
	Resource      int
	FileName      int
	LineNumber    int
	ColumnNumber  int
	Address       int64
}

type FuncTable struct {
	Name          []int
	IsJS          []bool
	RelevantForJS []bool
	Resource      []int
	FileName      []int
	LineNumber    []int
	ColumnNumber  []int
	Address       []int64
}

func (t *FuncTable) Len() int { return len(t.Name) }

func (t *FuncTable) Append(f Func) int {
	t.Name = append(t.Name, f.Name)
	t.IsJS = append(t.IsJS, f.IsJS)
	t.RelevantForJS = append(t.RelevantForJS, f.RelevantForJS)
	t.Resource = append(t.Resource, f.Resource)
	t.FileName = append(t.FileName, f.FileName)
	t.LineNumber = append(t.LineNumber, f.LineNumber)
	t.ColumnNumber = append(t.ColumnNumber, f.ColumnNumber)
	t.Address = append(t.Address, f.Address)
	return len(t.Name) - 1
}

func (t *FuncTable) Set(i int, f Func) {
	t.Name[i] = f.Name
	t.IsJS[i] = f.IsJS
	t.RelevantForJS[i] = f.RelevantForJS
	t.Resource[i] = f.Resource
	t.FileName[i] = f.FileName
	t.LineNumber[i] = f.LineNumber
	t.ColumnNumber[i] = f.ColumnNumber
	t.Address[i] = f.Address
}

func (t *FuncTable) Row(i int) Func {
	return Func{
		Name:          t.Name[i],
		IsJS:          t.IsJS[i],
		RelevantForJS: t.RelevantForJS[i],
		Resource:      t.Resource[i],
		FileName:      t.FileName[i],
		LineNumber:    t.LineNumber[i],
		ColumnNumber:  t.ColumnNumber[i],
		Address:       t.Address[i],
	}
}

func (t *FuncTable) validate() error {
	return checkColumns("funcs", t.Len(), map[string]int{
		"isJS":          len(t.IsJS),
		"relevantForJS": len(t.RelevantForJS),
		"resource":      len(t.Resource),
		"fileName":      len(t.FileName),
		"lineNumber":    len(t.LineNumber),
		"columnNumber":  len(t.ColumnNumber),
		"address":       len(t.Address),
	})
}

func (t FuncTable) clone() FuncTable {
	return FuncTable{
		Name:          slices.Clone(t.Name),
		IsJS:          slices.Clone(t.IsJS),
		RelevantForJS: slices.Clone(t.RelevantForJS),
		Resource:      slices.Clone(t.Resource),
		FileName:      slices.Clone(t.FileName),
		LineNumber:    slices.Clone(t.LineNumber),
		ColumnNumber:  slices.Clone(t.ColumnNumber),
		Address:       slices.Clone(t.Address),
	}
}

type NativeSymbol struct {
	LibIndex     int
	Address      int64
	Name         int
	FunctionSize int64
}

type NativeSymbolTable struct {
	LibIndex     []int
	Address      []int64
	Name         []int
	FunctionSize []int64
}

func (t *NativeSymbolTable) Len() int { return len(t.LibIndex) }

func (t *NativeSymbolTable) Append(s NativeSymbol) int {
	t.LibIndex = append(t.LibIndex, s.LibIndex)
	t.Address = append(t.Address, s.Address)
	t.Name = append(t.Name, s.Name)
	t.FunctionSize = append(t.FunctionSize, s.FunctionSize)
	return len(t.LibIndex) - 1
}

func (t *NativeSymbolTable) Set(i int, s NativeSymbol) {
	t.LibIndex[i] = s.LibIndex
	t.Address[i] = s.Address
	t.Name[i] = s.Name
	t.FunctionSize[i] = s.FunctionSize
}

func (t *NativeSymbolTable) Row(i int) NativeSymbol {
	return NativeSymbol{
		LibIndex:     t.LibIndex[i],
		Address:      t.Address[i],
		Name:         t.Name[i],
		FunctionSize: t.FunctionSize[i],
	}
}

func (t *NativeSymbolTable) validate() error {
	return checkColumns("nativeSymbols", t.Len(), map[string]int{
		"address":      len(t.Address),
		"name":         len(t.Name),
		"functionSize": len(t.FunctionSize),
	})
}

func (t NativeSymbolTable) clone() NativeSymbolTable {
	return NativeSymbolTable{
		LibIndex:     slices.Clone(t.LibIndex),
		Address:      slices.Clone(t.Address),
		Name:         slices.Clone(t.Name),
		FunctionSize: slices.Clone(t.FunctionSize),
	}
}

type Frame struct {
	Address        int64
	InlineDepth    int
	Category       int
	Subcategory    int
	Func           int
	NativeSymbol   int
	InnerWindowID  int64
	Implementation int
	Line           int
	Column         int
}

// FrameTable holds physical frames (InlineDepth == 0) and the frames produced
// by inline expansion, which share the address of their physical frame.
type FrameTable struct {
	Address        []int64
	InlineDepth    []int
	Category       []int
	Subcategory    []int
	Func           []int
	NativeSymbol   []int
	InnerWindowID  []int64
	Implementation []int
	Line           []int
	Column         []int
}

func (t *FrameTable) Len() int { return len(t.Address) }

func (t *FrameTable) Append(f Frame) int {
	t.Address = append(t.Address, f.Address)
	t.InlineDepth = append(t.InlineDepth, f.InlineDepth)
	t.Category = append(t.Category, f.Category)
	t.Subcategory = append(t.Subcategory, f.Subcategory)
	t.Func = append(t.Func, f.Func)
	t.NativeSymbol = append(t.NativeSymbol, f.NativeSymbol)
	t.InnerWindowID = append(t.InnerWindowID, f.InnerWindowID)
	t.Implementation = append(t.Implementation, f.Implementation)
	t.Line = append(t.Line, f.Line)
	t.Column = append(t.Column, f.Column)
	return len(t.Address) - 1
}

func (t *FrameTable) Set(i int, f Frame) {
	t.Address[i] = f.Address
	t.InlineDepth[i] = f.InlineDepth
	t.Category[i] = f.Category
	t.Subcategory[i] = f.Subcategory
	t.Func[i] = f.Func
	t.NativeSymbol[i] = f.NativeSymbol
	t.InnerWindowID[i] = f.InnerWindowID
	t.Implementation[i] = f.Implementation
	t.Line[i] = f.Line
	t.Column[i] = f.Column
}

func (t *FrameTable) Row(i int) Frame {
	return Frame{
		Address:        t.Address[i],
		InlineDepth:    t.InlineDepth[i],
		Category:       t.Category[i],
		Subcategory:    t.Subcategory[i],
		Func:           t.Func[i],
		NativeSymbol:   t.NativeSymbol[i],
		InnerWindowID:  t.InnerWindowID[i],
		Implementation: t.Implementation[i],
		Line:           t.Line[i],
		Column:         t.Column[i],
	}
}

func (t *FrameTable) validate() error {
	return checkColumns("frames", t.Len(), map[string]int{
		"inlineDepth":    len(t.InlineDepth),
		"category":       len(t.Category),
		"subcategory":    len(t.Subcategory),
		"func":           len(t.Func),
		"nativeSymbol":   len(t.NativeSymbol),
		"innerWindowID":  len(t.InnerWindowID),
		"implementation": len(t.Implementation),
		"line":           len(t.Line),
		"column":         len(t.Column),
	})
}

func (t FrameTable) clone() FrameTable {
	return FrameTable{
		Address:        slices.Clone(t.Address),
		InlineDepth:    slices.Clone(t.InlineDepth),
		Category:       slices.Clone(t.Category),
		Subcategory:    slices.Clone(t.Subcategory),
		Func:           slices.Clone(t.Func),
		NativeSymbol:   slices.Clone(t.NativeSymbol),
		InnerWindowID:  slices.Clone(t.InnerWindowID),
		Implementation: slices.Clone(t.Implementation),
		Line:           slices.Clone(t.Line),
		Column:         slices.Clone(t.Column),
	}
}

// StackTable is a prefix tree of call paths. A prefix always refers to a row
// with a lower index.
type StackTable struct {
	Frame  []int
	Prefix []int
}

func (t *StackTable) Len() int { return len(t.Frame) }

func (t *StackTable) Append(frame, prefix int) int {
	t.Frame = append(t.Frame, frame)
	t.Prefix = append(t.Prefix, prefix)
	return len(t.Frame) - 1
}

// Depth returns the number of ancestors of the stack.
func (t *StackTable) Depth(stack int) int {
	d := 0
	for p := t.Prefix[stack]; p != Null; p = t.Prefix[p] {
		d++
	}
	return d
}

// FramePath returns the frames of the stack ordered from root to leaf.
func (t *StackTable) FramePath(stack int) []int {
	var path []int
	for s := stack; s != Null; s = t.Prefix[s] {
		path = append(path, t.Frame[s])
	}
	slices.Reverse(path)
	return path
}

// FuncPath returns the call node path (funcs ordered from root to leaf) of
// the stack.
func (t *StackTable) FuncPath(stack int, frames *FrameTable) []int {
	path := t.FramePath(stack)
	for i, f := range path {
		path[i] = frames.Func[f]
	}
	return path
}

func (t *StackTable) validate() error {
	if err := checkColumns("stacks", t.Len(), map[string]int{"prefix": len(t.Prefix)}); err != nil {
		return err
	}
	for i, p := range t.Prefix {
		if p != Null && (p < 0 || p >= i) {
			return fmt.Errorf("stacks: stack %d has prefix %d which is not an earlier row", i, p)
		}
	}
	return nil
}

func (t StackTable) clone() StackTable {
	return StackTable{
		Frame:  slices.Clone(t.Frame),
		Prefix: slices.Clone(t.Prefix),
	}
}

type SamplesTable struct {
	Time   []float64
	Stack  []int
	Weight []int64
}

func (t *SamplesTable) Len() int { return len(t.Stack) }

func (t *SamplesTable) Append(time float64, stack int, weight int64) int {
	t.Time = append(t.Time, time)
	t.Stack = append(t.Stack, stack)
	t.Weight = append(t.Weight, weight)
	return len(t.Stack) - 1
}

func (t *SamplesTable) validate() error {
	return checkColumns("samples", t.Len(), map[string]int{
		"time":   len(t.Time),
		"weight": len(t.Weight),
	})
}

func (t SamplesTable) clone() SamplesTable {
	return SamplesTable{
		Time:   slices.Clone(t.Time),
		Stack:  slices.Clone(t.Stack),
		Weight: slices.Clone(t.Weight),
	}
}

func checkColumns(table string, length int, columns map[string]int) error {
	var err error
	for name, n := range columns {
		if n != length {
			err = multierror.Append(err, fmt.Errorf("%s: column %s has length %d, expected %d", table, name, n, length))
		}
	}
	return err
}
