// Package profile implements the column-oriented profile data model shared by
// the symbolication engine: every table is a set of parallel slices indexed by
// row id, and threads are replaced wholesale rather than mutated in place.
package profile

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

type Thread struct {
	Name        string
	ProcessName string
	PID         string
	TID         string

	Samples       SamplesTable
	Stacks        StackTable
	Frames        FrameTable
	Funcs         FuncTable
	NativeSymbols NativeSymbolTable
	Resources     ResourceTable
}

// Clone returns a deep copy of the thread. Symbolication works on clones so
// that readers holding the previous value keep a consistent snapshot.
func (t *Thread) Clone() *Thread {
	return &Thread{
		Name:          t.Name,
		ProcessName:   t.ProcessName,
		PID:           t.PID,
		TID:           t.TID,
		Samples:       t.Samples.clone(),
		Stacks:        t.Stacks.clone(),
		Frames:        t.Frames.clone(),
		Funcs:         t.Funcs.clone(),
		NativeSymbols: t.NativeSymbols.clone(),
		Resources:     t.Resources.clone(),
	}
}

// Validate checks column lengths and cross-table references.
func (t *Thread) Validate() error {
	var err error
	for _, v := range []func() error{
		t.Samples.validate,
		t.Stacks.validate,
		t.Frames.validate,
		t.Funcs.validate,
		t.NativeSymbols.validate,
		t.Resources.validate,
	} {
		if vErr := v(); vErr != nil {
			err = multierror.Append(err, vErr)
		}
	}
	if err != nil {
		// References can't be checked reliably with broken columns.
		return err
	}
	for i, s := range t.Samples.Stack {
		if s != Null && (s < 0 || s >= t.Stacks.Len()) {
			err = multierror.Append(err, fmt.Errorf("samples: sample %d references unknown stack %d", i, s))
		}
	}
	for i, f := range t.Stacks.Frame {
		if f < 0 || f >= t.Frames.Len() {
			err = multierror.Append(err, fmt.Errorf("stacks: stack %d references unknown frame %d", i, f))
		}
	}
	for i := 0; i < t.Frames.Len(); i++ {
		if fn := t.Frames.Func[i]; fn < 0 || fn >= t.Funcs.Len() {
			err = multierror.Append(err, fmt.Errorf("frames: frame %d references unknown func %d", i, fn))
		}
		if ns := t.Frames.NativeSymbol[i]; ns != Null && (ns < 0 || ns >= t.NativeSymbols.Len()) {
			err = multierror.Append(err, fmt.Errorf("frames: frame %d references unknown native symbol %d", i, ns))
		}
	}
	for i, r := range t.Funcs.Resource {
		if r != Null && (r < 0 || r >= t.Resources.Len()) {
			err = multierror.Append(err, fmt.Errorf("funcs: func %d references unknown resource %d", i, r))
		}
	}
	return err
}

type Meta struct {
	Product   string
	Interval  float64
	StartTime float64
}

type Profile struct {
	Meta    Meta
	Libs    []Library
	Threads []*Thread
	Strings *StringTable
}

func New() *Profile {
	return &Profile{Strings: NewStringTable()}
}

// WithThreads returns a shallow copy of the profile with the threads
// replaced. Libraries and the string table are shared.
func (p *Profile) WithThreads(threads []*Thread) *Profile {
	cp := *p
	cp.Threads = threads
	return &cp
}

func (p *Profile) Validate() error {
	var err error
	for i, t := range p.Threads {
		if tErr := t.Validate(); tErr != nil {
			err = multierror.Append(err, fmt.Errorf("thread %d (%s): %w", i, t.Name, tErr))
			continue
		}
		for r, lib := range t.Resources.Lib {
			if lib != Null && (lib < 0 || lib >= len(p.Libs)) {
				err = multierror.Append(err, fmt.Errorf("thread %d: resource %d references unknown library %d", i, r, lib))
			}
		}
	}
	return err
}
