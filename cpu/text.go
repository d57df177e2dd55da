package cpu

import "fmt"

// Routine is code the simulated CPU can execute.
type Routine func()

// TextBase is the address of the first symbol.
const TextBase uint64 = 0xffff_ffff_8010_0000

const symbolAlign = 16

type symbol struct {
	name string
	fn   Routine
}

// Text is the synthetic text segment: a table of routines by address.
type Text struct {
	syms []symbol
}

// ResumeAddr is the return address a Switch pushes. A ret to it resumes the
// flow parked on that stack.
const ResumeAddr = TextBase

func newText() *Text {
	return &Text{syms: []symbol{{name: "switch_resume"}}}
}

// Register adds fn under name and returns its address.
func (t *Text) Register(name string, fn Routine) uint64 {
	if fn == nil {
		panic(fmt.Sprintf("cpu: nil routine %q", name))
	}
	t.syms = append(t.syms, symbol{name: name, fn: fn})
	return TextBase + uint64(len(t.syms)-1)*symbolAlign
}

func (t *Text) lookup(addr uint64) (symbol, bool) {
	if addr < TextBase || (addr-TextBase)%symbolAlign != 0 {
		return symbol{}, false
	}
	i := (addr - TextBase) / symbolAlign
	if i >= uint64(len(t.syms)) {
		return symbol{}, false
	}
	return t.syms[i], true
}

// Name returns the symbol at addr, or a hex address when there is none.
func (t *Text) Name(addr uint64) string {
	if s, ok := t.lookup(addr); ok {
		return s.name
	}
	return fmt.Sprintf("%#x", addr)
}

// Has reports whether addr is the start of a routine.
func (t *Text) Has(addr uint64) bool {
	s, ok := t.lookup(addr)
	return ok && s.fn != nil
}
