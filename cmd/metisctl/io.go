package main

import (
	"fmt"
	"io"
)

// IO is a thin stdout/stderr wrapper, grounded on the teacher's
// internal/cli/io.go. metisctl has no warnings channel of its own (it is
// a demonstration front end, not the teacher's LLM-facing tk binary) so
// this is simpler: direct, unbuffered writes.
type IO struct {
	out    io.Writer
	errOut io.Writer
}

// NewIO creates an IO writing to out and errOut.
func NewIO(out, errOut io.Writer) *IO {
	return &IO{out: out, errOut: errOut}
}

// Println writes to stdout.
func (o *IO) Println(a ...any) {
	_, _ = fmt.Fprintln(o.out, a...)
}

// Printf writes formatted output to stdout.
func (o *IO) Printf(format string, a ...any) {
	_, _ = fmt.Fprintf(o.out, format, a...)
}

// ErrPrintln writes to stderr.
func (o *IO) ErrPrintln(a ...any) {
	_, _ = fmt.Fprintln(o.errOut, a...)
}
