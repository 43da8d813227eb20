package engine

import (
	"context"
)

// Outcome is the result of one file job.
type Outcome struct {
	Path     string
	Diff     *CodeDiff
	Failures []Failure
	Applied  int
}

// Future is the pending outcome of a submitted job.
type Future struct {
	path string
	done chan struct{}
	out  Outcome
}

func newFuture(path string) *Future {
	return &Future{path: path, done: make(chan struct{})}
}

func (f *Future) resolve(out Outcome) {
	f.out = out
	close(f.done)
}

// Path returns the file the job works on.
func (f *Future) Path() string { return f.path }

// Done is closed once the outcome is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the job finishes or ctx ends.
func (f *Future) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-f.done:
		return f.out, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}
