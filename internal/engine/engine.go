// Package engine runs batches of edit requests against file contents and
// returns one diff per changed file.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"codesync/internal/fonts"
	"codesync/internal/inject"
	"codesync/internal/router"
	"codesync/internal/transform"
)

// Failure is re-exported from router so callers need one import.
type Failure = router.Failure

// CodeDiff is the new content of one file.
type CodeDiff struct {
	Path      string `json:"path"`
	Original  string `json:"original"`
	Generated string `json:"generated"`
}

// Result is the outcome of a batch. Diffs are sorted by path; each path
// appears at most once.
type Result struct {
	BatchID  string     `json:"batchId"`
	Diffs    []CodeDiff `json:"diffs"`
	Failures []Failure  `json:"failures"`
}

// FontChange adds or removes a font declaration in File.
type FontChange struct {
	File   string             `json:"file"`
	Add    *fonts.Declaration `json:"add,omitempty"`
	Remove string             `json:"remove,omitempty"`
}

// ThemeChange adds or removes a fontFamily entry in the theme config File.
type ThemeChange struct {
	File   string            `json:"file"`
	Add    *fonts.ThemeEntry `json:"add,omitempty"`
	Remove string            `json:"remove,omitempty"`
}

// Injection keeps Marker present in the layout at Path and drops markers
// matching Deprecated.
type Injection struct {
	Path       string        `json:"path"`
	Marker     inject.Marker `json:"marker"`
	Deprecated []string      `json:"deprecated,omitempty"`
}

// Batch is everything one call applies.
type Batch struct {
	Mutations  []transform.Request `json:"mutations,omitempty"`
	Fonts      []FontChange        `json:"fonts,omitempty"`
	Themes     []ThemeChange       `json:"themes,omitempty"`
	Injections []Injection         `json:"injections,omitempty"`
}

// Recorder persists batch results.
type Recorder interface {
	Record(ctx context.Context, r *Result) error
}

// Options configures an Engine.
type Options struct {
	// Workers bounds how many files are processed at once. Defaults to
	// the number of CPUs.
	Workers int
	// Protect lists gitignore-style patterns of paths that must not be
	// edited.
	Protect  []string
	Recorder Recorder
	Logger   *slog.Logger
}

func (o *Options) defaults() {
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Engine processes batches. It is safe for concurrent use.
type Engine struct {
	opts     Options
	router   *router.Router
	injector *inject.Injector
	pool     errgroup.Group
	inflight sync.WaitGroup

	mu          sync.Mutex
	generations map[string]uint64
}

// New creates an Engine.
func New(opts Options) *Engine {
	opts.defaults()
	e := &Engine{
		opts:        opts,
		router:      router.New(router.Options{Protect: opts.Protect, Logger: opts.Logger}),
		injector:    inject.New(inject.Options{Logger: opts.Logger}),
		generations: make(map[string]uint64),
	}
	e.pool.SetLimit(opts.Workers)
	return e
}

// Close waits for submitted jobs to finish.
func (e *Engine) Close() error {
	e.inflight.Wait()
	return nil
}

// Injector returns the injector whose state spans the engine's lifetime.
func (e *Engine) Injector() *inject.Injector { return e.injector }

// ProcessBatch applies requests to contents, keyed by path. It never fails
// as a whole: problems are reported per request or per file in
// Result.Failures.
func (e *Engine) ProcessBatch(ctx context.Context, requests []transform.Request, contents map[string]string) *Result {
	return e.Run(ctx, Batch{Mutations: requests}, contents)
}

// Run applies a full batch to contents.
func (e *Engine) Run(ctx context.Context, b Batch, contents map[string]string) *Result {
	res := &Result{BatchID: newBatchID()}
	groups, failures := e.router.Route(b.Mutations)
	res.Failures = append(res.Failures, failures...)

	jobs := make(map[string]*Job)
	var order []string
	job := func(path string) *Job {
		j, ok := jobs[path]
		if !ok {
			j = &Job{Path: path}
			jobs[path] = j
			order = append(order, path)
		}
		return j
	}
	for _, g := range groups {
		job(g.Path).Requests = g.Requests
	}
	for _, in := range b.Injections {
		if e.router.Protected(in.Path) {
			res.Failures = append(res.Failures, Failure{Kind: router.KindProtected, Path: in.Path, Message: "path is protected"})
			continue
		}
		j := job(in.Path)
		j.Injections = append(j.Injections, in)
	}
	for _, fc := range b.Fonts {
		j := job(fc.File)
		j.Fonts = append(j.Fonts, fc)
	}
	for _, tc := range b.Themes {
		j := job(tc.File)
		j.Themes = append(j.Themes, tc)
	}

	futures := make([]*Future, 0, len(order))
	for _, path := range order {
		j := jobs[path]
		content, ok := contents[path]
		if !ok {
			res.Failures = append(res.Failures, j.missing()...)
			continue
		}
		j.Content = content
		futures = append(futures, e.Submit(ctx, *j))
	}

	for _, f := range futures {
		out, err := f.Wait(ctx)
		if err != nil {
			res.Failures = append(res.Failures, Failure{Kind: router.KindCanceled, Path: f.Path(), Message: err.Error()})
			continue
		}
		if out.Diff != nil {
			res.Diffs = append(res.Diffs, *out.Diff)
		}
		res.Failures = append(res.Failures, out.Failures...)
	}
	sort.Slice(res.Diffs, func(i, k int) bool { return res.Diffs[i].Path < res.Diffs[k].Path })

	e.opts.Logger.Info("batch processed",
		"batch_id", res.BatchID,
		"files", len(order),
		"diffs", len(res.Diffs),
		"failures", len(res.Failures))

	if e.opts.Recorder != nil {
		if err := e.opts.Recorder.Record(context.WithoutCancel(ctx), res); err != nil {
			e.opts.Logger.Error("record batch", "batch_id", res.BatchID, "error", err)
		}
	}
	return res
}

// Submit queues one file job on the worker pool. A later submission for
// the same path supersedes this one: if it finishes after that, its output
// is discarded.
func (e *Engine) Submit(ctx context.Context, j Job) *Future {
	gen := e.bump(j.Path)
	f := newFuture(j.Path)
	e.inflight.Add(1)
	go e.pool.Go(func() error {
		defer e.inflight.Done()
		if err := ctx.Err(); err != nil {
			f.resolve(Outcome{Path: j.Path, Failures: []Failure{{Kind: router.KindCanceled, Path: j.Path, Message: err.Error()}}})
			return nil
		}
		out := e.process(j)
		if cur := e.generation(j.Path); cur != gen {
			e.opts.Logger.Info("discarding superseded result", "path", j.Path, "generation", gen, "current", cur)
			out = Outcome{Path: j.Path, Failures: []Failure{{
				Kind:    router.KindSuperseded,
				Path:    j.Path,
				Message: fmt.Sprintf("superseded by a newer batch (generation %d < %d)", gen, cur),
			}}}
		}
		f.resolve(out)
		return nil
	})
	return f
}

func (e *Engine) bump(path string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.generations[path]++
	return e.generations[path]
}

func (e *Engine) generation(path string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generations[path]
}

func newBatchID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
