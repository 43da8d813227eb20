package engine

import (
	"fmt"
	"log/slog"

	"codesync/internal/fonts"
	"codesync/internal/inject"
	"codesync/internal/markup"
	"codesync/internal/router"
	"codesync/internal/transform"
	"codesync/util"
)

// Job is all the work a batch does on one file.
type Job struct {
	Path       string
	Content    string
	Requests   []transform.Targeted
	Injections []Injection
	Fonts      []FontChange
	Themes     []ThemeChange
}

// missing reports every part of the job against an absent source.
func (j *Job) missing() []Failure {
	const msg = "no content supplied for path"
	var out []Failure
	for _, r := range j.Requests {
		out = append(out, Failure{Kind: router.KindMissing, Path: j.Path, Target: r.Request.Target, Message: msg})
	}
	if len(out) == 0 {
		out = append(out, Failure{Kind: router.KindMissing, Path: j.Path, Message: msg})
	}
	return out
}

// process runs a job: markup edits and injections on the parsed tree
// first, then declaration edits on the resulting text.
func (e *Engine) process(j Job) Outcome {
	out := Outcome{Path: j.Path}
	log := e.opts.Logger.With("path", j.Path)
	fail := func(kind router.FailureKind, target string, err error) {
		out.Failures = append(out.Failures, Failure{Kind: kind, Path: j.Path, Target: target, Message: err.Error()})
	}

	generated := j.Content
	if len(j.Requests) > 0 || len(j.Injections) > 0 {
		text, applied, err := e.edit(j, log, fail)
		if err != nil {
			fail(router.Classify(err), "", err)
			log.Warn("skipping file", "error", err)
			return out
		}
		generated = text
		out.Applied += applied
	}

	for _, fc := range j.Fonts {
		var err error
		next := generated
		switch {
		case fc.Add != nil:
			next, err = fonts.AddFont(j.Path, generated, *fc.Add)
		case fc.Remove != "":
			next, err = fonts.RemoveFont(j.Path, generated, fc.Remove)
		default:
			err = fmt.Errorf("%w: font change names nothing to add or remove", transform.ErrConflict)
		}
		if err != nil {
			fail(router.Classify(err), "", err)
			continue
		}
		generated = next
		out.Applied++
	}
	for _, tc := range j.Themes {
		var err error
		next := generated
		switch {
		case tc.Add != nil:
			next, err = fonts.AddThemeEntry(j.Path, generated, *tc.Add)
		case tc.Remove != "":
			next, err = fonts.RemoveThemeEntry(j.Path, generated, tc.Remove)
		default:
			err = fmt.Errorf("%w: theme change names nothing to add or remove", transform.ErrConflict)
		}
		if err != nil {
			fail(router.Classify(err), "", err)
			continue
		}
		generated = next
		out.Applied++
	}

	switch {
	case generated != j.Content:
		out.Diff = &CodeDiff{Path: j.Path, Original: j.Content, Generated: generated}
	case out.Applied > 0:
		log.Debug("changes left the file as it was", "applied", out.Applied)
	}
	return out
}

// edit parses the file, applies requests and injections, and serializes.
// An error means the file could not be parsed; per-request problems go
// through fail.
func (e *Engine) edit(j Job, log *slog.Logger, fail func(router.FailureKind, string, error)) (string, int, error) {
	tree, err := markup.Parse(j.Path, j.Content)
	if err != nil {
		return "", 0, err
	}
	if tree == nil {
		log.Debug("file cannot carry markup, passing through")
		return j.Content, 0, nil
	}

	applied, errs := transform.Apply(tree, j.Requests, transform.Options{
		Commit: util.ContentRevision(j.Content),
		Logger: log,
	})
	for _, re := range errs {
		fail(router.Classify(re), re.Target, re)
	}

	var imports []string
	for _, in := range j.Injections {
		patterns, err := inject.CompilePatterns(in.Deprecated)
		if err != nil {
			fail(router.KindConflict, "", err)
			continue
		}
		removed, err := e.injector.RemoveDeprecated(tree, j.Path, patterns)
		if err != nil {
			fail(router.KindConflict, "", err)
		}
		applied += removed
		if in.Marker.Src == "" {
			continue
		}
		added, err := e.injector.EnsureInjected(tree, j.Path, in.Marker)
		if err != nil {
			fail(router.KindConflict, "", err)
			continue
		}
		if added {
			applied++
			imports = append(imports, in.Marker.Import)
		}
	}

	text := markup.Serialize(tree)
	for _, stmt := range imports {
		next, err := inject.EnsureImport(j.Path, text, stmt)
		if err != nil {
			fail(router.KindConflict, "", err)
			continue
		}
		text = next
	}
	return text, applied, nil
}
