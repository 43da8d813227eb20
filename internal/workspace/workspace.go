// Package workspace reads batch sources from disk and writes generated
// diffs back, rooted at the project's git root.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"codesync/internal/engine"
	"codesync/internal/identity"
	"codesync/internal/syntax"
	"codesync/util"
)

// ErrOutsideRoot is returned for paths that resolve outside the workspace.
var ErrOutsideRoot = errors.New("path is outside the workspace")

// Options configures a Workspace.
type Options struct {
	Logger *slog.Logger
}

// Workspace is a directory tree that identifiers are relative to.
type Workspace struct {
	root   string
	ignore *ignore.GitIgnore
	logger *slog.Logger
}

// Open finds the git root above dir and loads its .gitignore.
func Open(dir string, opts Options) (*Workspace, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	root, err := util.FindGitRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	w := &Workspace{root: root, logger: opts.Logger}

	lines := []string{".git/", "node_modules/"}
	data, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	switch {
	case err == nil:
		lines = append(lines, strings.Split(string(data), "\n")...)
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("failed to read .gitignore: %w", err)
	}
	w.ignore = ignore.CompileIgnoreLines(lines...)
	return w, nil
}

// Root returns the absolute workspace root.
func (w *Workspace) Root() string { return w.root }

// Rel converts an absolute or working-directory path into the slash form
// identifiers use.
func (w *Workspace) Rel(path string) string {
	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	return util.ToSlashRel(w.root, path)
}

// Ignored reports whether the .gitignore excludes rel.
func (w *Workspace) Ignored(rel string) bool {
	return w.ignore.MatchesPath(rel)
}

func (w *Workspace) resolve(rel string) (string, error) {
	abs := util.FromSlashRel(w.root, rel)
	r, err := filepath.Rel(w.root, abs)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, rel)
	}
	return abs, nil
}

// Read loads the named files. Files that do not exist are left out so the
// engine reports them as missing sources.
func (w *Workspace) Read(paths []string) (map[string]string, error) {
	contents := make(map[string]string, len(paths))
	for _, rel := range paths {
		if _, ok := contents[rel]; ok {
			continue
		}
		abs, err := w.resolve(rel)
		if err != nil {
			w.logger.Warn("skipping source", "path", rel, "error", err)
			continue
		}
		data, err := os.ReadFile(abs)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", rel, err)
		}
		contents[rel] = string(data)
	}
	return contents, nil
}

// Write stores each diff's generated content. A file whose content changed
// on disk since it was read is skipped and reported.
func (w *Workspace) Write(diffs []engine.CodeDiff) error {
	var errs []error
	for _, d := range diffs {
		if err := w.write(d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *Workspace) write(d engine.CodeDiff) error {
	abs, err := w.resolve(d.Path)
	if err != nil {
		return err
	}
	if w.Ignored(d.Path) {
		return fmt.Errorf("refusing to write ignored file %s", d.Path)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", d.Path, err)
	}
	current, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", d.Path, err)
	}
	if string(current) != d.Original {
		return fmt.Errorf("%s changed on disk since it was read", d.Path)
	}

	tmp, err := os.CreateTemp(filepath.Dir(abs), "."+filepath.Base(abs)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(d.Generated); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", d.Path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), info.Mode().Perm()); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), abs); err != nil {
		return fmt.Errorf("failed to replace %s: %w", d.Path, err)
	}
	w.logger.Debug("wrote diff", "path", d.Path, "bytes", len(d.Generated))
	return nil
}

// Sources lists the files a batch touches. Targets that fail to decode are
// skipped; the engine reports them.
func Sources(b engine.Batch) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, r := range b.Mutations {
		if n, err := identity.Decode(r.Target); err == nil {
			add(n.Path)
		}
	}
	for _, f := range b.Fonts {
		add(f.File)
	}
	for _, t := range b.Themes {
		add(t.File)
	}
	for _, in := range b.Injections {
		add(in.Path)
	}
	sort.Strings(out)
	return out
}

// MarkupFiles walks dir and returns the workspace-relative paths of files
// that can carry markup, skipping ignored entries.
func (w *Workspace) MarkupFiles(dir string) ([]string, error) {
	start, err := w.resolve(w.Rel(dir))
	if err != nil {
		return nil, err
	}
	var out []string
	err = filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := util.ToSlashRel(w.root, path)
		if d.IsDir() {
			// Directory patterns only match with a trailing slash.
			if rel != "." && w.Ignored(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if w.Ignored(rel) {
			return nil
		}
		if lang, ok := syntax.LanguageFor(path); ok && lang.HasMarkup() {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	return out, nil
}
