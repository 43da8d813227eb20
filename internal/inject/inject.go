// Package inject keeps boilerplate elements such as tracking or editor
// scripts present in a root layout, and removes deprecated ones.
package inject

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"codesync/internal/markup"
	"codesync/util"
)

// ErrNoContainer is returned when the tree has no element to inject into.
var ErrNoContainer = errors.New("no container element")

// Marker describes an element that must be present once per document.
type Marker struct {
	// Src is the resource locator identifying the marker.
	Src string `json:"src" yaml:"src"`
	// Tag is the tag of a newly inserted marker. Defaults to "Script".
	Tag string `json:"tag,omitempty" yaml:"tag"`
	// Tags are the tags recognized as markers. Defaults to Script and script.
	Tags []string `json:"tags,omitempty" yaml:"tags"`
	// Container is the tag the marker is appended to. Defaults to "body".
	Container string `json:"container,omitempty" yaml:"container"`
	// Attributes are added after src on a newly inserted marker.
	Attributes []markup.AttrSpec `json:"attributes,omitempty" yaml:"attributes"`
	// Import is an import statement the marker tag needs, such as
	// `import Script from "next/script";`.
	Import string `json:"import,omitempty" yaml:"import"`
}

func (m *Marker) defaults() {
	if m.Tag == "" {
		m.Tag = "Script"
	}
	if len(m.Tags) == 0 {
		m.Tags = []string{"Script", "script"}
	}
	if m.Container == "" {
		m.Container = "body"
	}
}

func (m Marker) isMarker(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Options configures an Injector.
type Options struct {
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Injector remembers which documents it has already verified. The memory
// belongs to the instance; Reset clears it.
type Injector struct {
	opts Options

	mu       sync.Mutex
	verified map[string]bool
}

// New creates an Injector.
func New(opts Options) *Injector {
	opts.defaults()
	return &Injector{opts: opts, verified: make(map[string]bool)}
}

// Reset forgets every verified document.
func (in *Injector) Reset() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.verified = make(map[string]bool)
}

func (in *Injector) key(tree *markup.Tree, path, locator string) string {
	return path + "\x00" + util.ContentRevision(tree.Source()) + "\x00" + locator
}

// EnsureInjected appends marker to its container unless an equivalent
// marker is already in tree. Equivalence compares normalized locators, so
// attribute order, quoting, protocol and host case do not matter. It
// reports whether the tree changed.
func (in *Injector) EnsureInjected(tree *markup.Tree, path string, marker Marker) (bool, error) {
	marker.defaults()
	locator := Normalize(marker.Src)
	if locator == "" {
		return false, errors.New("marker has no src")
	}

	key := in.key(tree, path, locator)
	in.mu.Lock()
	seen := in.verified[key]
	in.mu.Unlock()
	if seen {
		return false, nil
	}

	container := markup.None
	found, parsed := false, false
	tree.Walk(func(id markup.NodeID, n *markup.Node) bool {
		if n.Kind != markup.KindElement {
			return true
		}
		if container == markup.None && n.Tag == marker.Container {
			container = id
		}
		if marker.isMarker(n.Tag) && Normalize(attrValue(tree, id, "src")) == locator {
			found = true
			parsed = parsed || !n.Synthetic()
		}
		return true
	})
	if found {
		// Only markers present in the parsed text vouch for that text.
		if parsed {
			in.mu.Lock()
			in.verified[key] = true
			in.mu.Unlock()
		}
		return false, nil
	}
	if container == markup.None {
		return false, fmt.Errorf("%w: no <%s> in %s", ErrNoContainer, marker.Container, path)
	}

	attrs := append([]markup.AttrSpec{{Name: "src", Value: marker.Src}}, marker.Attributes...)
	id, err := tree.NewElement(markup.ElementSpec{Tag: marker.Tag, Attributes: attrs})
	if err != nil {
		return false, err
	}
	if err := tree.InsertChild(container, len(tree.Node(container).Children), id); err != nil {
		return false, err
	}
	in.opts.Logger.Info("injected marker", "path", path, "src", marker.Src)
	return true, nil
}

// RemoveDeprecated detaches every marker whose normalized src or id
// matches one of patterns. It returns the number of markers removed.
func (in *Injector) RemoveDeprecated(tree *markup.Tree, path string, patterns []*regexp.Regexp) (int, error) {
	if len(patterns) == 0 {
		return 0, nil
	}
	m := Marker{}
	m.defaults()

	var doomed []markup.NodeID
	tree.Walk(func(id markup.NodeID, n *markup.Node) bool {
		if n.Kind != markup.KindElement || !m.isMarker(n.Tag) {
			return true
		}
		src := Normalize(attrValue(tree, id, "src"))
		name := attrValue(tree, id, "id")
		for _, p := range patterns {
			if (src != "" && p.MatchString(src)) || (name != "" && p.MatchString(name)) {
				doomed = append(doomed, id)
				return false
			}
		}
		return true
	})

	var errs []error
	removed := 0
	for _, id := range doomed {
		if err := tree.Detach(id); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		in.opts.Logger.Info("removed deprecated markers", "path", path, "count", removed)
	}
	return removed, errors.Join(errs...)
}

// CompilePatterns compiles deprecated-marker patterns.
func CompilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("deprecated marker pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// attrValue returns the literal value of name on id, or "" when it is
// absent or computed.
func attrValue(tree *markup.Tree, id markup.NodeID, name string) string {
	a := tree.Attr(id, name)
	if a == nil {
		return ""
	}
	switch a.ValueKind {
	case markup.ValueString:
		return a.Value
	case markup.ValueExpression:
		v := strings.TrimSpace(a.Value)
		if len(v) >= 2 && (v[0] == '"' || v[0] == '\'' || v[0] == '`') && v[len(v)-1] == v[0] {
			return v[1 : len(v)-1]
		}
	}
	return ""
}

// Normalize reduces a resource locator to the form markers are compared
// in: no protocol, lower-case host, no trailing slash.
func Normalize(locator string) string {
	s := strings.TrimSpace(locator)
	if s == "" {
		return ""
	}
	if strings.HasPrefix(s, "//") {
		s = "http:" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return strings.TrimRight(s, "/")
	}
	out := strings.ToLower(u.Host) + u.EscapedPath()
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	return strings.TrimRight(out, "/")
}
