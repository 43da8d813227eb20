package engine

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"codesync/internal/fonts"
	"codesync/internal/identity"
	"codesync/internal/inject"
	"codesync/internal/markup"
	"codesync/internal/router"
	"codesync/internal/transform"
	"codesync/util"

	"github.com/google/go-cmp/cmp"
)

var contents = map[string]string{
	"app/a.tsx": "export default () => <div className=\"a b\">A</div>;\n",
	"app/b.tsx": "export default () => <span id=\"x\">B</span>;\n",
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

// ident returns the identifier of the first <tag> in content.
func ident(t *testing.T, path, content, tag string) string {
	t.Helper()
	tree, err := markup.Parse(path, content)
	if err != nil || tree == nil {
		t.Fatalf("Parse(%s) = %v, %v", path, tree, err)
	}
	for _, id := range tree.Elements() {
		if tree.Node(id).Tag != tag {
			continue
		}
		node, err := tree.TemplateNode(id, path, util.ContentRevision(content))
		if err != nil {
			t.Fatal(err)
		}
		s, err := identity.Encode(node)
		if err != nil {
			t.Fatal(err)
		}
		return s
	}
	t.Fatalf("no <%s> in %s", tag, path)
	return ""
}

func kinds(failures []Failure) []router.FailureKind {
	var out []router.FailureKind
	for _, f := range failures {
		out = append(out, f.Kind)
	}
	return out
}

func TestProcessBatchIsolatesFailures(t *testing.T) {
	e := New(Options{Workers: 2, Logger: quiet()})
	defer e.Close()

	requests := []transform.Request{
		{Target: ident(t, "app/a.tsx", contents["app/a.tsx"], "div"), Op: transform.OpAddClass, Payload: transform.Payload{Classes: "c"}},
		{Target: "garbage!", Op: transform.OpRemoveElement},
		{Target: ident(t, "app/b.tsx", contents["app/b.tsx"], "span"), Op: transform.OpSetAttribute, Payload: transform.Payload{Name: "id", Value: "y"}},
	}
	res := e.ProcessBatch(context.Background(), requests, contents)

	if res.BatchID == "" {
		t.Error("batch id should be set")
	}
	want := []CodeDiff{
		{Path: "app/a.tsx", Original: contents["app/a.tsx"], Generated: "export default () => <div className=\"a b c\">A</div>;\n"},
		{Path: "app/b.tsx", Original: contents["app/b.tsx"], Generated: "export default () => <span id=\"y\">B</span>;\n"},
	}
	if diff := cmp.Diff(want, res.Diffs); diff != "" {
		t.Errorf("diffs (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]router.FailureKind{router.KindDecode}, kinds(res.Failures)); diff != "" {
		t.Errorf("failure kinds (-want +got):\n%s", diff)
	}
}

func TestProcessBatchFileFailures(t *testing.T) {
	e := New(Options{Logger: quiet()})
	defer e.Close()

	broken := "export default () => <div><span></div>;\n"
	brokenID := ident(t, "app/broken.tsx", "export default () => <div><span /></div>;\n", "div")
	in := map[string]string{
		"app/a.tsx":      contents["app/a.tsx"],
		"app/broken.tsx": broken,
		"styles.css":     "body {}",
	}
	cssID, err := identity.Encode(identity.TemplateNode{
		Path:     "styles.css",
		StartTag: mustSpan(t, "app/a.tsx", contents["app/a.tsx"]).StartTag,
		EndTag:   mustSpan(t, "app/a.tsx", contents["app/a.tsx"]).EndTag,
	})
	if err != nil {
		t.Fatal(err)
	}
	requests := []transform.Request{
		{Target: ident(t, "app/missing.tsx", contents["app/a.tsx"], "div"), Op: transform.OpRemoveElement},
		{Target: brokenID, Op: transform.OpRemoveElement},
		{Target: cssID, Op: transform.OpAddClass, Payload: transform.Payload{Classes: "x"}},
		{Target: ident(t, "app/a.tsx", contents["app/a.tsx"], "div"), Op: transform.OpSetAttribute, Payload: transform.Payload{Name: "hidden", Value: "true"}},
	}
	res := e.ProcessBatch(context.Background(), requests, in)

	if len(res.Diffs) != 1 || res.Diffs[0].Path != "app/a.tsx" {
		t.Fatalf("diffs = %+v", res.Diffs)
	}
	got := map[router.FailureKind]string{}
	for _, f := range res.Failures {
		got[f.Kind] = f.Path
	}
	want := map[router.FailureKind]string{
		router.KindMissing: "app/missing.tsx",
		router.KindParse:   "app/broken.tsx",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("failures (-want +got):\n%s", diff)
	}
}

func mustSpan(t *testing.T, path, content string) identity.TemplateNode {
	t.Helper()
	node, err := identity.Decode(ident(t, path, content, "div"))
	if err != nil {
		t.Fatal(err)
	}
	return node
}

func TestProcessBatchUnlocatableAndProtected(t *testing.T) {
	e := New(Options{Protect: []string{"app/b.tsx"}, Logger: quiet()})
	defer e.Close()

	stale := ident(t, "app/a.tsx", "export default () => (\n  <main>\n    <div />\n  </main>\n);\n", "div")
	requests := []transform.Request{
		{Target: stale, Op: transform.OpRemoveElement},
		{Target: ident(t, "app/b.tsx", contents["app/b.tsx"], "span"), Op: transform.OpRemoveElement},
	}
	res := e.ProcessBatch(context.Background(), requests, contents)
	if len(res.Diffs) != 0 {
		t.Errorf("no request applied, got diffs %+v", res.Diffs)
	}
	if diff := cmp.Diff([]router.FailureKind{router.KindProtected, router.KindUnlocatable}, kinds(res.Failures)); diff != "" {
		t.Errorf("failure kinds (-want +got):\n%s", diff)
	}
}

func TestStaleIdentifierFromOlderRevision(t *testing.T) {
	e := New(Options{Logger: quiet()})
	defer e.Close()

	old := "export default () => (\n  <section>\n    <p>gone</p>\n    <div>keep</div>\n  </section>\n);\n"
	current := "export default () => (\n  <section>\n    <div>keep</div>\n  </section>\n);\n"
	stale := ident(t, "app/s.tsx", old, "p")

	for _, op := range []transform.Request{
		{Target: stale, Op: transform.OpRemoveElement},
		{Target: stale, Op: transform.OpAddClass, Payload: transform.Payload{Classes: "x"}},
		{Target: stale, Op: transform.OpSetAttribute, Payload: transform.Payload{Name: "id", Value: "x"}},
	} {
		t.Run(string(op.Op), func(t *testing.T) {
			res := e.ProcessBatch(context.Background(), []transform.Request{op}, map[string]string{"app/s.tsx": current})
			if len(res.Diffs) != 0 {
				t.Errorf("stale identifier edited another element: %+v", res.Diffs)
			}
			if diff := cmp.Diff([]router.FailureKind{router.KindUnlocatable}, kinds(res.Failures)); diff != "" {
				t.Errorf("failure kinds (-want +got):\n%s", diff)
			}
		})
	}
}

func TestChangesWithoutNetEffectProduceNoDiff(t *testing.T) {
	rec := &recorder{}
	e := New(Options{Recorder: rec, Logger: quiet()})
	defer e.Close()

	fontsSrc := "import localFont from \"next/font/local\";\n\nexport const brand = localFont({ src: \"./f1.woff2\", weight: \"400\" });\n"
	in := map[string]string{
		"app/a.tsx":    contents["app/a.tsx"],
		"app/b.tsx":    contents["app/b.tsx"],
		"app/fonts.ts": fontsSrc,
	}
	res := e.Run(context.Background(), Batch{
		Mutations: []transform.Request{
			{Target: ident(t, "app/a.tsx", contents["app/a.tsx"], "div"), Op: transform.OpAddClass, Payload: transform.Payload{Classes: "a"}},
			{Target: ident(t, "app/b.tsx", contents["app/b.tsx"], "span"), Op: transform.OpSetAttribute, Payload: transform.Payload{Name: "id", Value: "x"}},
		},
		Fonts: []FontChange{{File: "app/fonts.ts", Add: &fonts.Declaration{
			Name:    "brand",
			Kind:    fonts.KindLocal,
			Sources: []fonts.Source{{Path: "./f1.woff2", Weight: "400"}},
		}}},
	}, in)

	if len(res.Failures) != 0 {
		t.Fatalf("failures = %+v", res.Failures)
	}
	if len(res.Diffs) != 0 {
		t.Errorf("expected no diffs, got %+v", res.Diffs)
	}
	if len(rec.results) != 1 || len(rec.results[0].Diffs) != 0 {
		t.Errorf("recorded %+v", rec.results)
	}
}

func TestSupersededJobIsDiscarded(t *testing.T) {
	e := New(Options{Workers: 1, Logger: quiet()})
	defer e.Close()

	// Hold the only worker so both submissions queue up.
	release := make(chan struct{})
	e.pool.Go(func() error {
		<-release
		return nil
	})

	path := "app/a.tsx"
	job := func(value string) Job {
		target := ident(t, path, contents[path], "div")
		node, _ := identity.Decode(target)
		return Job{Path: path, Content: contents[path], Requests: []transform.Targeted{{
			Request: transform.Request{Target: target, Op: transform.OpSetAttribute, Payload: transform.Payload{Name: "title", Value: value}},
			Node:    node,
		}}}
	}
	older := e.Submit(context.Background(), job("old"))
	newer := e.Submit(context.Background(), job("new"))
	close(release)

	ctx := context.Background()
	oldOut, err := older.Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	newOut, err := newer.Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if oldOut.Diff != nil || len(oldOut.Failures) != 1 || oldOut.Failures[0].Kind != router.KindSuperseded {
		t.Errorf("older outcome = %+v", oldOut)
	}
	if newOut.Diff == nil || !strings.Contains(newOut.Diff.Generated, `title="new"`) {
		t.Errorf("newer outcome = %+v", newOut)
	}
}

func TestCanceledBatch(t *testing.T) {
	e := New(Options{Logger: quiet()})
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	requests := []transform.Request{
		{Target: ident(t, "app/a.tsx", contents["app/a.tsx"], "div"), Op: transform.OpAddClass, Payload: transform.Payload{Classes: "c"}},
	}
	res := e.ProcessBatch(ctx, requests, contents)
	if len(res.Diffs) != 0 {
		t.Errorf("canceled batch produced diffs: %+v", res.Diffs)
	}
	if diff := cmp.Diff([]router.FailureKind{router.KindCanceled}, kinds(res.Failures)); diff != "" {
		t.Errorf("failure kinds (-want +got):\n%s", diff)
	}
}

type recorder struct {
	mu      sync.Mutex
	results []*Result
}

func (r *recorder) Record(_ context.Context, res *Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	return nil
}

func TestRunAppliesDeclarationsAndInjections(t *testing.T) {
	rec := &recorder{}
	e := New(Options{Recorder: rec, Logger: quiet()})
	defer e.Close()

	in := map[string]string{
		"app/fonts.ts":       "import { Inter } from \"next/font/google\";\n\nexport const inter = Inter({ subsets: [\"latin\"] });\n",
		"tailwind.config.ts": "export default {\n  theme: {\n    extend: {},\n  },\n};\n",
		"app/layout.tsx":     "export default function RootLayout({ children }) {\n  return (\n    <html>\n      <body>\n        {children}\n      </body>\n    </html>\n  );\n}\n",
	}
	res := e.Run(context.Background(), Batch{
		Fonts:  []FontChange{{File: "app/fonts.ts", Remove: "inter"}},
		Themes: []ThemeChange{{File: "tailwind.config.ts", Add: &fonts.ThemeEntry{Key: "inter", Values: []string{"var(--font-inter)"}}}},
		Injections: []Injection{{
			Path:   "app/layout.tsx",
			Marker: inject.Marker{Src: "https://cdn.example.com/editor.js", Import: `import Script from "next/script";`},
		}},
	}, in)

	if len(res.Failures) != 0 {
		t.Fatalf("failures = %+v", res.Failures)
	}
	got := map[string]string{}
	for _, d := range res.Diffs {
		got[d.Path] = d.Generated
	}
	want := map[string]string{
		"app/fonts.ts":       "",
		"tailwind.config.ts": "export default {\n  theme: {\n    extend: {\n      fontFamily: {\n        inter: [\"var(--font-inter)\"],\n      },\n    },\n  },\n};\n",
		"app/layout.tsx":     "import Script from \"next/script\";\n\nexport default function RootLayout({ children }) {\n  return (\n    <html>\n      <body>\n        {children}\n        <Script src=\"https://cdn.example.com/editor.js\" />\n      </body>\n    </html>\n  );\n}\n",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("generated (-want +got):\n%s", diff)
	}

	if len(rec.results) != 1 || rec.results[0].BatchID != res.BatchID {
		t.Errorf("recorder saw %d results", len(rec.results))
	}
}
