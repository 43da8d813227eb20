package router

import (
	"errors"
	"fmt"
	"testing"

	"codesync/internal/identity"
	"codesync/internal/position"
	"codesync/internal/syntax"
	"codesync/internal/transform"

	"github.com/google/go-cmp/cmp"
)

func id(t *testing.T, path string, line int) string {
	t.Helper()
	s, err := identity.Encode(identity.TemplateNode{
		Path:     path,
		StartTag: position.Span{Start: position.Location{Line: line, Column: 2}, End: position.Location{Line: line, Column: 8}},
		EndTag:   position.Span{Start: position.Location{Line: line, Column: 12}, End: position.Location{Line: line, Column: 18}},
		Commit:   "abc",
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func set(target, value string) transform.Request {
	return transform.Request{Target: target, Op: transform.OpSetAttribute, Payload: transform.Payload{Name: "title", Value: value}}
}

func summary(groups []*Group) []string {
	var out []string
	for _, g := range groups {
		for _, r := range g.Requests {
			out = append(out, fmt.Sprintf("%s:%d=%s", g.Path, r.Node.StartTag.Start.Line, r.Request.Payload.Value))
		}
	}
	return out
}

func TestRouteGroupsAndDeduplicates(t *testing.T) {
	a1, a2, b1 := id(t, "a.tsx", 1), id(t, "a.tsx", 2), id(t, "b.tsx", 1)
	requests := []transform.Request{
		set(a1, "first"),
		set(b1, "b"),
		set(a2, "second"),
		set(a1, "last"),
		set("not-an-identifier", "x"),
	}

	groups, failures := Route(requests)
	want := []string{"a.tsx:2=second", "a.tsx:1=last", "b.tsx:1=b"}
	if diff := cmp.Diff(want, summary(groups)); diff != "" {
		t.Errorf("groups (-want +got):\n%s", diff)
	}
	if len(failures) != 1 || failures[0].Kind != KindDecode || failures[0].Target != "not-an-identifier" {
		t.Errorf("failures = %+v", failures)
	}
	if groups[0].Requests[0].Node.Commit != "abc" {
		t.Errorf("decoded node not carried: %+v", groups[0].Requests[0].Node)
	}
}

func TestRouteProtectedPaths(t *testing.T) {
	r := New(Options{Protect: []string{"node_modules/", "*.generated.tsx"}})
	requests := []transform.Request{
		set(id(t, "node_modules/pkg/index.jsx", 1), "x"),
		set(id(t, "app/page.generated.tsx", 1), "y"),
		set(id(t, "app/page.tsx", 1), "z"),
	}
	groups, failures := r.Route(requests)
	if diff := cmp.Diff([]string{"app/page.tsx:1=z"}, summary(groups)); diff != "" {
		t.Errorf("groups (-want +got):\n%s", diff)
	}
	if len(failures) != 2 {
		t.Fatalf("failures = %+v", failures)
	}
	for _, f := range failures {
		if f.Kind != KindProtected {
			t.Errorf("failure %+v should be protected_path", f)
		}
	}
}

func TestRouteEmpty(t *testing.T) {
	groups, failures := Route(nil)
	if len(groups) != 0 || len(failures) != 0 {
		t.Errorf("Route(nil) = %v, %v", groups, failures)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want FailureKind
	}{
		{&identity.DecodeError{Reason: "x"}, KindDecode},
		{&syntax.ParseError{Path: "a.tsx"}, KindParse},
		{fmt.Errorf("wrapped: %w", transform.ErrUnlocatable), KindUnlocatable},
		{transform.ErrConflict, KindConflict},
		{errors.New("other"), KindConflict},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}
