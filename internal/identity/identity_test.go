package identity

import (
	"errors"
	"math/rand"
	"strings"
	"testing"

	"codesync/internal/position"

	"github.com/google/go-cmp/cmp"
)

func loc(line, col int) position.Location {
	return position.Location{Line: line, Column: col}
}

func TestRoundTripScenario(t *testing.T) {
	n := TemplateNode{
		Path:     "a.x",
		StartTag: position.Span{Start: loc(2, 1), End: loc(2, 10)},
		EndTag:   position.Span{Start: loc(2, 30), End: loc(2, 36)},
		Commit:   "abc",
	}

	id, err := Encode(n)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(id)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(n, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRoundTripRandomized(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	paths := []string{"app/page.tsx", "src/components/Hero Banner.jsx", "ünïcode/ファイル.tsx", `we"ird\path.js`}

	for i := 0; i < 500; i++ {
		l1 := 1 + r.Intn(500)
		c1 := r.Intn(120)
		l2 := l1 + r.Intn(3)
		c2 := r.Intn(120)
		if l2 == l1 && c2 < c1 {
			c2 = c1
		}
		l3 := l2 + r.Intn(40)
		c3 := r.Intn(120)
		if l3 == l2 && c3 < c2 {
			c3 = c2
		}
		l4 := l3 + r.Intn(2)
		c4 := r.Intn(120)
		if l4 == l3 && c4 < c3 {
			c4 = c3
		}
		n := TemplateNode{
			Path:     paths[r.Intn(len(paths))],
			StartTag: position.Span{Start: loc(l1, c1), End: loc(l2, c2)},
			EndTag:   position.Span{Start: loc(l3, c3), End: loc(l4, c4)},
			Commit:   strings.Repeat("f", r.Intn(13)),
		}
		id, err := Encode(n)
		if err != nil {
			t.Fatalf("encode %+v: %v", n, err)
		}
		got, err := Decode(id)
		if err != nil {
			t.Fatalf("decode %q: %v", id, err)
		}
		if diff := cmp.Diff(n, got); diff != "" {
			t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestIdentifierIsAttributeSafe(t *testing.T) {
	id, err := Encode(TemplateNode{
		Path:     "app/<weird> & \"quoted\".tsx",
		StartTag: position.Span{Start: loc(1, 0), End: loc(1, 5)},
		EndTag:   position.Span{Start: loc(1, 5), End: loc(1, 5)},
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range id {
		ok := c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_'
		if !ok {
			t.Fatalf("identifier %q contains %q", id, c)
		}
	}
}

func TestDecodeRejectsInvalidInput(t *testing.T) {
	valid, err := Encode(TemplateNode{
		Path:     "app/page.tsx",
		StartTag: position.Span{Start: loc(4, 2), End: loc(4, 30)},
		EndTag:   position.Span{Start: loc(9, 2), End: loc(9, 8)},
		Commit:   "0123456789ab",
	})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"truncated", valid[:len(valid)-3]},
		{"re-padded", valid + "=="},
		{"standard alphabet", strings.NewReplacer("-", "+", "_", "/").Replace(valid) + "+/"},
		{"garbage", "not-an-identifier"},
		{"trailing junk", valid + "AAAA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.input)
			if err == nil {
				t.Fatalf("expected error, got %+v", got)
			}
			if !errors.Is(err, ErrDecode) {
				t.Errorf("error %v does not match ErrDecode", err)
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Errorf("error %T is not a *DecodeError", err)
			}
			if got != (TemplateNode{}) {
				t.Errorf("partial result returned: %+v", got)
			}
		})
	}
}

func TestEncodeRejectsBrokenInvariant(t *testing.T) {
	tests := []struct {
		name string
		node TemplateNode
	}{
		{"no path", TemplateNode{StartTag: position.Span{Start: loc(1, 0), End: loc(1, 1)}, EndTag: position.Span{Start: loc(1, 1), End: loc(1, 2)}}},
		{"zero line", TemplateNode{Path: "a.tsx", StartTag: position.Span{Start: loc(0, 0), End: loc(1, 1)}, EndTag: position.Span{Start: loc(1, 1), End: loc(1, 2)}}},
		{"overlapping tags", TemplateNode{Path: "a.tsx", StartTag: position.Span{Start: loc(1, 0), End: loc(3, 1)}, EndTag: position.Span{Start: loc(2, 1), End: loc(3, 2)}}},
		{"path not utf-8", TemplateNode{Path: "a\xffb.tsx", StartTag: position.Span{Start: loc(1, 0), End: loc(1, 1)}, EndTag: position.Span{Start: loc(1, 1), End: loc(1, 2)}}},
		{"commit not utf-8", TemplateNode{Path: "a.tsx", StartTag: position.Span{Start: loc(1, 0), End: loc(1, 1)}, EndTag: position.Span{Start: loc(1, 1), End: loc(1, 2)}, Commit: "\xc3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Encode(tt.node); err == nil {
				t.Error("expected error")
			}
		})
	}
}
