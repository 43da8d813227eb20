package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestContentRevision(t *testing.T) {
	a := ContentRevision("export default () => <div />;\n")
	if len(a) != 12 {
		t.Fatalf("revision %q should be 12 characters", a)
	}
	if a != ContentRevision("export default () => <div />;\n") {
		t.Error("revision should be deterministic")
	}
	if a == ContentRevision("export default () => <span />;\n") {
		t.Error("different content should give a different revision")
	}
}

func TestFindGitRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(root, "app", "components")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := FindGitRoot(nested)
	if err != nil {
		t.Fatal(err)
	}
	want, _ := filepath.EvalSymlinks(root)
	if g, _ := filepath.EvalSymlinks(got); g != want {
		t.Errorf("FindGitRoot = %s, want %s", got, root)
	}
}

func TestSlashRel(t *testing.T) {
	root := filepath.FromSlash("/srv/app")
	tests := []struct {
		in   string
		want string
	}{
		{filepath.FromSlash("/srv/app/src/page.tsx"), "src/page.tsx"},
		{"src/page.tsx", "src/page.tsx"},
		{"./src/../src/page.tsx", "src/page.tsx"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ToSlashRel(root, tt.in); got != tt.want {
				t.Errorf("ToSlashRel(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
	if got := FromSlashRel(root, "src/page.tsx"); got != filepath.Join(root, "src", "page.tsx") {
		t.Errorf("FromSlashRel = %q", got)
	}
}
