package inject

import (
	"fmt"
	"regexp"

	"codesync/internal/syntax"
)

var importSource = regexp.MustCompile(`from\s+["']([^"']+)["']`)

// EnsureImport adds stmt to content unless content already imports from
// the same module. The statement goes after the last import, or after the
// leading directives such as "use client" when there are none.
func EnsureImport(path, content, stmt string) (string, error) {
	if stmt == "" {
		return content, nil
	}
	m := importSource.FindStringSubmatch(stmt)
	if m == nil {
		return "", fmt.Errorf("import %q names no module", stmt)
	}

	doc, err := syntax.Parse(path, []byte(content))
	if err != nil {
		return "", err
	}
	if doc == nil {
		return content, nil
	}
	defer doc.Close()

	imports, err := doc.Query("imports")
	if err != nil {
		return "", err
	}
	at := -1
	for _, match := range imports {
		src := doc.Text(match["source"])
		if len(src) >= 2 && src[1:len(src)-1] == m[1] {
			return content, nil
		}
		at = int(match["import"].EndByte())
	}
	if at < 0 {
		for _, c := range syntax.NamedChildren(doc.Root()) {
			if c.Kind() != "expression_statement" {
				break
			}
			if first := c.NamedChild(0); first == nil || first.Kind() != "string" {
				break
			}
			at = int(c.EndByte())
		}
	}
	if at < 0 {
		sep := "\n"
		if content != "" {
			sep = "\n\n"
		}
		return stmt + sep + content, nil
	}
	return content[:at] + "\n" + stmt + content[at:], nil
}
