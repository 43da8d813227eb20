package transform

import (
	"strings"

	twmerge "github.com/Oudwins/tailwind-merge-go"
)

// MergeClasses appends added to existing. Utility classes that conflict with
// an added class are dropped, so "p-2" merged with "p-4" leaves only "p-4".
// Repeated tokens collapse to their first occurrence.
func MergeClasses(existing, added string) string {
	merged := twmerge.Merge(strings.Join(strings.Fields(existing), " "), strings.Join(strings.Fields(added), " "))
	return dedupe(merged)
}

func dedupe(classes string) string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range strings.Fields(classes) {
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return strings.Join(out, " ")
}
