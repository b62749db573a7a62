package store

import "strings"

// toTextArray renders a Go string slice as a Postgres text[] literal, e.g.
// []string{"a","b"} -> `{"a","b"}`. Used instead of relying on driver-level
// array marshaling so the repository layer has no hidden dependency on
// pgx's extended-protocol type registry.
func toTextArray(ss []string) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, s := range ss {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `"`, `\"`))
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}
