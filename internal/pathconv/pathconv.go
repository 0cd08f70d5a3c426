// Package pathconv implements the single-prefix path translation boundary
// used when the orchestrator runs in a container whose downloader mounts
// paths under a different prefix than the library root sees.
package pathconv

import "strings"

// Converter rewrites a path's leading prefix from Source to Target. Only a
// prefix match at position 0 is rewritten; a mid-string match is left
// unchanged. Output is always forward-slash and never contains "//".
type Converter struct {
	Enabled bool
	Source  string
	Target  string
}

// Convert applies the boundary rule. Disabled converters, and inputs that
// do not match Source at position 0, are returned unchanged (only
// normalised for slashes).
func (c Converter) Convert(p string) string {
	if !c.Enabled || c.Source == "" {
		return normalize(p)
	}
	if !strings.HasPrefix(p, c.Source) {
		return normalize(p)
	}
	rest := p[len(c.Source):]
	return normalize(joinNoDoubleSlash(c.Target, rest))
}

// Normalize converts backslashes to forward slashes and collapses any
// resulting "//" sequences, independent of any configured conversion.
func Normalize(p string) string { return normalize(p) }

func joinNoDoubleSlash(prefix, rest string) string {
	prefix = strings.TrimRight(prefix, "/\\")
	rest = "/" + strings.TrimLeft(rest, "/\\")
	return prefix + rest
}

// normalize converts backslashes to forward slashes and collapses every
// resulting "//" sequence, a leading one included (a UNC-style root is not
// preserved).
func normalize(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return p
}
