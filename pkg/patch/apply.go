package patch

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Apply returns src with the patches applied. Every patch must belong to the
// same file and its original text must still be present at its span.
// Insertions at one offset keep their list order and go before a
// replacement that starts at the same offset.
func Apply(src string, ps []Patch) (string, error) {
	ordered := slices.Clone(ps)
	slices.SortStableFunc(ordered, func(a, b Patch) int {
		if c := cmp.Compare(a.Span.Start.Offset, b.Span.Start.Offset); c != 0 {
			return c
		}
		switch {
		case a.IsInsertion() && !b.IsInsertion():
			return -1
		case !a.IsInsertion() && b.IsInsertion():
			return 1
		}
		return 0
	})

	var b strings.Builder
	b.Grow(len(src))
	cursor := 0
	for i, p := range ordered {
		if i > 0 && p.File != ordered[0].File {
			return "", fmt.Errorf("patches span files %s and %s", ordered[0].File, p.File)
		}
		start, end := p.Span.Start.Offset, p.Span.End.Offset
		if start < cursor {
			return "", fmt.Errorf("patch %s overlaps a previous patch", p)
		}
		orig, ok := p.Span.Text(src)
		if !ok || orig != p.Original {
			return "", fmt.Errorf("patch %s: source text changed", p)
		}
		b.WriteString(src[cursor:start])
		b.WriteString(p.Replacement)
		cursor = end
	}
	b.WriteString(src[cursor:])
	return b.String(), nil
}

// ByFile groups patches by file, keeping their order.
func ByFile(ps []Patch) map[string][]Patch {
	out := make(map[string][]Patch)
	for _, p := range ps {
		out[p.File] = append(out[p.File], p)
	}
	return out
}

// ApplyAll applies patches to a set of sources keyed by file. Files without
// patches are returned unchanged.
func ApplyAll(sources map[string]string, ps []Patch) (map[string]string, error) {
	out := maps.Clone(sources)
	groups := ByFile(ps)
	for _, file := range slices.Sorted(maps.Keys(groups)) {
		src, ok := sources[file]
		if !ok {
			return nil, fmt.Errorf("no source for %s", file)
		}
		patched, err := Apply(src, groups[file])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		out[file] = patched
	}
	return out, nil
}
