package lint

import (
	"slices"

	"github.com/leapstack-labs/tabularlint/pkg/casing"
	"github.com/leapstack-labs/tabularlint/pkg/catalog"
	"github.com/leapstack-labs/tabularlint/pkg/core"
)

type folderKey struct {
	table  string
	prefix string
}

// folderGroup is the set of measures of one table sharing a name prefix.
type folderGroup struct {
	size     int
	counts   map[string]int
	dominant string // most used folder; ties go to the smallest name
}

// folderIndex groups measures by (table, name prefix). It is built once per
// evaluation and only read by the table workers.
type folderIndex map[folderKey]*folderGroup

// buildFolderIndex counts the folders of every measure group. Folders that
// an active membership rule on measure folders rejects never become dominant.
func buildFolderIndex(m *core.Model, rules []catalog.Rule) folderIndex {
	var lists [][]string
	for _, r := range rules {
		mc, ok := r.Check.(catalog.MembershipCheck)
		if ok && mc.Target == core.FieldDisplayFolder && r.AppliesToKind(core.KindMeasure) {
			lists = append(lists, mc.Allowed)
		}
	}
	permitted := func(folder string) bool {
		for _, allowed := range lists {
			if !slices.Contains(allowed, folder) {
				return false
			}
		}
		return true
	}

	idx := make(folderIndex)
	for _, ms := range m.Measures() {
		key := folderKey{table: ms.Table, prefix: casing.Prefix(ms.Name)}
		if key.prefix == "" {
			continue
		}
		g := idx[key]
		if g == nil {
			g = &folderGroup{counts: make(map[string]int)}
			idx[key] = g
		}
		g.size++
		if f, ok := ms.DisplayFolder.Get(); ok && f != "" && permitted(f) {
			g.counts[f]++
		}
	}
	for _, g := range idx {
		best := 0
		for folder, n := range g.counts {
			if n > best || (n == best && folder < g.dominant) {
				best, g.dominant = n, folder
			}
		}
	}
	return idx
}

// expected returns the dominant folder for a measure's group, or false when
// the group is too small or has no folder at all.
func (idx folderIndex) expected(ms core.Measure, minGroup int) (string, bool) {
	g := idx[folderKey{table: ms.Table, prefix: casing.Prefix(ms.Name)}]
	if g == nil || g.size < minGroup || g.dominant == "" {
		return "", false
	}
	return g.dominant, true
}
