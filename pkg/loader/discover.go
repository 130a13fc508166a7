package loader

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Discover expands targets into loadable inputs. A file or a bundle directory
// is returned as is. Any other directory is scanned recursively for bundles
// (*.pbip, *.SemanticModel or directories holding a definition) and loose
// *.json / *.bim exports outside of bundles. Results are de-duplicated by
// absolute path and sorted.
func Discover(targets ...string) ([]string, error) {
	seen := make(map[string]string)
	add := func(p string) {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		if _, ok := seen[abs]; !ok {
			seen[abs] = p
		}
	}

	for _, target := range targets {
		st, err := os.Stat(target)
		if err != nil {
			return nil, err
		}
		if !st.IsDir() || IsBundle(target) {
			add(target)
			continue
		}
		err = filepath.WalkDir(target, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			name := d.Name()
			if d.IsDir() {
				if path != target && strings.HasPrefix(name, ".") {
					return filepath.SkipDir
				}
				if path != target && isBundleDir(path) {
					add(path)
					return filepath.SkipDir
				}
				return nil
			}
			if isExportFile(name) {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	out := make([]string, 0, len(seen))
	for _, p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func isBundleDir(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".pbip" || ext == ".semanticmodel" {
		return true
	}
	st, err := os.Stat(filepath.Join(path, "definition"))
	return err == nil && st.IsDir() && IsBundle(path)
}

func isExportFile(name string) bool {
	lower := strings.ToLower(name)
	if lower == "metadata.json" || strings.HasSuffix(lower, ".metadata.json") {
		return false
	}
	return strings.HasSuffix(lower, ".json") || strings.HasSuffix(lower, ".bim")
}
