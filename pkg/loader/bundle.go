package loader

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/leapstack-labs/tabularlint/pkg/core"
)

// schemaCandidates are JSON definitions a bundle may carry instead of TMDL.
var schemaCandidates = []string{"DataModelSchema.json", "model.bim", "model.json"}

// BundleSource reads a project directory. TMDL files under a definition/
// folder take precedence over a JSON schema file.
type BundleSource struct {
	Dir string
}

// Load implements Source.
func (s *BundleSource) Load(ctx context.Context) (*Document, error) {
	files, err := tmdlFiles(s.Dir)
	if err != nil {
		return nil, core.LoadError(core.ErrMalformed, "", fmt.Errorf("scan bundle: %w", err)).At(s.Dir, 0)
	}
	if len(files) > 0 {
		return (&TMDLSource{Files: files}).Load(ctx)
	}
	if schema := schemaFile(s.Dir); schema != "" {
		return (&ExportSource{Path: schema}).Load(ctx)
	}
	return nil, core.LoadError(core.ErrMalformed, "", fmt.Errorf("bundle has no TMDL definition or model schema")).At(s.Dir, 0)
}

// definitionDirs returns the directories that may hold a bundle's TMDL files.
func definitionDirs(dir string) []string {
	dirs := []string{filepath.Join(dir, "definition")}
	matches, _ := filepath.Glob(filepath.Join(dir, "*.SemanticModel", "definition"))
	sort.Strings(matches)
	return append(append(dirs, matches...), dir)
}

// tmdlFiles lists the TMDL files of the first definition directory that has
// any, in lexicographic path order.
func tmdlFiles(dir string) ([]string, error) {
	dirs := definitionDirs(dir)
	for i, d := range dirs {
		st, err := os.Stat(d)
		if err != nil || !st.IsDir() {
			continue
		}
		var files []string
		root := i == len(dirs)-1
		err = filepath.WalkDir(d, func(path string, e fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if e.IsDir() {
				// The bundle root itself is only searched one level deep.
				if root && path != d {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.EqualFold(filepath.Ext(path), ".tmdl") {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if len(files) > 0 {
			sort.Strings(files)
			return files, nil
		}
	}
	return nil, nil
}

func schemaFile(dir string) string {
	dirs := []string{dir}
	matches, _ := filepath.Glob(filepath.Join(dir, "*.SemanticModel"))
	sort.Strings(matches)
	dirs = append(dirs, matches...)
	for _, d := range dirs {
		for _, name := range schemaCandidates {
			p := filepath.Join(d, name)
			if st, err := os.Stat(p); err == nil && !st.IsDir() {
				return p
			}
		}
	}
	return ""
}

// IsBundle reports whether dir holds a TMDL definition or a model schema.
func IsBundle(dir string) bool {
	files, err := tmdlFiles(dir)
	if err == nil && len(files) > 0 {
		return true
	}
	return schemaFile(dir) != ""
}
