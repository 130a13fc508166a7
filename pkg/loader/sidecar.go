package loader

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/leapstack-labs/tabularlint/pkg/core"
	"gopkg.in/yaml.v3"
)

// sidecarCandidates lists metadata files that may accompany an input, most
// specific first.
func sidecarCandidates(path string) []string {
	if st, err := os.Stat(path); err == nil && st.IsDir() {
		return []string{
			filepath.Join(path, "metadata.json"),
			filepath.Join(path, "metadata.yaml"),
		}
	}
	dir := filepath.Dir(path)
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return []string{
		filepath.Join(dir, stem+".metadata.json"),
		filepath.Join(dir, stem+".metadata.yaml"),
		filepath.Join(dir, "metadata.json"),
	}
}

// ReadSidecar reads the first metadata sidecar found next to path. Values
// are flattened to strings with dotted keys; a missing sidecar is not an
// error.
func ReadSidecar(path string) (map[string]string, error) {
	for _, c := range sidecarCandidates(path) {
		if c == path {
			continue
		}
		data, err := os.ReadFile(c)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, core.LoadError(core.ErrMalformed, "", fmt.Errorf("read sidecar: %w", err)).At(c, 0)
		}
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, core.LoadError(core.ErrMalformed, "", fmt.Errorf("decode sidecar: %w", err)).At(c, 0)
		}
		out := make(map[string]string)
		flatten("", raw, out)
		return out, nil
	}
	return nil, nil
}

func flatten(prefix string, v any, out map[string]string) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			flatten(key, t[k], out)
		}
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, fmt.Sprint(item))
		}
		out[prefix] = strings.Join(parts, ",")
	case nil:
		out[prefix] = ""
	default:
		out[prefix] = fmt.Sprint(t)
	}
}
