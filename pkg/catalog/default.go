package catalog

import (
	"embed"
	"fmt"
)

//go:embed defaults/standards.yaml
var defaultsFS embed.FS

// DefaultPath is the name of the embedded catalog, used in messages.
const DefaultPath = "defaults/standards.yaml"

// Default returns the built-in standards catalog.
func Default() (*Catalog, error) {
	data, err := defaultsFS.ReadFile(DefaultPath)
	if err != nil {
		return nil, fmt.Errorf("read embedded catalog: %w", err)
	}
	return Parse(data, FormatYAML)
}
