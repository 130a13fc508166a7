// Package classify assigns a business domain and intent to a model.
//
// Only the collaborator interface and a metadata pass-through live here;
// heuristic classifiers plug in behind Classifier.
package classify

import (
	"context"
	"strings"

	"github.com/leapstack-labs/tabularlint/pkg/core"
)

// Defaults used when metadata says nothing.
const (
	GenericDomain = "generic"
	DefaultIntent = "review"
)

// Classification is the outcome of classifying one model.
type Classification struct {
	Domain   string            `json:"domain"`
	Intent   string            `json:"intent"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Classifier infers a classification for a model.
type Classifier interface {
	Classify(ctx context.Context, m *core.Model) (Classification, error)
}

// Metadata classifies from sidecar metadata keys only.
type Metadata struct{}

var _ Classifier = Metadata{}

// Keys consulted in order.
var (
	domainKeys = []string{"domain", "business_domain"}
	intentKeys = []string{"intent", "purpose"}
)

// Classify implements Classifier.
func (Metadata) Classify(ctx context.Context, m *core.Model) (Classification, error) {
	if err := ctx.Err(); err != nil {
		return Classification{}, err
	}
	meta := m.Metadata()
	return Classification{
		Domain:   first(meta, domainKeys, GenericDomain),
		Intent:   first(meta, intentKeys, DefaultIntent),
		Metadata: meta,
	}, nil
}

func first(meta map[string]string, keys []string, def string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(meta[k]); v != "" {
			return strings.ToLower(v)
		}
	}
	return def
}
