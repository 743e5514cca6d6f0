// Package sources holds the ordered set of external data providers and
// the fetch contract their clients implement. The registry is built
// once at startup, validated, and read-only afterwards.
package sources

import (
	"context"
	"net/url"
	"os"
	"sort"

	"github.com/goccy/go-yaml"

	"github.com/softfuse/softfuse/pkg/catalog"
	"github.com/softfuse/softfuse/pkg/errors"
)

// Fetcher retrieves one record from a provider. Implementations exist
// per source kind; they are invoked only by the refresh and ingestion
// orchestration, never by the fusion engine or the identity resolver.
type Fetcher interface {
	// Kind returns the provider family this fetcher speaks to.
	Kind() catalog.SourceKind

	// Fetch retrieves the descriptive fields for externalID from the
	// given source. A provider-side absence returns ErrNotFound, which
	// is a valid outcome rather than a failure.
	Fetch(ctx context.Context, source catalog.Source, externalID string) (*catalog.RecordFields, error)
}

// Registry is the read-only ordered set of configured sources.
type Registry struct {
	ordered []catalog.Source
	bySlug  map[string]catalog.Source
}

// New builds a registry from the given sources, validating that slugs
// are unique, kinds are known, and base URLs are well-formed. The
// sources are ordered by ascending priority value (highest precedence
// first), slug as tiebreak.
func New(srcs ...catalog.Source) (*Registry, error) {
	if len(srcs) == 0 {
		return nil, errors.NewConfigError("sources", "at least one source is required", nil)
	}

	bySlug := make(map[string]catalog.Source, len(srcs))
	ordered := make([]catalog.Source, 0, len(srcs))

	for _, src := range srcs {
		if src.Slug == "" {
			return nil, errors.NewValidationError("slug", src.Slug, "source slug must not be empty")
		}
		if _, dup := bySlug[src.Slug]; dup {
			return nil, errors.NewValidationError("slug", src.Slug, "duplicate source slug")
		}
		if !src.Kind.IsValid() {
			return nil, errors.NewValidationError("kind", src.Kind, "unknown source kind")
		}
		if err := validateURL(src.URL); err != nil {
			return nil, errors.NewConfigError("sources", "source "+src.Slug+" has a malformed base URL", err)
		}
		if src.Priority < catalog.PrimaryPriority {
			return nil, errors.NewValidationError("priority", src.Priority, "priority rank must be positive")
		}
		bySlug[src.Slug] = src
		ordered = append(ordered, src)
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].Slug < ordered[j].Slug
	})

	return &Registry{ordered: ordered, bySlug: bySlug}, nil
}

// Get returns a source by slug.
func (r *Registry) Get(slug string) (catalog.Source, bool) {
	src, found := r.bySlug[slug]
	return src, found
}

// Require returns a source by slug, or a fatal ConfigError when the
// slug is unknown. Descriptors naming unknown sources are rejected
// before any I/O.
func (r *Registry) Require(slug string) (catalog.Source, error) {
	src, found := r.bySlug[slug]
	if !found {
		return catalog.Source{}, errors.NewConfigError("sources", "unknown source slug: "+slug, nil)
	}
	return src, nil
}

// List returns a copy of all sources in precedence order.
func (r *Registry) List() []catalog.Source {
	out := make([]catalog.Source, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Slugs returns all source slugs in precedence order.
func (r *Registry) Slugs() []string {
	slugs := make([]string, len(r.ordered))
	for i, src := range r.ordered {
		slugs[i] = src.Slug
	}
	return slugs
}

// Len returns the number of sources.
func (r *Registry) Len() int {
	return len(r.ordered)
}

// Primary returns the highest-precedence source.
func (r *Registry) Primary() catalog.Source {
	return r.ordered[0]
}

// Default returns the registry of well-known public providers.
func Default() *Registry {
	reg, err := New(
		catalog.Source{Slug: "wikidata", Priority: 1, Kind: catalog.KindWikidata, URL: "https://www.wikidata.org"},
		catalog.Source{Slug: "hal", Priority: 2, Kind: catalog.KindHAL, URL: "https://hal.science"},
		catalog.Source{Slug: "cnll", Priority: 3, Kind: catalog.KindCNLL, URL: "https://annuaire.cnll.fr"},
		catalog.Source{Slug: "github", Priority: 4, Kind: catalog.KindCodeForge, URL: "https://github.com"},
	)
	if err != nil {
		// The defaults above are statically valid.
		panic(err)
	}
	return reg
}

// sourcesFile is the YAML shape of a source configuration file.
type sourcesFile struct {
	Sources []catalog.Source `yaml:"sources"`
}

// LoadFile reads a registry from a YAML configuration file.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapIO("read", path, err)
	}

	var file sourcesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.WrapParse("yaml", path, err)
	}

	return New(file.Sources...)
}

// validateURL checks that a base URL is absolute http(s).
func validateURL(raw string) error {
	if raw == "" {
		return errors.New("base URL must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("base URL must be http or https")
	}
	if u.Host == "" {
		return errors.New("base URL must include a host")
	}
	return nil
}
