package catalog

import (
	"github.com/agentstation/utc"
)

// RecordKey is the composite key of an external record.
type RecordKey struct {
	SourceSlug string `json:"source_slug" yaml:"source_slug"`
	ExternalID string `json:"external_id" yaml:"external_id"`
}

// Identifier is a cross-provider reference carried by an external
// record: "this package is known as Value at the provider whose base
// URL is SubjectURL".
type Identifier struct {
	SubjectURL string `json:"subject_url" yaml:"subject_url"` // Base URL of the provider the value belongs to
	Value      string `json:"value" yaml:"value"`             // The package's external id at that provider
}

// Developer is a person or organization credited with a package.
type Developer struct {
	Name string `json:"name" yaml:"name"`
	URL  string `json:"url,omitempty" yaml:"url,omitempty"`
}

// ExternalRecord is one provider's description of a software package.
// The (SourceSlug, ExternalID) pair is globally unique. SoftwareID is
// nil until the record is linked to a canonical entity and, once set,
// is only cleared by an explicit unlink.
type ExternalRecord struct {
	SourceSlug string `json:"source_slug" yaml:"source_slug"`
	ExternalID string `json:"external_id" yaml:"external_id"`

	// SoftwareID links the record to a canonical entity, nil when the
	// record is known but not yet attached (e.g. similarity-only).
	SoftwareID *int64 `json:"software_id,omitempty" yaml:"software_id,omitempty"`

	Label                string       `json:"label,omitempty" yaml:"label,omitempty"`
	Description          string       `json:"description,omitempty" yaml:"description,omitempty"`
	Developers           []Developer  `json:"developers,omitempty" yaml:"developers,omitempty"`
	WebsiteURL           string       `json:"website_url,omitempty" yaml:"website_url,omitempty"`
	SourceURL            string       `json:"source_url,omitempty" yaml:"source_url,omitempty"`
	DocumentationURL     string       `json:"documentation_url,omitempty" yaml:"documentation_url,omitempty"`
	License              string       `json:"license,omitempty" yaml:"license,omitempty"`
	Version              string       `json:"version,omitempty" yaml:"version,omitempty"`
	PublicationTime      *utc.Time    `json:"publication_time,omitempty" yaml:"publication_time,omitempty"`
	Keywords             []string     `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Categories           []string     `json:"categories,omitempty" yaml:"categories,omitempty"`
	ProgrammingLanguages []string     `json:"programming_languages,omitempty" yaml:"programming_languages,omitempty"`
	Identifiers          []Identifier `json:"identifiers,omitempty" yaml:"identifiers,omitempty"`
	IsLibre              *bool        `json:"is_libre,omitempty" yaml:"is_libre,omitempty"`

	// LastFetchAt is nil until the record has been fetched from its
	// provider at least once.
	LastFetchAt *utc.Time `json:"last_fetch_at,omitempty" yaml:"last_fetch_at,omitempty"`
}

// Key returns the record's composite key.
func (r *ExternalRecord) Key() RecordKey {
	return RecordKey{SourceSlug: r.SourceSlug, ExternalID: r.ExternalID}
}

// Linked reports whether the record is attached to a canonical entity.
func (r *ExternalRecord) Linked() bool {
	return r.SoftwareID != nil
}

// RecordFields are the descriptive fields returned by a provider fetch.
// They carry no routing information and no linkage state.
type RecordFields struct {
	Label                string       `json:"label,omitempty" yaml:"label,omitempty"`
	Description          string       `json:"description,omitempty" yaml:"description,omitempty"`
	Developers           []Developer  `json:"developers,omitempty" yaml:"developers,omitempty"`
	WebsiteURL           string       `json:"website_url,omitempty" yaml:"website_url,omitempty"`
	SourceURL            string       `json:"source_url,omitempty" yaml:"source_url,omitempty"`
	DocumentationURL     string       `json:"documentation_url,omitempty" yaml:"documentation_url,omitempty"`
	License              string       `json:"license,omitempty" yaml:"license,omitempty"`
	Version              string       `json:"version,omitempty" yaml:"version,omitempty"`
	PublicationTime      *utc.Time    `json:"publication_time,omitempty" yaml:"publication_time,omitempty"`
	Keywords             []string     `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Categories           []string     `json:"categories,omitempty" yaml:"categories,omitempty"`
	ProgrammingLanguages []string     `json:"programming_languages,omitempty" yaml:"programming_languages,omitempty"`
	Identifiers          []Identifier `json:"identifiers,omitempty" yaml:"identifiers,omitempty"`
	IsLibre              *bool        `json:"is_libre,omitempty" yaml:"is_libre,omitempty"`
}

// Apply copies the fetched fields onto the record.
func (r *ExternalRecord) Apply(f RecordFields) {
	r.Label = f.Label
	r.Description = f.Description
	r.Developers = f.Developers
	r.WebsiteURL = f.WebsiteURL
	r.SourceURL = f.SourceURL
	r.DocumentationURL = f.DocumentationURL
	r.License = f.License
	r.Version = f.Version
	r.PublicationTime = f.PublicationTime
	r.Keywords = f.Keywords
	r.Categories = f.Categories
	r.ProgrammingLanguages = f.ProgrammingLanguages
	r.Identifiers = f.Identifiers
	r.IsLibre = f.IsLibre
}

// PopulatedRecord is an external record joined with the routing fields
// of its source. The routing fields exist only to order the fusion; they
// never appear in a projection.
type PopulatedRecord struct {
	ExternalRecord

	Priority int        `json:"-" yaml:"-"` // Source rank; lower value = higher precedence
	Kind     SourceKind `json:"-" yaml:"-"`
	BaseURL  string     `json:"-" yaml:"-"` // Source base URL
}
