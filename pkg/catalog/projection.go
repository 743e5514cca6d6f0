package catalog

import (
	"github.com/agentstation/utc"
)

// Projection is the single canonical view produced by fusing all
// external records linked to one entity. It carries descriptive fields
// only; source routing fields (slug, priority, kind, base URL) drive
// the fusion order and are stripped from the output.
type Projection struct {
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

// View is the outbound shape consumed by read-side use cases: the
// entity's intrinsic fields, the fused external projection, and the
// similarity list annotated as registered or not.
type View struct {
	Software Software      `json:"software" yaml:"software"`
	External *Projection   `json:"external,omitempty" yaml:"external,omitempty"`
	Similar  []SimilarItem `json:"similar,omitempty" yaml:"similar,omitempty"`
}
