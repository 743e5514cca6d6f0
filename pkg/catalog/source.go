// Package catalog defines the data model shared across the softfuse
// system: external data sources, provider records, canonical software
// entities, and the fused projection served on read paths.
package catalog

import "slices"

// SourceKind identifies the family of an external data provider.
// The set is closed; dispatching on kind must handle every value.
type SourceKind string

// String returns the string representation of a source kind.
func (k SourceKind) String() string {
	return string(k)
}

// Provider families known to the system.
const (
	// KindWikidata identifies the structured knowledge base provider.
	KindWikidata SourceKind = "wikidata"

	// KindHAL identifies the scholarly publication index provider.
	KindHAL SourceKind = "hal"

	// KindCNLL identifies the procurement directory provider.
	KindCNLL SourceKind = "cnll"

	// KindCodeForge identifies code-hosting platform providers.
	KindCodeForge SourceKind = "codeforge"
)

// Kinds returns all defined source kinds.
func Kinds() []SourceKind {
	return []SourceKind{
		KindWikidata,
		KindHAL,
		KindCNLL,
		KindCodeForge,
	}
}

// IsValid returns true if the kind is one of the defined constants.
// Uses Kinds() to ensure consistency with the authoritative list.
func (k SourceKind) IsValid() bool {
	return slices.Contains(Kinds(), k)
}

// PrimaryPriority is the highest-precedence priority rank. Lower numeric
// Priority values win during fusion: a record from a Priority 1 source
// overrides the same field from a Priority 10 source.
const PrimaryPriority = 1

// Source describes one external data provider. Sources are immutable
// once referenced by an external record.
type Source struct {
	Slug     string     `json:"slug" yaml:"slug"`         // Stable unique identifier
	Priority int        `json:"priority" yaml:"priority"` // Rank; lower value = higher precedence
	Kind     SourceKind `json:"kind" yaml:"kind"`         // Provider family
	URL      string     `json:"url" yaml:"url"`           // Provider base URL
}
