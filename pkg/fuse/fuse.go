// Package fuse implements the fusion engine: the deterministic,
// priority-ordered merge of all external records linked to one
// canonical entity into a single projection.
//
// Precedence follows catalog.PrimaryPriority: lower numeric source
// priority wins. Records are applied lowest-precedence first so the
// highest-precedence record overrides last, field by field. Scalars
// override only when present; list fields union across all records
// with first-seen order and duplicates removed. The merge is enumerated
// per field rather than delegated to a generic deep-merge, so the
// override-vs-union rule for every field is auditable here.
package fuse

import (
	"sort"

	"github.com/softfuse/softfuse/pkg/catalog"
)

// Fuse merges the given populated records into one canonical
// projection. Returns nil for empty input. The result never contains
// source routing fields; they only drive the application order.
// Fuse is pure: identical input sets produce identical projections
// regardless of input order.
func Fuse(records []catalog.PopulatedRecord) *catalog.Projection {
	if len(records) == 0 {
		return nil
	}

	ordered := make([]catalog.PopulatedRecord, len(records))
	copy(ordered, records)

	// Losers first: descending priority value, then descending slug so
	// equal-priority conflicts resolve the same way on every call.
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		return ordered[i].SourceSlug > ordered[j].SourceSlug
	})

	projection := &catalog.Projection{}
	for i := range ordered {
		apply(projection, &ordered[i].ExternalRecord)
	}
	return projection
}

// apply overlays one record onto the projection. Present scalars
// override; absent scalars never erase; lists union.
func apply(p *catalog.Projection, r *catalog.ExternalRecord) {
	if r.Label != "" {
		p.Label = r.Label
	}
	if r.Description != "" {
		p.Description = r.Description
	}
	if r.WebsiteURL != "" {
		p.WebsiteURL = r.WebsiteURL
	}
	if r.SourceURL != "" {
		p.SourceURL = r.SourceURL
	}
	if r.DocumentationURL != "" {
		p.DocumentationURL = r.DocumentationURL
	}
	if r.License != "" {
		p.License = r.License
	}
	if r.Version != "" {
		p.Version = r.Version
	}
	if r.PublicationTime != nil {
		p.PublicationTime = r.PublicationTime
	}
	if r.IsLibre != nil {
		p.IsLibre = r.IsLibre
	}

	p.Keywords = unionStrings(p.Keywords, r.Keywords)
	p.Categories = unionStrings(p.Categories, r.Categories)
	p.ProgrammingLanguages = unionStrings(p.ProgrammingLanguages, r.ProgrammingLanguages)
	p.Identifiers = unionIdentifiers(p.Identifiers, r.Identifiers)
	p.Developers = unionDevelopers(p.Developers, r.Developers)
}

// unionStrings appends the values of src not already present in dst,
// preserving first-seen order.
func unionStrings(dst, src []string) []string {
	if len(src) == 0 {
		return dst
	}
	seen := make(map[string]struct{}, len(dst))
	for _, v := range dst {
		seen[v] = struct{}{}
	}
	for _, v := range src {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		dst = append(dst, v)
	}
	return dst
}

func unionIdentifiers(dst, src []catalog.Identifier) []catalog.Identifier {
	if len(src) == 0 {
		return dst
	}
	seen := make(map[catalog.Identifier]struct{}, len(dst))
	for _, v := range dst {
		seen[v] = struct{}{}
	}
	for _, v := range src {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		dst = append(dst, v)
	}
	return dst
}

func unionDevelopers(dst, src []catalog.Developer) []catalog.Developer {
	if len(src) == 0 {
		return dst
	}
	seen := make(map[catalog.Developer]struct{}, len(dst))
	for _, v := range dst {
		seen[v] = struct{}{}
	}
	for _, v := range src {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		dst = append(dst, v)
	}
	return dst
}
