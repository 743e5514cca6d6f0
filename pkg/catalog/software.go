package catalog

import (
	"github.com/agentstation/utc"
)

// SoftwareType is the structured classification of a canonical entity.
type SoftwareType struct {
	Type    string `json:"type" yaml:"type"` // desktop/mobile, stack, cloud, library
	Desktop bool   `json:"desktop,omitempty" yaml:"desktop,omitempty"`
	Mobile  bool   `json:"mobile,omitempty" yaml:"mobile,omitempty"`
	Linux   bool   `json:"linux,omitempty" yaml:"linux,omitempty"`
	Windows bool   `json:"windows,omitempty" yaml:"windows,omitempty"`
	Mac     bool   `json:"mac,omitempty" yaml:"mac,omitempty"`
}

// Dereferencing marks a canonical entity as removed from default
// listings. Entities are never hard-deleted in normal operation.
type Dereferencing struct {
	Reason string   `json:"reason" yaml:"reason"`
	Time   utc.Time `json:"time" yaml:"time"`
}

// Software is the canonical catalog entity: the one authoritative
// record for a real-world software package. Its Name is unique among
// active (non-dereferenced) entities.
type Software struct {
	ID               int64             `json:"id" yaml:"id"`
	Name             string            `json:"name" yaml:"name"`
	Description      string            `json:"description,omitempty" yaml:"description,omitempty"`
	License          string            `json:"license,omitempty" yaml:"license,omitempty"`
	LogoURL          string            `json:"logo_url,omitempty" yaml:"logo_url,omitempty"`
	Keywords         []string          `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	SoftwareType     SoftwareType      `json:"software_type" yaml:"software_type"`
	CustomAttributes map[string]string `json:"custom_attributes,omitempty" yaml:"custom_attributes,omitempty"`
	CreatedAt        utc.Time          `json:"created_at" yaml:"created_at"`
	UpdatedAt        utc.Time          `json:"updated_at" yaml:"updated_at"`
	Dereferencing    *Dereferencing    `json:"dereferencing,omitempty" yaml:"dereferencing,omitempty"`
}

// Active reports whether the entity appears in default listings.
func (s *Software) Active() bool {
	return s.Dereferencing == nil
}

// Descriptor is the inbound shape consumed by the resolution path. It
// describes one provider's view of a package being created or updated.
type Descriptor struct {
	Name       string // Display name; the primary human-facing key
	SourceSlug string // Provider the descriptor originates from
	ExternalID string // Package id at that provider; may be empty

	// Intrinsic fields applied when a new canonical entity is created.
	Description      string
	License          string
	LogoURL          string
	Keywords         []string
	SoftwareType     SoftwareType
	CustomAttributes map[string]string

	// SimilarItems is the complete desired similarity set for the
	// entity; it replaces any previous set.
	SimilarItems []SimilarityDescriptor
}

// SimilarityDescriptor names an external record that is similar to, but
// not the same package as, a canonical entity.
type SimilarityDescriptor struct {
	SourceSlug  string `json:"source_slug" yaml:"source_slug"`
	ExternalID  string `json:"external_id" yaml:"external_id"`
	Label       string `json:"label,omitempty" yaml:"label,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	IsLibre     *bool  `json:"is_libre,omitempty" yaml:"is_libre,omitempty"`
}

// SimilarityLink relates a canonical entity to an external record that
// describes similar software. The record itself may be unlinked or
// linked to a different entity.
type SimilarityLink struct {
	SoftwareID int64  `json:"software_id" yaml:"software_id"`
	SourceSlug string `json:"source_slug" yaml:"source_slug"`
	ExternalID string `json:"external_id" yaml:"external_id"`
}

// SimilarItem is the read-side view of a similarity link. Registered
// distinguishes records attached to a canonical entity from ones the
// catalog only knows by reference.
type SimilarItem struct {
	SourceSlug  string `json:"source_slug" yaml:"source_slug"`
	ExternalID  string `json:"external_id" yaml:"external_id"`
	Label       string `json:"label,omitempty" yaml:"label,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	IsLibre     *bool  `json:"is_libre,omitempty" yaml:"is_libre,omitempty"`
	Registered  bool   `json:"registered" yaml:"registered"`

	// SoftwareID is set when Registered is true.
	SoftwareID *int64 `json:"software_id,omitempty" yaml:"software_id,omitempty"`
}
