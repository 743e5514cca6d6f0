// Package wikidata fetches software descriptions from a Wikibase
// instance via the Special:EntityData endpoint.
package wikidata

import (
	"context"
	"strings"
	"time"

	"github.com/agentstation/utc"

	"github.com/softfuse/softfuse/internal/transport"
	"github.com/softfuse/softfuse/pkg/catalog"
	"github.com/softfuse/softfuse/pkg/errors"
)

// Wikidata properties carrying the fields the catalog cares about.
const (
	propOfficialWebsite      = "P856"
	propSourceCodeRepository = "P1324"
	propSoftwareVersion      = "P348"
	propLicense              = "P275"
	propLogo                 = "P154"
)

// Fetcher retrieves entity data for Q-ids.
type Fetcher struct {
	client *transport.Client
}

// New creates a Wikidata fetcher.
func New(client *transport.Client) *Fetcher {
	return &Fetcher{client: client}
}

// Kind implements sources.Fetcher.
func (f *Fetcher) Kind() catalog.SourceKind {
	return catalog.KindWikidata
}

type entityResponse struct {
	Entities map[string]entity `json:"entities"`
}

type entity struct {
	Labels       map[string]langValue   `json:"labels"`
	Descriptions map[string]langValue   `json:"descriptions"`
	Aliases      map[string][]langValue `json:"aliases"`
	Claims       map[string][]claim     `json:"claims"`
	Modified     string                 `json:"modified"`
}

type langValue struct {
	Language string `json:"language"`
	Value    string `json:"value"`
}

type claim struct {
	Mainsnak struct {
		Datavalue struct {
			Value any `json:"value"`
		} `json:"datavalue"`
	} `json:"mainsnak"`
}

// Fetch implements sources.Fetcher. externalID is the entity's Q-id.
func (f *Fetcher) Fetch(ctx context.Context, source catalog.Source, externalID string) (*catalog.RecordFields, error) {
	if !strings.HasPrefix(externalID, "Q") {
		return nil, errors.NewValidationError("external_id", externalID, "wikidata ids start with Q")
	}

	url := strings.TrimSuffix(source.URL, "/") + "/wiki/Special:EntityData/" + externalID + ".json"

	var payload entityResponse
	if err := f.client.GetJSON(ctx, source.Slug, url, &payload); err != nil {
		return nil, err
	}

	ent, ok := payload.Entities[externalID]
	if !ok {
		// Redirected entities come back under their canonical id.
		for _, e := range payload.Entities {
			ent = e
			ok = true
			break
		}
	}
	if !ok {
		return nil, errors.NewNotFoundError("entity", externalID)
	}

	fields := &catalog.RecordFields{
		Label:       preferredLang(ent.Labels),
		Description: preferredLang(ent.Descriptions),
		WebsiteURL:  claimString(ent.Claims, propOfficialWebsite),
		SourceURL:   claimString(ent.Claims, propSourceCodeRepository),
		Version:     claimString(ent.Claims, propSoftwareVersion),
	}

	if ent.Modified != "" {
		if t, err := time.Parse(time.RFC3339, ent.Modified); err == nil {
			modified := utc.Time{Time: t.UTC()}
			fields.PublicationTime = &modified
		}
	}

	if keywords := ent.Aliases["en"]; len(keywords) > 0 {
		for _, alias := range keywords {
			fields.Keywords = append(fields.Keywords, alias.Value)
		}
	}

	// A source-repository claim on a known forge doubles as a
	// cross-provider identifier.
	if repo := fields.SourceURL; repo != "" {
		if subject, value := forgeIdentifier(repo); subject != "" {
			fields.Identifiers = append(fields.Identifiers, catalog.Identifier{
				SubjectURL: subject,
				Value:      value,
			})
		}
	}

	return fields, nil
}

// preferredLang returns the English value, falling back to French and
// then any available language.
func preferredLang(values map[string]langValue) string {
	for _, lang := range []string{"en", "fr"} {
		if v, ok := values[lang]; ok {
			return v.Value
		}
	}
	for _, v := range values {
		return v.Value
	}
	return ""
}

// claimString extracts the first string-valued claim for a property.
func claimString(claims map[string][]claim, prop string) string {
	for _, c := range claims[prop] {
		if s, ok := c.Mainsnak.Datavalue.Value.(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// forgeIdentifier converts a repository URL into an identifier keyed by
// the forge's base URL, e.g. https://github.com/org/repo becomes
// ("https://github.com", "org/repo").
func forgeIdentifier(repoURL string) (subjectURL, value string) {
	const github = "https://github.com"
	if rest, ok := strings.CutPrefix(repoURL, github+"/"); ok {
		rest = strings.TrimSuffix(strings.TrimSuffix(rest, "/"), ".git")
		if strings.Count(rest, "/") == 1 {
			return github, rest
		}
	}
	return "", ""
}
