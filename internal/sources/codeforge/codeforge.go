// Package codeforge fetches repository metadata from a GitHub-style
// forge API. externalID is the "owner/repo" pair.
package codeforge

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/agentstation/utc"

	"github.com/softfuse/softfuse/internal/transport"
	"github.com/softfuse/softfuse/pkg/catalog"
	"github.com/softfuse/softfuse/pkg/errors"
)

// Fetcher retrieves repository metadata.
type Fetcher struct {
	client *transport.Client
}

// New creates a forge fetcher.
func New(client *transport.Client) *Fetcher {
	return &Fetcher{client: client}
}

// Kind implements sources.Fetcher.
func (f *Fetcher) Kind() catalog.SourceKind {
	return catalog.KindCodeForge
}

type repo struct {
	Name        string   `json:"name"`
	FullName    string   `json:"full_name"`
	Description string   `json:"description"`
	HTMLURL     string   `json:"html_url"`
	Homepage    string   `json:"homepage"`
	Language    string   `json:"language"`
	Topics      []string `json:"topics"`
	PushedAt    string   `json:"pushed_at"`
	License     *struct {
		SPDXID string `json:"spdx_id"`
	} `json:"license"`
	Owner *struct {
		Login   string `json:"login"`
		HTMLURL string `json:"html_url"`
	} `json:"owner"`
}

// Fetch implements sources.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, source catalog.Source, externalID string) (*catalog.RecordFields, error) {
	owner, name, ok := strings.Cut(strings.Trim(externalID, "/"), "/")
	if !ok || owner == "" || name == "" {
		return nil, errors.NewValidationError("external_id", externalID, "forge ids are owner/repo")
	}

	endpoint := apiBase(source.URL) + "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(name)

	var r repo
	if err := f.client.GetJSON(ctx, source.Slug, endpoint, &r); err != nil {
		return nil, err
	}

	fields := &catalog.RecordFields{
		Label:       r.Name,
		Description: r.Description,
		WebsiteURL:  r.Homepage,
		SourceURL:   r.HTMLURL,
		Keywords:    r.Topics,
	}
	if r.Language != "" {
		fields.ProgrammingLanguages = []string{r.Language}
	}
	if r.License != nil && r.License.SPDXID != "" && r.License.SPDXID != "NOASSERTION" {
		fields.License = r.License.SPDXID
	}
	if r.Owner != nil && r.Owner.Login != "" {
		fields.Developers = []catalog.Developer{{Name: r.Owner.Login, URL: r.Owner.HTMLURL}}
	}
	if r.PushedAt != "" {
		if t, err := time.Parse(time.RFC3339, r.PushedAt); err == nil {
			pushed := utc.Time{Time: t.UTC()}
			fields.PublicationTime = &pushed
		}
	}

	return fields, nil
}

// apiBase maps a forge's public base URL to its API root. github.com
// has a separate API host; self-hosted forges and test servers expose
// the API under the base URL itself.
func apiBase(baseURL string) string {
	trimmed := strings.TrimSuffix(baseURL, "/")
	if trimmed == "https://github.com" {
		return "https://api.github.com"
	}
	return trimmed
}
