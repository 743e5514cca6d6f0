// Package hal fetches software deposit metadata from a HAL open
// archive via its search API.
package hal

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

// fieldList names the HAL document fields the fetcher asks for.
var fieldList = strings.Join([]string{
	"docid",
	"title_s",
	"abstract_s",
	"uri_s",
	"softVersion_s",
	"softCodeRepository_s",
	"softProgrammingLanguage_s",
	"softPlatform_s",
	"keyword_s",
	"licence_s",
	"authFullName_s",
	"producedDate_tdate",
}, ",")

// Fetcher retrieves software deposits by HAL docid.
type Fetcher struct {
	client *transport.Client
}

// New creates a HAL fetcher.
func New(client *transport.Client) *Fetcher {
	return &Fetcher{client: client}
}

// Kind implements sources.Fetcher.
func (f *Fetcher) Kind() catalog.SourceKind {
	return catalog.KindHAL
}

type searchResponse struct {
	Response struct {
		NumFound int   `json:"numFound"`
		Docs     []doc `json:"docs"`
	} `json:"response"`
}

type doc struct {
	DocID                int64    `json:"docid"`
	Title                []string `json:"title_s"`
	Abstract             []string `json:"abstract_s"`
	URI                  string   `json:"uri_s"`
	Version              []string `json:"softVersion_s"`
	CodeRepository       []string `json:"softCodeRepository_s"`
	ProgrammingLanguages []string `json:"softProgrammingLanguage_s"`
	Platforms            []string `json:"softPlatform_s"`
	Keywords             []string `json:"keyword_s"`
	License              []string `json:"licence_s"`
	Authors              []string `json:"authFullName_s"`
	ProducedDate         string   `json:"producedDate_tdate"`
}

// Fetch implements sources.Fetcher. externalID is the HAL docid.
func (f *Fetcher) Fetch(ctx context.Context, source catalog.Source, externalID string) (*catalog.RecordFields, error) {
	endpoint := strings.TrimSuffix(source.URL, "/") + "/search/?q=docid:" +
		url.QueryEscape(externalID) + "&fl=" + url.QueryEscape(fieldList) + "&wt=json"

	var payload searchResponse
	if err := f.client.GetJSON(ctx, source.Slug, endpoint, &payload); err != nil {
		return nil, err
	}
	if payload.Response.NumFound == 0 || len(payload.Response.Docs) == 0 {
		return nil, errors.NewNotFoundError("deposit", externalID)
	}

	d := payload.Response.Docs[0]
	fields := &catalog.RecordFields{
		Label:                first(d.Title),
		Description:          first(d.Abstract),
		WebsiteURL:           d.URI,
		SourceURL:            first(d.CodeRepository),
		License:              first(d.License),
		Version:              first(d.Version),
		Keywords:             d.Keywords,
		Categories:           d.Platforms,
		ProgrammingLanguages: d.ProgrammingLanguages,
	}

	for _, author := range d.Authors {
		fields.Developers = append(fields.Developers, catalog.Developer{Name: author})
	}

	if d.ProducedDate != "" {
		if t, err := time.Parse(time.RFC3339, d.ProducedDate); err == nil {
			produced := utc.Time{Time: t.UTC()}
			fields.PublicationTime = &produced
		}
	}

	return fields, nil
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
