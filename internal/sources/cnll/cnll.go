// Package cnll fetches free-software directory entries from a CNLL
// provider annuaire. The API exposes one JSON document listing every
// entry; fetches filter it by id.
package cnll

import (
	"context"
	"strconv"
	"strings"

	"github.com/softfuse/softfuse/internal/transport"
	"github.com/softfuse/softfuse/pkg/catalog"
	"github.com/softfuse/softfuse/pkg/errors"
)

const directoryPath = "/api/prestataires-sill.json"

// Fetcher retrieves directory entries by numeric id.
type Fetcher struct {
	client *transport.Client
}

// New creates a CNLL fetcher.
func New(client *transport.Client) *Fetcher {
	return &Fetcher{client: client}
}

// Kind implements sources.Fetcher.
func (f *Fetcher) Kind() catalog.SourceKind {
	return catalog.KindCNLL
}

type entry struct {
	ID           int64      `json:"sill_id"`
	Name         string     `json:"nom"`
	URL          string     `json:"url"`
	Description  string     `json:"description"`
	License      string     `json:"licence"`
	Prestataires []provider `json:"prestataires"`
}

type provider struct {
	Name string `json:"nom"`
	URL  string `json:"url"`
}

// Fetch implements sources.Fetcher. externalID is the entry's numeric
// id in the directory.
func (f *Fetcher) Fetch(ctx context.Context, source catalog.Source, externalID string) (*catalog.RecordFields, error) {
	id, err := strconv.ParseInt(externalID, 10, 64)
	if err != nil {
		return nil, errors.NewValidationError("external_id", externalID, "cnll ids are numeric")
	}

	endpoint := strings.TrimSuffix(source.URL, "/") + directoryPath

	var entries []entry
	if err := f.client.GetJSON(ctx, source.Slug, endpoint, &entries); err != nil {
		return nil, err
	}

	for _, e := range entries {
		if e.ID != id {
			continue
		}
		libre := true
		fields := &catalog.RecordFields{
			Label:       e.Name,
			Description: e.Description,
			WebsiteURL:  e.URL,
			License:     e.License,
			IsLibre:     &libre,
		}
		for _, p := range e.Prestataires {
			fields.Developers = append(fields.Developers, catalog.Developer{
				Name: p.Name,
				URL:  p.URL,
			})
		}
		return fields, nil
	}

	return nil, errors.NewNotFoundError("directory entry", externalID)
}
