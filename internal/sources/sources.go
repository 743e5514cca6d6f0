// Package sources constructs the fetcher for each source kind.
package sources

import (
	"github.com/softfuse/softfuse/internal/sources/cnll"
	"github.com/softfuse/softfuse/internal/sources/codeforge"
	"github.com/softfuse/softfuse/internal/sources/hal"
	"github.com/softfuse/softfuse/internal/sources/wikidata"
	"github.com/softfuse/softfuse/internal/transport"
	"github.com/softfuse/softfuse/pkg/catalog"
	"github.com/softfuse/softfuse/pkg/sources"
)

// NewFetchers builds one fetcher per source kind, all sharing the same
// transport client.
func NewFetchers(client *transport.Client) map[catalog.SourceKind]sources.Fetcher {
	if client == nil {
		client = transport.New()
	}
	return map[catalog.SourceKind]sources.Fetcher{
		catalog.KindWikidata:  wikidata.New(client),
		catalog.KindHAL:       hal.New(client),
		catalog.KindCNLL:      cnll.New(client),
		catalog.KindCodeForge: codeforge.New(client),
	}
}
