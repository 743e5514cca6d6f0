package softfuse

import (
	"context"
	"io"

	"github.com/agentstation/utc"
	"github.com/goccy/go-yaml"

	"github.com/softfuse/softfuse/pkg/catalog"
	"github.com/softfuse/softfuse/pkg/errors"
	"github.com/softfuse/softfuse/pkg/storage"
)

// exportDocument is the YAML shape written by Export.
type exportDocument struct {
	ExportedAt utc.Time         `yaml:"exported_at"`
	Sources    []catalog.Source `yaml:"sources"`
	Software   []exportEntry    `yaml:"software"`
}

type exportEntry struct {
	catalog.Software `yaml:",inline"`

	External *catalog.Projection   `yaml:"external,omitempty"`
	Similar  []catalog.SimilarItem `yaml:"similar,omitempty"`
}

// Export writes every active entity, with its fused projection and
// similar items, as a YAML document.
func (c *client) Export(ctx context.Context, w io.Writer) error {
	software, err := c.store.Software().List(ctx, storage.ListOptions{})
	if err != nil {
		return err
	}

	doc := exportDocument{
		ExportedAt: nowUTC(),
		Sources:    c.registry.List(),
	}
	for _, sw := range software {
		projection, err := c.materializer.Projection(ctx, sw.ID)
		if err != nil {
			return err
		}
		similarItems, err := c.linker.ListSimilar(ctx, sw.ID)
		if err != nil {
			return err
		}
		doc.Software = append(doc.Software, exportEntry{
			Software: sw,
			External: projection,
			Similar:  similarItems,
		})
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return errors.WrapParse("yaml", "catalog export", err)
	}
	if _, err := w.Write(data); err != nil {
		return errors.WrapIO("write", "catalog export", err)
	}
	return nil
}
