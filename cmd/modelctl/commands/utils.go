package commands

import (
	"io"
	"slices"

	"github.com/labelkit/model-server/pkg/inference/config"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
)

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	return tablewriter.NewTable(w, tablewriter.WithHeader(header))
}

// entry is one catalog line together with its parsed document, if any.
type entry struct {
	id  string
	cfg *config.ModelConfig
	err error
}

// readEntries reads every enabled model document once, in catalog order.
// A missing catalog yields no entries.
func readEntries(c *config.Catalog) ([]entry, error) {
	ids, err := c.ListEnabled()
	if err != nil && !errors.Is(err, config.ErrNoCatalog) {
		return nil, errors.Wrap(err, "reading catalog")
	}

	var seen []string
	entries := make([]entry, 0, len(ids))
	for _, id := range ids {
		if slices.Contains(seen, id) {
			continue
		}
		seen = append(seen, id)
		cfg, err := c.ReadModelConfig(id)
		entries = append(entries, entry{id: id, cfg: cfg, err: err})
	}
	return entries, nil
}
