package coherence

import (
	"context"

	"github.com/arclight-labs/spifmark/pkg/label"
)

// Catalog answers whether a COI identifier is registered. Deployments back
// this with their community registry; a lookup failure is treated as
// unregistered by the validator (fail closed).
type Catalog interface {
	Registered(ctx context.Context, id label.COIID) (bool, error)
}

// StaticCatalog is a fixed in-memory catalog, typically seeded from
// configuration at startup.
type StaticCatalog struct {
	ids map[label.COIID]bool
}

// NewStaticCatalog registers the given ids.
func NewStaticCatalog(ids ...label.COIID) *StaticCatalog {
	c := &StaticCatalog{ids: make(map[label.COIID]bool, len(ids))}
	for _, id := range ids {
		c.ids[id] = true
	}
	return c
}

func (c *StaticCatalog) Registered(_ context.Context, id label.COIID) (bool, error) {
	return c.ids[id], nil
}
