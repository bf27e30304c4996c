package purge

import (
	"github.com/picklr-io/sweep/internal/ir"
	"github.com/picklr-io/sweep/internal/logging"
)

// Catalog is the set of references the operator declared for a pass,
// directly or as a dependency of a declared resource.
type Catalog struct {
	refs map[ir.Reference]struct{}
}

func NewCatalog(refs ...ir.Reference) *Catalog {
	c := &Catalog{refs: make(map[ir.Reference]struct{}, len(refs))}
	for _, ref := range refs {
		c.Add(ref)
	}
	return c
}

// CatalogFromResources collects declared resources and the addresses they
// depend on.
func CatalogFromResources(resources []*ir.Resource) *Catalog {
	c := NewCatalog()
	for _, res := range resources {
		c.Add(res.Ref())
		for _, dep := range res.DependsOn {
			ref, err := ir.ParseReference(dep)
			if err != nil {
				logging.Debug("skipping unparsable dependency", "resource", res.Ref().String(), "dependency", dep)
				continue
			}
			c.Add(ref)
		}
	}
	return c
}

func (c *Catalog) Add(ref ir.Reference) {
	c.refs[ref] = struct{}{}
}

func (c *Catalog) Contains(ref ir.Reference) bool {
	if c == nil {
		return false
	}
	_, ok := c.refs[ref]
	return ok
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.refs)
}
