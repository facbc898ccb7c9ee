package retrieval

import (
	"strings"

	"glamstore/internal/catalog"
	"glamstore/internal/lib/normalize"
	"glamstore/internal/models"
)

type vendor struct {
	name      string
	positions []int
}

// index хранит нормализованные поля одного снапшота.
type index struct {
	snap     *catalog.Snapshot
	products []models.Product
	vendors  []vendor
	category []string
	tags     []string
}

func buildIndex(snap *catalog.Snapshot) *index {
	products := snap.Products()

	idx := &index{
		snap:     snap,
		products: products,
		category: make([]string, len(products)),
		tags:     make([]string, len(products)),
	}

	byVendor := make(map[string]int)
	for i, p := range products {
		idx.category[i] = normalize.Normalize(p.Category)
		idx.tags[i] = normalize.Normalize(strings.Join(p.Tags, ", "))

		name := normalize.Normalize(p.Vendor)
		if len(name) < minVendorLen {
			continue
		}

		pos, ok := byVendor[name]
		if !ok {
			pos = len(idx.vendors)
			byVendor[name] = pos
			idx.vendors = append(idx.vendors, vendor{name: name})
		}
		idx.vendors[pos].positions = append(idx.vendors[pos].positions, i)
	}

	return idx
}

func (e *Engine) indexFor(snap *catalog.Snapshot) *index {
	if idx := e.index.Load(); idx != nil && idx.snap == snap {
		return idx
	}

	idx := buildIndex(snap)
	e.index.Store(idx)

	return idx
}

func (idx *index) atPrice(price int64) []models.Product {
	var items []models.Product
	for _, p := range idx.products {
		if p.PriceInt() == price {
			items = append(items, p)
		}
	}
	return items
}
