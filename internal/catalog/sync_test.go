package catalog

import (
	"testing"
	"time"

	"glamstore/internal/shopify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToProduct(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	n := node(42, "Perfume Árabe Dulce", "Lattafa", "12990.00", 5, "DENY")
	n.Tags = []string{"Arabe", " Unisex ", filterIndexTag, "Arabe"}
	n.Category = &struct {
		Name string `json:"name"`
	}{Name: "Perfumes"}
	n.Collections.Edges = append(n.Collections.Edges,
		struct {
			Node struct {
				Title string `json:"title"`
			} `json:"node"`
		}{},
	)
	n.Collections.Edges[0].Node.Title = "Ofertas"
	n.Images.Edges = append(n.Images.Edges,
		struct {
			Node struct {
				URL string `json:"url"`
			} `json:"node"`
		}{},
	)
	n.Images.Edges[0].Node.URL = "https://cdn.shopify.com/42.jpg"
	compareAt := "15990.00"
	n.Variants.Edges[0].Node.CompareAtPrice = &compareAt

	p, err := toProduct(n, false, now)
	require.NoError(t, err)

	assert.Equal(t, int64(42), p.ID)
	assert.Equal(t, int64(4200), p.VariantID)
	assert.Equal(t, int64(12990), p.PriceInt())
	assert.True(t, p.CompareAtPrice.Valid)
	assert.Equal(t, "Perfumes", p.Category)
	assert.Equal(t, []string{"Arabe", "Unisex", "Ofertas"}, p.Tags)
	assert.Equal(t, []string{"https://cdn.shopify.com/42.jpg"}, p.Images)
	assert.Equal(t, "perfume arabe dulce lattafa perfumes arabe  unisex  ofertas", p.SearchText)
	assert.Equal(t, 5, p.Stock)
	assert.Equal(t, n.UpdatedAt, p.UpdatedAt)
}

func TestToProductCategoryFallback(t *testing.T) {
	n := node(1, "Labial Mate", "Ruby Rose", "3990", 1, "DENY")
	n.ProductType = "Maquillaje"

	p, err := toProduct(n, true, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "Maquillaje", p.Category)
}

func TestToProductRejects(t *testing.T) {
	now := time.Now()

	noVariant := node(1, "A", "B", "1000", 1, "DENY")
	noVariant.Variants = shopify.Connection[shopify.VariantNode]{}
	_, err := toProduct(noVariant, true, now)
	assert.ErrorIs(t, err, errNoVariant)

	soldOut := node(2, "A", "B", "1000", 0, "DENY")
	_, err = toProduct(soldOut, false, now)
	assert.ErrorIs(t, err, errOutOfStock)

	// в режиме витрины остаётся, остаток не уходит в минус
	negative := node(3, "A", "B", "1000", -2, "DENY")
	p, err := toProduct(negative, true, now)
	require.NoError(t, err)
	assert.Zero(t, p.Stock)

	badID := node(4, "A", "B", "1000", 1, "DENY")
	badID.ID = "gid://shopify/Product/abc"
	_, err = toProduct(badID, true, now)
	assert.ErrorIs(t, err, shopify.ErrInvalidGID)

	badPrice := node(5, "A", "B", "not-a-price", 1, "DENY")
	_, err = toProduct(badPrice, true, now)
	assert.ErrorIs(t, err, errInvalidPrice)
}
