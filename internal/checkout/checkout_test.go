package checkout

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"glamstore/internal/catalog"
	sl "glamstore/internal/lib/logger"
	"glamstore/internal/models"
	"glamstore/internal/shopify"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalog struct {
	snap   *catalog.Snapshot
	forced atomic.Int32
}

func (c *fakeCatalog) Snapshot(context.Context) *catalog.Snapshot { return c.snap }

func (c *fakeCatalog) ForceSync() bool {
	c.forced.Add(1)
	return true
}

type fakeOrders struct {
	got shopify.DraftOrder
	err error
}

func (o *fakeOrders) CreateDraftOrder(ctx context.Context, order shopify.DraftOrder) (shopify.DraftOrderResult, error) {
	if _, ok := ctx.Deadline(); !ok {
		return shopify.DraftOrderResult{}, errors.New("no deadline on order call")
	}

	o.got = order
	if o.err != nil {
		return shopify.DraftOrderResult{}, o.err
	}

	return shopify.DraftOrderResult{ID: 555, InvoiceURL: "https://shop/invoices/555"}, nil
}

type fakeEvents struct {
	events []models.Event
}

func (e *fakeEvents) PublishJSON(_ context.Context, msg any) error {
	e.events = append(e.events, msg.(models.Event))
	return nil
}

func newCatalog() *fakeCatalog {
	return &fakeCatalog{snap: catalog.NewSnapshot(1, []models.Product{
		{ID: 1, Title: "Lattafa Mayar Spray", Vendor: "Lattafa", Price: decimal.NewFromInt(12000), VariantID: 100},
		{ID: 2, Title: "Maison Alhambra Glacier Ultra", Price: decimal.NewFromInt(15000), VariantID: 200},
	})}
}

func TestBuild(t *testing.T) {
	cat := newCatalog()
	orders := &fakeOrders{}
	events := &fakeEvents{}

	b := New(sl.NewDiscardLogger(), cat, orders, time.Second, WithEvents(events))

	res, err := b.Build(context.Background(), []int64{1, 1, 2})
	require.NoError(t, err)
	require.NotNil(t, res)

	require.Len(t, res.Items, 3)
	assert.Equal(t, []int64{1, 1, 2}, []int64{res.Items[0].ID, res.Items[1].ID, res.Items[2].ID})
	assert.True(t, res.Total.Equal(decimal.NewFromInt(39000)))
	assert.Equal(t, "https://shop/invoices/555", res.PaymentURL)
	assert.Equal(t, int64(555), res.DraftOrderID)
	assert.NotEmpty(t, res.Reference)

	assert.Equal(t, []shopify.LineItem{
		{VariantID: 100, Quantity: 1},
		{VariantID: 100, Quantity: 1},
		{VariantID: 200, Quantity: 1},
	}, orders.got.LineItems)
	assert.Equal(t, "Bot Venta", orders.got.Note)
	assert.True(t, strings.HasPrefix(orders.got.Tags, "whatsapp-bot"))
	assert.Contains(t, orders.got.Tags, res.Reference)

	assert.Equal(t, int32(1), cat.forced.Load())

	require.Len(t, events.events, 1)
	assert.Equal(t, models.EventCheckoutCreated, events.events[0].Type)
	assert.Equal(t, []int64{1, 1, 2}, events.events[0].ProductIDs)
}

func TestBuildDropsUnknownIDs(t *testing.T) {
	cat := newCatalog()
	orders := &fakeOrders{}
	b := New(sl.NewDiscardLogger(), cat, orders, time.Second)

	res, err := b.Build(context.Background(), []int64{999, 2})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.True(t, res.Total.Equal(decimal.NewFromInt(15000)))
}

func TestBuildNoItems(t *testing.T) {
	cat := newCatalog()
	orders := &fakeOrders{}
	b := New(sl.NewDiscardLogger(), cat, orders, time.Second)

	for _, ids := range [][]int64{{999}, nil} {
		res, err := b.Build(context.Background(), ids)
		assert.Nil(t, res)
		assert.ErrorIs(t, err, ErrNoItems)
	}

	assert.Zero(t, cat.forced.Load())
	assert.Empty(t, orders.got.LineItems)
}

func TestBuildRemoteFailure(t *testing.T) {
	cat := newCatalog()
	orders := &fakeOrders{err: shopify.ErrUnexpectedStatus}
	events := &fakeEvents{}
	b := New(sl.NewDiscardLogger(), cat, orders, time.Second, WithEvents(events))

	res, err := b.Build(context.Background(), []int64{1})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, shopify.ErrUnexpectedStatus)

	assert.Zero(t, cat.forced.Load())
	assert.Empty(t, events.events)
}
