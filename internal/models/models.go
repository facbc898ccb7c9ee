package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID             int64               `json:"id"`
	Title          string              `json:"title"`
	Price          decimal.Decimal     `json:"price"`
	CompareAtPrice decimal.NullDecimal `json:"compare_at_price"`
	Stock          int                 `json:"stock"`
	Vendor         string              `json:"vendor"`
	Category       string              `json:"category"`
	Tags           []string            `json:"tags"`
	BodyHTML       string              `json:"body_html"`
	Handle         string              `json:"handle"`
	Images         []string            `json:"images"`
	SearchText     string              `json:"-"`
	VariantID      int64               `json:"variant_id"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// PriceInt - цена, усечённая до целых единиц валюты. В них сравниваются цены,
// когда покупатель пишет число.
func (p Product) PriceInt() int64 {
	return p.Price.IntPart()
}

// ImageURL возвращает основное изображение или пустую строку.
func (p Product) ImageURL() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0]
}

type SyncState string

const (
	SyncIdle    SyncState = "idle"
	SyncSyncing SyncState = "syncing"
	SyncOK      SyncState = "ok"
	SyncError   SyncState = "error"
)

type SyncStatus struct {
	Count     int        `json:"count"`
	LastSync  *time.Time `json:"last_sync"`
	State     SyncState  `json:"state"`
	LastError string     `json:"last_error,omitempty"`
}

type SearchKind string

const (
	SearchExact             SearchKind = "exact"
	SearchRecommendedSample SearchKind = "recommended_sample"
	SearchEmpty             SearchKind = "empty"
)

type SearchResult struct {
	Kind  SearchKind `json:"kind"`
	Items []Product  `json:"items"`
}

type CheckoutResult struct {
	Items        []Product       `json:"items"`
	Total        decimal.Decimal `json:"total"`
	PaymentURL   string          `json:"payment_url"`
	DraftOrderID int64           `json:"draft_order_id"`
	Reference    string          `json:"reference"`
}

// SyncRequest - тело сообщения из очереди запросов синхронизации.
type SyncRequest struct {
	Force         bool `json:"force"`
	MaxAgeMinutes int  `json:"max_age_minutes"`
}

type EventType string

const (
	EventCatalogSynced   EventType = "catalog.synced"
	EventCheckoutCreated EventType = "checkout.created"
)

type Event struct {
	Type       EventType       `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Count      int             `json:"count,omitempty"`
	Deleted    int64           `json:"deleted,omitempty"`
	Reference  string          `json:"reference,omitempty"`
	Total      decimal.Decimal `json:"total,omitempty"`
	ProductIDs []int64         `json:"product_ids,omitempty"`
}
