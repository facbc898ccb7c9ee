// Package shopify - небольшой клиент Admin API: постраничная выгрузка
// продуктов (GraphQL) и создание черновиков заказов (REST).
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"glamstore/internal/config"

	"golang.org/x/time/rate"
)

// SellableFilter оставляет только активные продукты в наличии.
const SellableFilter = "status:active inventory_total:>0"

var (
	ErrUnexpectedStatus = errors.New("unexpected status code")
	ErrMalformedNode    = errors.New("malformed product node")
	ErrGraphQL          = errors.New("graphql error")
	ErrInvalidGID       = errors.New("invalid global id")
)

const productsQuery = `
query Products($first: Int!, $after: String, $query: String) {
  products(first: $first, after: $after, query: $query) {
    pageInfo { hasNextPage endCursor }
    edges {
      node {
        id
        title
        descriptionHtml
        vendor
        productType
        handle
        tags
        updatedAt
        category { name }
        collections(first: 10) { edges { node { title } } }
        variants(first: 1) {
          edges {
            node {
              id
              price
              compareAtPrice
              inventoryQuantity
              inventoryPolicy
            }
          }
        }
        images(first: 5) { edges { node { url } } }
      }
    }
  }
}`

type Connection[T any] struct {
	Edges []struct {
		Node T `json:"node"`
	} `json:"edges"`
}

// Nodes разворачивает edges.
func (c Connection[T]) Nodes() []T {
	nodes := make([]T, 0, len(c.Edges))
	for _, e := range c.Edges {
		nodes = append(nodes, e.Node)
	}
	return nodes
}

type ProductNode struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	DescriptionHTML *string   `json:"descriptionHtml"`
	Vendor          string    `json:"vendor"`
	ProductType     string    `json:"productType"`
	Handle          string    `json:"handle"`
	Tags            []string  `json:"tags"`
	UpdatedAt       time.Time `json:"updatedAt"`
	Category        *struct {
		Name string `json:"name"`
	} `json:"category"`
	Collections Connection[struct {
		Title string `json:"title"`
	}] `json:"collections"`
	Variants Connection[VariantNode] `json:"variants"`
	Images   Connection[struct {
		URL string `json:"url"`
	}] `json:"images"`
}

type VariantNode struct {
	ID                string  `json:"id"`
	Price             string  `json:"price"`
	CompareAtPrice    *string `json:"compareAtPrice"`
	InventoryQuantity *int    `json:"inventoryQuantity"`
	InventoryPolicy   string  `json:"inventoryPolicy"`
}

// Backorder - продаётся ли вариант при нулевом остатке.
func (v VariantNode) Backorder() bool {
	return strings.EqualFold(v.InventoryPolicy, "continue")
}

// Quantity - остаток, ноль если склад не ведётся.
func (v VariantNode) Quantity() int {
	if v.InventoryQuantity == nil {
		return 0
	}
	return *v.InventoryQuantity
}

type PageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

// RejectedNode - продукт из выгрузки, который не лёг в ProductNode.
type RejectedNode struct {
	ID  string
	Err error
}

type ProductsPage struct {
	Products []ProductNode
	Rejected []RejectedNode
	PageInfo PageInfo
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type productsResponse struct {
	Data struct {
		Products struct {
			PageInfo PageInfo `json:"pageInfo"`
			Edges    []struct {
				Node json.RawMessage `json:"node"`
			} `json:"edges"`
		} `json:"products"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

type LineItem struct {
	VariantID int64 `json:"variant_id"`
	Quantity  int   `json:"quantity"`
}

type DraftOrder struct {
	LineItems []LineItem `json:"line_items"`
	Note      string     `json:"note,omitempty"`
	Tags      string     `json:"tags,omitempty"`
}

type DraftOrderResult struct {
	ID         int64  `json:"id"`
	InvoiceURL string `json:"invoice_url"`
}

type Client struct {
	baseURL    string
	apiVersion string
	token      string

	catalogClient *http.Client
	orderClient   *http.Client
	limiter       *rate.Limiter
}

func New(cfg config.Shopify) *Client {
	rps := cfg.RPS
	if rps <= 0 {
		rps = 2
	}

	return &Client{
		baseURL:       shopURL(cfg.ShopDomain),
		apiVersion:    cfg.APIVersion,
		token:         cfg.AccessToken,
		catalogClient: &http.Client{Timeout: cfg.Timeout},
		orderClient:   &http.Client{Timeout: cfg.OrderTimeout},
		limiter:       rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// * FetchProducts запрашивает одну страницу каталога
func (c *Client) FetchProducts(ctx context.Context, first int, after, filter string) (ProductsPage, error) {
	const op = "shopify.FetchProducts"

	vars := map[string]any{"first": first}
	if after != "" {
		vars["after"] = after
	}
	if filter != "" {
		vars["query"] = filter
	}

	body, err := json.Marshal(graphQLRequest{Query: productsQuery, Variables: vars})
	if err != nil {
		return ProductsPage{}, fmt.Errorf("%s: %w", op, err)
	}

	data, status, err := c.do(ctx, c.catalogClient, c.endpoint("graphql.json"), body)
	if err != nil {
		return ProductsPage{}, fmt.Errorf("%s: %w", op, err)
	}

	if status != http.StatusOK {
		return ProductsPage{}, fmt.Errorf("%s: %w: %d %s", op, ErrUnexpectedStatus, status, snippet(data))
	}

	var resp productsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return ProductsPage{}, fmt.Errorf("%s: decode: %w", op, err)
	}

	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		return ProductsPage{}, fmt.Errorf("%s: %w: %s", op, ErrGraphQL, strings.Join(msgs, "; "))
	}

	page := ProductsPage{
		Products: make([]ProductNode, 0, len(resp.Data.Products.Edges)),
		PageInfo: resp.Data.Products.PageInfo,
	}

	// * узлы декодируются по одному, битый узел уходит в Rejected
	for _, e := range resp.Data.Products.Edges {
		var n ProductNode
		if err := json.Unmarshal(e.Node, &n); err != nil {
			page.Rejected = append(page.Rejected, RejectedNode{
				ID:  nodeID(e.Node),
				Err: fmt.Errorf("%w: %w", ErrMalformedNode, err),
			})
			continue
		}
		page.Products = append(page.Products, n)
	}

	return page, nil
}

// nodeID достаёт gid из узла, который не удалось декодировать целиком
func nodeID(raw json.RawMessage) string {
	var n struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(raw, &n)

	return n.ID
}

// * CreateDraftOrder создаёт черновик заказа и возвращает ссылку на оплату
func (c *Client) CreateDraftOrder(ctx context.Context, order DraftOrder) (DraftOrderResult, error) {
	const op = "shopify.CreateDraftOrder"

	body, err := json.Marshal(map[string]DraftOrder{"draft_order": order})
	if err != nil {
		return DraftOrderResult{}, fmt.Errorf("%s: %w", op, err)
	}

	data, status, err := c.do(ctx, c.orderClient, c.endpoint("draft_orders.json"), body)
	if err != nil {
		return DraftOrderResult{}, fmt.Errorf("%s: %w", op, err)
	}

	if status != http.StatusCreated {
		return DraftOrderResult{}, fmt.Errorf("%s: %w: %d %s", op, ErrUnexpectedStatus, status, snippet(data))
	}

	var resp struct {
		DraftOrder DraftOrderResult `json:"draft_order"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return DraftOrderResult{}, fmt.Errorf("%s: decode: %w", op, err)
	}

	return resp.DraftOrder, nil
}

func (c *Client) do(ctx context.Context, client *http.Client, url string, body []byte) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.token)

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}

	return data, resp.StatusCode, nil
}

func (c *Client) endpoint(resource string) string {
	return fmt.Sprintf("%s/admin/api/%s/%s", c.baseURL, c.apiVersion, resource)
}

// ParseGID достаёт числовой id из "gid://shopify/Product/123".
func ParseGID(gid string) (int64, error) {
	i := strings.LastIndexByte(gid, '/')

	id, err := strconv.ParseInt(gid[i+1:], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidGID, gid)
	}

	return id, nil
}

// shopURL сохраняет явную схему, иначе подставляет https.
func shopURL(domain string) string {
	domain = strings.TrimSpace(domain)

	if strings.HasPrefix(domain, "http://") || strings.HasPrefix(domain, "https://") {
		scheme, rest, _ := strings.Cut(domain, "://")
		host, _, _ := strings.Cut(rest, "/")
		return scheme + "://" + host
	}

	host, _, _ := strings.Cut(domain, "/")
	return "https://" + host
}

func snippet(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max])
	}
	return string(b)
}
