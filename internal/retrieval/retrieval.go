// Package retrieval отвечает на свободные вопросы о товарах по снапшоту
// каталога. Стратегии идут в фиксированном порядке (бренд, категория, только
// цена, ключевые слова, запасной вариант по цене), побеждает первая с результатом.
package retrieval

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"

	"glamstore/internal/catalog"
	"glamstore/internal/lib/normalize"
	"glamstore/internal/metrics"
	"glamstore/internal/models"
)

const (
	MaxResults = 5

	minPrice   = 1000
	maxPrice   = 1000000
	priceBonus = 5

	// такие короткие бренды совпадают со слишком многими словами
	minVendorLen = 4
)

var priceToken = regexp.MustCompile(`\b\d{3,7}\b`)

type category struct {
	name     string
	synonyms []string
}

// categories проверяются по порядку, "mascara" относится к первому совпадению.
var categories = []category{
	{"maquillaje", []string{"maquillaje", "labial", "sombra", "rimel", "mascara", "delineador", "base", "polvo", "rubor", "corrector", "primer", "fijador"}},
	{"skin care", []string{"skin care", "skincare", "piel", "crema", "facial", "serum", "rostro", "mascarilla", "hidratante", "limpieza", "tonico"}},
	{"productos capilares", []string{"capilar", "cabello", "pelo", "shampoo", "acondicionador", "mascara", "tratamiento", "oleo", "peine", "cepillo"}},
	{"perfumes", []string{"perfume", "fragancia", "colonia", "aroma", "body splash", "spray", "locion", "floral", "dulce", "citrico", "frutal", "amaderado", "oriental"}},
	{"accesorios", []string{"accesorio", "bolso", "cosmetiquero", "espejo", "brocha", "esponja", "pinza", "elastico", "colet"}},
}

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		hola buenos dias tardes busco venden tienen quiero necesito comprar
		precio valor cuanto vale cuesta ejemplo muestrame algun alguno articulo
		producto dato puedes dar me das recomendar recomendarias para mi hija
		mama regalo glamstore tienda gracias favor por el la los las un una de
		del que en y o`) {
		stopWords[w] = struct{}{}
	}
}

type Catalog interface {
	Snapshot(ctx context.Context) *catalog.Snapshot
}

type Option func(*Engine)

// WithShuffle подменяет перемешивание выборки, по умолчанию rand.Shuffle.
func WithShuffle(shuffle func(n int, swap func(i, j int))) Option {
	return func(e *Engine) { e.shuffle = shuffle }
}

// WithStrictPrice делает цену из запроса жёстким фильтром: стратегия без
// товара по этой цене ничего не возвращает вместо нефильтрованного набора.
func WithStrictPrice(strict bool) Option {
	return func(e *Engine) { e.strictPrice = strict }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

type Engine struct {
	log         *slog.Logger
	catalog     Catalog
	metrics     *metrics.Metrics
	shuffle     func(n int, swap func(i, j int))
	strictPrice bool

	index atomic.Pointer[index]
}

func New(log *slog.Logger, c Catalog, opts ...Option) *Engine {
	e := &Engine{
		log:     log,
		catalog: c,
		shuffle: rand.Shuffle,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

type query struct {
	raw        string
	normalized string
	keywords   []string
	price      int64
}

func parseQuery(raw string) query {
	q := query{
		raw:        raw,
		normalized: normalize.Normalize(raw),
	}

	for _, m := range priceToken.FindAllString(raw, -1) {
		n, err := strconv.ParseInt(m, 10, 64)
		if err == nil && n >= minPrice && n <= maxPrice {
			q.price = n
			break
		}
	}

	priceWord := ""
	if q.price > 0 {
		priceWord = strconv.FormatInt(q.price, 10)
	}

	for _, w := range normalize.Words(raw) {
		if len(w) <= 2 || w == priceWord {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		q.keywords = append(q.keywords, w)
	}

	return q
}

// * Search возвращает не больше MaxResults продуктов для rawQuery
func (e *Engine) Search(ctx context.Context, rawQuery string) models.SearchResult {
	const op = "retrieval.Search"

	idx := e.indexFor(e.catalog.Snapshot(ctx))
	q := parseQuery(rawQuery)

	res, strategy := e.search(idx, q)

	e.metrics.SearchServed(res.Kind)
	e.log.Debug("search served",
		slog.String("op", op),
		slog.String("query", q.normalized),
		slog.String("strategy", strategy),
		slog.String("kind", string(res.Kind)),
		slog.Int("items", len(res.Items)),
	)

	return res
}

func (e *Engine) search(idx *index, q query) (models.SearchResult, string) {
	if len(idx.products) == 0 {
		return empty(), "none"
	}

	if items := e.byBrand(idx, q); len(items) > 0 {
		return result(models.SearchExact, e.sample(items)), "brand"
	}

	if items := e.byCategory(idx, q); len(items) > 0 {
		return result(models.SearchRecommendedSample, e.sample(items)), "category"
	}

	if q.price > 0 && len(q.keywords) == 0 {
		if items := idx.atPrice(q.price); len(items) > 0 {
			slices.SortStableFunc(items, func(a, b models.Product) int {
				return strings.Compare(a.Title, b.Title)
			})
			return result(models.SearchExact, items[:min(len(items), MaxResults)]), "price"
		}
	}

	if items := e.byKeywords(idx, q); len(items) > 0 {
		return result(models.SearchExact, items[:min(len(items), MaxResults)]), "keywords"
	}

	if q.price > 0 {
		if items := idx.atPrice(q.price); len(items) > 0 {
			return result(models.SearchExact, e.sample(items)), "price_fallback"
		}
	}

	return empty(), "none"
}

func (e *Engine) byBrand(idx *index, q query) []models.Product {
	var matched []models.Product

	for _, v := range idx.vendors {
		if strings.Contains(q.normalized, v.name) {
			for _, i := range v.positions {
				matched = append(matched, idx.products[i])
			}
		}
	}

	if len(matched) == 0 {
		return nil
	}

	return e.narrowToPrice(matched, q.price)
}

func (e *Engine) byCategory(idx *index, q query) []models.Product {
	for _, c := range categories {
		if !containsAny(q.normalized, c.synonyms) {
			continue
		}

		var candidates []models.Product
		for i, p := range idx.products {
			if strings.Contains(idx.category[i], c.name) || strings.Contains(idx.tags[i], c.name) {
				candidates = append(candidates, p)
			}
		}

		if len(candidates) == 0 {
			for _, p := range idx.products {
				if containsAny(p.SearchText, c.synonyms) {
					candidates = append(candidates, p)
				}
			}
		}

		if candidates = e.narrowToPrice(candidates, q.price); len(candidates) > 0 {
			return candidates
		}
	}

	return nil
}

type scored struct {
	product models.Product
	score   int
}

func (e *Engine) byKeywords(idx *index, q query) []models.Product {
	if len(q.keywords) == 0 {
		return nil
	}

	var results []scored
	for _, p := range idx.products {
		score := 0
		for _, kw := range q.keywords {
			if strings.Contains(p.SearchText, kw) {
				score++
			}
		}

		if q.price > 0 && p.PriceInt() == q.price {
			score += priceBonus
		}

		if score > 0 {
			results = append(results, scored{product: p, score: score})
		}
	}

	slices.SortStableFunc(results, func(a, b scored) int {
		return b.score - a.score
	})

	items := make([]models.Product, 0, len(results))
	for _, r := range results {
		items = append(items, r.product)
	}

	return e.narrowToPrice(items, q.price)
}

// narrowToPrice оставляет продукты с ценой price, если такие есть. Иначе набор
// возвращается как есть, а в строгом режиме пустым.
func (e *Engine) narrowToPrice(items []models.Product, price int64) []models.Product {
	if price == 0 || len(items) == 0 {
		return items
	}

	var atPrice []models.Product
	for _, p := range items {
		if p.PriceInt() == price {
			atPrice = append(atPrice, p)
		}
	}

	if len(atPrice) > 0 {
		return atPrice
	}

	if e.strictPrice {
		return nil
	}

	return items
}

// sample возвращает до MaxResults элементов в случайном порядке, не меняя вход.
func (e *Engine) sample(items []models.Product) []models.Product {
	out := slices.Clone(items)
	e.shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})

	return out[:min(len(out), MaxResults)]
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func result(kind models.SearchKind, items []models.Product) models.SearchResult {
	return models.SearchResult{Kind: kind, Items: items}
}

func empty() models.SearchResult {
	return models.SearchResult{Kind: models.SearchEmpty, Items: []models.Product{}}
}
