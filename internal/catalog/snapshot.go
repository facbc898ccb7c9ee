package catalog

import "glamstore/internal/models"

// Snapshot - неизменяемое представление каталога. Заменяется целиком после
// каждой успешной синхронизации, читатели его не меняют.
type Snapshot struct {
	Version  uint64
	products []models.Product
	byID     map[int64]int
}

// NewSnapshot индексирует продукты по id. Слайс не копируется.
func NewSnapshot(version uint64, products []models.Product) *Snapshot {
	byID := make(map[int64]int, len(products))
	for i, p := range products {
		byID[p.ID] = i
	}

	return &Snapshot{
		Version:  version,
		products: products,
		byID:     byID,
	}
}

// Products возвращает каталог в порядке хранилища. Слайс общий.
func (s *Snapshot) Products() []models.Product {
	return s.products
}

func (s *Snapshot) Len() int {
	return len(s.products)
}

func (s *Snapshot) Product(id int64) (models.Product, bool) {
	i, ok := s.byID[id]
	if !ok {
		return models.Product{}, false
	}
	return s.products[i], true
}
