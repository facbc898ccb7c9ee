package export

import (
	"context"
	"encoding/csv"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	resp "glamstore/internal/lib/api/response"
	sl "glamstore/internal/lib/logger"
	"glamstore/internal/models"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

const timeLayout = "2006-01-02 15:04:05"

var header = []string{"ID", "Título", "Precio", "Stock", "Vendor", "Tags", "Handle", "Última Actualización"}

type ProductsGetter interface {
	Products(ctx context.Context) ([]models.Product, error)
}

// * New отдаёт каталог из хранилища в CSV
func New(log *slog.Logger, getter ProductsGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.export.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		products, err := getter.Products(r.Context())
		if err != nil {
			log.Error("Failed to load products", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="catalogo.csv"`)

		cw := csv.NewWriter(w)
		_ = cw.Write(header)

		for _, p := range products {
			_ = cw.Write([]string{
				strconv.FormatInt(p.ID, 10),
				p.Title,
				p.Price.String(),
				strconv.Itoa(p.Stock),
				p.Vendor,
				strings.Join(p.Tags, ", "),
				p.Handle,
				p.UpdatedAt.UTC().Format(timeLayout),
			})
		}

		cw.Flush()
		if err := cw.Error(); err != nil {
			log.Error("Failed to write csv", sl.Err(err))
			return
		}

		log.Info("Catalog exported", slog.Int("count", len(products)))
	}
}
