package search

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	resp "glamstore/internal/lib/api/response"
	"glamstore/internal/models"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

const maxQueryLen = 500

type Response struct {
	resp.Response
	models.SearchResult
}

type Searcher interface {
	Search(ctx context.Context, rawQuery string) models.SearchResult
}

func New(log *slog.Logger, searcher Searcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.search.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			log.Debug("Empty query")

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("query parameter q is required"))

			return
		}

		if len(q) > maxQueryLen {
			q = q[:maxQueryLen]
		}

		res := searcher.Search(r.Context(), q)

		log.Info("Search served",
			slog.String("kind", string(res.Kind)),
			slog.Int("items", len(res.Items)),
		)

		render.JSON(w, r, Response{
			Response:     resp.OK(),
			SearchResult: res,
		})
	}
}
