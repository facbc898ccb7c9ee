package status

import (
	"context"
	"log/slog"
	"net/http"

	resp "glamstore/internal/lib/api/response"
	sl "glamstore/internal/lib/logger"
	"glamstore/internal/models"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type Response struct {
	resp.Response
	models.SyncStatus
	MagazineMode bool `json:"magazine_mode"`
}

type StatusProvider interface {
	Status() models.SyncStatus
	Mode(ctx context.Context) (bool, error)
}

func New(log *slog.Logger, provider StatusProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.status.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		magazine, err := provider.Mode(r.Context())
		if err != nil {
			log.Warn("Failed to read operating mode", sl.Err(err))
		}

		render.JSON(w, r, Response{
			Response:     resp.OK(),
			SyncStatus:   provider.Status(),
			MagazineMode: magazine,
		})
	}
}
