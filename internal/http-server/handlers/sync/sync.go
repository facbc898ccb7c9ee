package syncCatalog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"glamstore/internal/catalog"
	resp "glamstore/internal/lib/api/response"
	sl "glamstore/internal/lib/logger"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type Request struct {
	Force bool `json:"force"`
	// длительность Go, например "15m"; пусто - из конфига
	MaxAge string `json:"max_age"`
	// синхронизировать в запросе и вернуть результат
	Wait bool `json:"wait"`
}

type Response struct {
	resp.Response
	Started bool `json:"started"`
}

type Syncer interface {
	ForceSync() bool
	TriggerSyncIfStale(maxAge time.Duration) bool
	SyncNow(ctx context.Context) error
}

func New(log *slog.Logger, syncer Syncer, staleAfter time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.sync.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req Request

		r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
		if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
			log.Error("Failed to decode request body", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("Failed to decode request"))

			return
		}

		maxAge := staleAfter
		if req.MaxAge != "" {
			d, err := time.ParseDuration(req.MaxAge)
			if err != nil || d < 0 {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, resp.Error("field MaxAge is not valid"))

				return
			}
			maxAge = d
		}

		if req.Wait {
			err := syncer.SyncNow(r.Context())
			switch {
			case errors.Is(err, catalog.ErrSyncInProgress):
				render.Status(r, http.StatusConflict)
				render.JSON(w, r, resp.Error("Sync already running"))

				return
			case err != nil:
				log.Error("Sync failed", sl.Err(err))

				render.Status(r, http.StatusBadGateway)
				render.JSON(w, r, resp.Error("Sync failed"))

				return
			}

			log.Info("Sync finished")
			render.JSON(w, r, Response{Response: resp.OK(), Started: true})

			return
		}

		var started bool
		if req.Force {
			started = syncer.ForceSync()
		} else {
			started = syncer.TriggerSyncIfStale(maxAge)
		}

		log.Info("Sync requested", slog.Bool("force", req.Force), slog.Bool("started", started))

		render.Status(r, http.StatusAccepted)
		render.JSON(w, r, Response{Response: resp.OK(), Started: started})
	}
}
