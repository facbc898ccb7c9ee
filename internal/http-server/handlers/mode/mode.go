package mode

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	resp "glamstore/internal/lib/api/response"
	sl "glamstore/internal/lib/logger"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	validator "github.com/go-playground/validator/v10"
)

type Request struct {
	Magazine *bool `json:"magazine" validate:"required"`
}

type Response struct {
	resp.Response
	MagazineMode bool `json:"magazine_mode"`
}

type ModeGetter interface {
	Mode(ctx context.Context) (bool, error)
}

type ModeSetter interface {
	SetMode(ctx context.Context, magazine bool) error
}

func Get(log *slog.Logger, getter ModeGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.mode.Get"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		magazine, err := getter.Mode(r.Context())
		if err != nil {
			log.Error("Failed to read operating mode", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		render.JSON(w, r, Response{Response: resp.OK(), MagazineMode: magazine})
	}
}

func Set(log *slog.Logger, setter ModeSetter, validate *validator.Validate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.mode.Set"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req Request

		r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Error("Failed to decode request body", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("Failed to decode request"))

			return
		}

		if err := validate.Struct(req); err != nil {
			var validateErr validator.ValidationErrors
			errors.As(err, &validateErr)

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.ValidationError(validateErr))

			return
		}

		if err := setter.SetMode(r.Context(), *req.Magazine); err != nil {
			log.Error("Failed to save operating mode", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		log.Info("Operating mode changed", slog.Bool("magazine", *req.Magazine))

		render.JSON(w, r, Response{Response: resp.OK(), MagazineMode: *req.Magazine})
	}
}
