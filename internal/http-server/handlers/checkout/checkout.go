package createCheckout

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"glamstore/internal/checkout"
	resp "glamstore/internal/lib/api/response"
	sl "glamstore/internal/lib/logger"
	"glamstore/internal/middleware/inbound"
	"glamstore/internal/models"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	validator "github.com/go-playground/validator/v10"
)

type Request struct {
	IDs []int64 `json:"ids" validate:"required,min=1,dive,gt=0"`
}

type Response struct {
	resp.Response
	*models.CheckoutResult
}

type Checkouter interface {
	Checkout(ctx context.Context, ids []int64) (*models.CheckoutResult, error)
}

func New(
	log *slog.Logger,
	checkouter Checkouter,
	validate *validator.Validate,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.checkout.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req Request

		r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // * 1 МБ лимит запроса
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Error("Failed to decode request body", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("Failed to decode request"))

			return
		}

		if err := validate.Struct(req); err != nil {
			var validateErr validator.ValidationErrors
			if !errors.As(err, &validateErr) {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, resp.Error("Invalid request"))

				return
			}

			log.Error("Invalid request", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.ValidationError(validateErr))

			return
		}

		res, err := checkouter.Checkout(r.Context(), req.IDs)
		switch {
		case errors.Is(err, inbound.ErrCheckoutDisabled):
			render.Status(r, http.StatusConflict)
			render.JSON(w, r, resp.Error("Checkout is disabled"))

			return
		case errors.Is(err, checkout.ErrNoItems):
			render.Status(r, http.StatusUnprocessableEntity)
			render.JSON(w, r, resp.Error("No known products selected"))

			return
		case err != nil:
			log.Error("Failed to create checkout", sl.Err(err))

			render.Status(r, http.StatusBadGateway)
			render.JSON(w, r, resp.Error("Failed to create order"))

			return
		}

		log.Info("Checkout created", slog.String("reference", res.Reference))

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, Response{
			Response:       resp.OK(),
			CheckoutResult: res,
		})
	}
}
