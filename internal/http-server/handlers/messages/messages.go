package messages

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	resp "glamstore/internal/lib/api/response"
	sl "glamstore/internal/lib/logger"
	"glamstore/internal/middleware/inbound"
	"glamstore/internal/models"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	validator "github.com/go-playground/validator/v10"
)

type Request struct {
	MessageID string `json:"message_id"`
	Sender    string `json:"sender" validate:"required"`
	Text      string `json:"text" validate:"required"`
}

type Response struct {
	resp.Response
	Outcome string               `json:"outcome"`
	Result  *models.SearchResult `json:"result,omitempty"`
}

type MessageHandler interface {
	Handle(ctx context.Context, msg inbound.Message) inbound.Outcome
}

func New(
	log *slog.Logger,
	handler MessageHandler,
	validate *validator.Validate,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.messages.New"

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
			errors.As(err, &validateErr)

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.ValidationError(validateErr))

			return
		}

		out := handler.Handle(r.Context(), inbound.Message{
			ID:     req.MessageID,
			Sender: req.Sender,
			Text:   req.Text,
		})

		if out.Status == inbound.StatusRateLimited {
			render.Status(r, http.StatusTooManyRequests)
		}

		render.JSON(w, r, Response{
			Response: resp.OK(),
			Outcome:  out.Status,
			Result:   out.Result,
		})
	}
}
