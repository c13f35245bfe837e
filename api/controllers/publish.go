package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/akua-anchor/api/responses"
	"github.com/angelmondragon/akua-anchor/api/validators"
	"github.com/angelmondragon/akua-anchor/internal/publisher"
	pkgerrors "github.com/angelmondragon/akua-anchor/pkg/errors"
	"github.com/angelmondragon/akua-anchor/pkg/logger"
)

type publishOptions struct {
	IdempotencyKey string `json:"idempotencyKey" validate:"omitempty,max=255"`
}

// PublishRequest is the body of POST /publish.
type PublishRequest struct {
	SHA256  string         `json:"sha256" validate:"required,sha256hex"`
	Meta    map[string]any `json:"meta"`
	Options publishOptions `json:"options"`
}

func Publish(svc publisher.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body PublishRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithHash(ctx, body.SHA256)
			if body.Options.IdempotencyKey != "" {
				ctx = logg.WithField(ctx, "idempotency_key", body.Options.IdempotencyKey)
			}
		}

		result, err := svc.Publish(ctx, publisher.PublishInput{SHA256: body.SHA256, Meta: body.Meta})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func GetPublish(svc publisher.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hash := chi.URLParam(r, "sha256")
		if !publisher.ValidSHA256(hash) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "sha256 must be 64 lowercase hex characters"))
			return
		}

		record, err := svc.Get(r.Context(), hash)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, record)
	}
}
