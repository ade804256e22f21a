package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/hlog"
	"github.com/snarg/subtitle-engine/internal/auth"
	"github.com/snarg/subtitle-engine/internal/database"
	"github.com/snarg/subtitle-engine/internal/pipeline"
	"github.com/snarg/subtitle-engine/internal/storage"
	"github.com/snarg/subtitle-engine/internal/transcribe"
	"github.com/snarg/subtitle-engine/internal/transliterate"
)

// writeServiceError maps a stage error to a status and a client-safe
// message. The full error is only logged.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	log := hlog.FromRequest(r)

	if r.Context().Err() != nil && errors.Is(err, context.Canceled) {
		log.Info().Err(err).Msg("request cancelled by client")
		return
	}

	status, code := classify(err)
	switch code {
	case ErrUnauthorized:
		msg = "Unauthorized"
	case ErrNotFound:
		msg = "Subtitle not found"
	case ErrForbidden:
		msg = "Not allowed to modify this subtitle"
	case ErrUpstreamTimeout:
		msg = "Upstream service timed out"
	case ErrValidation:
		msg = validationMessage(err, msg)
	}

	ev := log.Warn()
	if status >= 500 {
		ev = log.Error()
	}
	ev.Err(err).Int("status", status).Str("code", code).Msg(msg)
	WriteErrorWithCode(w, status, code, msg)
}

func classify(err error) (int, string) {
	var (
		writeErr  *storage.WriteError
		recogErr  *transcribe.FailedError
		upErr     *transcribe.UpstreamError
		translErr *transliterate.FailedError
	)
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, ErrUnauthorized
	case errors.Is(err, storage.ErrUnsupportedFormat), errors.Is(err, pipeline.ErrEmptyTranscript):
		return http.StatusBadRequest, ErrValidation
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound, ErrNotFound
	case errors.Is(err, database.ErrForbidden):
		return http.StatusForbidden, ErrForbidden
	case errors.Is(err, transcribe.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrUpstreamTimeout
	case errors.As(err, &writeErr), errors.As(err, &recogErr), errors.As(err, &upErr), errors.As(err, &translErr):
		return http.StatusBadGateway, ErrUpstream
	default:
		return http.StatusInternalServerError, ErrInternal
	}
}

func validationMessage(err error, fallback string) string {
	switch {
	case errors.Is(err, storage.ErrUnsupportedFormat):
		return "Unsupported audio format"
	case errors.Is(err, pipeline.ErrEmptyTranscript):
		return "No transcription provided"
	}
	return fallback
}
