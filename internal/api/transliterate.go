package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/snarg/subtitle-engine/internal/subtitle"
)

// SubtitleCreator runs segmentation, transliteration and the initial save.
type SubtitleCreator interface {
	Transliterate(ctx context.Context, userID, title, transcript string) (*subtitle.Subtitle, error)
}

type TransliterateHandler struct {
	pipeline SubtitleCreator
}

func NewTransliterateHandler(p SubtitleCreator) *TransliterateHandler {
	return &TransliterateHandler{pipeline: p}
}

type transliterateRequest struct {
	Transcription string `json:"transcription"`
	Title         string `json:"title"`
}

type transliterateResponse struct {
	ID        string             `json:"id"`
	Subtitles []subtitle.Segment `json:"subtitles"`
}

func (h *TransliterateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req transliterateRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Transcription) == "" {
		WriteError(w, http.StatusBadRequest, "No transcription provided")
		return
	}

	sub, err := h.pipeline.Transliterate(r.Context(), UserID(r.Context()), strings.TrimSpace(req.Title), req.Transcription)
	if err != nil {
		writeServiceError(w, r, err, "Error processing transliteration")
		return
	}

	WriteJSON(w, http.StatusOK, transliterateResponse{ID: sub.ID, Subtitles: sub.Content})
}
