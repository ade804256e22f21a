package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/snarg/subtitle-engine/internal/subtitle"
)

// Transcriber runs the ingest and recognition stages.
type Transcriber interface {
	Transcribe(ctx context.Context, userID, filename string, data []byte) (string, error)
}

type TranscribeHandler struct {
	pipeline      Transcriber
	maxUploadSize int64
}

func NewTranscribeHandler(p Transcriber, maxUploadSize int64) *TranscribeHandler {
	return &TranscribeHandler{pipeline: p, maxUploadSize: maxUploadSize}
}

type transcribeResponse struct {
	Transcription string `json:"transcription"`
	Title         string `json:"title"`
}

// ServeHTTP handles POST /transcribe with a multipart "audio" file and an
// optional "title" field.
func (h *TranscribeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadSize > 0 {
		if r.ContentLength > h.maxUploadSize {
			WriteError(w, http.StatusRequestEntityTooLarge, "Audio file too large")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, "Audio file too large")
			return
		}
		WriteError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "No audio file provided")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Failed to read audio file")
		return
	}
	if len(data) == 0 {
		WriteError(w, http.StatusBadRequest, "No audio file provided")
		return
	}

	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		title = subtitle.DefaultTitle
	}

	text, err := h.pipeline.Transcribe(r.Context(), UserID(r.Context()), header.Filename, data)
	if err != nil {
		writeServiceError(w, r, err, "Error processing audio file")
		return
	}

	WriteJSON(w, http.StatusOK, transcribeResponse{Transcription: text, Title: title})
}
