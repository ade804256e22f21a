package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/snarg/subtitle-engine/internal/events"
	"github.com/snarg/subtitle-engine/internal/subtitle"
)

// SubtitleStore is the owner-scoped persistence used by the CRUD routes.
type SubtitleStore interface {
	ListSubtitles(ctx context.Context, userID string) ([]subtitle.Summary, error)
	GetSubtitle(ctx context.Context, id, userID string) (*subtitle.Subtitle, error)
	ReplaceSubtitle(ctx context.Context, id, userID, title string, content []subtitle.Segment) (*subtitle.Subtitle, error)
	DeleteSubtitle(ctx context.Context, id, userID string) error
}

type SubtitlesHandler struct {
	store  SubtitleStore
	events events.Publisher
}

func NewSubtitlesHandler(store SubtitleStore, pub events.Publisher) *SubtitlesHandler {
	if pub == nil {
		pub = events.Nop{}
	}
	return &SubtitlesHandler{store: store, events: pub}
}

func (h *SubtitlesHandler) Routes(r chi.Router) {
	r.Get("/subtitles", h.List)
	r.Get("/subtitles/{id}", h.Get)
	r.Put("/subtitles/{id}", h.Replace)
	r.Delete("/subtitles/{id}", h.Delete)
	r.Get("/subtitles/{id}/export", h.Export)
}

func (h *SubtitlesHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListSubtitles(r.Context(), UserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err, "Failed to fetch subtitles")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"subtitles": list})
}

func (h *SubtitlesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid subtitle id")
		return
	}
	sub, err := h.store.GetSubtitle(r.Context(), id, UserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err, "Failed to fetch subtitle")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"subtitle": sub})
}

type replaceRequest struct {
	Title   string          `json:"title"`
	Content json.RawMessage `json:"content"`
}

// Replace handles PUT: title must be non-empty and content a JSON array of
// valid segments.
func (h *SubtitlesHandler) Replace(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid subtitle id")
		return
	}

	var req replaceRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request data")
		return
	}
	title := strings.TrimSpace(req.Title)
	raw := bytes.TrimSpace(req.Content)
	if title == "" || len(raw) == 0 || raw[0] != '[' {
		WriteError(w, http.StatusBadRequest, "Invalid request data")
		return
	}
	var content []subtitle.Segment
	if err := json.Unmarshal(raw, &content); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request data")
		return
	}
	if err := subtitle.Validate(content); err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("Invalid content: %v", err))
		return
	}

	userID := UserID(r.Context())
	sub, err := h.store.ReplaceSubtitle(r.Context(), id, userID, title, subtitle.Sorted(content))
	if err != nil {
		writeServiceError(w, r, err, "Failed to update subtitle")
		return
	}
	h.events.Publish(events.Event{
		Action:     events.Updated,
		UserID:     userID,
		SubtitleID: sub.ID,
		Title:      sub.Title,
		Segments:   len(sub.Content),
	})
	WriteJSON(w, http.StatusOK, map[string]any{"subtitle": sub})
}

func (h *SubtitlesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid subtitle id")
		return
	}
	userID := UserID(r.Context())
	if err := h.store.DeleteSubtitle(r.Context(), id, userID); err != nil {
		writeServiceError(w, r, err, "Failed to delete subtitle")
		return
	}
	h.events.Publish(events.Event{Action: events.Deleted, UserID: userID, SubtitleID: id})
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Export returns the subtitle as an SRT attachment.
func (h *SubtitlesHandler) Export(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid subtitle id")
		return
	}
	sub, err := h.store.GetSubtitle(r.Context(), id, UserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err, "Error exporting subtitle")
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, subtitle.ExportFilename(sub.Title)))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(subtitle.ToSRT(sub.Content)))
}
