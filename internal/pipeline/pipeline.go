// Package pipeline runs the audio-to-subtitle stages for one request.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/subtitle-engine/internal/events"
	"github.com/snarg/subtitle-engine/internal/metrics"
	"github.com/snarg/subtitle-engine/internal/storage"
	"github.com/snarg/subtitle-engine/internal/subtitle"
)

// ErrEmptyTranscript is returned when there is nothing to transliterate.
var ErrEmptyTranscript = errors.New("no transcription provided")

type Ingester interface {
	Ingest(ctx context.Context, ownerID, filename string, data []byte) (*storage.Blob, error)
	Remove(ctx context.Context, key string) error
}

type Recognizer interface {
	Recognize(ctx context.Context, mediaURI, languageCode, mediaFormat string) (string, error)
}

type Transliterator interface {
	Transliterate(ctx context.Context, segs []subtitle.Segment) ([]subtitle.Segment, error)
}

type Store interface {
	InsertSubtitle(ctx context.Context, userID, title string, content []subtitle.Segment) (*subtitle.Subtitle, error)
}

// Options wires the pipeline's collaborators. Events may be nil.
type Options struct {
	Ingester       Ingester
	Recognizer     Recognizer
	Transliterator Transliterator
	Store          Store
	Events         events.Publisher
	LanguageCode   string
	Log            zerolog.Logger
}

// Pipeline holds no per-request state; every call is independent.
type Pipeline struct {
	ingester       Ingester
	recognizer     Recognizer
	transliterator Transliterator
	store          Store
	events         events.Publisher
	languageCode   string
	log            zerolog.Logger

	transcribing    atomic.Int64
	transliterating atomic.Int64
}

func New(opts Options) *Pipeline {
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	return &Pipeline{
		ingester:       opts.Ingester,
		recognizer:     opts.Recognizer,
		transliterator: opts.Transliterator,
		store:          opts.Store,
		events:         opts.Events,
		languageCode:   opts.LanguageCode,
		log:            opts.Log,
	}
}

// InFlight reports running invocations per pipeline, for the metrics collector.
func (p *Pipeline) InFlight() map[string]int64 {
	return map[string]int64{
		"transcribe":    p.transcribing.Load(),
		"transliterate": p.transliterating.Load(),
	}
}

// Transcribe stores the upload, recognizes it and returns the transcript.
// The stored blob is removed whether recognition succeeds, fails or is
// cancelled.
func (p *Pipeline) Transcribe(ctx context.Context, userID, filename string, data []byte) (string, error) {
	p.transcribing.Add(1)
	defer p.transcribing.Add(-1)

	log := p.log.With().Str("user_id", userID).Str("filename", filename).Logger()

	start := time.Now()
	blob, err := p.ingester.Ingest(ctx, userID, filename, data)
	metrics.ObserveStage("ingest", start, err)
	if err != nil {
		return "", err
	}
	log = log.With().Str("key", blob.Key).Logger()
	log.Debug().Int("bytes", len(data)).Msg("audio ingested")

	defer func() {
		start := time.Now()
		err := p.ingester.Remove(ctx, blob.Key)
		metrics.ObserveStage("cleanup", start, err)
		if err != nil {
			log.Error().Err(err).Msg("failed to remove transient audio")
		}
	}()

	start = time.Now()
	text, err := p.recognizer.Recognize(ctx, blob.URL, p.languageCode, blob.Format)
	metrics.ObserveStage("recognize", start, err)
	if err != nil {
		return "", err
	}
	log.Info().Int("chars", len(text)).Dur("duration", time.Since(start)).Msg("transcription complete")
	return text, nil
}

// Transliterate segments the transcript, transliterates every segment and
// saves the result as a new subtitle. Nothing is saved unless every segment
// succeeded.
func (p *Pipeline) Transliterate(ctx context.Context, userID, title, transcript string) (*subtitle.Subtitle, error) {
	p.transliterating.Add(1)
	defer p.transliterating.Add(-1)

	if strings.TrimSpace(transcript) == "" {
		return nil, ErrEmptyTranscript
	}
	segs := subtitle.Split(transcript)
	if len(segs) == 0 {
		return nil, ErrEmptyTranscript
	}

	start := time.Now()
	out, err := p.transliterator.Transliterate(ctx, segs)
	metrics.ObserveStage("transliterate", start, err)
	if err != nil {
		return nil, err
	}

	start = time.Now()
	sub, err := p.store.InsertSubtitle(ctx, userID, title, out)
	metrics.ObserveStage("save", start, err)
	if err != nil {
		return nil, err
	}

	p.log.Info().
		Str("user_id", userID).
		Str("subtitle_id", sub.ID).
		Int("segments", len(out)).
		Msg("subtitle created")
	p.events.Publish(events.Event{
		Action:     events.Created,
		UserID:     userID,
		SubtitleID: sub.ID,
		Title:      sub.Title,
		Segments:   len(sub.Content),
	})
	return sub, nil
}
