package transliterate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/snarg/subtitle-engine/internal/metrics"
	"github.com/snarg/subtitle-engine/internal/subtitle"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
	"golang.org/x/text/unicode/norm"
)

// Temperature is the sampling temperature used when none is configured.
const Temperature float32 = 0.3

// FailedError reports the segment whose transliteration failed. The whole
// batch is abandoned when any segment fails.
type FailedError struct {
	SegmentIndex int
	Err          error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("transliteration of segment %d failed: %v", e.SegmentIndex, e.Err)
}

func (e *FailedError) Unwrap() error { return e.Err }

// Options configures a Transliterator.
type Options struct {
	SourceLanguage string // BCP-47, e.g. "ta-IN"
	TargetLanguage string // BCP-47, e.g. "en"
	Temperature    float32
	Concurrency    int
	MaxRetries     int
	CallTimeout    time.Duration // per completion attempt; 0 = none
	Log            zerolog.Logger
}

// Transliterator converts segment text from one script to another, one
// completion per segment.
type Transliterator struct {
	completer   Completer
	prompt      string
	temperature float32
	concurrency int
	maxRetries  uint64
	callTimeout time.Duration
	log         zerolog.Logger
}

// New creates a Transliterator. It fails if either language is not a valid
// BCP-47 tag.
func New(completer Completer, opts Options) (*Transliterator, error) {
	src, err := language.Parse(opts.SourceLanguage)
	if err != nil {
		return nil, fmt.Errorf("source language %q: %w", opts.SourceLanguage, err)
	}
	dst, err := language.Parse(opts.TargetLanguage)
	if err != nil {
		return nil, fmt.Errorf("target language %q: %w", opts.TargetLanguage, err)
	}
	if opts.Temperature == 0 {
		opts.Temperature = Temperature
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Transliterator{
		completer:   completer,
		prompt:      SystemPrompt(src, dst),
		temperature: opts.Temperature,
		concurrency: opts.Concurrency,
		maxRetries:  uint64(opts.MaxRetries),
		callTimeout: opts.CallTimeout,
		log:         opts.Log,
	}, nil
}

// SystemPrompt builds the fixed instruction sent with every segment. It asks
// for a script conversion only, never a translation.
func SystemPrompt(src, dst language.Tag) string {
	from := languageName(src)
	to := languageName(dst)
	return fmt.Sprintf("You are a %s language expert. Transliterate the following %s text into %s characters. "+
		"Do not translate the meaning, only convert the %s script to %s characters that sound the same when pronounced.",
		from, from, to, from, to)
}

func languageName(tag language.Tag) string {
	base, _ := tag.Base()
	if name := display.English.Languages().Name(base); name != "" {
		return name
	}
	return base.String()
}

// Transliterate fills Transliterated on a copy of every segment. Segments are
// processed concurrently up to the configured limit and returned in index
// order. On the first failure the remaining calls are cancelled and a
// *FailedError is returned with no partial result.
func (t *Transliterator) Transliterate(ctx context.Context, segs []subtitle.Segment) ([]subtitle.Segment, error) {
	out := make([]subtitle.Segment, len(segs))
	if len(segs) == 0 {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.concurrency)
	for i, seg := range segs {
		i, seg := i, seg
		g.Go(func() error {
			text, err := t.segment(gctx, seg.Text)
			if err != nil {
				return &FailedError{SegmentIndex: seg.Index, Err: err}
			}
			seg.Transliterated = text
			out[i] = seg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return subtitle.Sorted(out), nil
}

func (t *Transliterator) segment(ctx context.Context, text string) (string, error) {
	var result string
	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		callCtx := ctx
		if t.callTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, t.callTimeout)
			defer cancel()
		}

		out, err := t.completer.Complete(callCtx, t.prompt, text, t.temperature)
		if err != nil {
			metrics.TransliterationCallsTotal.WithLabelValues("error").Inc()
			if ctx.Err() != nil || !retryable(err) {
				return backoff.Permanent(err)
			}
			t.log.Debug().Err(err).Msg("completion failed, retrying")
			return err
		}
		out = norm.NFC.String(strings.TrimSpace(out))
		if out == "" {
			metrics.TransliterationCallsTotal.WithLabelValues("empty").Inc()
			return errors.New("empty completion")
		}
		metrics.TransliterationCallsTotal.WithLabelValues("ok").Inc()
		result = out
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(b, t.maxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return "", err
	}
	return result, nil
}
