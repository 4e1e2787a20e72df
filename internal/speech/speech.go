// Package speech renders assistant text as audio.
//
// The Adapter sanitizes markdown, serializes every call into the underlying
// model behind a single system-wide lock and encodes the result as 16-bit
// mono PCM, optionally wrapped in a WAV container.
package speech

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/comigor/localchat/internal/logger"
	"github.com/comigor/localchat/internal/markdown"
)

var (
	ErrEmptyInput         = errors.New("speech: input is required")
	ErrInvalidSpeed       = errors.New("speech: speed must be positive")
	ErrUnsupportedFormat  = errors.New("speech: unsupported response format")
	errSynthesizerMissing = errors.New("speech: synthesizer is required")
)

// Response formats accepted by Render.
const (
	FormatWAV = "wav"
	FormatPCM = "pcm"
)

// Content types returned by Render.
const (
	ContentTypeWAV = "audio/wav"
	ContentTypePCM = "audio/pcm"
)

// Synthesizer is the speech model. Implementations need not be safe for
// concurrent use; the Adapter never calls Synthesize concurrently.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string, speed float64) ([]float32, error)
	SampleRate() int
}

// Adapter is the entry point used by the API layer. It is safe for
// concurrent use.
type Adapter struct {
	model        Synthesizer
	lock         *semaphore.Weighted
	defaultVoice string
	defaultSpeed float64
	tracer       trace.Tracer
}

// NewAdapter wraps model. Empty voice and non-positive speed arguments to the
// Synthesize methods fall back to defaultVoice and defaultSpeed.
func NewAdapter(model Synthesizer, defaultVoice string, defaultSpeed float64) (*Adapter, error) {
	if model == nil {
		return nil, errSynthesizerMissing
	}
	if defaultSpeed <= 0 {
		return nil, ErrInvalidSpeed
	}
	return &Adapter{
		model:        model,
		lock:         semaphore.NewWeighted(1),
		defaultVoice: defaultVoice,
		defaultSpeed: defaultSpeed,
		tracer:       otel.Tracer("github.com/comigor/localchat/internal/speech"),
	}, nil
}

// SampleRate is the rate of every sample returned by the Adapter.
func (a *Adapter) SampleRate() int {
	return a.model.SampleRate()
}

// SynthesizeWAV returns a mono 16-bit WAV file. Text that sanitizes to
// nothing yields a WAV holding one silent sample.
func (a *Adapter) SynthesizeWAV(ctx context.Context, text, voice string, speed float64) ([]byte, error) {
	samples, err := a.synthesize(ctx, text, voice, speed)
	if err != nil {
		return nil, err
	}
	return EncodeWAV(samples, a.SampleRate()), nil
}

// SynthesizePCM returns headerless little-endian 16-bit samples.
func (a *Adapter) SynthesizePCM(ctx context.Context, text, voice string, speed float64) ([]byte, error) {
	samples, err := a.synthesize(ctx, text, voice, speed)
	if err != nil {
		return nil, err
	}
	return PCMBytes(samples), nil
}

// Render dispatches on format ("wav" or "pcm") and returns the audio along
// with its content type.
func (a *Adapter) Render(ctx context.Context, format, text, voice string, speed float64) ([]byte, string, error) {
	switch format {
	case "", FormatWAV:
		b, err := a.SynthesizeWAV(ctx, text, voice, speed)
		return b, ContentTypeWAV, err
	case FormatPCM:
		b, err := a.SynthesizePCM(ctx, text, voice, speed)
		return b, ContentTypePCM, err
	default:
		return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

type synthResult struct {
	samples []float32
	err     error
}

func (a *Adapter) synthesize(ctx context.Context, text, voice string, speed float64) ([]int16, error) {
	if speed < 0 {
		return nil, ErrInvalidSpeed
	}
	if speed == 0 {
		speed = a.defaultSpeed
	}
	if voice == "" {
		voice = a.defaultVoice
	}

	clean := markdown.Sanitize(text)
	if clean == "" {
		return []int16{0}, nil
	}

	ctx, span := a.tracer.Start(ctx, "speech.synthesize", trace.WithAttributes(
		attribute.String("voice", voice),
		attribute.Float64("speed", speed),
		attribute.Int("chars", len(clean)),
	))
	defer span.End()

	if err := a.lock.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("speech: wait for synthesizer: %w", err)
	}

	// The lock is held until the model returns, even if the caller goes away,
	// so no two calls ever overlap inside the model.
	done := make(chan synthResult, 1)
	go func() {
		defer a.lock.Release(1)
		start := time.Now()
		samples, err := a.model.Synthesize(context.WithoutCancel(ctx), clean, voice, speed)
		logger.FromContext(ctx).Debug("synthesis finished", "duration", time.Since(start), "samples", len(samples), "error", err)
		done <- synthResult{samples: samples, err: err}
	}()

	select {
	case <-ctx.Done():
		span.SetStatus(codes.Error, "cancelled")
		return nil, fmt.Errorf("speech: synthesize: %w", ctx.Err())
	case res := <-done:
		if res.err != nil {
			span.RecordError(res.err)
			span.SetStatus(codes.Error, res.err.Error())
			return nil, fmt.Errorf("speech: synthesize: %w", res.err)
		}
		if len(res.samples) == 0 {
			return []int16{0}, nil
		}
		return Quantize(res.samples), nil
	}
}
