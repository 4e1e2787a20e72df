package speech

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/localchat/internal/config"
)

// speechClient is the subset of openai.Client used by Kokoro.
type speechClient interface {
	CreateSpeech(ctx context.Context, request openai.CreateSpeechRequest) (openai.RawResponse, error)
}

// Kokoro synthesizes through an OpenAI-compatible /audio/speech endpoint
// (for example Kokoro-FastAPI), requesting raw 16-bit PCM.
type Kokoro struct {
	client     speechClient
	model      string
	sampleRate int
}

var _ Synthesizer = (*Kokoro)(nil)

// NewKokoro builds a Kokoro synthesizer from the tts configuration.
func NewKokoro(cfg config.TTSConfig) *Kokoro {
	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = cfg.BaseURL
	if cfg.Timeout > 0 {
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Kokoro{
		client:     openai.NewClientWithConfig(oc),
		model:      cfg.Model,
		sampleRate: cfg.SampleRate,
	}
}

func (k *Kokoro) SampleRate() int { return k.sampleRate }

// Synthesize implements Synthesizer.
func (k *Kokoro) Synthesize(ctx context.Context, text, voice string, speed float64) ([]float32, error) {
	resp, err := k.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(k.model),
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatPcm,
		Speed:          speed,
	})
	if err != nil {
		return nil, fmt.Errorf("kokoro: create speech: %w", err)
	}
	defer resp.Close()

	pcm, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("kokoro: read audio: %w", err)
	}
	return pcmToFloat(pcm), nil
}
