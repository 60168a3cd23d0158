package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/eleven-am/voice-bridge/internal/live"
	"google.golang.org/genai"
)

var ErrMissingAPIKey = errors.New("gemini api key is required")

type Config struct {
	APIKey   string
	Backend  string
	Project  string
	Location string
}

// Dialer opens Gemini Live sessions. It implements live.Dialer.
type Dialer struct {
	client *genai.Client
	log    *slog.Logger
}

func NewDialer(ctx context.Context, cfg Config, log *slog.Logger) (*Dialer, error) {
	if log == nil {
		log = slog.Default()
	}

	backend := parseBackend(cfg.Backend)
	if backend == genai.BackendGeminiAPI && cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:   cfg.APIKey,
		Backend:  backend,
		Project:  cfg.Project,
		Location: cfg.Location,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &Dialer{
		client: client,
		log:    log.With("component", "gemini_dialer", "backend", backend.String()),
	}, nil
}

func (d *Dialer) Connect(ctx context.Context, cfg live.ConnectConfig) (live.Remote, error) {
	sess, err := d.client.Live.Connect(ctx, cfg.Model, BuildConnectConfig(cfg))
	if err != nil {
		return nil, err
	}

	d.log.Debug("live session opened", "model", cfg.Model, "voice", cfg.Voice)
	return newSession(sess, d.log.With("model", cfg.Model)), nil
}

// BuildConnectConfig maps the bridge setup onto the Live API setup message.
func BuildConnectConfig(cfg live.ConnectConfig) *genai.LiveConnectConfig {
	out := &genai.LiveConnectConfig{}

	for _, m := range cfg.ResponseModalities {
		out.ResponseModalities = append(out.ResponseModalities, genai.Modality(strings.ToUpper(m)))
	}
	if len(out.ResponseModalities) == 0 {
		out.ResponseModalities = []genai.Modality{genai.ModalityAudio}
	}

	if cfg.SystemInstruction != "" {
		out.SystemInstruction = genai.NewContentFromText(cfg.SystemInstruction, genai.RoleUser)
	}

	if cfg.Voice != "" {
		out.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}

	if cfg.InputTranscription {
		out.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if cfg.OutputTranscription {
		out.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return out
}

func parseBackend(s string) genai.Backend {
	switch strings.ToLower(s) {
	case "vertex", "vertexai", "vertex_ai":
		return genai.BackendVertexAI
	default:
		return genai.BackendGeminiAPI
	}
}
