package gemini

import (
	"context"
	"errors"
	"testing"

	"github.com/eleven-am/voice-bridge/internal/live"
	"google.golang.org/genai"
)

func TestBuildConnectConfig(t *testing.T) {
	cfg := BuildConnectConfig(live.ConnectConfig{
		Model:               live.DefaultModel,
		Voice:               "Zephyr",
		SystemInstruction:   "You are a helpful assistant.",
		ResponseModalities:  []string{"audio"},
		InputTranscription:  true,
		OutputTranscription: true,
	})

	if len(cfg.ResponseModalities) != 1 || cfg.ResponseModalities[0] != genai.ModalityAudio {
		t.Errorf("modalities = %v", cfg.ResponseModalities)
	}
	if cfg.SpeechConfig == nil || cfg.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName != "Zephyr" {
		t.Error("voice not configured")
	}
	if cfg.SystemInstruction == nil || cfg.SystemInstruction.Parts[0].Text != "You are a helpful assistant." {
		t.Error("system instruction not configured")
	}
	if cfg.InputAudioTranscription == nil || cfg.OutputAudioTranscription == nil {
		t.Error("transcription not enabled")
	}
}

func TestBuildConnectConfig_Minimal(t *testing.T) {
	cfg := BuildConnectConfig(live.ConnectConfig{})
	if len(cfg.ResponseModalities) != 1 || cfg.ResponseModalities[0] != genai.ModalityAudio {
		t.Errorf("default modality = %v", cfg.ResponseModalities)
	}
	if cfg.SpeechConfig != nil || cfg.SystemInstruction != nil {
		t.Error("empty voice and instruction should be omitted")
	}
	if cfg.InputAudioTranscription != nil || cfg.OutputAudioTranscription != nil {
		t.Error("transcription should stay disabled")
	}
}

func TestParseBackend(t *testing.T) {
	tests := map[string]genai.Backend{
		"":       genai.BackendGeminiAPI,
		"gemini": genai.BackendGeminiAPI,
		"vertex": genai.BackendVertexAI,
		"Vertex": genai.BackendVertexAI,
	}
	for in, want := range tests {
		if got := parseBackend(in); got != want {
			t.Errorf("parseBackend(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewDialer_RequiresAPIKey(t *testing.T) {
	_, err := NewDialer(context.Background(), Config{}, nil)
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("error = %v, want ErrMissingAPIKey", err)
	}
}

func TestNewDialer(t *testing.T) {
	d, err := NewDialer(context.Background(), Config{APIKey: "test-key"}, nil)
	if err != nil {
		t.Fatalf("NewDialer: %v", err)
	}
	if d.client == nil {
		t.Error("client should be created")
	}
}
