package live

import "github.com/eleven-am/voice-bridge/internal/audio"

const (
	DefaultModel         = "gemini-2.5-flash-native-audio-preview-12-2025"
	DefaultVoice         = "Zephyr"
	DefaultFrameSize     = 4096
	DefaultSendQueueSize = 32
)

type Config struct {
	UserID            string
	Model             string
	Voice             string
	SystemInstruction string

	InputSampleRate  int
	OutputSampleRate int
	Channels         int
	FrameSize        int
	SendQueueSize    int

	RestartPolicy  RestartPolicy
	StatusMessages map[State]string
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Voice == "" {
		c.Voice = DefaultVoice
	}
	if c.InputSampleRate <= 0 {
		c.InputSampleRate = audio.InputSampleRate
	}
	if c.OutputSampleRate <= 0 {
		c.OutputSampleRate = audio.OutputSampleRate
	}
	if c.Channels <= 0 {
		c.Channels = audio.Channels
	}
	if c.FrameSize <= 0 {
		c.FrameSize = DefaultFrameSize
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = DefaultSendQueueSize
	}
	if c.RestartPolicy == "" {
		c.RestartPolicy = RestartReject
	}
	return c
}

func (c Config) connectConfig() ConnectConfig {
	return ConnectConfig{
		Model:               c.Model,
		Voice:               c.Voice,
		SystemInstruction:   c.SystemInstruction,
		ResponseModalities:  []string{ModalityAudio},
		InputTranscription:  true,
		OutputTranscription: true,
	}
}

func (c Config) statusText(state State) string {
	if text, ok := c.StatusMessages[state]; ok {
		return text
	}
	return DefaultStatusMessages[state]
}
