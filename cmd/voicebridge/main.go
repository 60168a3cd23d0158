package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/eleven-am/voice-bridge/internal/bootstrap"
	"github.com/eleven-am/voice-bridge/internal/device"
	"github.com/eleven-am/voice-bridge/internal/gemini"
	"github.com/eleven-am/voice-bridge/internal/live"
	"github.com/joho/godotenv"
)

func main() {
	voice := flag.String("voice", "", "prebuilt voice name")
	instruction := flag.String("instruction", "", "system instruction")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	_ = godotenv.Load()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(*voice, *instruction, log); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(voice, instruction string, log *slog.Logger) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dialer, err := gemini.NewDialer(ctx, gemini.Config{
		APIKey:   cfg.GeminiAPIKey,
		Backend:  cfg.GeminiBackend,
		Project:  cfg.GeminiProject,
		Location: cfg.GeminiLocation,
	}, log)
	if err != nil {
		return err
	}

	liveCfg := cfg.LiveConfig()
	if voice != "" {
		liveCfg.Voice = voice
	}
	if instruction != "" {
		liveCfg.SystemInstruction = instruction
	}

	ended := make(chan struct{})
	var once sync.Once
	bridge, err := live.New(liveCfg, live.Dependencies{
		Dialer:     dialer,
		Microphone: device.NewMicrophone(log),
		Speaker:    device.NewSpeaker(log),
		Callbacks:  printer(func() { once.Do(func() { close(ended) }) }),
	}, log)
	if err != nil {
		return err
	}

	if err := bridge.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-ended:
	}
	bridge.Stop()
	bridge.Wait()
	return nil
}

// printer writes status and transcript lines to stdout and calls ended once
// the session reaches a terminal state.
func printer(ended func()) live.Callbacks {
	return live.Callbacks{
		OnStatus: func(st live.Status) {
			fmt.Printf("[%s] %s\n", st.State, st.Text)
			if st.State == live.StateClosed || st.State == live.StateErrored {
				ended()
			}
		},
		OnEntry: func(e live.Entry) {
			fmt.Printf("%s: %s\n", e.Role, e.Text)
		},
	}
}
