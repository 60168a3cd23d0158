package main

import (
	"log/slog"

	"github.com/eleven-am/voice-bridge/internal/bootstrap"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}
	bootstrap.Run()
}
