package bootstrap

import (
	"crypto/subtle"
	"log/slog"
	"os"

	"github.com/eleven-am/voice-bridge/internal/gateway"
	"github.com/eleven-am/voice-bridge/internal/session"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
)

type HandlerParams struct {
	fx.In

	GatewayHandler *gateway.Handler
	SessionHandler *session.Handler
	Config         *Config
}

func RegisterRoutes(e *echo.Echo, params HandlerParams) {
	api := e.Group("/api/v1/voice")
	if auth := accessTokenAuth(params.Config.AccessToken); auth != nil {
		api.Use(auth)
	}
	api.Use(gateway.RateLimiter(params.Config.RateLimiterConfig()))

	params.GatewayHandler.RegisterRoutes(api)
	params.SessionHandler.RegisterRoutes(api)
}

// accessTokenAuth returns nil when no token is configured. Browsers cannot
// set headers on a websocket upgrade, so the token is also read from the
// access_token query parameter.
func accessTokenAuth(token string) echo.MiddlewareFunc {
	if token == "" {
		return nil
	}
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup: "header:Authorization:Bearer ,query:access_token",
		Validator: func(key string, c echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(token)) == 1, nil
		},
	})
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func ProvideLogger(cfg *Config) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)
	return logger
}

func ProvideSessionHandler(store *session.Store, logger *slog.Logger) *session.Handler {
	return session.NewHandler(store, logger.With("handler", "session"))
}

var HandlersModule = fx.Options(
	fx.Provide(
		ProvideLogger,
		ProvideSessionHandler,
	),
	fx.Invoke(RegisterRoutes),
)
