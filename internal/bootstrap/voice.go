package bootstrap

import (
	"context"
	"errors"
	"log/slog"

	"github.com/eleven-am/voice-bridge/internal/gateway"
	"github.com/eleven-am/voice-bridge/internal/gemini"
	"github.com/eleven-am/voice-bridge/internal/health"
	"github.com/eleven-am/voice-bridge/internal/live"
	"github.com/eleven-am/voice-bridge/internal/metrics"
	"github.com/eleven-am/voice-bridge/internal/session"
	"github.com/eleven-am/voice-bridge/internal/transcript"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

// unconfiguredDialer lets the server come up without credentials; every
// start fails with a connection error until a key is supplied.
type unconfiguredDialer struct {
	err error
}

func (d unconfiguredDialer) Connect(context.Context, live.ConnectConfig) (live.Remote, error) {
	return nil, d.err
}

type DialerResult struct {
	fx.Out

	Dialer live.Dialer
	Remote health.RemoteConfig
}

func ProvideDialer(lc fx.Lifecycle, cfg *Config, logger *slog.Logger) (DialerResult, error) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})

	dialer, err := gemini.NewDialer(ctx, gemini.Config{
		APIKey:   cfg.GeminiAPIKey,
		Backend:  cfg.GeminiBackend,
		Project:  cfg.GeminiProject,
		Location: cfg.GeminiLocation,
	}, logger)
	if errors.Is(err, gemini.ErrMissingAPIKey) {
		logger.Warn("gemini api key not set, voice sessions will fail to start")
		return DialerResult{
			Dialer: unconfiguredDialer{err: err},
			Remote: health.RemoteConfig{Backend: cfg.GeminiBackend},
		}, nil
	}
	if err != nil {
		cancel()
		return DialerResult{}, err
	}

	return DialerResult{
		Dialer: dialer,
		Remote: health.RemoteConfig{Backend: cfg.GeminiBackend, Configured: true},
	}, nil
}

func ProvideMetrics() *metrics.Metrics {
	return metrics.New()
}

func ProvideCounters(lc fx.Lifecycle, store *session.Store, cfg *Config, logger *slog.Logger) *session.Counters {
	counters := session.NewCounters(store, cfg.MetricsFlushInterval, logger)
	runInBackground(lc, counters.Run)
	return counters
}

func ProvideLiveManager(lc fx.Lifecycle, cfg *Config, dialer live.Dialer, m *metrics.Metrics, counters *session.Counters, logger *slog.Logger) *live.Manager {
	manager := live.NewManager(live.ManagerConfig{
		Dialer:      dialer,
		Instruments: live.MultiInstruments(m, counters),
		Defaults:    cfg.LiveConfig(),
		Log:         logger,
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return manager.Close()
		},
	})
	return manager
}

func ProvideEventBus(redisClient *redis.Client, logger *slog.Logger) *gateway.EventBus {
	return gateway.NewEventBus(redisClient, logger)
}

func ProvideRecorder(lc fx.Lifecycle, sessions *session.Store, transcripts *transcript.Store, events *gateway.EventBus, logger *slog.Logger) *gateway.Recorder {
	recorder := gateway.NewRecorder(sessions, transcripts, events, logger)
	runInBackground(lc, recorder.Run)
	return recorder
}

func ProvideGatewayHandler(manager *live.Manager, recorder *gateway.Recorder, transcripts *transcript.Store, events *gateway.EventBus, logger *slog.Logger) *gateway.Handler {
	return gateway.NewHandler(manager, recorder, transcripts, events, logger)
}

// runInBackground starts fn on OnStart and cancels it on OnStop, waiting
// for it to return.
func runInBackground(lc fx.Lifecycle, fn func(context.Context)) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				fn(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}

var VoiceModule = fx.Options(
	fx.Provide(
		ProvideDialer,
		ProvideMetrics,
		ProvideCounters,
		ProvideLiveManager,
		ProvideEventBus,
		ProvideRecorder,
		ProvideGatewayHandler,
	),
)
