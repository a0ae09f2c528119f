package modules

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.uber.org/fx"

	"github.com/numrelay/numrelay/internal/boot"
	"github.com/numrelay/numrelay/internal/config"
	"github.com/numrelay/numrelay/internal/relay"
	"github.com/numrelay/numrelay/internal/server"
	"github.com/numrelay/numrelay/internal/transport"
	"github.com/numrelay/numrelay/internal/transport/telegram"
)

// Transport wires the Telegram client and the inbound event source. A
// configured webhook base URL selects push delivery; otherwise the daemon
// falls back to long polling.
var Transport = fx.Module(
	"transport",
	fx.Provide(
		provideTelegramClient,
		provideTransportClient,
		provideSource,
	),
	fx.Invoke(startSource),
)

func provideTelegramClient(log *slog.Logger, cfg config.Config, runtimeConfig *boot.RuntimeConfig) (*telegram.Client, error) {
	timeout := time.Duration(cfg.Telegram.RequestTimeoutSeconds) * time.Second
	return telegram.NewClient(log, runtimeConfig.BotToken, timeout)
}

func provideTransportClient(client *telegram.Client) transport.Client {
	return client
}

type sourceResult struct {
	fx.Out

	Source  transport.Source
	Handler server.Handler `group:"server_handlers"`
}

func provideSource(log *slog.Logger, cfg config.Config, runtimeConfig *boot.RuntimeConfig, client *telegram.Client) sourceResult {
	if strings.TrimSpace(runtimeConfig.WebhookBaseURL) != "" {
		src := telegram.NewWebhookSource(log, client, runtimeConfig.WebhookBaseURL, runtimeConfig.BotToken)
		return sourceResult{Source: src, Handler: src}
	}
	src := telegram.NewPollSource(log, client, cfg.Telegram.PollTimeoutSeconds)
	return sourceResult{Source: src, Handler: nil}
}

func startSource(lc fx.Lifecycle, log *slog.Logger, source transport.Source, relayService *relay.Service, shutdowner fx.Shutdowner) {
	runCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := source.Run(runCtx, relayService); err != nil && runCtx.Err() == nil {
					log.Error("event source failed", slog.Any("error", err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			return nil
		},
	})
}
