package modules

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"go.uber.org/fx"

	"github.com/numrelay/numrelay/internal/boot"
	"github.com/numrelay/numrelay/internal/classify"
	"github.com/numrelay/numrelay/internal/config"
	"github.com/numrelay/numrelay/internal/confirm"
	"github.com/numrelay/numrelay/internal/dedup"
	"github.com/numrelay/numrelay/internal/liveness"
	"github.com/numrelay/numrelay/internal/relay"
	"github.com/numrelay/numrelay/internal/transport"
)

// Domain wires the classification, dedup, confirmation and relay services,
// plus the liveness monitor.
var Domain = fx.Module(
	"domain",
	fx.Provide(
		provideClassifier,
		provideDedupStore,
		provideRelayStore,
		provideConfirmService,
		provideRelayService,
		liveness.NewStatusStore,
		provideNotifier,
		provideMonitor,
	),
	fx.Invoke(startRelay, startMonitor),
)

func provideClassifier(cfg config.Config) *classify.Classifier {
	return classify.NewClassifier(classify.Rules{
		StatusMarkers:    cfg.Classifier.StatusMarkers,
		PositiveGlyph:    cfg.Classifier.PositiveGlyph,
		NoSessionPhrase:  cfg.Classifier.NoSessionPhrase,
		HasSessionPhrase: cfg.Classifier.HasSessionPhrase,
		AccessedPhrases:  cfg.Classifier.AccessedPhrases,
	})
}

func provideDedupStore(log *slog.Logger, conn *sql.DB) *dedup.Store {
	return dedup.NewStore(log, conn)
}

func provideRelayStore(conn *sql.DB) *relay.Store {
	return relay.NewStore(conn)
}

func provideConfirmService(log *slog.Logger, conn *sql.DB, dedupStore *dedup.Store, client transport.Client) *confirm.Service {
	return confirm.NewService(log, conn, dedupStore, client)
}

func provideRelayService(log *slog.Logger, store *relay.Store, classifier *classify.Classifier, dedupStore *dedup.Store, confirms *confirm.Service, client transport.Client, runtimeConfig *boot.RuntimeConfig) *relay.Service {
	return relay.NewService(log, store, classifier, dedupStore, confirms, client, runtimeConfig.RecentCap)
}

func provideNotifier(log *slog.Logger, client transport.Client, relayService *relay.Service, dedupStore *dedup.Store) *liveness.Notifier {
	send := func(ctx context.Context, chatID int64, text string) (int, error) {
		return client.SendMessage(ctx, chatID, text, nil)
	}
	return liveness.NewNotifier(log, send, relayService, dedupStore)
}

func provideMonitor(
	log *slog.Logger,
	runtimeConfig *boot.RuntimeConfig,
	client transport.Client,
	source transport.Source,
	relayService *relay.Service,
	dedupStore *dedup.Store,
	statusStore *liveness.StatusStore,
	notifier *liveness.Notifier,
	shutdowner fx.Shutdowner,
) *liveness.Monitor {
	restart := func() error {
		return shutdowner.Shutdown(fx.ExitCode(1))
	}
	cfg := liveness.MonitorConfig{
		ProbeInterval: runtimeConfig.ProbeInterval,
		StaleTimeout:  runtimeConfig.StaleTimeout,
		PurgeSchedule: runtimeConfig.PurgeSchedule,
		Retention:     time.Duration(runtimeConfig.RetentionDays) * 24 * time.Hour,
	}
	return liveness.NewMonitor(log, cfg, client, source, relayService, dedupStore, statusStore, notifier, restart)
}

func startRelay(lc fx.Lifecycle, relayService *relay.Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return relayService.Bootstrap(ctx)
		},
	})
}

func startMonitor(lc fx.Lifecycle, monitor *liveness.Monitor) {
	runCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return monitor.Start(runCtx)
		},
		OnStop: func(ctx context.Context) error {
			monitor.Stop()
			cancel()
			return nil
		},
	})
}
