package main

import (
	"log/slog"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/numrelay/numrelay/cmd/relayd/modules"
)

func main() {
	fx.New(
		modules.Infrastructure,
		modules.Transport,
		modules.Domain,
		modules.Server,
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}
