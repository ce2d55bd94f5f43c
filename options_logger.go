package localgpt

import (
	"context"
	"log/slog"

	"github.com/pitabwire/util"

	"github.com/localgpt/localgpt/config"
	"github.com/localgpt/localgpt/logging"
)

// WithLogger builds the app logger from the Logging section of the
// configuration. opts are applied after the LOCALGPT_LOG_* defaults.
func WithLogger(opts ...logging.Option) Option {
	return func(ctx context.Context, a *App) {
		cfg := a.Config(ctx)

		base := []logging.Option{
			logging.WithNoColor(!a.bootstrap.LogColored),
			logging.WithTimeFormat(a.bootstrap.LogTimeFormat),
		}
		if dataDir, err := config.AppDataDir(); err == nil {
			base = append(base, logging.WithBaseDir(dataDir))
		}

		if a.logger != nil {
			util.CloseAndLogOnError(ctx, a.logger, "could not close previous log file")
		}

		a.logger = logging.New(ctx, cfg.Logging, append(base, opts...)...)
		a.log = a.logger.Entry().WithField("app", a.Name())
	}
}

func (a *App) SLog(ctx context.Context) *slog.Logger {
	return a.Log(ctx).SLog()
}
