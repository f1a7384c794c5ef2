package injector

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Hook reacts to a failed backend call.
type Hook func(ctx context.Context, err error, hc Context)

// Chain runs hooks in order. A panicking hook is logged and the
// remaining hooks still run.
func Chain(logger zerolog.Logger, hooks ...Hook) Hook {
	return func(ctx context.Context, err error, hc Context) {
		for index, hook := range hooks {
			runHook(logger, index, hook, ctx, err, hc)
		}
	}
}

func runHook(logger zerolog.Logger, index int, hook Hook, ctx context.Context, err error, hc Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Str("panic", fmt.Sprint(r)).
				Int("hook", index).
				Str("document", hc.ID).
				Msg("error hook panicked")
		}
	}()
	hook(ctx, err, hc)
}

// LogHook logs every error it sees.
func LogHook(logger zerolog.Logger) Hook {
	return func(_ context.Context, err error, hc Context) {
		logger.Error().Err(err).Str("document", hc.ID).Msg("backend call failed")
	}
}
