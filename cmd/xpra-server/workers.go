package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/xpra-go/relay/pkg/config"
	"github.com/xpra-go/relay/pkg/session"
	"github.com/xpra-go/relay/pkg/worker"
)

// startWorkerPool launches cfg.MaxConcurrent codec-worker subprocesses,
// supervised by the runtime's shared pool. When RestartOnCrash is set, a
// worker that exits is respawned at once and a failed spawn is retried
// after one second, for as long as ctx lives. Nothing in this module
// sends encode/decode requests to these workers; the supervisor only
// logs the errors they report.
func startWorkerPool(rt *session.Runtime, cfg config.Worker, log zerolog.Logger) {
	for i := 0; i < cfg.MaxConcurrent; i++ {
		rt.Pool().Go(func(ctx context.Context) error {
			return superviseWorker(ctx, cfg, log)
		})
	}
}

func superviseWorker(ctx context.Context, cfg config.Worker, log zerolog.Logger) error {
	for {
		w, err := worker.Spawn(ctx, cfg.CodecWorkerPath, nil, log)
		if err != nil {
			log.Error().Err(err).Str("path", cfg.CodecWorkerPath).Msg("failed to spawn codec worker")
			if !cfg.RestartOnCrash {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
				continue
			}
		}
		log.Info().Str("id", w.ID()).Msg("codec worker started")

		for result := range w.Results() {
			if result.Err != nil {
				log.Warn().Err(result.Err).Str("id", w.ID()).Msg("codec worker reported an error")
			}
		}
		log.Warn().Str("id", w.ID()).Msg("codec worker exited")

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !cfg.RestartOnCrash {
			return nil
		}
	}
}
