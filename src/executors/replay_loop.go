package executors

import (
	"context"
	"errors"
	"time"

	"backoffice/src/controller"

	logger "github.com/sirupsen/logrus"
)

type Replayer interface {
	Replay(ctx context.Context) (controller.ReplayReport, error)
}

// StartReplayLoop runs one replay pass right away and then one per period
// until ctx is done. A failed pass is logged and retried on the next tick.
func StartReplayLoop(ctx context.Context, period time.Duration, replayer Replayer) error {
	if period <= 0 {
		return errors.New("replay loop period must be positive")
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	runReplay(ctx, replayer)

	for {
		select {
		case <-ctx.Done():
			logger.Info("replay loop stopped")
			return nil

		case <-ticker.C:
			runReplay(ctx, replayer)
		}
	}
}

func runReplay(ctx context.Context, replayer Replayer) {
	report, err := replayer.Replay(ctx)
	log := logger.WithFields(map[string]interface{}{
		"loop":     "replay",
		"resolved": report.Resolved,
		"failed":   report.Failed,
	})
	if err != nil {
		if ctx.Err() == nil {
			log.WithError(err).Error("replay pass failed")
		}
		return
	}
	if report.Resolved > 0 || report.Failed > 0 {
		log.Info("replay pass done")
	} else {
		log.Debug("nothing to replay")
	}
}
