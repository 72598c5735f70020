package replay

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"backoffice/src/app"
	"backoffice/src/executors"

	"github.com/sirupsen/logrus"
)

// Replay re-applies captured order inserts and deposit credits, once or on a loop.
type Replay struct {
	Once bool
}

func (t *Replay) Start() error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	engine, err := app.Boot()
	if err != nil {
		logrus.WithError(err).Error("Failed to boot engine")
		return err
	}

	if t.Once {
		report, err := engine.Controller.Replay(ctx)
		if err != nil {
			logrus.WithError(err).Error("Replay failed")
			return err
		}
		logrus.WithFields(logrus.Fields{
			"resolved": report.Resolved,
			"failed":   report.Failed,
		}).Info("Replay done")
		return nil
	}

	config := executors.GetConfig()
	logrus.WithField("period", config.LoopPeriod).Info("Starting replay loop")
	return executors.StartReplayLoop(ctx, config.LoopPeriod, engine.Controller)
}
