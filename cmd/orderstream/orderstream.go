package orderstream

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"backoffice/src/app"

	"github.com/sirupsen/logrus"
)

// OrderStream mirrors ledger order status changes into the local order ledger.
type OrderStream struct{}

func (t *OrderStream) Start() error {
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

	logrus.WithField("url", engine.Ledger.LedgerWSURL).Info("Consuming ledger order stream")
	return engine.OrderStream().Consume(ctx, engine.Controller.ApplyOrderEvent)
}
