package main

import (
	"fmt"
	"os"

	"backoffice/cmd/deposit"
	"backoffice/cmd/orderstream"
	"backoffice/cmd/replay"
	"backoffice/src/app"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

var Version string

func main() {
	cliApp := cli.NewApp()
	cliApp.Name = "backoffice"
	cliApp.Usage = "Back-office order engine command line interface"
	cliApp.Version = Version

	cliApp.Commands = []cli.Command{
		serveCMD,
		replayCMD,
		orderStreamCMD,
		depositCMD,
	}

	if err := cliApp.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	serveCMD = cli.Command{
		Name:        "serve",
		Usage:       "run the back-office HTTP API",
		Action:      serveAction,
		Flags:       []cli.Flag{},
		Description: `Serves the API on PORT until SIGINT or SIGTERM`,
	}
	replayCMD = cli.Command{
		Name:   "replay",
		Usage:  "replay captured order inserts and deposit credits",
		Action: replayAction,
		Flags: []cli.Flag{
			cli.BoolFlag{Name: "once", Usage: "run a single pass and exit"},
		},
		Description: `Re-applies local writes that failed after the ledger accepted the operation.
Runs every REPLAY_LOOP_PERIOD unless --once is given.`,
	}
	orderStreamCMD = cli.Command{
		Name:        "orderstream",
		Usage:       "mirror ledger order updates",
		Action:      orderStreamAction,
		Flags:       []cli.Flag{},
		Description: `Consumes the ledger OMS websocket and applies order status changes`,
	}
	depositCMD = cli.Command{
		Name:   "deposit",
		Usage:  "deposit an asset into an account",
		Action: depositAction,
		Flags: []cli.Flag{
			cli.UintFlag{Name: "account", Usage: "internal account id"},
			cli.UintFlag{Name: "asset", Usage: "internal asset id"},
			cli.StringFlag{Name: "amount", Usage: "amount to deposit"},
		},
		Description: `Opts the account into the asset first when it has no balance yet`,
	}
)

func serveAction(_ *cli.Context) error {
	logrus.WithField("cmd", "serve").Info("Starting serve CMD")

	engine, err := app.Boot()
	if err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return engine.Serve()
}

func replayAction(c *cli.Context) error {
	logrus.WithField("cmd", "replay").Info("Starting replay CMD")

	r := &replay.Replay{Once: c.Bool("once")}
	if err := r.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

func orderStreamAction(_ *cli.Context) error {
	logrus.WithField("cmd", "orderstream").Info("Starting orderstream CMD")

	s := &orderstream.OrderStream{}
	if err := s.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

func depositAction(c *cli.Context) error {
	logrus.WithField("cmd", "deposit").Info("Starting deposit CMD")

	p := &deposit.Deposit{
		AccountID: c.Uint("account"),
		AssetID:   c.Uint("asset"),
		Amount:    c.String("amount"),
	}
	if err := p.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}
