package app

import (
	"errors"
	"fmt"

	"backoffice/src/auth"
	"backoffice/src/connectors"
	"backoffice/src/controller"
	"backoffice/src/database"
	"backoffice/src/metrics"
	"backoffice/src/repository"
	"backoffice/src/security"
	"backoffice/src/server"

	"github.com/prometheus/client_golang/prometheus"
)

// Engine is the wired back-office: the order controller plus the ledger
// credentials it shares with the order stream.
type Engine struct {
	Controller  *controller.OrderController
	Credentials *connectors.AdminCredentials
	Ledger      connectors.Config
	Registry    *prometheus.Registry
}

// NewEngine builds the engine from env config. Both databases must be initialized.
func NewEngine() (*Engine, error) {
	ledgerCfg := connectors.GetConfig()
	if ledgerCfg.LedgerUsername == "" {
		return nil, errors.New("LEDGER_USERNAME not set")
	}

	password, err := security.LedgerPassword(security.GetConfig())
	if err != nil {
		return nil, fmt.Errorf("recover ledger password: %w", err)
	}

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)

	creds := connectors.NewAdminCredentials(ledgerCfg, ledgerCfg.LedgerUsername, password, repository.NewTokenRepository())
	client := connectors.NewLedgerClient(ledgerCfg, creds).WithMetrics(m)

	return &Engine{
		Controller:  controller.DefaultOrderController(client).WithMetrics(m),
		Credentials: creds,
		Ledger:      ledgerCfg,
		Registry:    registry,
	}, nil
}

// OrderStream returns a stream over the engine's ledger session.
func (e *Engine) OrderStream() *connectors.LedgerStream {
	return connectors.NewLedgerStream(e.Ledger, e.Credentials)
}

// Boot connects both databases and builds the engine. Used by the CLI commands.
func Boot() (*Engine, error) {
	if err := database.InitMainDB(); err != nil {
		return nil, fmt.Errorf("connect main database: %w", err)
	}
	if err := database.InitReadOnlyDB(); err != nil {
		return nil, fmt.Errorf("connect read-only database: %w", err)
	}
	return NewEngine()
}

// Serve runs the HTTP API until SIGINT or SIGTERM.
func (e *Engine) Serve() error {
	cfg := server.GetConfig()
	router := server.NewRouter(e.Controller, e.Registry, auth.ParseAPIKeys(cfg.APIKeys))
	return server.StartServer(cfg.Port, router, cfg.ShutdownTimeout)
}
