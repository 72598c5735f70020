package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	LedgerURL      string `envconfig:"LEDGER_URL" default:"http://localhost:8080/"`
	LedgerWSURL    string `envconfig:"LEDGER_WS_URL" default:"ws://localhost:8080/ws"`
	LedgerUsername string `envconfig:"LEDGER_USERNAME"`

	RetryAttempts int           `envconfig:"LEDGER_RETRY_ATTEMPTS" default:"5"`
	RetryWait     time.Duration `envconfig:"LEDGER_RETRY_WAIT" default:"1s"`
	RetryMaxWait  time.Duration `envconfig:"LEDGER_RETRY_MAX_WAIT" default:"16s"`
	Timeout       time.Duration `envconfig:"LEDGER_TIMEOUT" default:"60s"`
	TokenSkew     time.Duration `envconfig:"LEDGER_TOKEN_SKEW" default:"30s"`

	StreamQuery         string        `envconfig:"LEDGER_STREAM_QUERY" default:"v1/broker.oms/orderUpdates"`
	StreamReconnectWait time.Duration `envconfig:"LEDGER_STREAM_RECONNECT_WAIT" default:"5s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
