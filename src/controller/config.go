package controller

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Extra attempts after a reservation lost a version race.
	ReserveMaxRetries int `envconfig:"RESERVE_MAX_RETRIES" default:"3"`
	// Extra attempts to store an order the ledger accepted before it is captured for replay.
	OrderInsertRetries int `envconfig:"ORDER_INSERT_RETRIES" default:"3"`
	// Unresolved exceptions handled per replay pass.
	ReplayBatchSize int `envconfig:"REPLAY_BATCH_SIZE" default:"100"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
