package security

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the pieces needed to recover the ledger password. The AES key is
// never stored as-is: its base64 characters are shuffled and KeySeed records
// where each one came from.
type Config struct {
	LedgerPasswordCipher string `envconfig:"LEDGER_PASSWORD_CIPHER"`
	ScrambledKey         string `envconfig:"LEDGER_AES_KEY_SCRAMBLED"`
	KeySeed              []int  `envconfig:"LEDGER_AES_KEY_SEED"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
