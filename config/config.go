package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all environment-driven settings for the server.
type Config struct {
	Port             string `env:"PORT" envDefault:"8080"`
	AWSRegion        string `env:"AWS_REGION"`
	PartiesStreamArn string `env:"PARTIES_STREAM_ARN"`

	FeedPollInterval time.Duration `env:"FEED_POLL_INTERVAL" envDefault:"2s"`
	SweepInterval    time.Duration `env:"SWEEP_INTERVAL" envDefault:"5m"`
	PayoutInterval   time.Duration `env:"PAYOUT_INTERVAL" envDefault:"168h"`
	TransferTimeout  time.Duration `env:"TRANSFER_TIMEOUT" envDefault:"30s"`

	MinimumPayoutAmount float64 `env:"MINIMUM_PAYOUT_AMOUNT" envDefault:"10.00"`
	PayoutParallelism   int     `env:"PAYOUT_PARALLELISM" envDefault:"4"`

	// Verification thresholds. A single authoritative value per badge type.
	HostVerificationThreshold  int `env:"HOST_VERIFICATION_THRESHOLD" envDefault:"3"`
	GuestVerificationThreshold int `env:"GUEST_VERIFICATION_THRESHOLD" envDefault:"5"`

	TransactionRetries int `env:"TRANSACTION_RETRIES" envDefault:"3"`
}

// Load parses configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}
