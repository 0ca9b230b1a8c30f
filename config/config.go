package config

import (
	"fmt"
	"time"

	"github.com/veritas-care/evv/aggregator"
	"github.com/veritas-care/evv/common"
	"github.com/veritas-care/evv/evidence"
)

// ServerConfig ... HTTP listener settings
type ServerConfig struct {
	Host string
	Port int
}

// MetricsConfig ... prometheus scrape endpoint settings
type MetricsConfig struct {
	Enabled bool
	Host    string
	Port    int
}

// RedisConfig ... optional persisted retry schedule
type RedisConfig struct {
	Enabled  bool
	Endpoint string
	Password string
	DB       int
}

// WorkerConfig ... background loop intervals
type WorkerConfig struct {
	RetryPollInterval time.Duration
	VMURSweepInterval time.Duration
}

// AppConfig aggregates every sub-config the binary needs.
type AppConfig struct {
	Server   ServerConfig
	Metrics  MetricsConfig
	Redis    RedisConfig
	Evidence evidence.Config
	Workers  WorkerConfig

	// EvidenceEnabled gates the object store; deployments without photo
	// capture run without it.
	EvidenceEnabled bool

	// PolicyFile optionally overlays the built-in state policy table.
	PolicyFile string

	// AggregatorCreds holds per-platform submission credentials. Platforms
	// without credentials are not registered.
	AggregatorCreds map[common.AggregatorType]aggregator.Credentials
}

// Check validates the assembled config before anything starts.
func (c AppConfig) Check() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Redis.Enabled && c.Redis.Endpoint == "" {
		return fmt.Errorf("redis retry queue enabled with no endpoint")
	}
	if c.EvidenceEnabled {
		if err := c.Evidence.Check(); err != nil {
			return err
		}
	}
	for typ, creds := range c.AggregatorCreds {
		if creds.Endpoint == "" {
			return fmt.Errorf("%s credentials missing the submission endpoint", typ)
		}
		if creds.Mode == aggregator.AuthOAuth &&
			(creds.OAuthClientID == "" || creds.OAuthClientSecret == "" || creds.OAuthTokenURL == "") {
			return fmt.Errorf("%s oauth credentials incomplete", typ)
		}
		if creds.Mode == aggregator.AuthAPIKey && creds.APIKey == "" {
			return fmt.Errorf("%s api key missing", typ)
		}
	}
	return nil
}
