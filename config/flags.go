package config

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/veritas-care/evv/aggregator"
	"github.com/veritas-care/evv/common"
	"github.com/veritas-care/evv/evidence"
	"github.com/veritas-care/evv/logging"
)

const (
	ServerCategory   = "Server"
	MetricsCategory  = "Metrics"
	RedisCategory    = "Redis Retry Queue"
	EvidenceCategory = "Evidence Store"
	PolicyCategory   = "State Policy"
	SandataCategory  = "Sandata"
	HHAXCategory     = "HHAeXchange"
	TellusCategory   = "Tellus"
	LoggingCategory  = "Logging"
)

const (
	ListenAddrFlagName = "addr"
	PortFlagName       = "port"

	MetricsEnabledFlagName = "metrics.enabled"
	MetricsAddrFlagName    = "metrics.addr"
	MetricsPortFlagName    = "metrics.port"

	RedisEnabledFlagName  = "redis.enabled"
	RedisEndpointFlagName = "redis.endpoint"
	RedisPasswordFlagName = "redis.password"
	RedisDBFlagName       = "redis.db"

	EvidenceEnabledFlagName   = "evidence.enabled"
	EvidenceEndpointFlagName  = "evidence.endpoint"
	EvidenceAccessKeyFlagName = "evidence.access-key"
	EvidenceSecretKeyFlagName = "evidence.secret-key"
	EvidenceBucketFlagName    = "evidence.bucket"
	EvidenceSSLFlagName       = "evidence.ssl"

	PolicyFileFlagName = "policy.file"

	RetryPollFlagName = "workers.retry-poll-interval"
	VMURSweepFlagName = "workers.vmur-sweep-interval"
)

func prefixEnvVars(name string) []string {
	return common.PrefixEnvVar(common.GlobalPrefix, name)
}

// aggregatorFlagNames derives the per-platform flag names from a lowercase
// platform prefix (sandata, hhaexchange, tellus).
func aggregatorFlagNames(platform string) (endpoint, mode, tokenURL, clientID, clientSecret, apiKey, apiKeyHeader, providerID, providerNPI string) {
	return platform + ".endpoint",
		platform + ".auth-mode",
		platform + ".oauth-token-url",
		platform + ".oauth-client-id",
		platform + ".oauth-client-secret",
		platform + ".api-key",
		platform + ".api-key-header",
		platform + ".provider-id",
		platform + ".provider-npi"
}

func aggregatorFlags(platform, category, envPrefix string) []cli.Flag {
	endpoint, mode, tokenURL, clientID, clientSecret, apiKey, apiKeyHeader, providerID, providerNPI := aggregatorFlagNames(platform)
	return []cli.Flag{
		&cli.StringFlag{
			Name:     endpoint,
			Usage:    "Submission endpoint; empty disables the platform",
			EnvVars:  prefixEnvVars(envPrefix + "_ENDPOINT"),
			Category: category,
		},
		&cli.StringFlag{
			Name:     mode,
			Usage:    "Authentication mode. Accepted values: oauth, apikey",
			Value:    "oauth",
			EnvVars:  prefixEnvVars(envPrefix + "_AUTH_MODE"),
			Category: category,
		},
		&cli.StringFlag{
			Name:     tokenURL,
			Usage:    "OAuth2 client-credentials token endpoint",
			EnvVars:  prefixEnvVars(envPrefix + "_OAUTH_TOKEN_URL"),
			Category: category,
		},
		&cli.StringFlag{
			Name:     clientID,
			EnvVars:  prefixEnvVars(envPrefix + "_OAUTH_CLIENT_ID"),
			Category: category,
		},
		&cli.StringFlag{
			Name:     clientSecret,
			EnvVars:  prefixEnvVars(envPrefix + "_OAUTH_CLIENT_SECRET"),
			Category: category,
		},
		&cli.StringFlag{
			Name:     apiKey,
			EnvVars:  prefixEnvVars(envPrefix + "_API_KEY"),
			Category: category,
		},
		&cli.StringFlag{
			Name:     apiKeyHeader,
			Value:    "X-API-Key",
			EnvVars:  prefixEnvVars(envPrefix + "_API_KEY_HEADER"),
			Category: category,
		},
		&cli.StringFlag{
			Name:     providerID,
			Usage:    "Medicaid provider id stamped on every submission",
			EnvVars:  prefixEnvVars(envPrefix + "_PROVIDER_ID"),
			Category: category,
		},
		&cli.StringFlag{
			Name:     providerNPI,
			Usage:    "National Provider Identifier, omitted in NPI-exempt states",
			EnvVars:  prefixEnvVars(envPrefix + "_PROVIDER_NPI"),
			Category: category,
		},
	}
}

// CLIFlags assembles every flag of the binary, grouped by category.
func CLIFlags() []cli.Flag {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:     ListenAddrFlagName,
			Usage:    "server listening address",
			Value:    "0.0.0.0",
			EnvVars:  prefixEnvVars("ADDR"),
			Category: ServerCategory,
		},
		&cli.IntFlag{
			Name:     PortFlagName,
			Usage:    "server listening port",
			Value:    4200,
			EnvVars:  prefixEnvVars("PORT"),
			Category: ServerCategory,
		},
		&cli.BoolFlag{
			Name:     MetricsEnabledFlagName,
			Usage:    "Enable the metrics server",
			EnvVars:  prefixEnvVars("METRICS_ENABLED"),
			Category: MetricsCategory,
		},
		&cli.StringFlag{
			Name:     MetricsAddrFlagName,
			Value:    "0.0.0.0",
			EnvVars:  prefixEnvVars("METRICS_ADDR"),
			Category: MetricsCategory,
		},
		&cli.IntFlag{
			Name:     MetricsPortFlagName,
			Value:    7300,
			EnvVars:  prefixEnvVars("METRICS_PORT"),
			Category: MetricsCategory,
		},
		&cli.BoolFlag{
			Name:     RedisEnabledFlagName,
			Usage:    "Persist the submission retry schedule in redis",
			EnvVars:  prefixEnvVars("REDIS_ENABLED"),
			Category: RedisCategory,
		},
		&cli.StringFlag{
			Name:     RedisEndpointFlagName,
			Usage:    "Redis endpoint (host:port)",
			EnvVars:  prefixEnvVars("REDIS_ENDPOINT"),
			Category: RedisCategory,
		},
		&cli.StringFlag{
			Name:     RedisPasswordFlagName,
			EnvVars:  prefixEnvVars("REDIS_PASSWORD"),
			Category: RedisCategory,
		},
		&cli.IntFlag{
			Name:     RedisDBFlagName,
			EnvVars:  prefixEnvVars("REDIS_DB"),
			Category: RedisCategory,
		},
		&cli.BoolFlag{
			Name:     EvidenceEnabledFlagName,
			Usage:    "Enable the S3-compatible photo evidence store",
			EnvVars:  prefixEnvVars("EVIDENCE_ENABLED"),
			Category: EvidenceCategory,
		},
		&cli.StringFlag{
			Name:     EvidenceEndpointFlagName,
			EnvVars:  prefixEnvVars("EVIDENCE_ENDPOINT"),
			Category: EvidenceCategory,
		},
		&cli.StringFlag{
			Name:     EvidenceAccessKeyFlagName,
			EnvVars:  prefixEnvVars("EVIDENCE_ACCESS_KEY"),
			Category: EvidenceCategory,
		},
		&cli.StringFlag{
			Name:     EvidenceSecretKeyFlagName,
			EnvVars:  prefixEnvVars("EVIDENCE_SECRET_KEY"),
			Category: EvidenceCategory,
		},
		&cli.StringFlag{
			Name:     EvidenceBucketFlagName,
			Value:    "evv-evidence",
			EnvVars:  prefixEnvVars("EVIDENCE_BUCKET"),
			Category: EvidenceCategory,
		},
		&cli.BoolFlag{
			Name:     EvidenceSSLFlagName,
			Value:    true,
			EnvVars:  prefixEnvVars("EVIDENCE_SSL"),
			Category: EvidenceCategory,
		},
		&cli.StringFlag{
			Name:     PolicyFileFlagName,
			Usage:    "YAML file overlaying the built-in state policy table",
			EnvVars:  prefixEnvVars("POLICY_FILE"),
			Category: PolicyCategory,
		},
		&cli.DurationFlag{
			Name:     RetryPollFlagName,
			Usage:    "How often the retry worker sweeps due submissions",
			Value:    15 * time.Second,
			EnvVars:  prefixEnvVars("RETRY_POLL_INTERVAL"),
			Category: ServerCategory,
		},
		&cli.DurationFlag{
			Name:     VMURSweepFlagName,
			Usage:    "How often pending unlock requests are checked for expiry",
			Value:    time.Hour,
			EnvVars:  prefixEnvVars("VMUR_SWEEP_INTERVAL"),
			Category: ServerCategory,
		},
	}
	flags = append(flags, aggregatorFlags("sandata", SandataCategory, "SANDATA")...)
	flags = append(flags, aggregatorFlags("hhaexchange", HHAXCategory, "HHAX")...)
	flags = append(flags, aggregatorFlags("tellus", TellusCategory, "TELLUS")...)
	flags = append(flags, logging.CLIFlags(common.GlobalPrefix, LoggingCategory)...)
	return flags
}

func readAggregatorCreds(ctx *cli.Context, platform string) (aggregator.Credentials, bool) {
	endpoint, mode, tokenURL, clientID, clientSecret, apiKey, apiKeyHeader, providerID, providerNPI := aggregatorFlagNames(platform)
	if ctx.String(endpoint) == "" {
		return aggregator.Credentials{}, false
	}
	return aggregator.Credentials{
		Endpoint:          ctx.String(endpoint),
		Mode:              aggregator.AuthMode(ctx.String(mode)),
		OAuthTokenURL:     ctx.String(tokenURL),
		OAuthClientID:     ctx.String(clientID),
		OAuthClientSecret: ctx.String(clientSecret),
		APIKey:            ctx.String(apiKey),
		APIKeyHeader:      ctx.String(apiKeyHeader),
		ProviderID:        ctx.String(providerID),
		ProviderNPI:       ctx.String(providerNPI),
	}, true
}

// ReadCLIConfig assembles the AppConfig from the CLI context.
func ReadCLIConfig(ctx *cli.Context) AppConfig {
	creds := make(map[common.AggregatorType]aggregator.Credentials)
	if c, ok := readAggregatorCreds(ctx, "sandata"); ok {
		creds[common.SandataAggregatorType] = c
	}
	if c, ok := readAggregatorCreds(ctx, "hhaexchange"); ok {
		creds[common.HHAeXchangeAggregatorType] = c
	}
	if c, ok := readAggregatorCreds(ctx, "tellus"); ok {
		creds[common.TellusAggregatorType] = c
	}

	return AppConfig{
		Server: ServerConfig{
			Host: ctx.String(ListenAddrFlagName),
			Port: ctx.Int(PortFlagName),
		},
		Metrics: MetricsConfig{
			Enabled: ctx.Bool(MetricsEnabledFlagName),
			Host:    ctx.String(MetricsAddrFlagName),
			Port:    ctx.Int(MetricsPortFlagName),
		},
		Redis: RedisConfig{
			Enabled:  ctx.Bool(RedisEnabledFlagName),
			Endpoint: ctx.String(RedisEndpointFlagName),
			Password: ctx.String(RedisPasswordFlagName),
			DB:       ctx.Int(RedisDBFlagName),
		},
		Evidence: evidence.Config{
			Endpoint:  ctx.String(EvidenceEndpointFlagName),
			AccessKey: ctx.String(EvidenceAccessKeyFlagName),
			SecretKey: ctx.String(EvidenceSecretKeyFlagName),
			Bucket:    ctx.String(EvidenceBucketFlagName),
			UseSSL:    ctx.Bool(EvidenceSSLFlagName),
		},
		Workers: WorkerConfig{
			RetryPollInterval: ctx.Duration(RetryPollFlagName),
			VMURSweepInterval: ctx.Duration(VMURSweepFlagName),
		},
		EvidenceEnabled: ctx.Bool(EvidenceEnabledFlagName),
		PolicyFile:      ctx.String(PolicyFileFlagName),
		AggregatorCreds: creds,
	}
}
