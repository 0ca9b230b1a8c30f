// Package aggregator formats, submits and tracks EVV record submissions to
// state-designated aggregator platforms (Sandata, HHAeXchange, Tellus). Each
// platform shares one client shape; the dispatcher selects the client from
// the state policy row.
package aggregator

import (
	"context"
	"time"

	"github.com/veritas-care/evv/common"
	"github.com/veritas-care/evv/evv"
	"github.com/veritas-care/evv/policy"
)

// ValidationResult ... pre-submission check outcome
type ValidationResult struct {
	OK       bool     `json:"ok"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// SubmissionResult ... single submission attempt outcome
type SubmissionResult struct {
	OK             bool          `json:"ok"`
	SubmissionID   string        `json:"submissionId,omitempty"`
	ConfirmationID string        `json:"confirmationId,omitempty"`
	ErrorCode      string        `json:"errorCode,omitempty"`
	ErrorMessage   string        `json:"errorMessage,omitempty"`
	Retriable      bool          `json:"retriable,omitempty"`
	RetryAfter     time.Duration `json:"retryAfter,omitempty"`
}

// Client ... one aggregator platform
type Client interface {
	Type() common.AggregatorType
	// Validate enforces the six federal elements plus aggregator-specific
	// rules before any wire call.
	Validate(rec *evv.Record, pol policy.StatePolicy) ValidationResult
	// Submit posts the formatted payload. Transport-level failures surface as
	// a Retriable result, not an error; error is reserved for programming or
	// context failures.
	Submit(ctx context.Context, rec *evv.Record, pol policy.StatePolicy) (SubmissionResult, error)
}

// AuthMode ... how the client authenticates against the aggregator
type AuthMode string

const (
	AuthOAuth  AuthMode = "oauth"
	AuthAPIKey AuthMode = "apikey"
)

// Credentials ... per-aggregator connection settings, loaded from secure
// configuration per tenant
type Credentials struct {
	Endpoint string   `yaml:"endpoint"`
	Mode     AuthMode `yaml:"mode"`

	OAuthTokenURL     string `yaml:"oauthTokenUrl"`
	OAuthClientID     string `yaml:"oauthClientId"`
	OAuthClientSecret string `yaml:"oauthClientSecret"`

	APIKey       string `yaml:"apiKey"`
	APIKeyHeader string `yaml:"apiKeyHeader"`

	ProviderID  string `yaml:"providerId"`
	ProviderNPI string `yaml:"providerNpi"`
}

// CallTimeout bounds every outbound aggregator call.
const CallTimeout = 30 * time.Second
