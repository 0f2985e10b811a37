package client

import (
	"errors"
	"log/slog"
	"time"
)

// AuthType specifies the authentication mechanism.
type AuthType int

const (
	// AuthBasic uses HTTP Basic authentication.
	AuthBasic AuthType = iota
	// AuthNTLM uses NTLM authentication (Windows WMI mapper endpoints).
	AuthNTLM
)

// PullPolicy controls whether enumeration-style operations use the
// Open/Pull sequence or the traditional single-exchange operations.
type PullPolicy int

const (
	// PullAuto tries the Open/Pull sequence and falls back to the
	// traditional operation when the server does not support it. The
	// fallback is invisible to the caller.
	PullAuto PullPolicy = iota

	// PullAlways uses the Open/Pull sequence and surfaces the
	// CIM_ERR_NOT_SUPPORTED fault when the server lacks it.
	PullAlways

	// PullNever always uses the traditional operations.
	PullNever
)

// Default WBEM ports (DSP0200).
const (
	// DefaultPort is the well-known port for CIM-XML over HTTP.
	DefaultPort = 5988

	// DefaultPortTLS is the well-known port for CIM-XML over HTTPS.
	DefaultPortTLS = 5989
)

// DefaultNamespace is the interop-typical default CIM namespace.
const DefaultNamespace = "root/cimv2"

// DefaultBatchSize is the batch size iterators request per Pull when the
// configuration does not set one.
const DefaultBatchSize = 1000

// Config holds configuration for a WBEM connection.
type Config struct {
	// Port is the CIMOM port (default: 5988 for HTTP, 5989 for HTTPS).
	Port int

	// UseTLS enables HTTPS transport.
	UseTLS bool

	// InsecureSkipVerify skips TLS certificate verification.
	// WARNING: Only use for testing.
	InsecureSkipVerify bool

	// CABundle is a path to a PEM CA bundle used instead of the system
	// trust store. Empty means the system trust store.
	CABundle string

	// Namespace is the default CIM namespace (default: "root/cimv2").
	Namespace string

	// Timeout is the per-request timeout.
	Timeout time.Duration

	// AuthType specifies the authentication type (Basic or NTLM).
	AuthType AuthType

	// Username for authentication.
	Username string

	// Password for authentication.
	Password string

	// Domain for NTLM authentication.
	Domain string

	// PullPolicy selects pull, traditional, or automatic enumeration.
	PullPolicy PullPolicy

	// BatchSize is the object count iterators request per Pull round
	// trip. Zero means DefaultBatchSize.
	BatchSize uint32

	// MaxAuthRetries bounds transparent 401 retries. Zero means the
	// transport default of one retry; the historical bound is 5.
	MaxAuthRetries int

	// MaxConcurrentRequests bounds in-flight requests on the connection.
	// Zero means unlimited.
	MaxConcurrentRequests int

	// MaxQueuedRequests bounds callers waiting for a request slot when
	// MaxConcurrentRequests is set. Zero means unbounded.
	MaxQueuedRequests int

	// Retry enables transparent retry of read-only operations on
	// transient transport failures. Nil disables retry. Pull-sequence
	// and write operations are never retried.
	Retry *RetryPolicy

	// Logger receives structured logs. Credential-like attributes are
	// redacted. Nil disables logging.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Port:       DefaultPort,
		Namespace:  DefaultNamespace,
		Timeout:    60 * time.Second,
		AuthType:   AuthBasic,
		PullPolicy: PullAuto,
		BatchSize:  DefaultBatchSize,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Username == "" {
		return errors.New("username is required")
	}
	if c.Password == "" {
		return errors.New("password is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return errors.New("port out of range")
	}
	return nil
}

// port returns the configured port or the scheme default.
func (c *Config) port() int {
	if c.Port != 0 {
		return c.Port
	}
	if c.UseTLS {
		return DefaultPortTLS
	}
	return DefaultPort
}

// namespace returns the configured namespace or the default.
func (c *Config) namespace() string {
	if c.Namespace != "" {
		return c.Namespace
	}
	return DefaultNamespace
}

// batchSize returns the configured iterator batch size or the default.
func (c *Config) batchSize() uint32 {
	if c.BatchSize != 0 {
		return c.BatchSize
	}
	return DefaultBatchSize
}
