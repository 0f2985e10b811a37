package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/smnsjas/go-wbem/cimxml"
	"github.com/smnsjas/go-wbem/cimxml/auth"
	"github.com/smnsjas/go-wbem/cimxml/transport"
	wbemlog "github.com/smnsjas/go-wbem/internal/log"
)

// cimomPath is the conventional request path CIMOMs serve CIM-XML on.
const cimomPath = "/cimom"

// Connection is a client connection to one WBEM server endpoint. It is
// an explicit object passed to every operation; there is no ambient
// process-wide current connection.
//
// A Connection does not hold an open socket itself; sockets are pooled
// inside the transport. Operations on one Connection are synchronous,
// one in-flight request per enumeration session at a time.
type Connection struct {
	hostname  string
	config    Config
	url       string
	namespace string

	transport *transport.HTTPTransport
	gate      *requestGate
	logger    *slog.Logger
	id        uuid.UUID
	messageID atomic.Uint64
}

// New creates a new Connection to the given host.
func New(hostname string, cfg Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	scheme := "http"
	if cfg.UseTLS {
		scheme = "https"
	}
	url := fmt.Sprintf("%s://%s:%d%s", scheme, hostname, cfg.port(), cimomPath)

	opts := []transport.HTTPTransportOption{
		transport.WithInsecureSkipVerify(cfg.InsecureSkipVerify),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, transport.WithTimeout(cfg.Timeout))
	}
	if cfg.MaxAuthRetries > 0 {
		opts = append(opts, transport.WithMaxAuthRetries(cfg.MaxAuthRetries))
	}
	if cfg.CABundle != "" {
		pool, err := transport.LoadCABundle(cfg.CABundle)
		if err != nil {
			return nil, err
		}
		opts = append(opts, transport.WithRootCAs(pool))
	}
	tr := transport.NewHTTPTransport(opts...)

	creds := auth.Credentials{
		Username: cfg.Username,
		Password: cfg.Password,
		Domain:   cfg.Domain,
	}
	var authenticator auth.Authenticator
	switch cfg.AuthType {
	case AuthNTLM:
		authenticator = auth.NewNTLMAuth(creds)
	default:
		authenticator = auth.NewBasicAuth(creds)
	}
	tr.Client().Transport = authenticator.Transport(tr.Client().Transport)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	} else {
		logger = slog.New(wbemlog.NewRedactingHandler(logger.Handler()))
	}

	var gate *requestGate
	if cfg.MaxConcurrentRequests > 0 {
		maxQueue := cfg.MaxQueuedRequests
		if maxQueue <= 0 {
			maxQueue = -1
		}
		gate = newRequestGate(cfg.MaxConcurrentRequests, maxQueue, cfg.Timeout)
	}

	conn := &Connection{
		hostname:  hostname,
		config:    cfg,
		url:       url,
		namespace: cfg.namespace(),
		transport: tr,
		gate:      gate,
		id:        uuid.New(),
	}
	conn.logger = logger.With("conn", conn.id.String(), "host", hostname)

	return conn, nil
}

// URL returns the CIMOM endpoint URL.
func (c *Connection) URL() string {
	return c.url
}

// Namespace returns the default namespace operations target.
func (c *Connection) Namespace() string {
	return c.namespace
}

// Close releases idle pooled connections. Enumeration sessions left open
// on the server expire on their own; the Connection has no further
// obligation to them.
func (c *Connection) Close() {
	c.transport.CloseIdleConnections()
}

// invoke performs one intrinsic method call against the default
// namespace and decodes the response.
func (c *Connection) invoke(ctx context.Context, method string, params []cimxml.Param) (*cimxml.OperationResponse, error) {
	payload, err := cimxml.EncodeMethodCall(c.messageID.Add(1), method, c.namespace, params)
	if err != nil {
		return nil, err
	}
	return c.exchange(ctx, method, payload)
}

// invokeExt performs one extrinsic method call on a class or instance
// target and decodes the response.
func (c *Connection) invokeExt(ctx context.Context, method string, target any, params []cimxml.Param) (*cimxml.OperationResponse, error) {
	payload, err := cimxml.EncodeExtMethodCall(c.messageID.Add(1), method, c.namespace, target, params)
	if err != nil {
		return nil, err
	}
	return c.exchange(ctx, method, payload)
}

func (c *Connection) exchange(ctx context.Context, method string, payload []byte) (*cimxml.OperationResponse, error) {
	if c.gate != nil {
		if err := c.gate.acquire(ctx); err != nil {
			return nil, err
		}
		defer c.gate.release()
	}

	attempts := 1
	if c.config.Retry != nil && retryableMethods[method] {
		attempts += c.config.Retry.MaxRetries
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := retryBackoff(attempt-1, c.config.Retry)
			c.logger.Debug("retrying request", "method", method, "attempt", attempt, "delay", delay)
			if err := sleepBackoff(ctx, delay); err != nil {
				return nil, err
			}
		}
		resp, err := c.do(ctx, method, payload)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isTransientError(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Connection) do(ctx context.Context, method string, payload []byte) (*cimxml.OperationResponse, error) {
	start := time.Now()
	body, err := c.transport.Post(ctx, c.url, method, c.namespace, payload)
	if err != nil {
		c.logger.Debug("request failed", "method", method, "error", err)
		return nil, err
	}

	resp, err := cimxml.DecodeResponse(body)
	if err != nil {
		c.logger.Debug("response rejected", "method", method, "error", err)
		return nil, err
	}

	c.logger.Debug("request complete", "method", method, "elapsed", time.Since(start))
	return resp, nil
}
