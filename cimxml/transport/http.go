// Package transport handles HTTP/HTTPS communication for CIM-XML
// operation requests: headers, TLS verification policy, timeouts, and
// the bounded re-authentication retry.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/smnsjas/go-wbem/cimxml"
)

const (
	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxAuthRetries is the default number of transparent retries
	// after a 401 challenge. Some deployments want the historical bound
	// of 5; see WithMaxAuthRetries.
	DefaultMaxAuthRetries = 1

	// defaultBufferSize is the initial size for pooled buffers.
	defaultBufferSize = 32 * 1024 // 32KB
)

// bufferPool is a pool of reusable bytes.Buffer to reduce allocations.
var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, defaultBufferSize))
	},
}

func getBuffer() *bytes.Buffer {
	return bufferPool.Get().(*bytes.Buffer)
}

func putBuffer(buf *bytes.Buffer) {
	buf.Reset()
	bufferPool.Put(buf)
}

// readAllPooled reads from r using a pooled buffer and returns a copy of
// the data.
func readAllPooled(r io.Reader) ([]byte, error) {
	buf := getBuffer()
	defer putBuffer(buf)

	_, err := buf.ReadFrom(r)
	if err != nil {
		return nil, err
	}

	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

// AuthRefresher is implemented by authenticators that can update their
// material from a 401 challenge before the transport retries.
type AuthRefresher interface {
	RefreshAuth(challenge http.Header) error
}

// HTTPTransport handles HTTP/HTTPS communication for CIM-XML operations.
type HTTPTransport struct {
	client         *http.Client
	maxAuthRetries int
	refresher      AuthRefresher
}

// HTTPTransportOption configures an HTTPTransport.
type HTTPTransportOption func(*HTTPTransport)

// NewHTTPTransport creates a new HTTP transport with the given options.
func NewHTTPTransport(opts ...HTTPTransportOption) *HTTPTransport {
	t := &HTTPTransport{
		maxAuthRetries: DefaultMaxAuthRetries,
		client: &http.Client{
			Timeout: DefaultTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) HTTPTransportOption {
	return func(t *HTTPTransport) {
		t.client.Timeout = d
	}
}

// WithInsecureSkipVerify configures TLS to skip certificate verification.
// WARNING: Only use this for testing. Never use in production.
func WithInsecureSkipVerify(skip bool) HTTPTransportOption {
	return func(t *HTTPTransport) {
		if skip {
			fmt.Fprintf(os.Stderr, "WARNING: TLS certificate verification disabled. This is insecure and should only be used for testing.\n")
		}
		transport := t.ensureHTTPTransport()
		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{
				MinVersion: tls.VersionTLS12,
			}
		}
		transport.TLSClientConfig.InsecureSkipVerify = skip
	}
}

// WithRootCAs verifies server certificates against the given pool
// instead of the system trust store. Use LoadCABundle to build a pool
// from a PEM file.
func WithRootCAs(pool *x509.CertPool) HTTPTransportOption {
	return func(t *HTTPTransport) {
		transport := t.ensureHTTPTransport()
		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{
				MinVersion: tls.VersionTLS12,
			}
		}
		transport.TLSClientConfig.RootCAs = pool
	}
}

// WithTLSConfig sets a custom TLS configuration.
// NOTE: MinVersion is enforced to be at least TLS 1.2.
func WithTLSConfig(cfg *tls.Config) HTTPTransportOption {
	return func(t *HTTPTransport) {
		transport := t.ensureHTTPTransport()
		if cfg.MinVersion < tls.VersionTLS12 {
			cfg.MinVersion = tls.VersionTLS12
		}
		transport.TLSClientConfig = cfg
	}
}

// WithMaxAuthRetries bounds the transparent retries after a 401
// challenge. The historical bound is 5; the default is 1.
func WithMaxAuthRetries(n int) HTTPTransportOption {
	return func(t *HTTPTransport) {
		if n >= 0 {
			t.maxAuthRetries = n
		}
	}
}

// WithAuthRefresher installs a hook invoked with the 401 challenge
// headers before each retry.
func WithAuthRefresher(r AuthRefresher) HTTPTransportOption {
	return func(t *HTTPTransport) {
		t.refresher = r
	}
}

// LoadCABundle reads a PEM CA bundle into a certificate pool.
func LoadCABundle(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("transport: read CA bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("transport: no certificates found in %s", path)
	}
	return pool, nil
}

// ensureHTTPTransport ensures the client has an *http.Transport.
func (t *HTTPTransport) ensureHTTPTransport() *http.Transport {
	if t.client.Transport == nil {
		t.client.Transport = &http.Transport{}
	}
	transport, ok := t.client.Transport.(*http.Transport)
	if !ok {
		transport = &http.Transport{}
		t.client.Transport = transport
	}
	return transport
}

// Post sends one CIM-XML operation request and returns the response
// body. method and object populate the CIMMethod and CIMObject headers.
//
// 401 responses trigger the bounded transparent retry: the refresher (if
// any) updates the authentication material and the request is reissued,
// up to the configured retry bound. Exhaustion surfaces
// ErrAuthentication. Socket failures surface *ConnectionError, elapsed
// deadlines *TimeoutError, and any other non-200 status *HTTPError.
func (t *HTTPTransport) Post(ctx context.Context, url, method, object string, payload []byte) ([]byte, error) {
	attempts := t.maxAuthRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		body, retry, err := t.post(ctx, url, method, object, payload)
		if err != nil {
			return nil, err
		}
		if !retry {
			return body, nil
		}
	}
	return nil, fmt.Errorf("transport: %d authentication attempts exhausted: %w", attempts, ErrAuthentication)
}

// post performs a single exchange. retry is true only for a 401 whose
// challenge was fed to the refresher.
func (t *HTTPTransport) post(ctx context.Context, url, method, object string, payload []byte) (body []byte, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, false, fmt.Errorf("transport: failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", cimxml.ContentTypeCIMXML)
	req.Header.Set(cimxml.HdrOperation, cimxml.HdrOperationMethodCall)
	req.Header.Set(cimxml.HdrMethod, method)
	req.Header.Set(cimxml.HdrObject, object)
	req.Header.Set(cimxml.HdrProtocolVersion, cimxml.ProtocolVersion)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, false, classifyDoError(url, err)
	}
	defer resp.Body.Close()

	respBody, err := readAllPooled(resp.Body)
	if err != nil {
		return nil, false, &ConnectionError{URL: url, Err: err}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		if t.refresher != nil {
			if rerr := t.refresher.RefreshAuth(resp.Header); rerr != nil {
				return nil, false, fmt.Errorf("transport: refresh credentials: %w", rerr)
			}
		}
		return nil, true, nil
	}
	if resp.StatusCode != http.StatusOK {
		bodyPreview := string(respBody)
		if len(bodyPreview) > 3000 {
			bodyPreview = bodyPreview[:3000] + "..."
		}
		return nil, false, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: bodyPreview}
	}

	return respBody, false, nil
}

// classifyDoError separates elapsed deadlines from other socket-level
// failures.
func classifyDoError(url string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{URL: url, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{URL: url, Err: err}
	}
	return &ConnectionError{URL: url, Err: err}
}

// Client returns the underlying HTTP client for advanced configuration.
func (t *HTTPTransport) Client() *http.Client {
	return t.client
}

// CloseIdleConnections closes any idle connections in the transport.
func (t *HTTPTransport) CloseIdleConnections() {
	t.client.CloseIdleConnections()
}
