// Package listener implements a WBEM indication listener: an embedded
// HTTP(S) server that accepts CIM-XML ExportIndication POSTs from WBEM
// servers and dispatches the decoded indications to registered
// callbacks.
package listener

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/smnsjas/go-wbem/cimxml"
	wbemlog "github.com/smnsjas/go-wbem/internal/log"
)

// ErrPortInUse is returned by Start when a configured port is already
// bound by another process. Use errors.Is to distinguish it from other
// startup failures.
var ErrPortInUse = errors.New("listener: port already in use")

// maxIndicationSize bounds inbound request bodies. Indications are
// small; anything larger is hostile or broken.
const maxIndicationSize = 10 << 20 // 10MB

// shutdownTimeout bounds how long Stop waits for in-flight deliveries.
const shutdownTimeout = 5 * time.Second

// Indication is one received event notification.
type Indication struct {
	// Instance is the decoded indication instance.
	Instance cimxml.Instance

	// Source is the host of the exporting server.
	Source string

	// Arrival is when the listener received the export.
	Arrival time.Time
}

// Callback receives indications. Callbacks run synchronously, in
// registration order, before the HTTP response is sent; deliveries from
// different senders run concurrently.
type Callback func(Indication)

// Config holds configuration for a Listener. At least one of HTTPPort
// and TLSPort must be set; setting both serves plain HTTP and TLS under
// one logical listener identity.
type Config struct {
	// HTTPPort is the plain-HTTP listening port. Zero disables it.
	HTTPPort int

	// TLSPort is the HTTPS listening port. Zero disables it.
	TLSPort int

	// CertFile and KeyFile locate the PEM server certificate and key
	// for the TLS port.
	CertFile string
	KeyFile  string

	// TLSConfig overrides CertFile/KeyFile with a full TLS
	// configuration.
	TLSConfig *tls.Config

	// Logger receives structured logs. Nil disables logging.
	Logger *slog.Logger
}

// Listener is a WBEM indication listener. Register callbacks before
// Start; the callback list is read-only while serving.
type Listener struct {
	mu sync.Mutex

	config    Config
	logger    *slog.Logger
	id        uuid.UUID
	callbacks []Callback

	// dispatch is the callback list snapshot taken at Start; it is the
	// only state shared between deliveries and is never written while
	// serving.
	dispatch []Callback

	running   bool
	servers   []*http.Server
	listeners []net.Listener
}

// New creates a Listener from the given configuration.
func New(cfg Config) (*Listener, error) {
	if cfg.HTTPPort == 0 && cfg.TLSPort == 0 {
		return nil, errors.New("listener: no listening port configured")
	}
	if cfg.TLSPort != 0 && cfg.TLSConfig == nil && (cfg.CertFile == "" || cfg.KeyFile == "") {
		return nil, errors.New("listener: TLS port requires a certificate")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	} else {
		logger = slog.New(wbemlog.NewRedactingHandler(logger.Handler()))
	}

	l := &Listener{
		config: cfg,
		id:     uuid.New(),
	}
	l.logger = logger.With("listener", l.id.String())
	return l, nil
}

// AddCallback registers a callback. Callbacks must be registered before
// Start; registering while the listener is serving is unsupported.
func (l *Listener) AddCallback(cb Callback) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.callbacks = append(l.callbacks, cb)
}

// Start binds the configured sockets and begins serving. It is
// idempotent: starting a started listener is a no-op. It fails fast
// when a port is already bound, with an error matching ErrPortInUse.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return nil
	}

	l.dispatch = append([]Callback(nil), l.callbacks...)

	var lns []net.Listener
	var srvs []*http.Server
	cleanup := func() {
		for _, ln := range lns {
			_ = ln.Close()
		}
	}

	if l.config.HTTPPort != 0 {
		ln, err := bind(l.config.HTTPPort)
		if err != nil {
			cleanup()
			return err
		}
		lns = append(lns, ln)
		srvs = append(srvs, &http.Server{Handler: l})
	}

	if l.config.TLSPort != 0 {
		ln, err := bind(l.config.TLSPort)
		if err != nil {
			cleanup()
			return err
		}
		lns = append(lns, ln)
		tlsCfg := l.config.TLSConfig
		if tlsCfg == nil {
			cert, err := tls.LoadX509KeyPair(l.config.CertFile, l.config.KeyFile)
			if err != nil {
				cleanup()
				return fmt.Errorf("listener: load certificate: %w", err)
			}
			tlsCfg = &tls.Config{
				MinVersion:   tls.VersionTLS12,
				Certificates: []tls.Certificate{cert},
			}
		}
		lns[len(lns)-1] = tls.NewListener(ln, tlsCfg)
		srvs = append(srvs, &http.Server{Handler: l})
	}

	// No goroutine starts until every socket is bound and the certificate
	// has loaded; a failed Start leaves nothing running.
	for i, srv := range srvs {
		tlsSocket := l.config.TLSPort != 0 && i == len(srvs)-1
		go l.serve(srv, lns[i], tlsSocket)
	}

	l.listeners = lns
	l.servers = srvs
	l.running = true
	l.logger.Info("listener started", "http_port", l.config.HTTPPort, "tls_port", l.config.TLSPort)
	return nil
}

// Stop stops serving and releases the listening sockets. It is
// idempotent. No new connections are accepted after Stop returns;
// in-progress callback invocations are allowed to finish, not aborted.
func (l *Listener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range l.servers {
		if err := srv.Shutdown(ctx); err != nil {
			// Deliveries still running at the deadline get cut off.
			_ = srv.Close()
		}
	}

	l.servers = nil
	l.listeners = nil
	l.running = false
	l.logger.Info("listener stopped")
	return nil
}

// Running reports whether the listener is serving.
func (l *Listener) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// HTTPAddr returns the bound address of the plain-HTTP socket, or ""
// when not serving one. Useful when HTTPPort selects an ephemeral port
// in tests.
func (l *Listener) HTTPAddr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, ln := range l.listeners {
		// The plain listener is always first when configured.
		if i == 0 && l.config.HTTPPort != 0 {
			return ln.Addr().String()
		}
	}
	return ""
}

func bind(port int) (net.Listener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("%w: %d", ErrPortInUse, port)
		}
		return nil, fmt.Errorf("listener: bind port %d: %w", port, err)
	}
	return ln, nil
}

func (l *Listener) serve(srv *http.Server, ln net.Listener, tls bool) {
	err := srv.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.logger.Error("serve failed", "tls", tls, "error", err)
	}
}

// ServeHTTP handles one inbound export request. Any path is accepted;
// the protocol does not mandate path-based routing.
func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Export headers are validated when present; exporters that omit them
	// are accepted.
	if v := r.Header.Get(cimxml.HdrExport); v != "" && v != cimxml.HdrExportMethodRequest {
		l.logger.Warn("unexpected CIMExport header", "remote", r.RemoteAddr, "value", v)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if v := r.Header.Get(cimxml.HdrExportMethod); v != "" && v != cimxml.ExportMethodIndication {
		l.logger.Warn("unsupported export method", "remote", r.RemoteAddr, "method", v)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	body, err := readBody(r)
	if err != nil {
		l.logger.Warn("unreadable export request", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	export, err := cimxml.DecodeExportRequest(body)
	if err != nil {
		// Malformed indications are dropped, never delivered.
		l.logger.Warn("malformed export request", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	ind := Indication{
		Instance: export.Indication,
		Source:   remoteHost(r.RemoteAddr),
		Arrival:  time.Now(),
	}

	// Callbacks run in registration order, before the acknowledgment.
	for _, cb := range l.dispatch {
		cb(ind)
	}

	l.logger.Debug("indication delivered",
		"class", ind.Instance.ClassName, "source", ind.Source)

	w.Header().Set("Content-Type", cimxml.ContentTypeCIMXML)
	w.Header().Set(cimxml.HdrExport, "MethodResponse")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(cimxml.EncodeExportResponse(export.MessageID))
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(http.MaxBytesReader(nil, r.Body, maxIndicationSize))
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
