package listener

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smnsjas/go-wbem/cimxml"
)

// freePort grabs an ephemeral port and releases it for the listener to
// rebind. The race window is acceptable in tests.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func alertIndication(severity uint16) *cimxml.Instance {
	return &cimxml.Instance{
		ClassName: "CIM_AlertIndication",
		Properties: []cimxml.Property{
			{Name: "AlertType", Type: cimxml.TypeUint16, Value: severity},
			{Name: "Description", Type: cimxml.TypeString, Value: "fan failure"},
		},
	}
}

func postIndication(t *testing.T, addr string, messageID uint64, inst *cimxml.Instance) *http.Response {
	t.Helper()
	payload, err := cimxml.EncodeExportIndication(messageID, inst)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, "http://"+addr+"/", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", cimxml.ContentTypeCIMXML)
	req.Header.Set(cimxml.HdrExport, cimxml.HdrExportMethodRequest)
	req.Header.Set(cimxml.HdrExportMethod, cimxml.ExportMethodIndication)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func postIndicationTLS(t *testing.T, addr string, messageID uint64, inst *cimxml.Instance, pool *x509.CertPool) *http.Response {
	t.Helper()
	payload, err := cimxml.EncodeExportIndication(messageID, inst)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, "https://"+addr+"/", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", cimxml.ContentTypeCIMXML)
	req.Header.Set(cimxml.HdrExport, cimxml.HdrExportMethodRequest)
	req.Header.Set(cimxml.HdrExportMethod, cimxml.ExportMethodIndication)

	client := &http.Client{Transport: &http.Transport{
		TLSClientConfig: &tls.Config{RootCAs: pool},
	}}
	defer client.CloseIdleConnections()

	resp, err := client.Do(req)
	require.NoError(t, err)
	return resp
}

// selfSignedCert writes a loopback server certificate and key as PEM
// files and returns a pool trusting the certificate.
func selfSignedCert(t *testing.T) (certFile, keyFile string, pool *x509.CertPool) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "wbem-listener-test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, certPEM, 0o600))
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0o600))

	pool = x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM(certPEM))
	return certFile, keyFile, pool
}

// startListener starts a listener on a free port and returns it with
// the loopback address clients should dial.
func startListener(t *testing.T, cbs ...Callback) (*Listener, string) {
	t.Helper()
	port := freePort(t)
	l, err := New(Config{HTTPPort: port})
	require.NoError(t, err)
	for _, cb := range cbs {
		l.AddCallback(cb)
	}
	require.NoError(t, l.Start())
	t.Cleanup(func() { _ = l.Stop() })
	return l, fmt.Sprintf("127.0.0.1:%d", port)
}

func TestListener_DeliversIndication(t *testing.T) {
	var mu sync.Mutex
	var got []Indication
	_, addr := startListener(t, func(ind Indication) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ind)
	})

	resp := postIndication(t, addr, 7, alertIndication(5))
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The callback ran before the acknowledgment was written.
	mu.Lock()
	require.Len(t, got, 1)
	ind := got[0]
	mu.Unlock()

	assert.Equal(t, "CIM_AlertIndication", ind.Instance.ClassName)
	p, ok := ind.Instance.Property("AlertType")
	require.True(t, ok)
	assert.Equal(t, uint16(5), p.Value)
	assert.Equal(t, "127.0.0.1", ind.Source)
	assert.False(t, ind.Arrival.IsZero())

	assert.Equal(t, "MethodResponse", resp.Header.Get(cimxml.HdrExport))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "<SIMPLEEXPRSP>")
	assert.Contains(t, string(body), `ID="7"`)
}

func TestListener_CallbackOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string) Callback {
		return func(Indication) {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
		}
	}
	_, addr := startListener(t, record("first"), record("second"), record("third"))

	resp := postIndication(t, addr, 1, alertIndication(2))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestListener_ConcurrentDeliveries(t *testing.T) {
	const deliveries = 100

	var mu sync.Mutex
	seen := make(map[uint16]int)
	_, addr := startListener(t, func(ind Indication) {
		p, ok := ind.Instance.Property("AlertType")
		if !ok {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		seen[p.Value.(uint16)]++
	})

	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			resp := postIndication(t, addr, uint64(n), alertIndication(uint16(n)))
			resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, deliveries)
	for i := 0; i < deliveries; i++ {
		assert.Equal(t, 1, seen[uint16(i)])
	}
}

func TestListener_MalformedRejected(t *testing.T) {
	calls := 0
	_, addr := startListener(t, func(Indication) { calls++ })

	tests := []struct {
		name string
		body string
	}{
		{"not xml", "this is not xml"},
		{"wrong envelope", `<?xml version="1.0" encoding="utf-8" ?><CIM CIMVERSION="2.0" DTDVERSION="2.0"><MESSAGE ID="1" PROTOCOLVERSION="1.0"><SIMPLEREQ/></MESSAGE></CIM>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post("http://"+addr+"/", cimxml.ContentTypeCIMXML,
				strings.NewReader(tt.body))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}

	// Rejected requests never reach callbacks.
	assert.Equal(t, 0, calls)
}

func TestListener_MethodNotAllowed(t *testing.T) {
	_, addr := startListener(t)

	resp, err := http.Get("http://" + addr + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, http.MethodPost, resp.Header.Get("Allow"))
}

func TestListener_StartStopIdempotent(t *testing.T) {
	l, err := New(Config{HTTPPort: freePort(t)})
	require.NoError(t, err)

	require.NoError(t, l.Start())
	require.True(t, l.Running())
	addr := l.HTTPAddr()

	// Second Start is a no-op.
	require.NoError(t, l.Start())

	require.NoError(t, l.Stop())
	require.False(t, l.Running())
	require.NoError(t, l.Stop())

	// The port is released after Stop.
	ln, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	ln.Close()
}

func TestListener_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	l, err := New(Config{HTTPPort: port})
	require.NoError(t, err)

	err = l.Start()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPortInUse)
	assert.Contains(t, err.Error(), fmt.Sprint(port))
	assert.False(t, l.Running())
}

func TestListener_TLSAndHTTPTogether(t *testing.T) {
	certFile, keyFile, pool := selfSignedCert(t)
	httpPort := freePort(t)
	tlsPort := freePort(t)

	var mu sync.Mutex
	seen := make(map[uint16]int)
	l, err := New(Config{
		HTTPPort: httpPort,
		TLSPort:  tlsPort,
		CertFile: certFile,
		KeyFile:  keyFile,
	})
	require.NoError(t, err)
	l.AddCallback(func(ind Indication) {
		p, ok := ind.Instance.Property("AlertType")
		if !ok {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		seen[p.Value.(uint16)]++
	})
	require.NoError(t, l.Start())
	t.Cleanup(func() { _ = l.Stop() })

	resp := postIndication(t, fmt.Sprintf("127.0.0.1:%d", httpPort), 1, alertIndication(1))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postIndicationTLS(t, fmt.Sprintf("127.0.0.1:%d", tlsPort), 2, alertIndication(2), pool)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "MethodResponse", resp.Header.Get(cimxml.HdrExport))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "<SIMPLEEXPRSP>")
	assert.Contains(t, string(body), `ID="2"`)

	// Both sockets feed the same callback list.
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, seen[1])
	assert.Equal(t, 1, seen[2])
}

func TestListener_StartFailureStartsNothing(t *testing.T) {
	var logBuf bytes.Buffer
	cfg := Config{
		HTTPPort: freePort(t),
		TLSPort:  freePort(t),
		CertFile: filepath.Join(t.TempDir(), "missing-cert.pem"),
		KeyFile:  filepath.Join(t.TempDir(), "missing-key.pem"),
		Logger:   slog.New(slog.NewTextHandler(&logBuf, nil)),
	}
	l, err := New(cfg)
	require.NoError(t, err)

	err = l.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load certificate")
	assert.False(t, l.Running())

	// The HTTP socket bound before the certificate failure is released
	// without ever having served.
	time.Sleep(50 * time.Millisecond)
	assert.NotContains(t, logBuf.String(), "serve failed")
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.HTTPPort))
	require.NoError(t, err)
	ln.Close()
}

func TestListener_ExportHeadersValidated(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	_, addr := startListener(t, func(Indication) {
		mu.Lock()
		defer mu.Unlock()
		calls++
	})
	delivered := func() int {
		mu.Lock()
		defer mu.Unlock()
		return calls
	}

	payload, err := cimxml.EncodeExportIndication(3, alertIndication(3))
	require.NoError(t, err)

	post := func(t *testing.T, export, method string) *http.Response {
		t.Helper()
		req, err := http.NewRequest(http.MethodPost, "http://"+addr+"/", bytes.NewReader(payload))
		require.NoError(t, err)
		req.Header.Set("Content-Type", cimxml.ContentTypeCIMXML)
		if export != "" {
			req.Header.Set(cimxml.HdrExport, export)
		}
		if method != "" {
			req.Header.Set(cimxml.HdrExportMethod, method)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	t.Run("wrong CIMExport", func(t *testing.T) {
		resp := post(t, "MethodResponse", cimxml.ExportMethodIndication)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, 0, delivered())
	})

	t.Run("unknown export method", func(t *testing.T) {
		resp := post(t, cimxml.HdrExportMethodRequest, "DeliverBatch")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, 0, delivered())
	})

	t.Run("absent headers accepted", func(t *testing.T) {
		resp := post(t, "", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, 1, delivered())
	})
}

func TestListener_ConfigValidation(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	_, err = New(Config{TLSPort: 5991})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "certificate")
}
