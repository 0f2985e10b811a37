package auth

import (
	"net/http"

	"github.com/Azure/go-ntlmssp"
)

// NTLMAuth implements NTLM authentication for WBEM endpoints fronted by
// the Windows WMI mapper.
type NTLMAuth struct {
	creds Credentials
}

// NewNTLMAuth creates a new NTLM authentication handler.
func NewNTLMAuth(creds Credentials) *NTLMAuth {
	return &NTLMAuth{creds: creds}
}

// Name returns the authentication scheme name.
func (a *NTLMAuth) Name() string {
	return "NTLM"
}

// Transport wraps an http.RoundTripper with NTLM authentication.
// Uses github.com/Azure/go-ntlmssp for the NTLM handshake; the
// negotiator takes the credentials from the Basic auth header the
// wrapper sets on each request.
func (a *NTLMAuth) Transport(base http.RoundTripper) http.RoundTripper {
	return &ntlmTransport{
		negotiator: ntlmssp.Negotiator{RoundTripper: base},
		creds:      a.creds,
	}
}

type ntlmTransport struct {
	negotiator ntlmssp.Negotiator
	creds      Credentials
}

// RoundTrip implements http.RoundTripper.
func (t *ntlmTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	reqCopy := req.Clone(req.Context())

	user := t.creds.Username
	if t.creds.Domain != "" {
		user = t.creds.Domain + `\` + user
	}
	reqCopy.SetBasicAuth(user, t.creds.Password)

	return t.negotiator.RoundTrip(reqCopy)
}
