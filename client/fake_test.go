package client

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smnsjas/go-wbem/cimxml"
)

// fakeCIMOM is an httptest server that dispatches scripted CIM-XML
// responses by the CIMMethod request header and records every call.
type fakeCIMOM struct {
	mu       sync.Mutex
	calls    []string
	bodies   map[string][]string
	handlers map[string]http.HandlerFunc
	srv      *httptest.Server
}

func newFakeCIMOM(t *testing.T) *fakeCIMOM {
	f := &fakeCIMOM{
		handlers: make(map[string]http.HandlerFunc),
		bodies:   make(map[string][]string),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.Header.Get(cimxml.HdrMethod)
		body, _ := io.ReadAll(r.Body)

		f.mu.Lock()
		f.calls = append(f.calls, method)
		f.bodies[method] = append(f.bodies[method], string(body))
		h := f.handlers[method]
		f.mu.Unlock()

		if h == nil {
			http.Error(w, "unexpected method "+method, http.StatusNotImplemented)
			return
		}
		r.Body = io.NopCloser(strings.NewReader(string(body)))
		h(w, r)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

// handle installs a handler for one CIMMethod.
func (f *fakeCIMOM) handle(method string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = h
}

// respond installs a fixed 200 response for one CIMMethod.
func (f *fakeCIMOM) respond(method, body string) {
	f.handle(method, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", cimxml.ContentTypeCIMXML)
		_, _ = w.Write([]byte(body))
	})
}

// fault installs a CIM fault response for one CIMMethod.
func (f *fakeCIMOM) fault(method string, code int, desc string) {
	f.respond(method, imethodResponse(method,
		fmt.Sprintf(`<ERROR CODE="%d" DESCRIPTION="%s"/>`, code, desc)))
}

// callCount returns how many requests named the given CIMMethod.
func (f *fakeCIMOM) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == method {
			n++
		}
	}
	return n
}

// lastBody returns the most recent request payload for a CIMMethod.
func (f *fakeCIMOM) lastBody(method string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	bodies := f.bodies[method]
	if len(bodies) == 0 {
		return ""
	}
	return bodies[len(bodies)-1]
}

// connect builds a Connection pointed at the fake server.
func (f *fakeCIMOM) connect(t *testing.T, mutate func(*Config)) *Connection {
	u, err := url.Parse(f.srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Username = "admin"
	cfg.Password = "swordfish"
	cfg.Port = port
	if mutate != nil {
		mutate(&cfg)
	}

	conn, err := New(u.Hostname(), cfg)
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	return conn
}

func imethodResponse(method, inner string) string {
	return `<?xml version="1.0" encoding="utf-8" ?>
<CIM CIMVERSION="2.0" DTDVERSION="2.0">
 <MESSAGE ID="1" PROTOCOLVERSION="1.0">
  <SIMPLERSP><IMETHODRESPONSE NAME="` + method + `">` + inner + `</IMETHODRESPONSE></SIMPLERSP>
 </MESSAGE>
</CIM>`
}

// widgetWithPath renders one VALUE.INSTANCEWITHPATH test instance.
func widgetWithPath(id int) string {
	return fmt.Sprintf(`<VALUE.INSTANCEWITHPATH>
 <INSTANCEPATH>
  <NAMESPACEPATH>
   <HOST>cimom.test</HOST>
   <LOCALNAMESPACEPATH><NAMESPACE NAME="root"/><NAMESPACE NAME="cimv2"/></LOCALNAMESPACEPATH>
  </NAMESPACEPATH>
  <INSTANCENAME CLASSNAME="TST_Widget">
   <KEYBINDING NAME="ID"><KEYVALUE VALUETYPE="numeric">%d</KEYVALUE></KEYBINDING>
  </INSTANCENAME>
 </INSTANCEPATH>
 <INSTANCE CLASSNAME="TST_Widget">
  <PROPERTY NAME="ID" TYPE="uint32"><VALUE>%d</VALUE></PROPERTY>
 </INSTANCE>
</VALUE.INSTANCEWITHPATH>`, id, id)
}

// widgetNamed renders one VALUE.NAMEDINSTANCE test instance, the shape
// traditional EnumerateInstances responses use.
func widgetNamed(id int) string {
	return fmt.Sprintf(`<VALUE.NAMEDINSTANCE>
 <INSTANCENAME CLASSNAME="TST_Widget">
  <KEYBINDING NAME="ID"><KEYVALUE VALUETYPE="numeric">%d</KEYVALUE></KEYBINDING>
 </INSTANCENAME>
 <INSTANCE CLASSNAME="TST_Widget">
  <PROPERTY NAME="ID" TYPE="uint32"><VALUE>%d</VALUE></PROPERTY>
 </INSTANCE>
</VALUE.NAMEDINSTANCE>`, id, id)
}

// widgetPath renders one INSTANCEPATH element.
func widgetPath(id int) string {
	return fmt.Sprintf(`<INSTANCEPATH>
 <NAMESPACEPATH>
  <HOST>cimom.test</HOST>
  <LOCALNAMESPACEPATH><NAMESPACE NAME="root"/><NAMESPACE NAME="cimv2"/></LOCALNAMESPACEPATH>
 </NAMESPACEPATH>
 <INSTANCENAME CLASSNAME="TST_Widget">
  <KEYBINDING NAME="ID"><KEYVALUE VALUETYPE="numeric">%d</KEYVALUE></KEYBINDING>
 </INSTANCENAME>
</INSTANCEPATH>`, id)
}

// pullBody renders the IRETURNVALUE plus pull output parameters of one
// Open or Pull response.
func pullBody(items []string, contextToken string, eos bool) string {
	var sb strings.Builder
	sb.WriteString("<IRETURNVALUE>")
	for _, it := range items {
		sb.WriteString(it)
	}
	sb.WriteString("</IRETURNVALUE>")
	if contextToken != "" {
		sb.WriteString(`<PARAMVALUE NAME="EnumerationContext" PARAMTYPE="string"><VALUE>` + contextToken + `</VALUE></PARAMVALUE>`)
	}
	sb.WriteString(fmt.Sprintf(`<PARAMVALUE NAME="EndOfSequence" PARAMTYPE="boolean"><VALUE>%t</VALUE></PARAMVALUE>`, eos))
	return sb.String()
}

var maxObjectCountRE = regexp.MustCompile(`NAME="MaxObjectCount"><VALUE>(\d+)</VALUE>`)

// servePull wires a stateful Open/Pull script: the fake serves items in
// the order given, honoring each request's MaxObjectCount.
func (f *fakeCIMOM) servePull(openMethod, pullMethod string, items []string) {
	var mu sync.Mutex
	pos := 0

	serve := func(method string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			count := 0
			if m := maxObjectCountRE.FindStringSubmatch(string(body)); m != nil {
				count, _ = strconv.Atoi(m[1])
			}

			mu.Lock()
			n := count
			if remaining := len(items) - pos; n > remaining {
				n = remaining
			}
			batch := items[pos : pos+n]
			pos += n
			eos := pos >= len(items)
			mu.Unlock()

			token := ""
			if !eos {
				token = "ctx-token"
			}
			w.Header().Set("Content-Type", cimxml.ContentTypeCIMXML)
			_, _ = w.Write([]byte(imethodResponse(method, pullBody(batch, token, eos))))
		}
	}

	f.handle(openMethod, serve(openMethod))
	f.handle(pullMethod, serve(pullMethod))
}
