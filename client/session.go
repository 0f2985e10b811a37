package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/smnsjas/go-wbem/cimxml"
)

// SessionState is the lifecycle state of an enumeration session.
type SessionState int

const (
	// SessionNotStarted means Open has not been issued.
	SessionNotStarted SessionState = iota

	// SessionOpened means Open succeeded and no Pull has been issued.
	SessionOpened

	// SessionPulling means at least one Pull succeeded and the sequence
	// has not ended.
	SessionPulling

	// SessionExhausted means the server reported end of sequence; no
	// server-side state remains.
	SessionExhausted

	// SessionClosed means the session was explicitly closed.
	SessionClosed

	// SessionFailed means an Open or Pull failed. The session must not
	// be reused; results from earlier successful Pulls remain valid.
	SessionFailed
)

// String returns the state name.
func (s SessionState) String() string {
	switch s {
	case SessionNotStarted:
		return "not-started"
	case SessionOpened:
		return "opened"
	case SessionPulling:
		return "pulling"
	case SessionExhausted:
		return "exhausted"
	case SessionClosed:
		return "closed"
	case SessionFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SessionStateError reports a Pull or Open issued against a session in
// a state that does not permit it. It is a programming error, not a
// retryable condition; no network call was made.
type SessionStateError struct {
	Op    string
	State SessionState
}

// Error implements the error interface.
func (e *SessionStateError) Error() string {
	return fmt.Sprintf("wbem: %s on enumeration session in state %s", e.Op, e.State)
}

// IsSessionStateError reports whether err is (or wraps) a session state
// misuse error.
func IsSessionStateError(err error) bool {
	var s *SessionStateError
	return errors.As(err, &s)
}

// enumKind tags one pull-enumeration operation family.
type enumKind int

const (
	enumInstances enumKind = iota
	enumInstancePaths
	enumAssociatorInstances
	enumAssociatorPaths
	enumReferenceInstances
	enumReferencePaths
)

// enumOps maps an operation family to its wire method names and the
// traditional operation used when the server lacks pull support. Every
// supported family appears in this table; there is no dispatch by
// method-name string.
type enumOps struct {
	open        string
	pull        string
	traditional string
	paths       bool // sequence yields paths rather than instances
}

var enumTable = map[enumKind]enumOps{
	enumInstances: {
		open: "OpenEnumerateInstances", pull: "PullInstancesWithPath",
		traditional: "EnumerateInstances",
	},
	enumInstancePaths: {
		open: "OpenEnumerateInstancePaths", pull: "PullInstancePaths",
		traditional: "EnumerateInstanceNames", paths: true,
	},
	enumAssociatorInstances: {
		open: "OpenAssociatorInstances", pull: "PullInstancesWithPath",
		traditional: "Associators",
	},
	enumAssociatorPaths: {
		open: "OpenAssociatorInstancePaths", pull: "PullInstancePaths",
		traditional: "AssociatorNames", paths: true,
	},
	enumReferenceInstances: {
		open: "OpenReferenceInstances", pull: "PullInstancesWithPath",
		traditional: "References",
	},
	enumReferencePaths: {
		open: "OpenReferenceInstancePaths", pull: "PullInstancePaths",
		traditional: "ReferenceNames", paths: true,
	},
}

// Batch is the result of one Open or Pull exchange.
type Batch struct {
	// Instances holds the returned instances for instance sequences.
	Instances []cimxml.Instance

	// Paths holds the returned paths for path sequences.
	Paths []cimxml.InstanceName

	// EndOfSequence is true exactly when this batch is the final one.
	EndOfSequence bool
}

func (b *Batch) len() int {
	return len(b.Instances) + len(b.Paths)
}

// openOutcome is the tri-state result of opening a session.
type openOutcome int

const (
	openedWithPull openOutcome = iota
	openedWithoutPull
	openFailed
)

// Enumeration is one enumeration session: the client half of a pull
// sequence whose cursor the server holds between round trips. Sessions
// are sequential; a caller needing parallel enumeration uses separate
// sessions. No two sessions share a context token.
type Enumeration struct {
	mu sync.Mutex

	conn *Connection
	kind enumKind

	// openParams and tradParams carry the target and filter parameters
	// for the Open operation and its traditional fallback. They differ
	// where DSP0200 renames the target (InstanceName vs ObjectName).
	openParams []cimxml.Param
	tradParams []cimxml.Param

	state SessionState

	// context is the opaque server-issued token echoed on each Pull and
	// Close. It is replaced by every successful Pull.
	context string
	eos     bool

	// withPull is false after the traditional fallback; the remaining
	// result set is then served from buffered, without further network.
	withPull bool
	buffered Batch
	offset   int
}

// State returns the current session state.
func (e *Enumeration) State() SessionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// open issues the Open exchange (or the traditional operation, per
// policy) and returns the first batch. maxObjectCount nil lets the
// server choose the batch size; pointer-to-0 opens the session with no
// objects returned in the exchange.
func (e *Enumeration) open(ctx context.Context, maxObjectCount *uint32) (Batch, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != SessionNotStarted {
		return Batch{}, &SessionStateError{Op: "Open", State: e.state}
	}

	outcome, batch, err := e.doOpen(ctx, maxObjectCount)
	switch outcome {
	case openedWithPull:
		e.withPull = true
		e.noteProgress(&batch)
		return batch, nil
	case openedWithoutPull:
		e.withPull = false
		e.state = SessionOpened
		return e.serveBuffered(maxObjectCount), nil
	default:
		e.state = SessionFailed
		return Batch{}, err
	}
}

// doOpen performs the wire exchange(s) and classifies the outcome.
func (e *Enumeration) doOpen(ctx context.Context, maxObjectCount *uint32) (openOutcome, Batch, error) {
	ops := enumTable[e.kind]

	if e.conn.config.PullPolicy == PullNever {
		return e.openTraditional(ctx, ops)
	}

	params := append(append([]cimxml.Param{}, e.openParams...), optUint32("MaxObjectCount", maxObjectCount))
	resp, err := e.conn.invoke(ctx, ops.open, params)
	if err != nil {
		var fault *cimxml.Fault
		if e.conn.config.PullPolicy == PullAuto && errors.As(err, &fault) && fault.IsNotSupported() {
			e.conn.logger.Debug("pull enumeration not supported, falling back", "operation", ops.open)
			return e.openTraditional(ctx, ops)
		}
		return openFailed, Batch{}, err
	}

	batch, err := e.takeBatch(resp, ops)
	if err != nil {
		return openFailed, Batch{}, err
	}
	return openedWithPull, batch, nil
}

// openTraditional issues the single-exchange operation and buffers the
// full result set so the session can serve it as if it had been pulled.
func (e *Enumeration) openTraditional(ctx context.Context, ops enumOps) (openOutcome, Batch, error) {
	resp, err := e.conn.invoke(ctx, ops.traditional, e.tradParams)
	if err != nil {
		return openFailed, Batch{}, err
	}
	if ops.paths {
		e.buffered = Batch{Paths: resp.Paths}
	} else {
		e.buffered = Batch{Instances: resp.Instances}
	}
	e.offset = 0
	return openedWithoutPull, Batch{}, nil
}

// Pull retrieves the next batch. It is valid only on a session that is
// opened or mid-pull with the sequence not yet ended; anything else is a
// *SessionStateError and performs no network call. A fault or transport
// failure moves the session to SessionFailed; the stale context token is
// never retried.
func (e *Enumeration) Pull(ctx context.Context, maxObjectCount uint32) (Batch, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case SessionOpened, SessionPulling:
		// valid
	default:
		return Batch{}, &SessionStateError{Op: "Pull", State: e.state}
	}
	if e.eos {
		return Batch{}, &SessionStateError{Op: "Pull", State: e.state}
	}

	if !e.withPull {
		e.state = SessionPulling
		return e.serveBuffered(&maxObjectCount), nil
	}

	ops := enumTable[e.kind]
	resp, err := e.conn.invoke(ctx, ops.pull, []cimxml.Param{
		{Name: "EnumerationContext", Value: e.context},
		{Name: "MaxObjectCount", Value: maxObjectCount},
	})
	if err != nil {
		e.state = SessionFailed
		return Batch{}, err
	}

	batch, err := e.takeBatch(resp, ops)
	if err != nil {
		e.state = SessionFailed
		return Batch{}, err
	}
	e.noteProgress(&batch)
	return batch, nil
}

// Close abandons the server-held cursor. It is idempotent and never
// fails: closing a session that is already closed, exhausted, failed, or
// never opened is a no-op, and a failed wire Close is logged and
// dropped (the server expires the cursor on its own).
func (e *Enumeration) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	needsWireClose := e.withPull && !e.eos && e.context != "" &&
		(e.state == SessionOpened || e.state == SessionPulling)

	if needsWireClose {
		_, err := e.conn.invoke(ctx, "CloseEnumeration", []cimxml.Param{
			{Name: "EnumerationContext", Value: e.context},
		})
		if err != nil {
			e.conn.logger.Debug("close enumeration failed", "error", err)
		}
	}
	e.state = SessionClosed
	e.context = ""
	return nil
}

// takeBatch converts a decoded Open/Pull response into a batch and
// updates the context token.
func (e *Enumeration) takeBatch(resp *cimxml.OperationResponse, ops enumOps) (Batch, error) {
	if resp.EndOfSequence == nil {
		return Batch{}, &cimxml.MalformedResponseError{Reason: "pull response without EndOfSequence"}
	}
	eos := *resp.EndOfSequence
	if !eos && resp.EnumerationContext == "" {
		return Batch{}, &cimxml.MalformedResponseError{Reason: "pull response without enumeration context"}
	}

	batch := Batch{EndOfSequence: eos}
	if ops.paths {
		batch.Paths = resp.Paths
	} else {
		batch.Instances = resp.Instances
	}
	e.context = resp.EnumerationContext
	return batch, nil
}

// noteProgress updates session state after a successful exchange, under
// the session mutex.
func (e *Enumeration) noteProgress(batch *Batch) {
	e.eos = batch.EndOfSequence
	switch {
	case e.eos:
		e.state = SessionExhausted
		e.context = ""
	case e.state == SessionNotStarted:
		e.state = SessionOpened
	default:
		e.state = SessionPulling
	}
}

// serveBuffered returns the next slice of the buffered traditional
// result set, honoring pull batch semantics: a nil count drains the
// rest, a zero count returns nothing with the sequence still open.
func (e *Enumeration) serveBuffered(maxObjectCount *uint32) Batch {
	remaining := e.buffered.len() - e.offset

	n := remaining
	if maxObjectCount != nil && int(*maxObjectCount) < remaining {
		n = int(*maxObjectCount)
	}

	batch := Batch{}
	if len(e.buffered.Instances) > 0 {
		batch.Instances = e.buffered.Instances[e.offset : e.offset+n]
	} else if len(e.buffered.Paths) > 0 {
		batch.Paths = e.buffered.Paths[e.offset : e.offset+n]
	}
	e.offset += n
	batch.EndOfSequence = e.offset >= e.buffered.len()

	e.eos = batch.EndOfSequence
	if e.eos {
		e.state = SessionExhausted
	}
	return batch
}

// newEnumeration builds an unopened session for one operation family.
func newEnumeration(conn *Connection, kind enumKind, openParams, tradParams []cimxml.Param) *Enumeration {
	return &Enumeration{
		conn:       conn,
		kind:       kind,
		openParams: openParams,
		tradParams: tradParams,
		state:      SessionNotStarted,
		withPull:   true,
	}
}

// OpenEnumerateInstances opens a pull sequence over the instances of a
// class and returns the session together with its first batch.
func (c *Connection) OpenEnumerateInstances(ctx context.Context, className string, opts *EnumerateOptions, maxObjectCount *uint32) (*Enumeration, Batch, error) {
	params := append([]cimxml.Param{{Name: "ClassName", Value: cimxml.ClassName(className)}}, opts.params()...)
	return c.openEnumeration(ctx, enumInstances, params, params, maxObjectCount)
}

// OpenEnumerateInstancePaths opens a pull sequence over the instance
// paths of a class.
func (c *Connection) OpenEnumerateInstancePaths(ctx context.Context, className string, maxObjectCount *uint32) (*Enumeration, Batch, error) {
	params := []cimxml.Param{{Name: "ClassName", Value: cimxml.ClassName(className)}}
	return c.openEnumeration(ctx, enumInstancePaths, params, params, maxObjectCount)
}

// OpenAssociatorInstances opens a pull sequence over the instances
// associated with a source instance.
func (c *Connection) OpenAssociatorInstances(ctx context.Context, source *cimxml.InstanceName, opts *AssociatorOptions, maxObjectCount *uint32) (*Enumeration, Batch, error) {
	open := append([]cimxml.Param{{Name: "InstanceName", Value: source}}, opts.params()...)
	trad := append([]cimxml.Param{{Name: "ObjectName", Value: source}}, opts.params()...)
	return c.openEnumeration(ctx, enumAssociatorInstances, open, trad, maxObjectCount)
}

// OpenAssociatorInstancePaths opens a pull sequence over the paths of
// instances associated with a source instance.
func (c *Connection) OpenAssociatorInstancePaths(ctx context.Context, source *cimxml.InstanceName, opts *AssociatorOptions, maxObjectCount *uint32) (*Enumeration, Batch, error) {
	filters := func() []cimxml.Param {
		if opts == nil {
			return nil
		}
		return []cimxml.Param{
			optClassName("AssocClass", opts.AssocClass),
			optClassName("ResultClass", opts.ResultClass),
			optString("Role", opts.Role),
			optString("ResultRole", opts.ResultRole),
		}
	}()
	open := append([]cimxml.Param{{Name: "InstanceName", Value: source}}, filters...)
	trad := append([]cimxml.Param{{Name: "ObjectName", Value: source}}, filters...)
	return c.openEnumeration(ctx, enumAssociatorPaths, open, trad, maxObjectCount)
}

// OpenReferenceInstances opens a pull sequence over the association
// instances referring to a source instance.
func (c *Connection) OpenReferenceInstances(ctx context.Context, source *cimxml.InstanceName, opts *ReferenceOptions, maxObjectCount *uint32) (*Enumeration, Batch, error) {
	open := append([]cimxml.Param{{Name: "InstanceName", Value: source}}, opts.params()...)
	trad := append([]cimxml.Param{{Name: "ObjectName", Value: source}}, opts.params()...)
	return c.openEnumeration(ctx, enumReferenceInstances, open, trad, maxObjectCount)
}

// OpenReferenceInstancePaths opens a pull sequence over the paths of
// association instances referring to a source instance.
func (c *Connection) OpenReferenceInstancePaths(ctx context.Context, source *cimxml.InstanceName, opts *ReferenceOptions, maxObjectCount *uint32) (*Enumeration, Batch, error) {
	filters := func() []cimxml.Param {
		if opts == nil {
			return nil
		}
		return []cimxml.Param{
			optClassName("ResultClass", opts.ResultClass),
			optString("Role", opts.Role),
		}
	}()
	open := append([]cimxml.Param{{Name: "InstanceName", Value: source}}, filters...)
	trad := append([]cimxml.Param{{Name: "ObjectName", Value: source}}, filters...)
	return c.openEnumeration(ctx, enumReferencePaths, open, trad, maxObjectCount)
}

func (c *Connection) openEnumeration(ctx context.Context, kind enumKind, openParams, tradParams []cimxml.Param, maxObjectCount *uint32) (*Enumeration, Batch, error) {
	e := newEnumeration(c, kind, openParams, tradParams)
	batch, err := e.open(ctx, maxObjectCount)
	if err != nil {
		return nil, Batch{}, err
	}
	return e, batch, nil
}
