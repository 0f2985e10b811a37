package client

import (
	"context"

	"github.com/smnsjas/go-wbem/cimxml"
)

// InstanceIterator is a lazy, finite, single-pass sequence of instances.
// Consuming it drives Open and Pull exchanges on demand, one round trip
// per exhausted batch. It is not restartable. Abandoning iteration early
// is allowed; call Close to release the server-held cursor eagerly, or
// let the server expire it.
//
//	it := conn.IterEnumerateInstances("CIM_ComputerSystem", nil)
//	defer it.Close(ctx)
//	for it.Next(ctx) {
//	    use(it.Instance())
//	}
//	if err := it.Err(); err != nil { ... }
type InstanceIterator struct {
	iter iterator
}

// Next advances to the next instance, issuing the Open or a Pull when
// the current batch is drained. It returns false at end of sequence or
// on error; Err distinguishes the two.
func (it *InstanceIterator) Next(ctx context.Context) bool {
	return it.iter.next(ctx)
}

// Instance returns the current instance. Valid only after Next returned
// true.
func (it *InstanceIterator) Instance() cimxml.Instance {
	return it.iter.batch.Instances[it.iter.idx]
}

// Err returns the error that terminated iteration, if any.
func (it *InstanceIterator) Err() error {
	return it.iter.err
}

// Close releases the server-held cursor. It is idempotent and safe at
// any point of iteration.
func (it *InstanceIterator) Close(ctx context.Context) error {
	return it.iter.close(ctx)
}

// PathIterator is the path-sequence counterpart of InstanceIterator.
type PathIterator struct {
	iter iterator
}

// Next advances to the next path. See InstanceIterator.Next.
func (it *PathIterator) Next(ctx context.Context) bool {
	return it.iter.next(ctx)
}

// Path returns the current instance path. Valid only after Next
// returned true.
func (it *PathIterator) Path() cimxml.InstanceName {
	return it.iter.batch.Paths[it.iter.idx]
}

// Err returns the error that terminated iteration, if any.
func (it *PathIterator) Err() error {
	return it.iter.err
}

// Close releases the server-held cursor.
func (it *PathIterator) Close(ctx context.Context) error {
	return it.iter.close(ctx)
}

// iterator drives one enumeration session batch by batch. The session is
// opened lazily on the first next call, so constructing an iterator
// performs no network activity.
type iterator struct {
	enum      *Enumeration
	batchSize uint32

	opened bool
	batch  Batch
	idx    int
	err    error
	done   bool
}

func (t *iterator) next(ctx context.Context) bool {
	if t.err != nil || t.done {
		return false
	}
	for {
		if t.idx+1 < t.batch.len() {
			t.idx++
			return true
		}

		// Current batch drained; fetch the next one unless the
		// sequence already ended.
		if t.opened && t.batch.EndOfSequence {
			t.done = true
			return false
		}

		var batch Batch
		var err error
		if !t.opened {
			batch, err = t.enum.open(ctx, Uint32(t.batchSize))
			t.opened = true
		} else {
			// A mid-sequence batch may legitimately be empty; keep
			// pulling until objects arrive or the sequence ends.
			batch, err = t.enum.Pull(ctx, t.batchSize)
		}
		if err != nil {
			t.err = err
			return false
		}
		t.batch = batch
		t.idx = -1
	}
}

func (t *iterator) close(ctx context.Context) error {
	t.done = true
	return t.enum.Close(ctx)
}

// IterEnumerateInstances returns a lazy sequence over the instances of a
// class. The pull policy of the connection decides whether the sequence
// is served by Open/Pull exchanges or one traditional exchange.
func (c *Connection) IterEnumerateInstances(className string, opts *EnumerateOptions) *InstanceIterator {
	params := append([]cimxml.Param{{Name: "ClassName", Value: cimxml.ClassName(className)}}, opts.params()...)
	return &InstanceIterator{iter: c.newIterator(enumInstances, params, params)}
}

// IterEnumerateInstancePaths returns a lazy sequence over the instance
// paths of a class.
func (c *Connection) IterEnumerateInstancePaths(className string) *PathIterator {
	params := []cimxml.Param{{Name: "ClassName", Value: cimxml.ClassName(className)}}
	return &PathIterator{iter: c.newIterator(enumInstancePaths, params, params)}
}

// IterAssociatorInstances returns a lazy sequence over the instances
// associated with a source instance.
func (c *Connection) IterAssociatorInstances(source *cimxml.InstanceName, opts *AssociatorOptions) *InstanceIterator {
	open := append([]cimxml.Param{{Name: "InstanceName", Value: source}}, opts.params()...)
	trad := append([]cimxml.Param{{Name: "ObjectName", Value: source}}, opts.params()...)
	return &InstanceIterator{iter: c.newIterator(enumAssociatorInstances, open, trad)}
}

// IterReferenceInstances returns a lazy sequence over the association
// instances referring to a source instance.
func (c *Connection) IterReferenceInstances(source *cimxml.InstanceName, opts *ReferenceOptions) *InstanceIterator {
	open := append([]cimxml.Param{{Name: "InstanceName", Value: source}}, opts.params()...)
	trad := append([]cimxml.Param{{Name: "ObjectName", Value: source}}, opts.params()...)
	return &InstanceIterator{iter: c.newIterator(enumReferenceInstances, open, trad)}
}

func (c *Connection) newIterator(kind enumKind, openParams, tradParams []cimxml.Param) iterator {
	return iterator{
		enum:      newEnumeration(c, kind, openParams, tradParams),
		batchSize: c.config.batchSize(),
		idx:       -1,
	}
}
