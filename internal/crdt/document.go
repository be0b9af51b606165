package crdt

import (
	"errors"
	"fmt"
)

var (
	// ErrDocumentReleased indicates use of a document after Release.
	ErrDocumentReleased = errors.New("crdt: document released")
	// ErrMissingReplica indicates a document was constructed without a replica id.
	ErrMissingReplica = errors.New("crdt: replica id required")
)

// Document is an ephemeral merge arena. It holds the folded op state of every
// fragment applied to it and must be released on every exit path; engines
// backing richer CRDTs hold memory that outlives garbage collection.
type Document struct {
	replica  string
	clock    int64
	state    map[string]nodeOp
	released bool
}

// NewDocument constructs an empty arena owned by the given replica id.
func NewDocument(replica string) (*Document, error) {
	if replica == "" {
		return nil, ErrMissingReplica
	}
	return &Document{
		replica: replica,
		state:   make(map[string]nodeOp),
	}, nil
}

// WithDocument runs fn against a fresh arena and guarantees release on every
// exit path, including panics.
func WithDocument(replica string, fn func(*Document) error) error {
	doc, err := NewDocument(replica)
	if err != nil {
		return err
	}
	defer doc.Release()
	return fn(doc)
}

// Release frees the arena. Further use returns ErrDocumentReleased.
func (d *Document) Release() {
	d.state = nil
	d.released = true
}

func (d *Document) guard() error {
	if d.released {
		return ErrDocumentReleased
	}
	return nil
}

// Apply folds one fragment into the arena. Applying the same fragment twice
// is a no-op; application order of a fragment set does not affect the folded
// state.
func (d *Document) Apply(fragment []byte) error {
	if err := d.guard(); err != nil {
		return err
	}
	ops, err := decodeFragment(fragment)
	if err != nil {
		return err
	}
	for _, op := range ops {
		d.fold(op)
	}
	return nil
}

func (d *Document) fold(op nodeOp) {
	if op.Stamp > d.clock {
		d.clock = op.Stamp
	}
	incumbent, ok := d.state[op.ID]
	if !ok || wins(op, incumbent) {
		d.state[op.ID] = op
	}
}

// Encode exports the folded state as one canonical fragment.
func (d *Document) Encode() ([]byte, error) {
	if err := d.guard(); err != nil {
		return nil, err
	}
	ops := make([]nodeOp, 0, len(d.state))
	for _, op := range d.state {
		ops = append(ops, op)
	}
	return encodeFragment(ops)
}

// Empty reports whether the arena holds no live nodes.
func (d *Document) Empty() bool {
	if d.released {
		return true
	}
	for _, op := range d.state {
		if !op.Deleted {
			return false
		}
	}
	return true
}

// NodeInput describes a node insertion or replacement authored by this
// replica. A blank ID allocates a fresh identifier.
type NodeInput struct {
	ID     string
	Parent string
	Order  string
	Kind   NodeKind
	Text   string
	Attrs  map[string]string
}

// Insert records a node write stamped by this replica and returns the node id.
func (d *Document) Insert(input NodeInput) (string, error) {
	if err := d.guard(); err != nil {
		return "", err
	}
	kind, err := ParseNodeKind(string(input.Kind))
	if err != nil {
		return "", err
	}
	d.clock++
	id := input.ID
	if id == "" {
		id = fmt.Sprintf("%s:%d", d.replica, d.clock)
	}
	attrs := cloneAttrs(input.Attrs)
	d.fold(nodeOp{
		ID:      id,
		Parent:  input.Parent,
		Order:   input.Order,
		Kind:    kind,
		Text:    input.Text,
		Attrs:   attrs,
		Stamp:   d.clock,
		Replica: d.replica,
	})
	return id, nil
}

// Delete records a tombstone for the node and its register.
func (d *Document) Delete(nodeID string) error {
	if err := d.guard(); err != nil {
		return err
	}
	op, ok := d.state[nodeID]
	if !ok {
		return nil
	}
	d.clock++
	op.Deleted = true
	op.Stamp = d.clock
	op.Replica = d.replica
	d.fold(op)
	return nil
}

func cloneAttrs(attrs map[string]string) map[string]string {
	if len(attrs) == 0 {
		return nil
	}
	copied := make(map[string]string, len(attrs))
	for key, value := range attrs {
		copied[key] = value
	}
	return copied
}
