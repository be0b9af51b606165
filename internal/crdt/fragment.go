package crdt

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

const fragmentFormatVersion = 1

var (
	// ErrMalformedFragment indicates that fragment bytes could not be decoded.
	ErrMalformedFragment = errors.New("crdt: malformed fragment")
	// ErrInvalidNodeKind indicates an unknown node kind marker.
	ErrInvalidNodeKind = errors.New("crdt: invalid node kind")
)

// NodeKind enumerates the closed set of document node types.
type NodeKind string

const (
	// KindFragment is the implicit document root.
	KindFragment NodeKind = "fragment"
	// KindParagraph is a block paragraph element.
	KindParagraph NodeKind = "paragraph"
	// KindHeading is a block heading element.
	KindHeading NodeKind = "heading"
	// KindList is a block list container.
	KindList NodeKind = "list"
	// KindListItem is a single list entry.
	KindListItem NodeKind = "listItem"
	// KindImage is an embedded image element.
	KindImage NodeKind = "image"
	// KindTable is a block table element.
	KindTable NodeKind = "table"
	// KindDrawing is an embedded drawing canvas element.
	KindDrawing NodeKind = "drawing"
	// KindText is an inline text run.
	KindText NodeKind = "text"
)

// ParseNodeKind validates a raw kind marker.
func ParseNodeKind(rawInput string) (NodeKind, error) {
	kind := NodeKind(strings.TrimSpace(rawInput))
	switch kind {
	case KindFragment, KindParagraph, KindHeading, KindList, KindListItem,
		KindImage, KindTable, KindDrawing, KindText:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidNodeKind, rawInput)
	}
}

// nodeOp is the unit of CRDT change: the last-writer-wins register for one
// node. A fragment is a set of nodeOps; merging fragments is a keyed union
// keeping the op with the greatest (Stamp, Replica) per node.
type nodeOp struct {
	ID      string            `json:"id"`
	Parent  string            `json:"parent,omitempty"`
	Order   string            `json:"order,omitempty"`
	Kind    NodeKind          `json:"kind"`
	Text    string            `json:"text,omitempty"`
	Attrs   map[string]string `json:"attrs,omitempty"`
	Stamp   int64             `json:"stamp"`
	Replica string            `json:"replica"`
	Deleted bool              `json:"deleted,omitempty"`
}

type fragmentEnvelope struct {
	Version int      `json:"v"`
	Ops     []nodeOp `json:"ops"`
}

// decodeFragment parses fragment bytes into ops. Any decode failure is
// reported as ErrMalformedFragment so callers can isolate the entity.
func decodeFragment(raw []byte) ([]nodeOp, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrMalformedFragment)
	}
	var envelope fragmentEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFragment, err)
	}
	if envelope.Version != fragmentFormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedFragment, envelope.Version)
	}
	for _, op := range envelope.Ops {
		if op.ID == "" {
			return nil, fmt.Errorf("%w: op without id", ErrMalformedFragment)
		}
		if _, err := ParseNodeKind(string(op.Kind)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFragment, err)
		}
	}
	return envelope.Ops, nil
}

// encodeFragment produces the canonical byte encoding: ops sorted by node id,
// map keys in lexical order. Equal op sets always encode to identical bytes.
func encodeFragment(ops []nodeOp) ([]byte, error) {
	sorted := make([]nodeOp, len(ops))
	copy(sorted, ops)
	sort.Slice(sorted, func(left, right int) bool {
		return sorted[left].ID < sorted[right].ID
	})
	return json.Marshal(fragmentEnvelope{Version: fragmentFormatVersion, Ops: sorted})
}

// wins reports whether the candidate op supersedes the incumbent under
// last-writer-wins ordering. Ties on stamp break by replica id; a full tie
// means both writers produced the same op, so the incumbent stands.
func wins(candidate, incumbent nodeOp) bool {
	if candidate.Stamp != incumbent.Stamp {
		return candidate.Stamp > incumbent.Stamp
	}
	return candidate.Replica > incumbent.Replica
}
