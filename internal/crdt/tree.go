package crdt

import (
	"sort"
	"strings"
)

// AttrImageSource is the attribute holding an image element's locator.
const AttrImageSource = "src"

// PendingImagePrefix marks an image whose payload has not been uploaded yet.
// The marker form is pending://<uploadID>.
const PendingImagePrefix = "pending://"

// AttachmentLocator builds the permanent locator for an uploaded payload.
func AttachmentLocator(remoteFileID, payloadKey string) string {
	return "attachment://" + remoteFileID + "/" + payloadKey
}

// PendingImageMarker builds the in-document marker for a queued upload.
func PendingImageMarker(uploadID string) string {
	return PendingImagePrefix + uploadID
}

// Node is one materialized document node. The tree is a closed sum over the
// element kinds plus inline text runs; deleted registers never materialize.
type Node struct {
	ID       string
	Kind     NodeKind
	Text     string
	Attrs    map[string]string
	Children []*Node
}

// Tree materializes the live node tree under the implicit root fragment.
// Sibling order follows (order key, node id).
func (d *Document) Tree() (*Node, error) {
	if err := d.guard(); err != nil {
		return nil, err
	}

	childOps := make(map[string][]nodeOp)
	for _, op := range d.state {
		if op.Deleted {
			continue
		}
		childOps[op.Parent] = append(childOps[op.Parent], op)
	}
	for parent := range childOps {
		siblings := childOps[parent]
		sort.Slice(siblings, func(left, right int) bool {
			if siblings[left].Order != siblings[right].Order {
				return siblings[left].Order < siblings[right].Order
			}
			return siblings[left].ID < siblings[right].ID
		})
		childOps[parent] = siblings
	}

	root := &Node{Kind: KindFragment}
	attachChildren(root, "", childOps)
	return root, nil
}

func attachChildren(node *Node, parentID string, childOps map[string][]nodeOp) {
	for _, op := range childOps[parentID] {
		child := &Node{
			ID:    op.ID,
			Kind:  op.Kind,
			Text:  op.Text,
			Attrs: cloneAttrs(op.Attrs),
		}
		node.Children = append(node.Children, child)
		attachChildren(child, op.ID, childOps)
	}
}

// Walk visits the tree pre-order. Returning false from visit stops the walk.
func Walk(node *Node, visit func(*Node) bool) bool {
	if node == nil {
		return true
	}
	if !visit(node) {
		return false
	}
	for _, child := range node.Children {
		if !Walk(child, visit) {
			return false
		}
	}
	return true
}

var blockKinds = map[NodeKind]bool{
	KindParagraph: true,
	KindHeading:   true,
	KindListItem:  true,
	KindTable:     true,
}

// PlainText derives the denormalized preview text from the live tree.
func (d *Document) PlainText() (string, error) {
	root, err := d.Tree()
	if err != nil {
		return "", err
	}
	var builder strings.Builder
	renderText(root, &builder)
	return strings.TrimRight(builder.String(), "\n"), nil
}

func renderText(node *Node, builder *strings.Builder) {
	if node.Kind == KindText {
		builder.WriteString(node.Text)
		return
	}
	for _, child := range node.Children {
		renderText(child, builder)
	}
	if blockKinds[node.Kind] {
		builder.WriteString("\n")
	}
}

// RewriteImageSource finds the image node whose source equals marker and
// replaces it with locator, stamping the rewrite as this replica's write.
// Reports whether a matching image was found.
func (d *Document) RewriteImageSource(marker, locator string) (bool, error) {
	root, err := d.Tree()
	if err != nil {
		return false, err
	}
	var match *Node
	Walk(root, func(node *Node) bool {
		if node.Kind == KindImage && node.Attrs[AttrImageSource] == marker {
			match = node
			return false
		}
		return true
	})
	if match == nil {
		return false, nil
	}

	op := d.state[match.ID]
	attrs := cloneAttrs(op.Attrs)
	if attrs == nil {
		attrs = make(map[string]string, 1)
	}
	attrs[AttrImageSource] = locator
	d.clock++
	op.Attrs = attrs
	op.Stamp = d.clock
	op.Replica = d.replica
	d.fold(op)
	return true, nil
}
