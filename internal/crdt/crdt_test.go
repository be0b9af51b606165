package crdt

import (
	"bytes"
	"errors"
	"testing"
)

func TestMergeConvergesRegardlessOfApplicationOrder(testContext *testing.T) {
	localFragment := mustFragment(testContext, "editor-a", func(doc *Document) {
		paragraphID := mustInsert(testContext, doc, NodeInput{Kind: KindParagraph, Order: "a"})
		mustInsert(testContext, doc, NodeInput{Kind: KindText, Parent: paragraphID, Text: "hello"})
	})
	remoteFragment := mustFragment(testContext, "editor-b", func(doc *Document) {
		paragraphID := mustInsert(testContext, doc, NodeInput{Kind: KindParagraph, Order: "b"})
		mustInsert(testContext, doc, NodeInput{Kind: KindText, Parent: paragraphID, Text: "world"})
	})

	localThenRemote, err := Merge("sync", [][]byte{localFragment}, remoteFragment)
	if err != nil {
		testContext.Fatalf("merge local-then-remote failed: %v", err)
	}
	remoteThenLocal, err := Merge("sync", [][]byte{remoteFragment}, localFragment)
	if err != nil {
		testContext.Fatalf("merge remote-then-local failed: %v", err)
	}
	if !bytes.Equal(localThenRemote, remoteThenLocal) {
		testContext.Fatalf("expected byte-identical canonical output for both application orders")
	}
}

func TestMergeIsIdempotent(testContext *testing.T) {
	localFragment := mustFragment(testContext, "editor-a", func(doc *Document) {
		mustInsert(testContext, doc, NodeInput{Kind: KindParagraph, Order: "a"})
	})
	remoteFragment := mustFragment(testContext, "editor-b", func(doc *Document) {
		mustInsert(testContext, doc, NodeInput{Kind: KindParagraph, Order: "b"})
	})

	merged, err := Merge("sync", [][]byte{localFragment}, remoteFragment)
	if err != nil {
		testContext.Fatalf("merge failed: %v", err)
	}
	remergedRemote, err := Merge("sync", [][]byte{merged}, remoteFragment)
	if err != nil {
		testContext.Fatalf("re-merge failed: %v", err)
	}
	if !bytes.Equal(merged, remergedRemote) {
		testContext.Fatalf("expected re-applying an already-merged fragment to be a no-op")
	}
}

func TestMergeRejectsMalformedFragment(testContext *testing.T) {
	localFragment := mustFragment(testContext, "editor-a", func(doc *Document) {
		mustInsert(testContext, doc, NodeInput{Kind: KindParagraph, Order: "a"})
	})
	if _, err := Merge("sync", [][]byte{localFragment}, []byte("{not json")); !errors.Is(err, ErrMalformedFragment) {
		testContext.Fatalf("expected ErrMalformedFragment, got %v", err)
	}
}

func TestConcurrentAttributeWritesResolveByStampThenReplica(testContext *testing.T) {
	base := mustFragment(testContext, "editor-a", func(doc *Document) {
		mustInsert(testContext, doc, NodeInput{ID: "title-node", Kind: KindText, Text: "draft"})
	})

	rewriteA := mustRewrite(testContext, "editor-a", base, "revision by a")
	rewriteB := mustRewrite(testContext, "editor-b", base, "revision by b")

	merged, err := Merge("sync", [][]byte{rewriteA}, rewriteB)
	if err != nil {
		testContext.Fatalf("merge failed: %v", err)
	}
	text := mustPlainText(testContext, "sync", merged)
	// Same stamp on both rewrites; the greater replica id wins.
	if text != "revision by b" {
		testContext.Fatalf("expected replica tie-break winner, got %q", text)
	}
}

func TestPlainTextWalksBlocksInSiblingOrder(testContext *testing.T) {
	fragment := mustFragment(testContext, "editor-a", func(doc *Document) {
		headingID := mustInsert(testContext, doc, NodeInput{Kind: KindHeading, Order: "a"})
		mustInsert(testContext, doc, NodeInput{Kind: KindText, Parent: headingID, Text: "Groceries"})
		listID := mustInsert(testContext, doc, NodeInput{Kind: KindList, Order: "b"})
		firstItemID := mustInsert(testContext, doc, NodeInput{Kind: KindListItem, Parent: listID, Order: "a"})
		mustInsert(testContext, doc, NodeInput{Kind: KindText, Parent: firstItemID, Text: "eggs"})
		secondItemID := mustInsert(testContext, doc, NodeInput{Kind: KindListItem, Parent: listID, Order: "b"})
		mustInsert(testContext, doc, NodeInput{Kind: KindText, Parent: secondItemID, Text: "flour"})
	})
	text := mustPlainText(testContext, "sync", fragment)
	if text != "Groceries\neggs\nflour" {
		testContext.Fatalf("unexpected plain text: %q", text)
	}
}

func TestDeletedSubtreeIsExcludedFromTreeAndText(testContext *testing.T) {
	err := WithDocument("editor-a", func(doc *Document) error {
		keptID := mustInsert(testContext, doc, NodeInput{Kind: KindParagraph, Order: "a"})
		mustInsert(testContext, doc, NodeInput{Kind: KindText, Parent: keptID, Text: "kept"})
		droppedID := mustInsert(testContext, doc, NodeInput{Kind: KindParagraph, Order: "b"})
		mustInsert(testContext, doc, NodeInput{Kind: KindText, Parent: droppedID, Text: "dropped"})
		if err := doc.Delete(droppedID); err != nil {
			return err
		}
		text, err := doc.PlainText()
		if err != nil {
			return err
		}
		if text != "kept" {
			testContext.Fatalf("expected deleted subtree to vanish, got %q", text)
		}
		return nil
	})
	if err != nil {
		testContext.Fatalf("document scope failed: %v", err)
	}
}

func TestRewriteImageSourceReplacesPendingMarker(testContext *testing.T) {
	marker := PendingImageMarker("upload-1")
	locator := AttachmentLocator("file-9", "payload-3")
	fragment := mustFragment(testContext, "editor-a", func(doc *Document) {
		paragraphID := mustInsert(testContext, doc, NodeInput{Kind: KindParagraph, Order: "a"})
		mustInsert(testContext, doc, NodeInput{
			Kind:   KindImage,
			Parent: paragraphID,
			Attrs:  map[string]string{AttrImageSource: marker},
		})
	})

	err := WithDocument("sync", func(doc *Document) error {
		if err := doc.Apply(fragment); err != nil {
			return err
		}
		found, err := doc.RewriteImageSource(marker, locator)
		if err != nil {
			return err
		}
		if !found {
			testContext.Fatalf("expected pending image marker to be found")
		}
		root, err := doc.Tree()
		if err != nil {
			return err
		}
		sources := collectImageSources(root)
		if len(sources) != 1 || sources[0] != locator {
			testContext.Fatalf("expected rewritten locator, got %v", sources)
		}
		missing, err := doc.RewriteImageSource(marker, locator)
		if err != nil {
			return err
		}
		if missing {
			testContext.Fatalf("expected marker to be gone after rewrite")
		}
		return nil
	})
	if err != nil {
		testContext.Fatalf("document scope failed: %v", err)
	}
}

func TestReleasedDocumentRejectsUse(testContext *testing.T) {
	doc, err := NewDocument("editor-a")
	if err != nil {
		testContext.Fatalf("failed to create document: %v", err)
	}
	doc.Release()
	if err := doc.Apply([]byte(`{"v":1,"ops":[]}`)); !errors.Is(err, ErrDocumentReleased) {
		testContext.Fatalf("expected ErrDocumentReleased from Apply, got %v", err)
	}
	if _, err := doc.Encode(); !errors.Is(err, ErrDocumentReleased) {
		testContext.Fatalf("expected ErrDocumentReleased from Encode, got %v", err)
	}
}

func TestEmptyReflectsLiveNodesOnly(testContext *testing.T) {
	err := WithDocument("editor-a", func(doc *Document) error {
		if !doc.Empty() {
			testContext.Fatalf("expected fresh document to be empty")
		}
		nodeID := mustInsert(testContext, doc, NodeInput{Kind: KindParagraph, Order: "a"})
		if doc.Empty() {
			testContext.Fatalf("expected document with a live node to be non-empty")
		}
		if err := doc.Delete(nodeID); err != nil {
			return err
		}
		if !doc.Empty() {
			testContext.Fatalf("expected fully tombstoned document to be empty")
		}
		return nil
	})
	if err != nil {
		testContext.Fatalf("document scope failed: %v", err)
	}
}

func mustFragment(testContext *testing.T, replica string, build func(*Document)) []byte {
	testContext.Helper()
	var fragment []byte
	err := WithDocument(replica, func(doc *Document) error {
		build(doc)
		encoded, err := doc.Encode()
		if err != nil {
			return err
		}
		fragment = encoded
		return nil
	})
	if err != nil {
		testContext.Fatalf("failed to build fragment: %v", err)
	}
	return fragment
}

func mustInsert(testContext *testing.T, doc *Document, input NodeInput) string {
	testContext.Helper()
	nodeID, err := doc.Insert(input)
	if err != nil {
		testContext.Fatalf("insert failed: %v", err)
	}
	return nodeID
}

func mustRewrite(testContext *testing.T, replica string, base []byte, text string) []byte {
	testContext.Helper()
	var fragment []byte
	err := WithDocument(replica, func(doc *Document) error {
		if err := doc.Apply(base); err != nil {
			return err
		}
		if _, err := doc.Insert(NodeInput{ID: "title-node", Kind: KindText, Text: text}); err != nil {
			return err
		}
		encoded, err := doc.Encode()
		if err != nil {
			return err
		}
		fragment = encoded
		return nil
	})
	if err != nil {
		testContext.Fatalf("failed to build rewrite fragment: %v", err)
	}
	return fragment
}

func mustPlainText(testContext *testing.T, replica string, fragment []byte) string {
	testContext.Helper()
	var text string
	err := WithDocument(replica, func(doc *Document) error {
		if err := doc.Apply(fragment); err != nil {
			return err
		}
		derived, err := doc.PlainText()
		if err != nil {
			return err
		}
		text = derived
		return nil
	})
	if err != nil {
		testContext.Fatalf("failed to derive plain text: %v", err)
	}
	return text
}

func collectImageSources(root *Node) []string {
	var sources []string
	Walk(root, func(node *Node) bool {
		if node.Kind == KindImage {
			sources = append(sources, node.Attrs[AttrImageSource])
		}
		return true
	})
	return sources
}
