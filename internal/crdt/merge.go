package crdt

// Merge replays every local fragment in stored order, applies the remote
// fragment, and exports the folded state as one canonical fragment. The fold
// is commutative and idempotent, so any interleaving of the same fragment set
// converges to byte-identical output. The arena is released on every exit
// path.
func Merge(replica string, localFragments [][]byte, remoteFragment []byte) ([]byte, error) {
	var merged []byte
	err := WithDocument(replica, func(doc *Document) error {
		for _, fragment := range localFragments {
			if err := doc.Apply(fragment); err != nil {
				return err
			}
		}
		if len(remoteFragment) > 0 {
			if err := doc.Apply(remoteFragment); err != nil {
				return err
			}
		}
		encoded, err := doc.Encode()
		if err != nil {
			return err
		}
		merged = encoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// Replay folds a local fragment sequence into one canonical fragment without
// any remote input.
func Replay(replica string, localFragments [][]byte) ([]byte, error) {
	return Merge(replica, localFragments, nil)
}
