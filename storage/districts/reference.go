package districts

import (
	"math/big"
	"sync"
	"time"

	"github.com/vocdoni/district-pipeline/crypto/merkle"
)

// DistrictRef is a reference to a district registry. It holds the incremental
// Merkle tree. All accesses to the underlying tree (and its currentRoot) are
// protected by treeMu.
type DistrictRef struct {
	ID        string
	Depth     int
	CreatedAt time.Time
	LastUsed  time.Time

	currentRoot *big.Int
	tree        *merkle.Tree
	// treeMu protects all access to the underlying Merkle tree.
	treeMu sync.Mutex
	// updateRootRequest is the channel to send asynchronous root index updates.
	updateRootRequest chan *updateRootRequest
}

// Tree returns the underlying merkle.Tree pointer.
// (Not concurrency safe; use Append, PathAt, Root or Size.)
func (dr *DistrictRef) Tree() *merkle.Tree {
	return dr.tree
}

// sendUpdateRoot sends a root index update over the channel and waits until
// it has been processed, so that ByRoot lookups observe the new root.
func (dr *DistrictRef) sendUpdateRoot(newRoot *big.Int) {
	done := make(chan struct{})
	dr.updateRootRequest <- &updateRootRequest{
		districtID: dr.ID,
		newRoot:    newRoot,
		done:       done,
	}
	<-done
}

// Append inserts an identity commitment at the next free position and returns
// its inclusion path against the new root. The registry root index is updated
// before Append returns.
func (dr *DistrictRef) Append(leaf *big.Int) (*merkle.Path, error) {
	dr.treeMu.Lock()
	path, err := dr.tree.Append(leaf)
	dr.treeMu.Unlock()
	if err != nil {
		return nil, err
	}
	dr.sendUpdateRoot(path.Root)
	return path, nil
}

// PathAt returns the inclusion path of an already registered leaf, computed
// against the current root.
func (dr *DistrictRef) PathAt(index uint64) (*merkle.Path, error) {
	dr.treeMu.Lock()
	defer dr.treeMu.Unlock()
	return dr.tree.Path(index)
}

// Root safely returns the current Merkle tree root.
func (dr *DistrictRef) Root() *big.Int {
	dr.treeMu.Lock()
	defer dr.treeMu.Unlock()
	root, err := dr.tree.Root()
	if err != nil {
		return nil
	}
	return root
}

// Size safely returns the number of registered members.
func (dr *DistrictRef) Size() uint64 {
	dr.treeMu.Lock()
	defer dr.treeMu.Unlock()
	count, err := dr.tree.LeafCount()
	if err != nil {
		return 0
	}
	return count
}

// Capacity returns the maximum number of members, 2^depth.
func (dr *DistrictRef) Capacity() uint64 {
	return dr.tree.Capacity()
}
