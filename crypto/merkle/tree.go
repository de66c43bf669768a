// Package merkle implements the fixed-depth, append-only Poseidon Merkle
// tree backing district membership registries. Leaves occupy consecutive
// positions in insertion order; positions past the current leaf count are a
// well-known zero-leaf ladder that is never materialized in storage. Pairing
// order is decided by index parity (even index hashes on the left), the same
// convention the proving circuit uses. Any divergence here silently breaks
// every future proof, so the whole package is covered by path round-trip
// tests.
package merkle

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/poseidon"
	"github.com/vocdoni/arbo"
	"go.vocdoni.io/dvote/db"
)

var (
	// ErrTreeFull is returned by Append when the tree holds 2^depth leaves.
	ErrTreeFull = fmt.Errorf("tree is full")
	// ErrNotFound is returned by Path for indices past the leaf count.
	ErrNotFound = fmt.Errorf("leaf index not found")
)

// nodeKeyLen is 1 level byte plus an 8 byte big-endian position.
const nodeKeyLen = 9

var leafCountKey = []byte("leafcount")

// Path is an inclusion path for one leaf: the sibling at every level and the
// direction bit (0 = leaf side is left) at every level, bottom-up.
type Path struct {
	LeafIndex uint64
	Leaf      *big.Int
	Root      *big.Int
	Siblings  []*big.Int
	Indices   []uint8
}

// Tree is a fixed-depth incremental Merkle tree stored in a key-value
// database, typically wrapped with a per-district prefix. It is not safe for
// concurrent writes; the owner must serialize Append calls.
type Tree struct {
	db    db.Database
	depth int
	zeros []*big.Int // zeros[i] is the hash of an empty subtree of height i
}

// New opens (or lazily creates) a tree of the given depth on the database.
func New(database db.Database, depth int) (*Tree, error) {
	if depth < 1 || depth > 31 {
		return nil, fmt.Errorf("invalid tree depth %d", depth)
	}
	zeros, err := zeroLadder(depth)
	if err != nil {
		return nil, err
	}
	return &Tree{db: database, depth: depth, zeros: zeros}, nil
}

// zeroLadder precomputes the empty-subtree hashes: zeros[0] = 0 and
// zeros[i+1] = Poseidon(zeros[i], zeros[i]).
func zeroLadder(depth int) ([]*big.Int, error) {
	zeros := make([]*big.Int, depth+1)
	zeros[0] = big.NewInt(0)
	for i := 0; i < depth; i++ {
		h, err := poseidon.Hash([]*big.Int{zeros[i], zeros[i]})
		if err != nil {
			return nil, fmt.Errorf("zero ladder level %d: %w", i+1, err)
		}
		zeros[i+1] = h
	}
	return zeros, nil
}

// Depth returns the configured depth of the tree.
func (t *Tree) Depth() int {
	return t.depth
}

// Capacity returns 2^depth, the maximum number of leaves.
func (t *Tree) Capacity() uint64 {
	return uint64(1) << uint(t.depth)
}

// ZeroHash returns the empty-subtree hash at the given level (0 = leaf).
func (t *Tree) ZeroHash(level int) *big.Int {
	return new(big.Int).Set(t.zeros[level])
}

// LeafCount returns the number of leaves appended so far.
func (t *Tree) LeafCount() (uint64, error) {
	raw, err := t.db.Get(leafCountKey)
	if errors.Is(err, db.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(raw), nil
}

// Root returns the current root, the zero ladder top for an empty tree.
func (t *Tree) Root() (*big.Int, error) {
	count, err := t.LeafCount()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return new(big.Int).Set(t.zeros[t.depth]), nil
	}
	return t.node(t.depth, 0)
}

// Append inserts the leaf at the next free position and returns its
// inclusion path, computed against the post-insertion root. The node writes
// and the leaf count update are committed in a single transaction.
func (t *Tree) Append(leaf *big.Int) (*Path, error) {
	count, err := t.LeafCount()
	if err != nil {
		return nil, err
	}
	if count >= t.Capacity() {
		return nil, fmt.Errorf("%w: %d leaves at depth %d", ErrTreeFull, count, t.depth)
	}

	wtx := t.db.WriteTx()
	defer wtx.Discard()

	index := count
	cur := new(big.Int).Set(leaf)
	siblings := make([]*big.Int, t.depth)
	indices := make([]uint8, t.depth)

	pos := index
	for lvl := 0; lvl < t.depth; lvl++ {
		sib, err := t.node(lvl, pos^1)
		if err != nil {
			return nil, err
		}
		siblings[lvl] = sib
		indices[lvl] = uint8(pos & 1)

		if err := setNode(wtx, lvl, pos, cur); err != nil {
			return nil, err
		}
		if pos&1 == 0 {
			cur, err = poseidon.Hash([]*big.Int{cur, sib})
		} else {
			cur, err = poseidon.Hash([]*big.Int{sib, cur})
		}
		if err != nil {
			return nil, fmt.Errorf("hash level %d: %w", lvl, err)
		}
		pos >>= 1
	}
	if err := setNode(wtx, t.depth, 0, cur); err != nil {
		return nil, err
	}

	rawCount := make([]byte, 8)
	binary.BigEndian.PutUint64(rawCount, count+1)
	if err := wtx.Set(leafCountKey, rawCount); err != nil {
		return nil, err
	}
	if err := wtx.Commit(); err != nil {
		return nil, err
	}

	return &Path{
		LeafIndex: index,
		Leaf:      new(big.Int).Set(leaf),
		Root:      cur,
		Siblings:  siblings,
		Indices:   indices,
	}, nil
}

// Path reconstructs, read-only, the inclusion path of an already appended
// leaf. It fails with ErrNotFound when index is at or past the leaf count.
func (t *Tree) Path(index uint64) (*Path, error) {
	count, err := t.LeafCount()
	if err != nil {
		return nil, err
	}
	if index >= count {
		return nil, fmt.Errorf("%w: index %d, leaf count %d", ErrNotFound, index, count)
	}

	leaf, err := t.node(0, index)
	if err != nil {
		return nil, err
	}
	root, err := t.node(t.depth, 0)
	if err != nil {
		return nil, err
	}

	siblings := make([]*big.Int, t.depth)
	indices := make([]uint8, t.depth)
	pos := index
	for lvl := 0; lvl < t.depth; lvl++ {
		sib, err := t.node(lvl, pos^1)
		if err != nil {
			return nil, err
		}
		siblings[lvl] = sib
		indices[lvl] = uint8(pos & 1)
		pos >>= 1
	}

	return &Path{
		LeafIndex: index,
		Leaf:      leaf,
		Root:      root,
		Siblings:  siblings,
		Indices:   indices,
	}, nil
}

// VerifyPath recomputes the root from leaf and path with the insertion
// pairing convention and compares it to the expected root.
func VerifyPath(root, leaf *big.Int, siblings []*big.Int, indices []uint8) bool {
	if len(siblings) != len(indices) {
		return false
	}
	cur := new(big.Int).Set(leaf)
	var err error
	for lvl := range siblings {
		if indices[lvl] == 0 {
			cur, err = poseidon.Hash([]*big.Int{cur, siblings[lvl]})
		} else {
			cur, err = poseidon.Hash([]*big.Int{siblings[lvl], cur})
		}
		if err != nil {
			return false
		}
	}
	return cur.Cmp(root) == 0
}

// node returns the stored node at (level, pos), falling back to the zero
// ladder for positions that were never written.
func (t *Tree) node(level int, pos uint64) (*big.Int, error) {
	raw, err := t.db.Get(nodeKey(level, pos))
	if errors.Is(err, db.ErrKeyNotFound) {
		return new(big.Int).Set(t.zeros[level]), nil
	}
	if err != nil {
		return nil, err
	}
	return arbo.BytesToBigInt(raw), nil
}

func setNode(wtx db.WriteTx, level int, pos uint64, v *big.Int) error {
	return wtx.Set(nodeKey(level, pos), arbo.BigIntToBytes(32, v))
}

func nodeKey(level int, pos uint64) []byte {
	k := make([]byte, nodeKeyLen)
	k[0] = byte(level)
	binary.BigEndian.PutUint64(k[1:], pos)
	return k
}
