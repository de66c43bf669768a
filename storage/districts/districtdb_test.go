package districts

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/district-pipeline/crypto/merkle"
	"go.vocdoni.io/dvote/db/metadb"
)

func newTestDB(t *testing.T, depth int) *DistrictDB {
	d, err := NewDistrictDB(metadb.NewTest(t), depth)
	qt.Assert(t, err, qt.IsNil)
	return d
}

func TestNewAndExists(t *testing.T) {
	c := qt.New(t)
	d := newTestDB(t, 18)

	c.Assert(d.Exists("district-7"), qt.IsFalse)

	ref, err := d.New("district-7")
	c.Assert(err, qt.IsNil)
	c.Assert(ref.Depth, qt.Equals, 18)
	c.Assert(ref.Size(), qt.Equals, uint64(0))
	c.Assert(d.Exists("district-7"), qt.IsTrue)

	// duplicate IDs are rejected
	_, err = d.New("district-7")
	c.Assert(err, qt.ErrorIs, ErrDistrictAlreadyExists)
}

func TestAppendAndByRoot(t *testing.T) {
	c := qt.New(t)
	d := newTestDB(t, 18)

	ref, err := d.New("district-7")
	c.Assert(err, qt.IsNil)

	// the empty root is indexed at creation
	emptyRoot := ref.Root()
	found, err := d.ByRoot(emptyRoot)
	c.Assert(err, qt.IsNil)
	c.Assert(found.ID, qt.Equals, "district-7")

	path, err := ref.Append(big.NewInt(12345))
	c.Assert(err, qt.IsNil)
	c.Assert(path.LeafIndex, qt.Equals, uint64(0))
	c.Assert(ref.Size(), qt.Equals, uint64(1))

	// the index follows the root move synchronously
	found, err = d.ByRoot(path.Root)
	c.Assert(err, qt.IsNil)
	c.Assert(found.ID, qt.Equals, "district-7")
	_, err = d.ByRoot(emptyRoot)
	c.Assert(err, qt.ErrorIs, ErrUnknownRoot)

	// only the latest root matches
	path2, err := ref.Append(big.NewInt(67890))
	c.Assert(err, qt.IsNil)
	_, err = d.ByRoot(path.Root)
	c.Assert(err, qt.ErrorIs, ErrUnknownRoot)
	found, err = d.ByRoot(path2.Root)
	c.Assert(err, qt.IsNil)
	c.Assert(found.ID, qt.Equals, "district-7")
}

func TestPathAt(t *testing.T) {
	c := qt.New(t)
	d := newTestDB(t, 18)

	ref, err := d.New("district-7")
	c.Assert(err, qt.IsNil)
	_, err = ref.Append(big.NewInt(1))
	c.Assert(err, qt.IsNil)
	_, err = ref.Append(big.NewInt(2))
	c.Assert(err, qt.IsNil)

	p, err := ref.PathAt(0)
	c.Assert(err, qt.IsNil)
	c.Assert(p.Leaf.Cmp(big.NewInt(1)), qt.Equals, 0)
	c.Assert(merkle.VerifyPath(ref.Root(), p.Leaf, p.Siblings, p.Indices), qt.IsTrue)

	_, err = ref.PathAt(2)
	c.Assert(err, qt.ErrorIs, merkle.ErrNotFound)
}

func TestLoadFromDisk(t *testing.T) {
	c := qt.New(t)
	database := metadb.NewTest(t)

	d, err := NewDistrictDB(database, 18)
	c.Assert(err, qt.IsNil)
	ref, err := d.New("district-7")
	c.Assert(err, qt.IsNil)
	path, err := ref.Append(big.NewInt(555))
	c.Assert(err, qt.IsNil)

	// a fresh DistrictDB over the same database lazily reloads the registry
	d2, err := NewDistrictDB(database, 18)
	c.Assert(err, qt.IsNil)
	c.Assert(d2.Exists("district-7"), qt.IsTrue)
	ref2, err := d2.Load("district-7")
	c.Assert(err, qt.IsNil)
	c.Assert(ref2.Size(), qt.Equals, uint64(1))
	c.Assert(ref2.Root().Cmp(path.Root), qt.Equals, 0)

	// loading indexes the current root
	found, err := d2.ByRoot(path.Root)
	c.Assert(err, qt.IsNil)
	c.Assert(found.ID, qt.Equals, "district-7")

	_, err = d2.Load("no-such-district")
	c.Assert(err, qt.ErrorIs, ErrDistrictNotFound)
}

func TestUnsupportedDepth(t *testing.T) {
	c := qt.New(t)
	_, err := NewDistrictDB(metadb.NewTest(t), 19)
	c.Assert(err, qt.IsNotNil)
}
