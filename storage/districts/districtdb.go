// Package districts implements the persistent database of district
// membership registries. Each district owns a fixed-depth incremental
// Poseidon tree under its own key prefix, plus a gob-encoded reference row.
// An in-memory index maps current Merkle roots (hexadecimal form) to district
// IDs so that submissions carrying only a root can be attributed.
package districts

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/vocdoni/district-pipeline/crypto/merkle"
	"github.com/vocdoni/district-pipeline/log"
	"github.com/vocdoni/district-pipeline/types"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"
)

const (
	districtDBprefix          = "dt_"
	districtDBreferencePrefix = "dr_"
)

var (
	// ErrDistrictNotFound is returned when a district is not found in the database.
	ErrDistrictNotFound = fmt.Errorf("district not found in the local database")
	// ErrDistrictAlreadyExists is returned by New() if the district already exists.
	ErrDistrictAlreadyExists = fmt.Errorf("district already exists in the local database")
	// ErrDistrictFull is returned when a registry has reached 2^depth members.
	ErrDistrictFull = fmt.Errorf("district registry is full")
	// ErrUnknownRoot is returned when no district currently has the given root.
	ErrUnknownRoot = fmt.Errorf("no district found with the provided root")
)

// updateRootRequest is used to update the root index entry of a district.
type updateRootRequest struct {
	districtID string
	newRoot    *big.Int
	done       chan struct{}
}

// rootKey converts a root to its canonical hexadecimal string.
func rootKey(root *big.Int) string {
	return types.HexBytesFromBigInt(root).String()
}

// DistrictDB is a safe and persistent database of district registries.
type DistrictDB struct {
	mu             sync.RWMutex
	db             db.Database
	depth          int
	loadedDistrict map[string]*DistrictRef
	rootIndex      map[string]string // maps hex(root) to districtID

	updateRootChan chan *updateRootRequest
}

// NewDistrictDB creates a new DistrictDB object. All registries created
// through it use the given tree depth; registries persisted with a different
// depth keep theirs.
func NewDistrictDB(database db.Database, depth int) (*DistrictDB, error) {
	if !types.ValidTreeDepth(depth) {
		return nil, fmt.Errorf("unsupported tree depth %d", depth)
	}
	d := &DistrictDB{
		db:             database,
		depth:          depth,
		loadedDistrict: make(map[string]*DistrictRef),
		rootIndex:      make(map[string]string),
		updateRootChan: make(chan *updateRootRequest, 100),
	}

	// Start the root index update worker.
	go func() {
		for req := range d.updateRootChan {
			if err := d.updateRoot(req.districtID, req.newRoot); err != nil {
				log.Warnw("error updating district root index",
					"district", req.districtID,
					"err", err)
			}
			if req.done != nil {
				close(req.done)
			}
		}
	}()

	return d, nil
}

// New creates a new district registry and adds it to the database.
// It returns ErrDistrictAlreadyExists if the ID is already present.
func (d *DistrictDB) New(districtID string) (*DistrictRef, error) {
	key := referenceKey(districtID)

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.loadedDistrict[districtID]; exists {
		return nil, ErrDistrictAlreadyExists
	}
	if _, err := d.db.Get(key); err == nil {
		return nil, ErrDistrictAlreadyExists
	} else if !errors.Is(err, db.ErrKeyNotFound) {
		return nil, err
	}

	now := time.Now()
	ref := &DistrictRef{
		ID:        districtID,
		Depth:     d.depth,
		CreatedAt: now,
		LastUsed:  now,
	}

	tree, err := merkle.New(prefixeddb.NewPrefixedDatabase(d.db, districtPrefix(districtID)), d.depth)
	if err != nil {
		return nil, err
	}
	ref.tree = tree
	root, err := tree.Root()
	if err != nil {
		return nil, err
	}
	ref.currentRoot = root
	ref.updateRootRequest = d.updateRootChan

	if err := d.writeReference(ref); err != nil {
		return nil, err
	}

	d.loadedDistrict[districtID] = ref
	rk := rootKey(root)
	if _, exists := d.rootIndex[rk]; !exists {
		d.rootIndex[rk] = districtID
	}

	return ref, nil
}

// writeReference writes a district reference row to the database.
func (d *DistrictDB) writeReference(ref *DistrictRef) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ref); err != nil {
		return err
	}
	wtx := d.db.WriteTx()
	defer wtx.Discard()
	if err := wtx.Set(referenceKey(ref.ID), buf.Bytes()); err != nil {
		return err
	}
	return wtx.Commit()
}

// Exists returns true if the district is present in the local database.
func (d *DistrictDB) Exists(districtID string) bool {
	d.mu.RLock()
	_, exists := d.loadedDistrict[districtID]
	d.mu.RUnlock()
	if exists {
		return true
	}
	_, err := d.db.Get(referenceKey(districtID))
	return err == nil
}

// Load returns a district from memory or from the persistent KV database.
func (d *DistrictDB) Load(districtID string) (*DistrictRef, error) {
	return d.loadDistrictRef(districtID)
}

// loadDistrictRef loads a reference from memory or persistent DB using a
// double check on the in-memory map.
func (d *DistrictDB) loadDistrictRef(districtID string) (*DistrictRef, error) {
	d.mu.RLock()
	if ref, exists := d.loadedDistrict[districtID]; exists {
		d.mu.RUnlock()
		return ref, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	if ref, exists := d.loadedDistrict[districtID]; exists {
		return ref, nil
	}

	b, err := d.db.Get(referenceKey(districtID))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrDistrictNotFound, districtID)
		}
		return nil, err
	}

	var ref DistrictRef
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&ref); err != nil {
		return nil, err
	}

	tree, err := merkle.New(prefixeddb.NewPrefixedDatabase(d.db, districtPrefix(districtID)), ref.Depth)
	if err != nil {
		return nil, err
	}
	ref.tree = tree
	root, err := tree.Root()
	if err != nil {
		return nil, err
	}
	ref.currentRoot = root
	ref.updateRootRequest = d.updateRootChan

	ref.LastUsed = time.Now()
	if err := d.writeReference(&ref); err != nil {
		return nil, err
	}

	d.loadedDistrict[districtID] = &ref
	rk := rootKey(root)
	if _, exists := d.rootIndex[rk]; !exists {
		d.rootIndex[rk] = districtID
	}
	return &ref, nil
}

// ByRoot finds the district whose current Merkle root matches root. It only
// matches the latest root of each registry; proofs computed against stale
// roots must be regenerated.
func (d *DistrictDB) ByRoot(root *big.Int) (*DistrictRef, error) {
	rk := rootKey(root)
	d.mu.RLock()
	districtID, exists := d.rootIndex[rk]
	d.mu.RUnlock()
	if !exists {
		return nil, ErrUnknownRoot
	}
	return d.Load(districtID)
}

// updateRoot moves the root index entry of a district to its new root.
// It acquires the DistrictRef's treeMu before reading or writing currentRoot.
func (d *DistrictDB) updateRoot(districtID string, newRoot *big.Int) error {
	newKey := rootKey(newRoot)
	d.mu.Lock()
	defer d.mu.Unlock()

	ref, exists := d.loadedDistrict[districtID]
	if !exists {
		return ErrDistrictNotFound
	}

	ref.treeMu.Lock()
	oldKey := rootKey(ref.currentRoot)
	if oldKey == newKey {
		ref.treeMu.Unlock()
		return nil
	}
	ref.currentRoot = new(big.Int).Set(newRoot)
	ref.treeMu.Unlock()

	delete(d.rootIndex, oldKey)
	d.rootIndex[newKey] = districtID
	return nil
}

func referenceKey(districtID string) []byte {
	return append([]byte(districtDBreferencePrefix), []byte(districtID)...)
}

// districtPrefix returns the prefix used for the district tree in the database.
func districtPrefix(districtID string) []byte {
	return append([]byte(districtDBprefix), []byte(districtID)...)
}
