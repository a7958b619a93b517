package clusterstate

import (
	"encoding/binary"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

// Generation records are appended to the state format's on-disk directory
// as new copies are written: a monotonic counter used to find the latest
// valid copy and to clean up stale ones. Index is a small side cache in
// front of that directory scan so a restart doesn't have to stat and
// checksum every generation on disk to find the most recent one, using a
// bucket-per-entity CRUD pattern generalized from one bucket per domain
// entity to one bucket for generation bookkeeping.
type Index struct {
	db *bolt.DB
}

var (
	bucketGenerations = []byte("generations")
	bucketLatest      = []byte("latest")
	keyLatestGen      = []byte("latest_generation")
)

// OpenIndex opens (creating if needed) the bbolt-backed generation cache
// under dataDir.
func OpenIndex(dataDir string) (*Index, error) {
	dbPath := filepath.Join(dataDir, "clusterstate-index.db")
	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("clusterstate: open index: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketGenerations); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketLatest)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("clusterstate: init index buckets: %w", err)
	}
	return &Index{db: db}, nil
}

// Close closes the underlying database.
func (idx *Index) Close() error {
	return idx.db.Close()
}

func generationKey(generation uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, generation)
	return key
}

// RecordGeneration registers that a state copy for the given version was
// written at the given generation, and advances the cached latest-known
// generation if it is newer.
func (idx *Index) RecordGeneration(generation, version uint64) error {
	return idx.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGenerations)
		versionBytes := make([]byte, 8)
		binary.BigEndian.PutUint64(versionBytes, version)
		if err := b.Put(generationKey(generation), versionBytes); err != nil {
			return err
		}

		latest := tx.Bucket(bucketLatest)
		cur := latest.Get(keyLatestGen)
		if cur == nil || binary.BigEndian.Uint64(cur) < generation {
			return latest.Put(keyLatestGen, generationKey(generation))
		}
		return nil
	})
}

// LatestGeneration returns the highest generation number recorded, and
// false if the index is empty (e.g. on a brand-new node).
func (idx *Index) LatestGeneration() (uint64, bool, error) {
	var gen uint64
	var found bool
	err := idx.db.View(func(tx *bolt.Tx) error {
		latest := tx.Bucket(bucketLatest)
		cur := latest.Get(keyLatestGen)
		if cur == nil {
			return nil
		}
		found = true
		gen = binary.BigEndian.Uint64(cur)
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("clusterstate: read latest generation: %w", err)
	}
	return gen, found, nil
}

// Generations returns every recorded generation number in ascending order,
// used by the cleanup pass to decide what to delete on disk.
func (idx *Index) Generations() ([]uint64, error) {
	var out []uint64
	err := idx.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGenerations)
		return b.ForEach(func(k, v []byte) error {
			out = append(out, binary.BigEndian.Uint64(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("clusterstate: list generations: %w", err)
	}
	return out, nil
}

// Forget removes a generation's bookkeeping entry, called after the
// on-disk copy for that generation has been deleted during cleanup.
func (idx *Index) Forget(generation uint64) error {
	return idx.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketGenerations).Delete(generationKey(generation))
	})
}
