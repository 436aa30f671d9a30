//go:build linux

// Package box implements the box lifecycle: init/run/cleanup, and the
// metadata registry recording who owns each box and whether it was
// created with cgroup support.
package box

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const registryBucket = "boxes"

// Metadata is the per-box_id registry record: spec §4.8 "owner_uid,
// created_at, last_used_at, cgroups_enabled".
type Metadata struct {
	OwnerUID       uint32    `json:"owner_uid"`
	CreatedAt      time.Time `json:"created_at"`
	LastUsedAt     time.Time `json:"last_used_at"`
	CgroupsEnabled bool      `json:"cgroups_enabled"`
}

// Registry is a bbolt-backed key-value store mapping box_id to Metadata,
// opened short-lived per operation the way the teacher's IPAM allocator
// opens its own bbolt file: acquire, mutate, close, never held across a
// supervised run.
type Registry struct {
	path string
}

func NewRegistry(workdirRoot string) *Registry {
	return &Registry{path: filepath.Join(workdirRoot, "registry.db")}
}

// withDB opens the registry's bbolt file with a short timeout, runs f,
// and closes it, so the lock isn't held across anything but the
// transaction itself.
func withDB(path string, f func(*bolt.DB) error) error {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return fmt.Errorf("box: open registry %s: %w", path, err)
	}
	defer func() { _ = db.Close() }()
	return f(db)
}

// Put writes or overwrites boxID's metadata.
func (r *Registry) Put(boxID string, meta Metadata) error {
	return withDB(r.path, func(db *bolt.DB) error {
		return db.Update(func(tx *bolt.Tx) error {
			bkt, err := tx.CreateBucketIfNotExists([]byte(registryBucket))
			if err != nil {
				return err
			}
			encoded, err := json.Marshal(meta)
			if err != nil {
				return err
			}
			return bkt.Put([]byte(boxID), encoded)
		})
	})
}

// Get reads boxID's metadata. ok is false if no entry exists.
func (r *Registry) Get(boxID string) (meta Metadata, ok bool, err error) {
	err = withDB(r.path, func(db *bolt.DB) error {
		return db.View(func(tx *bolt.Tx) error {
			bkt := tx.Bucket([]byte(registryBucket))
			if bkt == nil {
				return nil
			}
			v := bkt.Get([]byte(boxID))
			if v == nil {
				return nil
			}
			ok = true
			return json.Unmarshal(v, &meta)
		})
	})
	return meta, ok, err
}

// TouchLastUsed updates boxID's last_used_at to now, leaving other fields
// unchanged. A no-op if the entry doesn't exist.
func (r *Registry) TouchLastUsed(boxID string, when time.Time) error {
	return withDB(r.path, func(db *bolt.DB) error {
		return db.Update(func(tx *bolt.Tx) error {
			bkt := tx.Bucket([]byte(registryBucket))
			if bkt == nil {
				return nil
			}
			v := bkt.Get([]byte(boxID))
			if v == nil {
				return nil
			}
			var meta Metadata
			if err := json.Unmarshal(v, &meta); err != nil {
				return err
			}
			meta.LastUsedAt = when
			encoded, err := json.Marshal(meta)
			if err != nil {
				return err
			}
			return bkt.Put([]byte(boxID), encoded)
		})
	})
}

// Delete removes boxID's entry. Idempotent: deleting an absent key is not
// an error.
func (r *Registry) Delete(boxID string) error {
	return withDB(r.path, func(db *bolt.DB) error {
		return db.Update(func(tx *bolt.Tx) error {
			bkt := tx.Bucket([]byte(registryBucket))
			if bkt == nil {
				return nil
			}
			return bkt.Delete([]byte(boxID))
		})
	})
}
