package storage

import (
	"github.com/gravitational/trace"
	"github.com/peterbourgon/diskv/v3"
)

// cacheSizeMaxBytes caps the diskv in-memory cache. The store only ever holds
// a couple of tokens and one small JSON document.
const cacheSizeMaxBytes = 8 * 1024

// DiskStore is a Store backed by one file per key under a base directory.
// Tokens end up on disk, so files and directories are created private to the
// owner.
type DiskStore struct {
	dv *diskv.Diskv
}

var _ Store = &DiskStore{}

// NewDiskStore creates a DiskStore rooted at dir. The directory is created on
// first write.
func NewDiskStore(dir string) *DiskStore {
	// Simplest transform function: put all the data files into the base dir.
	flatTransform := func(s string) []string { return []string{} }

	dv := diskv.New(diskv.Options{
		BasePath:     dir,
		Transform:    flatTransform,
		CacheSizeMax: cacheSizeMaxBytes,
		PathPerm:     0700,
		FilePerm:     0600,
	})

	return &DiskStore{dv}
}

// Get returns the value stored under key, or trace.NotFound.
func (s *DiskStore) Get(key string) (string, error) {
	if !s.dv.Has(key) {
		return "", trace.NotFound("key %q is not set", key)
	}

	b, err := s.dv.Read(key)
	if err != nil {
		return "", trace.Wrap(err)
	}

	return string(b), nil
}

// Set writes value under key, replacing any previous value.
func (s *DiskStore) Set(key string, value string) error {
	return trace.Wrap(s.dv.Write(key, []byte(value)))
}

// Remove deletes the value stored under key. Removing an absent key is not an
// error.
func (s *DiskStore) Remove(key string) error {
	if !s.dv.Has(key) {
		return nil
	}
	return trace.Wrap(s.dv.Erase(key))
}
