// Package alertbase is the database facade tying together the ordered
// secondary-index store and the blob-store client, plus the ingest and
// query pipelines built on top of them.
//
// Grounded on the original implementation's db.py Database class for the
// overall shape (open/close lifecycle, ingest_tar, the four get_by_*
// query paths); the concurrency pipelines themselves are adapted from the
// teacher's gsfa index-build command (cmd-x-index-gsfa.go, ordered
// workers draining into a single serial writer) and its split-car-fetcher
// bounded-parallel-fetch helper (fetcher.go, errgroup.SetLimit).
package alertbase

import (
	"fmt"

	"github.com/rpcpool/alertbase/internal/blobstore"
	"github.com/rpcpool/alertbase/internal/store"
)

// Config configures Open.
type Config struct {
	DBRoot          string
	CreateIfMissing bool

	// S3Bucket and S3Region seed a freshly created database's manifest.
	// They are ignored when reopening an existing database, whose
	// manifest already carries these values (see store.OpenOptions).
	S3Bucket string
	S3Region string

	// S3Endpoint overrides the default object-store host, for
	// S3-compatible backends or tests.
	S3Endpoint string

	// BlobConcurrency bounds the number of blob-store sessions held at
	// once across ingest and query. Zero uses blobstore's default.
	BlobConcurrency int
}

// Database owns a secondary-index store and a blob-store client and
// coordinates ingest and query pipelines across them.
type Database struct {
	index *store.Index
	blobs *blobstore.Client
}

// Open opens, or creates if cfg.CreateIfMissing, the database described
// by cfg.
func Open(cfg Config) (*Database, error) {
	idx, err := store.Open(cfg.DBRoot, store.OpenOptions{
		CreateIfMissing: cfg.CreateIfMissing,
		S3Bucket:        cfg.S3Bucket,
		S3Region:        cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("alertbase: %w", err)
	}
	blobs := blobstore.New(blobstore.Config{
		Bucket:         idx.Bucket(),
		Region:         idx.Region(),
		Endpoint:       cfg.S3Endpoint,
		MaxConcurrency: cfg.BlobConcurrency,
	})
	return &Database{index: idx, blobs: blobs}, nil
}

// Close flushes and releases the secondary-index store. The blob-store
// client holds no resources beyond pooled HTTP connections, which the
// standard transport manages on its own.
func (db *Database) Close() error {
	return db.index.Close()
}

// Stats reports the distinct-key counts of each secondary-index table and
// the database's object-store location, for the CLI's stats verb.
type Stats struct {
	Candidates uint64
	Objects    uint64
	Healpixels uint64
	Timestamps uint64
	Bucket     string
	Region     string
}

// Stats computes the current table counts. Each count is a full table
// scan; callers polling this frequently on a large database should
// cache the result.
func (db *Database) Stats() (Stats, error) {
	c, err := db.index.CountCandidates()
	if err != nil {
		return Stats{}, err
	}
	o, err := db.index.CountObjects()
	if err != nil {
		return Stats{}, err
	}
	h, err := db.index.CountHealpixels()
	if err != nil {
		return Stats{}, err
	}
	ts, err := db.index.CountTimestamps()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Candidates: c,
		Objects:    o,
		Healpixels: h,
		Timestamps: ts,
		Bucket:     db.index.Bucket(),
		Region:     db.index.Region(),
	}, nil
}
