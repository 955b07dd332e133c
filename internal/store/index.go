package store

import (
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/rpcpool/alertbase/internal/aerrors"
	"github.com/rpcpool/alertbase/internal/alertrecord"
	"github.com/rpcpool/alertbase/internal/codec"
	"github.com/rpcpool/alertbase/internal/healpix"
	"k8s.io/klog/v2"
)

// OpenOptions configures Open.
type OpenOptions struct {
	// CreateIfMissing creates the database root and its table directories
	// if they don't already exist.
	CreateIfMissing bool

	// S3Bucket and S3Region are recorded in a freshly created manifest.
	// They are ignored when opening an existing database, whose manifest
	// already carries these values.
	S3Bucket string
	S3Region string
}

// Index owns the four ordered-key secondary-index tables and the
// manifest describing them. It is the exclusive owner of its underlying
// engine handles, released on Close.
type Index struct {
	dbRoot string
	order  int

	candidates *table[int64]  // candidate_id -> object URL
	objects    *table[string] // object_id -> concatenated varint candidate ids
	healpixels *table[uint64] // pixel id -> concatenated varint candidate ids
	timestamps *table[uint64] // unix nanoseconds -> concatenated varint candidate ids

	candidatesDB *badger.DB
	objectsDB    *badger.DB
	healpixelsDB *badger.DB
	timestampsDB *badger.DB

	manifest  *manifest
	anyWrites bool
}

func badgerOpen(dir string, createIfMissing bool) (*badger.DB, error) {
	if createIfMissing {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: creating %s: %w", dir, err)
		}
	}
	opts := badger.DefaultOptions(dir).WithLogger(klogAdapter{})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", dir, aerrors.ErrIndexIO)
	}
	return db, nil
}

func decodeFullVarint(buf []byte) (int64, error) {
	v, n, err := codec.DecodeVarint(buf)
	if err != nil {
		return 0, err
	}
	if n != len(buf) {
		return 0, fmt.Errorf("store: trailing bytes after key varint: %w", aerrors.ErrDecodeSchemaMismatch)
	}
	return v, nil
}

// Open opens (or creates) the four table directories and the manifest
// rooted at dbRoot.
func Open(dbRoot string, opts OpenOptions) (*Index, error) {
	if _, err := os.Stat(dbRoot); os.IsNotExist(err) {
		if !opts.CreateIfMissing {
			return nil, aerrors.ErrDatabaseNotFound
		}
		if err := os.MkdirAll(dbRoot, 0o755); err != nil {
			return nil, fmt.Errorf("store: creating db root: %w", err)
		}
	}

	candidatesDB, err := badgerOpen(dbRoot+"/candidates", opts.CreateIfMissing)
	if err != nil {
		return nil, err
	}
	objectsDB, err := badgerOpen(dbRoot+"/objects", opts.CreateIfMissing)
	if err != nil {
		return nil, err
	}
	healpixelsDB, err := badgerOpen(dbRoot+"/healpixels", opts.CreateIfMissing)
	if err != nil {
		return nil, err
	}
	timestampsDB, err := badgerOpen(dbRoot+"/timestamps", opts.CreateIfMissing)
	if err != nil {
		return nil, err
	}

	idx := &Index{
		dbRoot: dbRoot,
		order:  healpix.DefaultOrder,

		candidates: newTable(candidatesDB, func(k int64) []byte { return codec.EncodeVarint(k) }, decodeFullVarint,
			func(a, b int64) bool { return a < b }),
		objects: newTable(objectsDB, codec.EncodeString, codec.DecodeString,
			func(a, b string) bool { return a < b }),
		healpixels: newTable(healpixelsDB, codec.EncodeFixedUint64, codec.DecodeFixedUint64,
			func(a, b uint64) bool { return a < b }),
		timestamps: newTable(timestampsDB, codec.EncodeFixedUint64, codec.DecodeFixedUint64,
			func(a, b uint64) bool { return a < b }),

		candidatesDB: candidatesDB,
		objectsDB:    objectsDB,
		healpixelsDB: healpixelsDB,
		timestampsDB: timestampsDB,
	}

	m, existed, err := loadManifest(dbRoot)
	if err != nil {
		idx.closeEngines()
		return nil, err
	}
	if !existed {
		m = &manifest{S3Bucket: opts.S3Bucket, S3Region: opts.S3Region, HealpixOrder: idx.order}
		if err := idx.recomputeStats(m); err != nil {
			idx.closeEngines()
			return nil, err
		}
	} else if m.HealpixOrder != idx.order {
		idx.closeEngines()
		return nil, fmt.Errorf("store: manifest healpix order %d != compiled order %d: %w",
			m.HealpixOrder, idx.order, aerrors.ErrDecodeSchemaMismatch)
	}
	idx.manifest = m

	return idx, nil
}

func (idx *Index) closeEngines() {
	idx.candidatesDB.Close()
	idx.objectsDB.Close()
	idx.healpixelsDB.Close()
	idx.timestampsDB.Close()
}

// Order returns the HEALPix order this database's healpixels table is
// built at.
func (idx *Index) Order() int { return idx.order }

// Bucket and Region return the manifest's recorded object-store location.
func (idx *Index) Bucket() string { return idx.manifest.S3Bucket }
func (idx *Index) Region() string { return idx.manifest.S3Region }

func (idx *Index) recomputeStats(m *manifest) error {
	cCount, cMin, cMax, err := idx.candidates.keyRangeStats()
	if err != nil {
		return err
	}
	m.Candidates = keyStats[int64]{Count: cCount, Min: cMin, Max: cMax}

	oCount, oMin, oMax, err := idx.objects.keyRangeStats()
	if err != nil {
		return err
	}
	m.Objects = keyStats[string]{Count: oCount, Min: oMin, Max: oMax}

	hCount, hMin, hMax, err := idx.healpixels.keyRangeStats()
	if err != nil {
		return err
	}
	m.Healpixels = keyStats[uint64]{Count: hCount, Min: hMin, Max: hMax}

	tCount, tMin, tMax, err := idx.timestamps.keyRangeStats()
	if err != nil {
		return err
	}
	m.Timestamps = keyStats[float64]{
		Count: tCount,
		Min:   float64(tMin) / 1e9,
		Max:   float64(tMax) / 1e9,
	}
	return nil
}

// Insert writes all four secondary-index entries for a single alert. Per
// the concurrency model, callers must serialize calls to Insert (e.g. by
// running them all on one dedicated goroutine) whenever more than one
// alert could target the same object_id, pixel, or timestamp key
// concurrently; Insert itself does not lock across the four writes, and
// they are not committed as a single atomic transaction — a crash between
// steps can leave a candidate URL recorded without its secondary entries.
func (idx *Index) Insert(url string, rec *alertrecord.AlertRecord) error {
	if err := idx.candidates.put(rec.CandidateID, []byte(url)); err != nil {
		return err
	}
	elem := codec.EncodeVarint(rec.CandidateID)
	if err := idx.objects.appendElement(rec.ObjectID, elem); err != nil {
		return err
	}
	pixel := rec.Pixel(idx.order)
	if err := idx.healpixels.appendElement(pixel, elem); err != nil {
		return err
	}
	nanos := uint64(rec.TimestampUnixSeconds() * 1e9)
	if err := idx.timestamps.appendElement(nanos, elem); err != nil {
		return err
	}
	idx.anyWrites = true
	return nil
}

// LookupURL returns the object URL for a candidate id, or found=false if
// absent.
func (idx *Index) LookupURL(candidateID int64) (url string, found bool, err error) {
	v, found, err := idx.candidates.get(candidateID)
	if err != nil || !found {
		return "", found, err
	}
	return string(v), true, nil
}

// decodeCandidateList decodes a concatenated varint-sequence value into
// its candidate ids.
func decodeCandidateList(buf []byte) ([]int64, error) {
	return codec.DecodeVarintSeq(buf)
}

// ObjectSearch returns every candidate id recorded for object_id.
func (idx *Index) ObjectSearch(objectID string) ([]int64, error) {
	v, found, err := idx.objects.get(objectID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return decodeCandidateList(v)
}

// TimeRangeSearch returns every candidate id recorded with a timestamp in
// the half-open range [startUnixSeconds, endUnixSeconds).
func (idx *Index) TimeRangeSearch(startUnixSeconds, endUnixSeconds float64) ([]int64, error) {
	start := uint64(startUnixSeconds * 1e9)
	end := uint64(endUnixSeconds * 1e9)
	it := idx.timestamps.rangeScan(start, end)
	defer it.close()

	var out []int64
	for {
		_, v, ok, err := it.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		ids, err := decodeCandidateList(v)
		if err != nil {
			return nil, err
		}
		out = append(out, ids...)
	}
	return out, nil
}

// ConeSearch returns every candidate id whose healpixel entry falls
// within a compacted range covering the disc at (centerRA, centerDec)
// with the given radius in degrees. As documented on
// healpix.DiscToPixels, results are pixel-accurate and may include
// candidates outside the true angular radius; callers needing an exact
// cutoff re-filter by true separation.
func (idx *Index) ConeSearch(centerRA, centerDec, radiusDeg float64) ([]int64, error) {
	pixels := healpix.DiscToPixels(idx.order, centerRA, centerDec, radiusDeg)
	ranges := healpix.CompactRanges(pixels)
	klog.V(2).Infof("cone search: %d pixels compacted into %d ranges", len(pixels), len(ranges))

	var out []int64
	for _, r := range ranges {
		it := idx.healpixels.rangeScan(r.Start, r.End)
		for {
			_, v, ok, err := it.next()
			if err != nil {
				it.close()
				return nil, err
			}
			if !ok {
				break
			}
			ids, err := decodeCandidateList(v)
			if err != nil {
				it.close()
				return nil, err
			}
			out = append(out, ids...)
		}
	}
	return out, nil
}

// CountCandidates, CountObjects, CountHealpixels, and CountTimestamps each
// perform a full scan of the respective table, returning its distinct key
// count.
func (idx *Index) CountCandidates() (uint64, error) { return idx.candidates.count() }
func (idx *Index) CountObjects() (uint64, error)    { return idx.objects.count() }
func (idx *Index) CountHealpixels() (uint64, error) { return idx.healpixels.count() }
func (idx *Index) CountTimestamps() (uint64, error) { return idx.timestamps.count() }

// Close recomputes and rewrites the manifest (only if a write occurred
// this session — otherwise the existing stats are rewritten as-is, which
// is cheap and idempotent) and releases all four engine handles. The
// manifest write is best-effort: a failure is logged, not returned, since
// losing a stats cache is not fatal to data already committed.
func (idx *Index) Close() error {
	if idx.anyWrites {
		if err := idx.recomputeStats(idx.manifest); err != nil {
			klog.Errorf("alertbase: recomputing manifest stats on close: %v", err)
		}
	}
	if err := idx.manifest.save(idx.dbRoot); err != nil {
		klog.Errorf("alertbase: writing manifest on close: %v", err)
	}

	var firstErr error
	for _, db := range []*badger.DB{idx.candidatesDB, idx.objectsDB, idx.healpixelsDB, idx.timestampsDB} {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return fmt.Errorf("store: closing engines: %w", aerrors.ErrIndexIO)
	}
	return nil
}
