package alertbase

import (
	"context"
	"fmt"
	"os"
	"sync"

	concurrently "github.com/tejzpr/ordered-concurrently/v3"
	"k8s.io/klog/v2"

	"github.com/rpcpool/alertbase/internal/alertrecord"
	"github.com/rpcpool/alertbase/internal/blobstore"
	"github.com/rpcpool/alertbase/internal/tarstream"
)

// uploadQueueCapacity bounds the in-flight record queue between the
// single scanning producer and the upload worker pool, so a large
// archive never buffers entirely in memory ahead of slow uploads.
const uploadQueueCapacity = 100

// IngestOptions configures IngestTarfile.
type IngestOptions struct {
	// WorkerCount is the number of concurrent upload workers. Zero
	// defaults to 8.
	WorkerCount int

	// Limit stops the scan after this many records have been accepted
	// for upload (i.e. not skipped). Zero means no limit.
	Limit int

	// SkipExisting drops records whose candidate id is already indexed,
	// without re-uploading or re-indexing them.
	SkipExisting bool
}

// IngestStats summarizes one IngestTarfile run.
type IngestStats struct {
	Scanned  int
	Uploaded int
	Skipped  int
}

// uploadWork uploads one alert's raw payload and reports the URL it
// landed at. It implements concurrently.WorkFunction so a pool of these
// can run alongside each other while their results drain through a
// single ordered channel.
type uploadWork struct {
	rec   *alertrecord.AlertRecord
	blobs *blobstore.Client
}

type uploadResult struct {
	url string
	rec *alertrecord.AlertRecord
}

func (w uploadWork) Run(ctx context.Context) interface{} {
	sess, err := w.blobs.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("alertbase: acquiring upload session for candidate %d: %w", w.rec.CandidateID, err)
	}
	defer sess.Close()

	key := blobstore.KeyFor(w.rec.ObjectID, w.rec.CandidateID)
	url, err := sess.Put(ctx, key, w.rec.RawPayload)
	if err != nil {
		return fmt.Errorf("alertbase: uploading candidate %d: %w", w.rec.CandidateID, err)
	}
	return uploadResult{url: url, rec: w.rec}
}

// IngestTarfile decodes every alert record in the gzipped tar archive at
// path, uploads its raw payload to the blob store, and records a
// secondary-index entry for it.
//
// Uploads run concurrently across opts.WorkerCount workers, but every
// index write is funneled through a single goroutine draining the
// workers' results in turn — this is the same discipline the teacher's
// gsfa index build uses (a pool of ordered-concurrently workers decoding
// transactions, with one reader goroutine pushing results into the
// index serially), and it is what keeps the append read-modify-write
// sequence on objects/healpixels/timestamps safe without a lock, per the
// single-writer constraint on index inserts.
//
// On the first worker or decode error, the scan stops, no further work
// is enqueued, and the error is returned alongside whatever stats had
// accumulated so far.
func (db *Database) IngestTarfile(ctx context.Context, path string, opts IngestOptions) (IngestStats, error) {
	workerCount := opts.WorkerCount
	if workerCount <= 0 {
		workerCount = 8
	}

	f, err := os.Open(path)
	if err != nil {
		return IngestStats{}, fmt.Errorf("alertbase: opening %s: %w", path, err)
	}
	defer f.Close()

	ts, err := tarstream.Open(f)
	if err != nil {
		return IngestStats{}, err
	}
	defer ts.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workerInputChan := make(chan concurrently.WorkFunction, uploadQueueCapacity)
	outputChan := concurrently.Process(ctx, workerInputChan, &concurrently.Options{
		PoolSize:         workerCount,
		OutChannelBuffer: workerCount,
	})

	var mu sync.Mutex
	var stats IngestStats
	var firstErr error
	fail := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
	}

	var indexer sync.WaitGroup
	indexer.Add(1)
	go func() {
		defer indexer.Done()
		for result := range outputChan {
			switch v := result.Value.(type) {
			case error:
				fail(v)
			case uploadResult:
				if err := db.index.Insert(v.url, v.rec); err != nil {
					fail(fmt.Errorf("alertbase: indexing candidate %d: %w", v.rec.CandidateID, err))
					continue
				}
				mu.Lock()
				stats.Uploaded++
				mu.Unlock()
				klog.V(2).Infof("alertbase: indexed candidate %d", v.rec.CandidateID)
			default:
				fail(fmt.Errorf("alertbase: unexpected upload result type %T", result.Value))
			}
		}
	}()

	accepted := 0
scan:
	for {
		select {
		case <-ctx.Done():
			break scan
		default:
		}

		member, _, ok, err := ts.Next()
		if err != nil {
			fail(fmt.Errorf("alertbase: reading tar member: %w", err))
			break scan
		}
		if !ok {
			break scan
		}

		rec, err := alertrecord.Decode(member)
		if err != nil {
			fail(fmt.Errorf("alertbase: decoding alert record: %w", err))
			break scan
		}
		stats.Scanned++
		klog.V(1).Infof("alertbase: scanned alert %d", rec.CandidateID)

		if opts.SkipExisting {
			_, found, err := db.index.LookupURL(rec.CandidateID)
			if err != nil {
				fail(err)
				break scan
			}
			if found {
				stats.Skipped++
				continue
			}
		}

		select {
		case workerInputChan <- uploadWork{rec: rec, blobs: db.blobs}:
		case <-ctx.Done():
			break scan
		}
		accepted++

		if opts.Limit > 0 && accepted >= opts.Limit {
			break scan
		}
	}

	close(workerInputChan)
	indexer.Wait()

	if firstErr != nil {
		return stats, firstErr
	}
	return stats, nil
}
