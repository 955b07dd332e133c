package alertbase

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

// The corpus ships no binary alert-tar fixtures, so these tests build a
// synthetic gzipped-tar archive from the encoder helpers below, mirroring
// the approach in internal/alertrecord's and internal/tarstream's own
// tests.

func encodeLong(n int64) []byte {
	u := uint64((n << 1) ^ (n >> 63))
	var buf []byte
	for {
		b := byte(u & 0x7f)
		u >>= 7
		if u != 0 {
			buf = append(buf, b|0x80)
		} else {
			buf = append(buf, b)
			break
		}
	}
	return buf
}

func encodeUTF8(s string) []byte {
	out := encodeLong(int64(len(s)))
	return append(out, []byte(s)...)
}

func encodeDouble(f float64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, math.Float64bits(f))
	return buf
}

func encodeNullUnion() []byte {
	return encodeLong(0)
}

func encodeFileHeader() []byte {
	var buf bytes.Buffer
	buf.WriteString("Obj\x01")
	buf.Write(encodeLong(0))
	buf.Write(make([]byte, 16))
	return buf.Bytes()
}

type alertFixture struct {
	objectID    string
	candidateID int64
	jd          float64
	ra, dec     float64
}

func (f alertFixture) encode() []byte {
	var buf bytes.Buffer
	buf.Write(encodeFileHeader())
	buf.Write(encodeLong(1))
	buf.Write(encodeLong(0))
	buf.Write(encodeUTF8("3.3"))
	buf.Write(encodeUTF8("ZTF"))
	buf.Write(encodeUTF8(f.objectID))
	buf.Write(encodeLong(f.candidateID))
	buf.Write(encodeDouble(f.jd))
	buf.Write(encodeLong(1))
	buf.Write(encodeLong(2))
	buf.Write(encodeNullUnion())
	buf.Write(encodeNullUnion())
	buf.Write(encodeNullUnion())
	buf.Write(encodeLong(1))
	buf.Write(encodeLong(f.candidateID))
	buf.Write(encodeUTF8("t"))
	buf.Write(encodeNullUnion())
	buf.Write(encodeNullUnion())
	buf.Write(encodeNullUnion())
	buf.Write(encodeNullUnion())
	buf.Write(encodeNullUnion())
	buf.Write(encodeNullUnion())
	buf.Write(encodeDouble(f.ra))
	buf.Write(encodeDouble(f.dec))
	return buf.Bytes()
}

func referenceFixtures() []alertFixture {
	return []alertFixture{
		{objectID: "ZTF18aaylcqb", candidateID: 1311156250015010003, jd: 2459065.65625, ra: 234.1362886, dec: 16.6055949},
		{objectID: "ZTF18aaylcqb", candidateID: 1311156250015010004, jd: 2459065.66, ra: 234.1363, dec: 16.6056},
		{objectID: "ZTF19abcdxyz", candidateID: 1311200000015010005, jd: 2459066.5, ra: 10.0, dec: -5.0},
	}
}

func buildAlertTarball(t *testing.T, fixtures []alertFixture) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "alerts.tar.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for i, fx := range fixtures {
		body := fx.encode()
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     fmt.Sprintf("alert_%d.avro", i),
			Typeflag: tar.TypeReg,
			Size:     int64(len(body)),
			Mode:     0o644,
		}))
		_, err := tw.Write(body)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return path
}

func newTestBlobServer(t *testing.T) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	objects := make(map[string][]byte)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		switch r.Method {
		case http.MethodPut:
			b := new(bytes.Buffer)
			b.ReadFrom(r.Body)
			mu.Lock()
			objects[key] = b.Bytes()
			mu.Unlock()
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			mu.Lock()
			body, ok := objects[key]
			mu.Unlock()
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write(body)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func openTestDatabase(t *testing.T, srv *httptest.Server) *Database {
	t.Helper()
	db, err := Open(Config{
		DBRoot:          t.TempDir(),
		CreateIfMissing: true,
		S3Bucket:        "ztf-alerts",
		S3Region:        "us-west-2",
		S3Endpoint:      srv.URL,
		BlobConcurrency: 4,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestIngestTarfileUploadsAndIndexesEveryRecord(t *testing.T) {
	srv := newTestBlobServer(t)
	db := openTestDatabase(t, srv)
	fixtures := referenceFixtures()
	path := buildAlertTarball(t, fixtures)

	stats, err := db.IngestTarfile(context.Background(), path, IngestOptions{WorkerCount: 2})
	require.NoError(t, err)
	require.Equal(t, len(fixtures), stats.Scanned)
	require.Equal(t, len(fixtures), stats.Uploaded)
	require.Equal(t, 0, stats.Skipped)

	s, err := db.Stats()
	require.NoError(t, err)
	require.EqualValues(t, len(fixtures), s.Candidates)
	require.EqualValues(t, 2, s.Objects) // two distinct object ids above
}

func TestIngestTarfileRespectsLimit(t *testing.T) {
	srv := newTestBlobServer(t)
	db := openTestDatabase(t, srv)
	path := buildAlertTarball(t, referenceFixtures())

	stats, err := db.IngestTarfile(context.Background(), path, IngestOptions{WorkerCount: 2, Limit: 1})
	require.NoError(t, err)
	require.Equal(t, 1, stats.Uploaded)
}

func TestIngestTarfileSkipsExisting(t *testing.T) {
	srv := newTestBlobServer(t)
	db := openTestDatabase(t, srv)
	fixtures := referenceFixtures()
	path := buildAlertTarball(t, fixtures)

	_, err := db.IngestTarfile(context.Background(), path, IngestOptions{WorkerCount: 2})
	require.NoError(t, err)

	stats, err := db.IngestTarfile(context.Background(), path, IngestOptions{WorkerCount: 2, SkipExisting: true})
	require.NoError(t, err)
	require.Equal(t, len(fixtures), stats.Skipped)
	require.Equal(t, 0, stats.Uploaded)
}

func TestGetByCandidateIDRoundTrip(t *testing.T) {
	srv := newTestBlobServer(t)
	db := openTestDatabase(t, srv)
	fixtures := referenceFixtures()
	path := buildAlertTarball(t, fixtures)
	_, err := db.IngestTarfile(context.Background(), path, IngestOptions{WorkerCount: 2})
	require.NoError(t, err)

	rec, found, err := db.GetByCandidateID(context.Background(), fixtures[0].candidateID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, fixtures[0].objectID, rec.ObjectID)

	_, found, err = db.GetByCandidateID(context.Background(), 999999)
	require.NoError(t, err)
	require.False(t, found)
}

func TestGetByObjectIDReturnsAllMatches(t *testing.T) {
	srv := newTestBlobServer(t)
	db := openTestDatabase(t, srv)
	fixtures := referenceFixtures()
	path := buildAlertTarball(t, fixtures)
	_, err := db.IngestTarfile(context.Background(), path, IngestOptions{WorkerCount: 2})
	require.NoError(t, err)

	recs, err := db.GetByObjectID(context.Background(), "ZTF18aaylcqb", 4)
	require.NoError(t, err)
	require.Len(t, recs, 2)
}

func TestGetByTimeRangeAndConeSearch(t *testing.T) {
	srv := newTestBlobServer(t)
	db := openTestDatabase(t, srv)
	fixtures := referenceFixtures()
	path := buildAlertTarball(t, fixtures)
	_, err := db.IngestTarfile(context.Background(), path, IngestOptions{WorkerCount: 2})
	require.NoError(t, err)

	byTime, err := db.GetByTimeRange(context.Background(), 0, 1e15, 4)
	require.NoError(t, err)
	require.Len(t, byTime, len(fixtures))

	byCone, err := db.GetByConeSearch(context.Background(), fixtures[0].ra, fixtures[0].dec, 1.0, 4)
	require.NoError(t, err)
	require.NotEmpty(t, byCone)
}
