package store

import (
	"testing"

	"github.com/rpcpool/alertbase/internal/aerrors"
	"github.com/rpcpool/alertbase/internal/alertrecord"
	"github.com/stretchr/testify/require"
)

func mustOpen(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(t.TempDir()+"/db", OpenOptions{CreateIfMissing: true, S3Bucket: "ztf-alerts", S3Region: "us-west-2"})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, idx.Close()) })
	return idx
}

func referenceAlert() *alertrecord.AlertRecord {
	return &alertrecord.AlertRecord{
		CandidateID: 1311156250015010003,
		ObjectID:    "ZTF18aaylcqb",
		Position:    alertrecord.NewPosition(234.1362886, 16.6055949),
		JD:          2459065.65625,
	}
}

func TestOpenRejectsMissingWithoutCreate(t *testing.T) {
	_, err := Open(t.TempDir()+"/nonexistent", OpenOptions{CreateIfMissing: false})
	require.ErrorIs(t, err, aerrors.ErrDatabaseNotFound)
}

func TestInsertAndLookupURL(t *testing.T) {
	idx := mustOpen(t)
	rec := referenceAlert()
	require.NoError(t, idx.Insert("s3://ztf-alerts/alerts/v2/ZTF18aaylcqb/1311156250015010003", rec))

	url, found, err := idx.LookupURL(rec.CandidateID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "s3://ztf-alerts/alerts/v2/ZTF18aaylcqb/1311156250015010003", url)
}

func TestInsertPopulatesObjectSearch(t *testing.T) {
	idx := mustOpen(t)
	rec := referenceAlert()
	require.NoError(t, idx.Insert("s3://b/k", rec))

	ids, err := idx.ObjectSearch(rec.ObjectID)
	require.NoError(t, err)
	require.Equal(t, []int64{rec.CandidateID}, ids)
}

func TestInsertPopulatesTimeRangeSearch(t *testing.T) {
	idx := mustOpen(t)
	rec := referenceAlert()
	require.NoError(t, idx.Insert("s3://b/k", rec))

	unix := rec.TimestampUnixSeconds()
	ids, err := idx.TimeRangeSearch(unix, unix+1)
	require.NoError(t, err)
	require.Equal(t, []int64{rec.CandidateID}, ids)

	ids, err = idx.TimeRangeSearch(unix+10, unix+20)
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestInsertPopulatesConeSearch(t *testing.T) {
	idx := mustOpen(t)
	rec := referenceAlert()
	require.NoError(t, idx.Insert("s3://b/k", rec))

	ids, err := idx.ConeSearch(234.14, 16.61, 1.0/60.0)
	require.NoError(t, err)
	require.Contains(t, ids, rec.CandidateID)
}

func TestCountsReflectDistinctKeys(t *testing.T) {
	idx := mustOpen(t)
	a := referenceAlert()
	b := &alertrecord.AlertRecord{
		CandidateID: 1311156250015010004,
		ObjectID:    a.ObjectID, // same object, different candidate
		Position:    alertrecord.NewPosition(10, -10),
		JD:          a.JD + 1,
	}
	require.NoError(t, idx.Insert("s3://b/1", a))
	require.NoError(t, idx.Insert("s3://b/2", b))

	n, err := idx.CountCandidates()
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	n, err = idx.CountObjects()
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	n, err = idx.CountTimestamps()
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}

func TestManifestPersistsAcrossReopen(t *testing.T) {
	root := t.TempDir() + "/db"
	idx, err := Open(root, OpenOptions{CreateIfMissing: true, S3Bucket: "ztf-alerts", S3Region: "us-west-2"})
	require.NoError(t, err)
	require.NoError(t, idx.Insert("s3://b/k", referenceAlert()))
	require.NoError(t, idx.Close())

	idx2, err := Open(root, OpenOptions{CreateIfMissing: false})
	require.NoError(t, err)
	defer idx2.Close()
	require.Equal(t, "ztf-alerts", idx2.Bucket())
	require.EqualValues(t, 1, idx2.manifest.Candidates.Count)
}

func TestOpenRejectsIncompatibleHealpixOrder(t *testing.T) {
	root := t.TempDir() + "/db"
	idx, err := Open(root, OpenOptions{CreateIfMissing: true})
	require.NoError(t, err)
	idx.manifest.HealpixOrder = idx.order + 1
	require.NoError(t, idx.manifest.save(root))
	require.NoError(t, idx.Close())

	_, err = Open(root, OpenOptions{CreateIfMissing: false})
	require.ErrorIs(t, err, aerrors.ErrDecodeSchemaMismatch)
}

func TestLookupURLMissingCandidate(t *testing.T) {
	idx := mustOpen(t)
	_, found, err := idx.LookupURL(999)
	require.NoError(t, err)
	require.False(t, found)
}
