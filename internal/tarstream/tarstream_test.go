package tarstream

import (
	"archive/tar"
	"bytes"
	"io"
	"sort"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

func buildArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	tw.WriteHeader(&tar.Header{Name: "dir/", Typeflag: tar.TypeDir, Mode: 0o755})
	// Write members in sorted name order so the archive order is fixed.
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		body := files[name]
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Typeflag: tar.TypeReg,
			Size:     int64(len(body)),
			Mode:     0o644,
		}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestReaderYieldsRegularFilesInOrder(t *testing.T) {
	archive := buildArchive(t, map[string]string{
		"a.avro": "alert-a",
		"b.avro": "alert-b",
	})
	r, err := Open(bytes.NewReader(archive))
	require.NoError(t, err)
	defer r.Close()

	var names []string
	var bodies []string
	for {
		member, name, ok, err := r.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		body, err := io.ReadAll(member)
		require.NoError(t, err)
		names = append(names, name)
		bodies = append(bodies, string(body))
	}
	require.Equal(t, []string{"a.avro", "b.avro"}, names)
	require.Equal(t, []string{"alert-a", "alert-b"}, bodies)
}

func TestReaderSkipsDirectories(t *testing.T) {
	archive := buildArchive(t, map[string]string{"only.avro": "x"})
	r, err := Open(bytes.NewReader(archive))
	require.NoError(t, err)
	defer r.Close()

	_, name, ok, err := r.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "only.avro", name)

	_, _, ok, err = r.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOpenRejectsNonGzip(t *testing.T) {
	_, err := Open(bytes.NewReader([]byte("not gzip")))
	require.Error(t, err)
}
