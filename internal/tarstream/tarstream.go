// Package tarstream lazily iterates the members of a gzipped tar archive
// of alert records, handing each member's bytes to the caller one at a
// time without buffering the whole archive in memory.
//
// Grounded on the original implementation's iterate_tarfile in
// alert_tar.py, which opens the archive once and yields a deserialized
// AlertRecord per member; this package stops one layer short of
// deserializing, handing back raw bytes so callers can choose Decode vs
// DecodeSafe.
package tarstream

import (
	"archive/tar"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Reader iterates the regular-file members of a gzipped tar archive.
// Each member's bytes, returned by Next, are valid only until the next
// call to Next or Close; callers that need to retain them must copy.
type Reader struct {
	gz  *gzip.Reader
	tr  *tar.Reader
	src io.Closer
}

// Open wraps src (already positioned at the start of a gzip stream) as a
// Reader. The caller remains responsible for closing src after Close
// returns, unless src also satisfies io.Closer, in which case Close
// closes it too.
func Open(src io.Reader) (*Reader, error) {
	gz, err := gzip.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("tarstream: opening gzip stream: %w", err)
	}
	r := &Reader{gz: gz, tr: tar.NewReader(gz)}
	if closer, ok := src.(io.Closer); ok {
		r.src = closer
	}
	return r, nil
}

// Next advances to the next regular-file member and returns a reader over
// its bytes. ok is false once the archive is exhausted.
func (r *Reader) Next() (member io.Reader, name string, ok bool, err error) {
	for {
		hdr, err := r.tr.Next()
		if err == io.EOF {
			return nil, "", false, nil
		}
		if err != nil {
			return nil, "", false, fmt.Errorf("tarstream: reading member header: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		return r.tr, hdr.Name, true, nil
	}
}

// Close releases the gzip decompressor and, if the original source also
// implements io.Closer, the source itself.
func (r *Reader) Close() error {
	gzErr := r.gz.Close()
	if r.src != nil {
		if err := r.src.Close(); err != nil && gzErr == nil {
			gzErr = err
		}
	}
	return gzErr
}
