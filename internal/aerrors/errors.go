// Package aerrors defines the sentinel error kinds shared across alertbase's
// codecs, index store, blob store, and database facade.
//
// Errors follow the teacher's convention of plain sentinel values checked
// with errors.Is, wrapped with fmt.Errorf("%w") for context, rather than a
// bespoke error-code hierarchy.
package aerrors

import "errors"

var (
	// ErrEncodeRange is returned when a varint being decoded runs past 64
	// bits of value. The fixed-width uint64 encoder takes a uint64 and never
	// returns it.
	ErrEncodeRange = errors.New("alertbase: value out of range for encoding")

	// ErrDecodeTruncated is returned when a buffer ends before a codec has
	// read all the bytes it expects.
	ErrDecodeTruncated = errors.New("alertbase: truncated buffer")

	// ErrDecodeUTF8 is returned when a byte sequence that should hold a
	// UTF-8 string contains invalid encoding.
	ErrDecodeUTF8 = errors.New("alertbase: invalid utf-8")

	// ErrDecodeSchemaMismatch is returned when the alert record decoder
	// encounters a block count other than one, or an unexpected tag for a
	// tagged-optional field.
	ErrDecodeSchemaMismatch = errors.New("alertbase: record schema mismatch")

	// ErrIndexIO wraps errors from the embedded ordered-key engine.
	ErrIndexIO = errors.New("alertbase: index io error")

	// ErrBlobIO wraps transport, authentication, or object errors from the
	// object store.
	ErrBlobIO = errors.New("alertbase: blob store io error")

	// ErrObjectNotFound distinguishes a missing object from other blob-store
	// failures; lookups treat it as an absent result.
	ErrObjectNotFound = errors.New("alertbase: object not found")

	// ErrInvalidURL is returned when a stored URL does not begin with the
	// s3:// scheme, or cannot be split into bucket and key.
	ErrInvalidURL = errors.New("alertbase: invalid object url")

	// ErrDatabaseNotFound is returned when opening a database that does not
	// exist and create-if-missing was not requested.
	ErrDatabaseNotFound = errors.New("alertbase: database not found")

	// ErrDatabaseExists names the create-over-an-existing-database failure.
	// No function in this module returns it: store.Open with CreateIfMissing
	// opens an existing database as is.
	ErrDatabaseExists = errors.New("alertbase: database already exists")

	// ErrPipelineCanceled names cooperative cancellation of an ingest or
	// query pipeline. No function in this module returns it: a canceled
	// query returns the context's error, and a canceled ingest stops
	// scanning and returns the first worker error, if any.
	ErrPipelineCanceled = errors.New("alertbase: pipeline canceled")
)
