// Package wimerrors defines the error taxonomy shared by every layer of
// the archive engine. Each sentinel corresponds to one row of the error
// table in the specification; layers wrap these with xerrors.Errorf as
// they propagate so a caller can still match with errors.Is.
package wimerrors

import "errors"

var (
	// ErrInvalidHeader means the magic, version, or header size field
	// did not match what this implementation understands.
	ErrInvalidHeader = errors.New("wim: invalid header")

	// ErrInvalidChunkSize means a resource declared a chunk size this
	// implementation cannot use (e.g. non-32768 for a classic resource).
	ErrInvalidChunkSize = errors.New("wim: invalid chunk size")

	// ErrInvalidCompressionType means the header's compression flags
	// don't correspond to a supported codec.
	ErrInvalidCompressionType = errors.New("wim: invalid compression type")

	// ErrIntegrityMismatch means a computed SHA-1 did not match the
	// value recorded in the integrity table.
	ErrIntegrityMismatch = errors.New("wim: integrity check failed")

	// ErrInvalidResourceHash means a decoded blob's SHA-1 did not match
	// its declared hash in the blob table.
	ErrInvalidResourceHash = errors.New("wim: blob hash mismatch")

	// ErrResourceNotFound means a hash referenced by a dentry stream is
	// absent from the blob table.
	ErrResourceNotFound = errors.New("wim: resource not found")

	// ErrDecompression means a codec detected an invalid bitstream.
	ErrDecompression = errors.New("wim: decompression error")

	// ErrUnexpectedEOF means a read ran past a declared boundary.
	ErrUnexpectedEOF = errors.New("wim: unexpected end of resource")

	// ErrResourceOrder means an overlap or ordering violation was found
	// while attempting an in-place append or compaction. Callers of the
	// overwrite path treat this as a signal to fall back to a full
	// rewrite.
	ErrResourceOrder = errors.New("wim: resource order violation")

	// ErrAlreadyLocked means another process holds the advisory lock on
	// the file.
	ErrAlreadyLocked = errors.New("wim: file is already locked")

	// ErrReadonly means the WIM was opened read-only (or its header
	// carries the READONLY flag) and a mutating call was attempted
	// without an explicit override.
	ErrReadonly = errors.New("wim: file is read-only")

	// ErrSplitInvalid means a set of split parts is incomplete,
	// duplicated, or has mismatched GUIDs.
	ErrSplitInvalid = errors.New("wim: invalid split part set")

	// ErrSplitUnsupported means an operation was attempted against a
	// spanned (split) archive that is only valid for a single-part one.
	ErrSplitUnsupported = errors.New("wim: operation unsupported on split archive")

	// ErrImageNameCollision means the caller supplied an image name
	// already in use.
	ErrImageNameCollision = errors.New("wim: image name already in use")

	// ErrInvalidImage means the caller referenced an image index or
	// name that does not exist.
	ErrInvalidImage = errors.New("wim: invalid image reference")

	// ErrCancelled means a progress callback returned a non-zero status,
	// requesting the enclosing operation abort at its next safe point.
	ErrCancelled = errors.New("wim: operation cancelled by progress callback")
)
