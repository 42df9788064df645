package wim

import (
	"io"

	"github.com/Artoria2e5/wimlib-fuse3/internal/metadata"
)

// ProgressSink is the progress-callback seam, with a status return for
// cancellation. Nothing in this package calls Progress: WithProgress
// stores a sink that Write and Overwrite never invoke, and Verify takes
// none, so no operation reports progress or is cancelled through it.
type ProgressSink interface {
	Progress(stage string, done, total int) (status int)
}

// noopProgress is used whenever a caller does not supply a ProgressSink.
type noopProgress struct{}

func (noopProgress) Progress(string, int, int) int { return 0 }

// FilesystemScanner discovers files to capture into a new image. This
// core package only consumes the interface; walking a real filesystem,
// NTFS-direct capture, and reparse point handling are out of scope here
// (spec.md's Non-goals) and live in a caller-supplied implementation.
type FilesystemScanner interface {
	Scan(root string) (*metadata.Tree, error)
}

// Extractor applies an image's metadata.Tree back onto a real filesystem.
// Like FilesystemScanner, this is a narrow seam: extraction policy
// (permissions, reparse points, ACL translation) is explicitly out of
// scope for the core archive engine.
type Extractor interface {
	Extract(tree *metadata.Tree, destRoot string) error
}

// XMLCodec encodes/decodes the WIM XML info blob. The core engine treats
// the XML data resource as opaque bytes (spec.md §6); PassthroughXMLCodec
// is the only implementation this package provides.
type XMLCodec interface {
	Encode(w io.Writer, raw []byte) error
	Decode(r io.Reader) ([]byte, error)
}

// PassthroughXMLCodec treats the WIM XML blob as opaque UTF-16LE bytes,
// neither parsing nor generating XML structure.
type PassthroughXMLCodec struct{}

func (PassthroughXMLCodec) Encode(w io.Writer, raw []byte) error {
	_, err := w.Write(raw)
	return err
}

func (PassthroughXMLCodec) Decode(r io.Reader) ([]byte, error) {
	return io.ReadAll(r)
}
