package wim

import (
	"log"

	"github.com/Artoria2e5/wimlib-fuse3/internal/resource"
)

// Logger is the minimal logging seam threaded through Wim, satisfied by
// *log.Logger, matching internal/build.Ctx's threaded *log.Logger in the
// teacher.
type Logger interface {
	Printf(format string, v ...interface{})
}

// SortOrder selects how Write orders blobs before packing them into
// resources, per spec.md §4.7 step 2.
type SortOrder int

const (
	// SortSequential orders by each blob's current on-disk offset (or
	// discovery order for new blobs), for read locality. The default.
	SortSequential SortOrder = iota
	// SortSolid orders by blobName's extension, then by blobName. Blobs
	// carry no file name, so blobName is the hex hash and the order is
	// by hash; no file extension or basename takes part.
	SortSolid
	// SortRawCopy preserves whatever order the caller's blob list already
	// has, for the raw-copy fast path.
	SortRawCopy
)

// DefaultSolidResourceSizeCap is the size above which a new solid
// resource is closed off and a new one started, absent an explicit
// WithSolidResourceSizeCap. Per SPEC_FULL.md's resolution of the
// original's unpinned default.
const DefaultSolidResourceSizeCap = 128 << 20

type createConfig struct {
	pipable    bool
	codecKind  resource.CodecKind
	chunkSize  int
	guid       [16]byte
	hasGUID    bool
	logger     Logger
}

// CreateOption configures a new in-memory Wim built by Create.
type CreateOption func(*createConfig)

// WithPipable selects the pipable (WLPWM) layout instead of classic.
func WithPipable() CreateOption { return func(c *createConfig) { c.pipable = true } }

// WithCompression selects the resource compression codec new resources
// are written with (resource.CodecNone disables compression).
func WithCompression(kind resource.CodecKind) CreateOption {
	return func(c *createConfig) { c.codecKind = kind }
}

// WithChunkSize overrides the default chunk size (32768) of uncompressed
// and LZMS resources. XPRESS and LZX resources always use their fixed
// 32768-byte chunks, whatever n is.
func WithChunkSize(n int) CreateOption { return func(c *createConfig) { c.chunkSize = n } }

// WithGUID pins the archive GUID instead of generating a random one.
func WithGUID(g [16]byte) CreateOption {
	return func(c *createConfig) { c.guid = g; c.hasGUID = true }
}

// WithCreateLogger attaches a Logger, defaulting to log.Default().
func WithCreateLogger(l Logger) CreateOption { return func(c *createConfig) { c.logger = l } }

func newCreateConfig(opts []CreateOption) createConfig {
	c := createConfig{codecKind: resource.CodecLZX, chunkSize: ClassicChunkSize, logger: log.Default()}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

type openConfig struct {
	checkIntegrity bool
	readOnly       bool
	logger         Logger
}

// OpenOption configures Open.
type OpenOption func(*openConfig)

// WithCheckIntegrity requests the integrity table (if present) be
// verified during Open, per spec.md §4.7 Open step 5.
func WithCheckIntegrity() OpenOption { return func(c *openConfig) { c.checkIntegrity = true } }

// WithReadOnly opens the Wim without acquiring the advisory write lock,
// rejecting any later mutating call with wimerrors.ErrReadonly.
func WithReadOnly() OpenOption { return func(c *openConfig) { c.readOnly = true } }

// WithOpenLogger attaches a Logger, defaulting to log.Default().
func WithOpenLogger(l Logger) OpenOption { return func(c *openConfig) { c.logger = l } }

func newOpenConfig(opts []OpenOption) openConfig {
	c := openConfig{logger: log.Default()}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

type writeConfig struct {
	integrity            bool
	solid                bool
	solidResourceSizeCap int64
	workers              int
	sortOrder            SortOrder
	fsync                bool
	softDelete           bool
	forceRebuild         bool
	progress             ProgressSink
}

// WriteOption configures Write and Overwrite.
type WriteOption func(*writeConfig)

// WithIntegrity requests an integrity table be built and written.
func WithIntegrity() WriteOption { return func(c *writeConfig) { c.integrity = true } }

// WithSolid packs blobs into solid LZMS resources instead of one resource
// per blob. Each chunk of a solid resource is LZMS-coded on its own; no
// dictionary or coder state is shared across chunks.
func WithSolid() WriteOption { return func(c *writeConfig) { c.solid = true } }

// WithSolidResourceSizeCap overrides DefaultSolidResourceSizeCap.
func WithSolidResourceSizeCap(n int64) WriteOption {
	return func(c *writeConfig) { c.solidResourceSizeCap = n }
}

// WithWorkers sets the parallel chunk compressor's worker count (0 =
// runtime.NumCPU()).
func WithWorkers(n int) WriteOption { return func(c *writeConfig) { c.workers = n } }

// WithSortOrder overrides the default SortSequential blob ordering.
func WithSortOrder(o SortOrder) WriteOption { return func(c *writeConfig) { c.sortOrder = o } }

// WithFsync requests an fsync before the write strategy closes its file.
func WithFsync() WriteOption { return func(c *writeConfig) { c.fsync = true } }

// WithSoftDelete lets Overwrite keep the in-place append strategy even
// after DeleteImage(_, false) has released blobs. It does not change what
// DeleteImage does, and no write reaps blobs later (see DeleteImage).
func WithSoftDelete() WriteOption { return func(c *writeConfig) { c.softDelete = true } }

// WithForceRebuild forces Overwrite to use the temp-file strategy even
// when an in-place append would otherwise be attempted.
func WithForceRebuild() WriteOption { return func(c *writeConfig) { c.forceRebuild = true } }

// WithProgress attaches a ProgressSink.
func WithProgress(p ProgressSink) WriteOption { return func(c *writeConfig) { c.progress = p } }

func newWriteConfig(opts []WriteOption) writeConfig {
	c := writeConfig{solidResourceSizeCap: DefaultSolidResourceSizeCap, progress: noopProgress{}}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
