package engine

// The native engine reports failures through three independent code domains:
// parse results from torrent construction, error severities on a live
// torrent's stats, and result codes from the metainfo builder. Each domain is
// kept as its own type so the translation layer can map them through one
// table apiece instead of re-deriving meanings at every call site.

// ParseResult is the outcome of feeding a metainfo source to a constructor
// and instantiating a torrent from it.
type ParseResult int

const (
	ParseOK ParseResult = iota
	ParseFailed
	ParseDuplicate
)

func (r ParseResult) String() string {
	switch r {
	case ParseOK:
		return "ok"
	case ParseFailed:
		return "parse error"
	case ParseDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// StatErrType is the error severity carried on a stats snapshot. It is not a
// construction-time failure: it describes the health of a live torrent.
type StatErrType int

const (
	StatOK StatErrType = iota
	StatLocalError
	StatTrackerError
	StatTrackerWarning
)

// BuilderResult is the final result code of a metainfo build.
type BuilderResult int

const (
	MakeMetaOK BuilderResult = iota
	MakeMetaURL
	MakeMetaCancelled
	MakeMetaIORead
	MakeMetaIOWrite
)

// Torrent activity codes, reported on stats snapshots. These mirror the
// engine's queue-aware states even where the wrapper cannot currently
// distinguish the waiting variants.
const (
	ActivityStopped = iota
	ActivityCheckWait
	ActivityCheck
	ActivityDownloadWait
	ActivityDownload
	ActivitySeedWait
	ActivitySeed
)
