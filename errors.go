package torrentkit

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"torrentkit/internal/engine"
)

// ErrorKind classifies failures reported by the engine into a stable public
// vocabulary. Engine-native codes from the three error domains (parse, stat,
// metadata build) all collapse into this one enum.
type ErrorKind int

const (
	// NoError means the operation succeeded.
	NoError ErrorKind = iota
	// Unknown covers failures the engine reported without a classified code.
	Unknown
	// IOError is a local read or write failure.
	IOError
	// ParseErr means torrent metadata could not be parsed.
	ParseErr
	// ParseDuplicate means the torrent is already present in the session.
	ParseDuplicate
	// StatLocal is a local problem reported through torrent stats.
	StatLocal
	// StatTracker is a tracker-reported error.
	StatTracker
	// StatTrackerWarn is a tracker-reported warning.
	StatTrackerWarn
	// MakeMetaURL means a tracker URL handed to the builder was invalid.
	MakeMetaURL
	// MakeMetaCancelled means a metadata build was cancelled mid-flight.
	MakeMetaCancelled
)

var errorKindNames = map[ErrorKind]string{
	NoError:           "no error",
	Unknown:           "unknown error",
	IOError:           "IO error",
	ParseErr:          "parse error",
	ParseDuplicate:    "duplicate torrent",
	StatLocal:         "local error",
	StatTracker:       "tracker error",
	StatTrackerWarn:   "tracker warning",
	MakeMetaURL:       "invalid tracker URL",
	MakeMetaCancelled: "metadata build cancelled",
}

func (k ErrorKind) String() string {
	if s, ok := errorKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("error kind %d", int(k))
}

func (k ErrorKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// Error is the error type returned by session and torrent operations. Kind is
// always set; Err carries the underlying cause when one exists.
type Error struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match on bare kinds via KindError values.
func (e *Error) Is(target error) bool {
	var ke *Error
	if errors.As(target, &ke) {
		return ke.Kind == e.Kind && (ke.Op == "" || ke.Op == e.Op)
	}
	return false
}

// kindErr builds the operation error for a kind, or nil for NoError. This is
// the single choke point turning classified codes into caller-visible errors.
func kindErr(op string, kind ErrorKind, cause error) error {
	if kind == NoError {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: cause}
}

var (
	// ErrClientClosed is returned by operations on a closed session.
	ErrClientClosed = errors.New("torrentkit: client is closed")
	// ErrTorrentRemoved is returned by handle operations after removal.
	ErrTorrentRemoved = errors.New("torrentkit: torrent was removed from the session")
	// ErrMetadataPending is returned when an operation needs torrent
	// metadata that has not resolved yet.
	ErrMetadataPending = errors.New("torrentkit: torrent metadata not available yet")
)

// ConfigError reports an invalid or incomplete session configuration,
// naming the offending field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("torrentkit: invalid config: %s: %s", e.Field, e.Reason)
}

// UnresolvedFilesError reports file selectors that matched nothing in the
// torrent. Selectors that did resolve are still applied; the error exists so
// misses never pass silently.
type UnresolvedFilesError struct {
	Selectors []FileSelector
}

func (e *UnresolvedFilesError) Error() string {
	names := make([]string, len(e.Selectors))
	for i, s := range e.Selectors {
		names[i] = fmt.Sprintf("%s (%d bytes)", s.Name, s.Length)
	}
	return "torrentkit: no matching files for selectors: " + strings.Join(names, ", ")
}

// ---------------------------------------------------------------------------
// Native code translation
// ---------------------------------------------------------------------------

func parseResultKind(res engine.ParseResult) ErrorKind {
	switch res {
	case engine.ParseOK:
		return NoError
	case engine.ParseDuplicate:
		return ParseDuplicate
	case engine.ParseFailed:
		return ParseErr
	default:
		return Unknown
	}
}

func statErrKind(code engine.StatErrType) ErrorKind {
	switch code {
	case engine.StatOK:
		return NoError
	case engine.StatLocalError:
		return StatLocal
	case engine.StatTrackerError:
		return StatTracker
	case engine.StatTrackerWarning:
		return StatTrackerWarn
	default:
		return Unknown
	}
}

func builderResultKind(res engine.BuilderResult) ErrorKind {
	switch res {
	case engine.MakeMetaOK:
		return NoError
	case engine.MakeMetaURL:
		return MakeMetaURL
	case engine.MakeMetaCancelled:
		return MakeMetaCancelled
	case engine.MakeMetaIORead, engine.MakeMetaIOWrite:
		return IOError
	default:
		return Unknown
	}
}

// engineErr normalizes raw engine errors into the public error surface.
func engineErr(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, engine.ErrClosed):
		return ErrClientClosed
	case errors.Is(err, engine.ErrNotFound):
		return ErrTorrentRemoved
	default:
		return &Error{Op: op, Kind: Unknown, Err: err}
	}
}
