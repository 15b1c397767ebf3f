package engine

import (
	"sync/atomic"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
)

// liveCtors counts constructors that have been created but not yet released.
// Every exit path out of an add operation must bring this back down; the
// counter exists so tests can prove no path leaks a constructor.
var liveCtors atomic.Int64

// LiveCtors reports the number of unreleased constructors.
func LiveCtors() int64 { return liveCtors.Load() }

// ctor accumulates exactly one metainfo source before a single instantiation
// call turns it into a live torrent. It is scoped to one add operation and
// must be released on every exit path, success or failure.
type ctor struct {
	spec     *torrent.TorrentSpec
	released bool
}

func newCtor() *ctor {
	liveCtors.Add(1)
	return &ctor{}
}

func (c *ctor) release() {
	if c.released {
		return
	}
	c.released = true
	c.spec = nil
	liveCtors.Add(-1)
}

// setMetainfoFromFile loads and validates a .torrent file. Returns ParseFailed
// if the file cannot be read or its info dictionary does not decode.
func (c *ctor) setMetainfoFromFile(path string) (ParseResult, error) {
	if c.spec != nil {
		return ParseFailed, errSourceAlreadySet
	}
	mi, err := metainfo.LoadFromFile(path)
	if err != nil {
		return ParseFailed, err
	}
	if _, err := mi.UnmarshalInfo(); err != nil {
		return ParseFailed, err
	}
	spec, err := torrent.TorrentSpecFromMetaInfoErr(mi)
	if err != nil {
		return ParseFailed, err
	}
	c.spec = spec
	return ParseOK, nil
}

// setMetainfoFromMagnet parses a magnet URI into a spec. Metadata resolution
// happens later, inside the engine, once the torrent is live.
func (c *ctor) setMetainfoFromMagnet(uri string) (ParseResult, error) {
	if c.spec != nil {
		return ParseFailed, errSourceAlreadySet
	}
	spec, err := torrent.TorrentSpecFromMagnetUri(uri)
	if err != nil {
		return ParseFailed, err
	}
	c.spec = spec
	return ParseOK, nil
}
