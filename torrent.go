package torrentkit

import (
	"encoding/json"
	"errors"

	"github.com/anacrolix/torrent/metainfo"

	"torrentkit/internal/engine"
	"torrentkit/internal/metrics"
)

// Torrent is a handle to one torrent inside a session. Handles are cheap
// values; any number may exist for the same torrent and all of them observe
// the same state. A handle outliving its torrent (after Remove) or its
// session (after Close) returns ErrTorrentRemoved or ErrClientClosed.
type Torrent struct {
	c  *Client
	id metainfo.Hash
}

// ID is the torrent's stable identity: the lowercase hex infohash.
func (t *Torrent) ID() string { return t.id.HexString() }

// Name returns the torrent's display name. Before metadata resolves this is
// the hex infohash.
func (t *Torrent) Name() (string, error) {
	if err := t.c.checkOpen(); err != nil {
		return "", err
	}
	name, err := t.c.eng.Name(t.id)
	if err != nil {
		return "", engineErr("name", err)
	}
	return name, nil
}

// Start begins or resumes transfer. The request returns immediately; track
// progress through Stats.
func (t *Torrent) Start() error {
	return t.do("start", t.c.eng.Start)
}

// Stop pauses transfer.
func (t *Torrent) Stop() error {
	return t.do("stop", t.c.eng.Stop)
}

// Verify queues an asynchronous recheck of downloaded data. Stats reports
// recheck progress while it runs.
func (t *Torrent) Verify() error {
	return t.do("verify", t.c.eng.Verify)
}

func (t *Torrent) do(op string, f func(metainfo.Hash) error) error {
	if err := t.c.checkOpen(); err != nil {
		return err
	}
	if err := f(t.id); err != nil {
		return engineErr(op, err)
	}
	return nil
}

// Remove drops the torrent from the session. With withData set, downloaded
// content is deleted from disk as well. Every handle to this torrent is
// invalid afterwards.
func (t *Torrent) Remove(withData bool) error {
	if err := t.c.checkOpen(); err != nil {
		return err
	}
	if err := t.c.eng.Remove(t.id, withData); err != nil {
		return engineErr("remove", err)
	}
	metrics.TorrentsRemovedTotal.Inc()
	return nil
}

// SetRatioLimit caps seeding at the given upload/download ratio. Uploads
// stop once the ratio is reached; 0 removes the cap.
func (t *Torrent) SetRatioLimit(ratio float64) error {
	if err := t.c.checkOpen(); err != nil {
		return err
	}
	if ratio < 0 {
		ratio = 0
	}
	if err := t.c.eng.SetRatioLimit(t.id, ratio); err != nil {
		return engineErr("set ratio limit", err)
	}
	return nil
}

// SetDownloadDir moves the torrent's content to dir and continues transfer
// there. Existing data is moved, not re-downloaded.
func (t *Torrent) SetDownloadDir(dir string) error {
	if err := t.c.checkOpen(); err != nil {
		return err
	}
	if dir == "" {
		return &Error{Op: "set download dir", Kind: IOError, Err: &ConfigError{Field: "dir", Reason: "must not be empty"}}
	}
	if err := t.c.eng.SetDownloadDir(t.id, dir); err != nil {
		if errors.Is(err, engine.ErrClosed) || errors.Is(err, engine.ErrNotFound) {
			return engineErr("set download dir", err)
		}
		return &Error{Op: "set download dir", Kind: IOError, Err: err}
	}
	return nil
}

// SetPriority assigns the same bandwidth priority to every file.
func (t *Torrent) SetPriority(p Priority) error {
	if err := t.c.checkOpen(); err != nil {
		return err
	}
	keys, err := t.c.eng.FileNames(t.id)
	if err != nil {
		return engineErr("set priority", err)
	}
	if len(keys) == 0 {
		return ErrMetadataPending
	}
	all := make([]int, len(keys))
	for i := range all {
		all[i] = i
	}
	if err := t.c.eng.SetFilesPriority(t.id, all, p.engineLevel()); err != nil {
		return engineErr("set priority", err)
	}
	return nil
}

// FileSelector names a file within a torrent. Files are matched by display
// path and exact length; both must agree for a selector to resolve.
type FileSelector struct {
	Name   string
	Length int64
}

// SetFilesDownload marks the selected files as wanted or skipped. Selectors
// that resolve are applied; if any selector matches no file, the returned
// UnresolvedFilesError lists exactly the misses.
func (t *Torrent) SetFilesDownload(selectors []FileSelector, download bool) error {
	if err := t.c.checkOpen(); err != nil {
		return err
	}
	indexes, missed, err := t.resolveSelectors(selectors)
	if err != nil {
		return err
	}
	if err := t.c.eng.SetFilesWanted(t.id, indexes, download); err != nil {
		return engineErr("set files download", err)
	}
	if len(missed) > 0 {
		return &UnresolvedFilesError{Selectors: missed}
	}
	return nil
}

// SetFilesPriorities assigns a priority to the selected files, with the same
// resolution contract as SetFilesDownload.
func (t *Torrent) SetFilesPriorities(selectors []FileSelector, p Priority) error {
	if err := t.c.checkOpen(); err != nil {
		return err
	}
	indexes, missed, err := t.resolveSelectors(selectors)
	if err != nil {
		return err
	}
	if err := t.c.eng.SetFilesPriority(t.id, indexes, p.engineLevel()); err != nil {
		return engineErr("set files priorities", err)
	}
	if len(missed) > 0 {
		return &UnresolvedFilesError{Selectors: missed}
	}
	return nil
}

// resolveSelectors maps name+length selectors onto file indexes. Requires
// metadata. Duplicate file entries with identical name and length resolve to
// the first match. Selectors that match nothing come back in missed.
func (t *Torrent) resolveSelectors(selectors []FileSelector) (indexes []int, missed []FileSelector, err error) {
	keys, err := t.c.eng.FileNames(t.id)
	if err != nil {
		return nil, nil, engineErr("resolve files", err)
	}
	if len(keys) == 0 {
		return nil, nil, ErrMetadataPending
	}

	byKey := make(map[engine.FileKey]int, len(keys))
	for i, k := range keys {
		if _, ok := byKey[k]; !ok {
			byKey[k] = i
		}
	}

	indexes = make([]int, 0, len(selectors))
	for _, s := range selectors {
		if i, ok := byKey[engine.FileKey{Name: s.Name, Length: s.Length}]; ok {
			indexes = append(indexes, i)
		} else {
			missed = append(missed, s)
		}
	}
	return indexes, missed, nil
}

// MarshalJSON renders the handle as its current info and stats snapshots.
func (t *Torrent) MarshalJSON() ([]byte, error) {
	stats, err := t.Stats()
	if err != nil {
		return nil, err
	}
	doc := struct {
		Stats *TorrentStats `json:"stats"`
		Info  *TorrentInfo  `json:"info,omitempty"`
	}{Stats: stats}
	if info, err := t.Info(); err == nil {
		doc.Info = info
	}
	return json.Marshal(doc)
}
