package engine

import (
	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
)

// File priority levels shared with the session layer. Zero is normal so the
// lazily-initialized slices default to it.
const (
	PrioLow    int8 = -1
	PrioNormal int8 = 0
	PrioHigh   int8 = 1
)

// ensureFileState sizes the per-file bookkeeping once metadata is available.
// Caller holds the write lock.
func (e *Engine) ensureFileState(ent *entry) {
	if !infoReady(ent.t) {
		return
	}
	n := len(ent.t.Files())
	if len(ent.fileWanted) == n {
		return
	}
	ent.fileWanted = make([]bool, n)
	for i := range ent.fileWanted {
		ent.fileWanted[i] = true
	}
	ent.filePrio = make([]int8, n)
}

// applyFileState pushes the recorded per-file selection down to the native
// handles. Unwanted files get piece priority none; wanted files get their
// recorded priority. Caller holds the write lock and metadata is ready.
func (e *Engine) applyFileState(ent *entry) {
	files := ent.t.Files()
	if len(ent.fileWanted) != len(files) {
		return
	}
	for i, f := range files {
		if !ent.fileWanted[i] {
			f.SetPriority(torrent.PiecePriorityNone)
			continue
		}
		f.SetPriority(nativePiecePriority(ent.filePrio[i]))
	}
}

func nativePiecePriority(p int8) torrent.PiecePriority {
	switch {
	case p < 0:
		// The native scheduler has no "low" band below normal; low keeps
		// normal scheduling and just never gets boosted.
		return torrent.PiecePriorityNormal
	case p > 0:
		return torrent.PiecePriorityHigh
	default:
		return torrent.PiecePriorityNormal
	}
}

// SetFilesWanted marks the given file indexes as downloaded or skipped.
// Requires metadata; indexes out of range are ignored by the caller's
// resolution step, so here they are a programming error and skipped.
func (e *Engine) SetFilesWanted(id metainfo.Hash, indexes []int, wanted bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, err := e.lookup(id)
	if err != nil {
		return err
	}
	e.ensureFileState(ent)
	if len(ent.fileWanted) == 0 {
		return nil
	}
	for _, i := range indexes {
		if i < 0 || i >= len(ent.fileWanted) {
			continue
		}
		ent.fileWanted[i] = wanted
	}
	if !ent.stopped {
		e.applyFileState(ent)
	}
	return nil
}

// SetFilesPriority assigns a scheduling priority to the given file indexes.
func (e *Engine) SetFilesPriority(id metainfo.Hash, indexes []int, prio int8) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, err := e.lookup(id)
	if err != nil {
		return err
	}
	e.ensureFileState(ent)
	if len(ent.filePrio) == 0 {
		return nil
	}
	for _, i := range indexes {
		if i < 0 || i >= len(ent.filePrio) {
			continue
		}
		ent.filePrio[i] = prio
	}
	if !ent.stopped {
		e.applyFileState(ent)
	}
	return nil
}

// FileNames returns each file's path and length in torrent order, for
// selector resolution in the session layer. Empty until metadata resolves.
func (e *Engine) FileNames(id metainfo.Hash) ([]FileKey, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ent, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	if !infoReady(ent.t) {
		return nil, nil
	}
	files := ent.t.Files()
	keys := make([]FileKey, len(files))
	for i, f := range files {
		keys[i] = FileKey{Name: f.DisplayPath(), Length: f.Length()}
	}
	return keys, nil
}

// FileKey identifies a file within a torrent by display path and length.
type FileKey struct {
	Name   string
	Length int64
}
