package engine

import (
	"time"

	"github.com/anacrolix/torrent/metainfo"
)

// InfoData is a deep copy of one torrent's metadata plus per-file progress,
// taken under the engine guard. Nothing in it aliases native state.
type InfoData struct {
	ID        metainfo.Hash
	Name      string
	Comment   string
	Creator   string
	CreatedAt time.Time
	Private   bool

	TotalSize   int64
	PieceLength int64
	PieceCount  int

	Files    []FileData
	Pieces   []PieceData
	Trackers []TrackerData
}

// FileData describes one file entry with its current download state.
type FileData struct {
	Name           string
	Length         int64
	BytesCompleted int64
	Priority       int8
	Wanted         bool
}

// PieceData is one piece's verification state.
type PieceData struct {
	Complete bool
	Checking bool
}

// TrackerData is one announce endpoint with its tier.
type TrackerData struct {
	URL  string
	Tier int
}

// Info snapshots a torrent's metadata. Returns ok=false while metadata is
// still being fetched (magnet adds before peers deliver the info dict).
func (e *Engine) Info(id metainfo.Hash) (InfoData, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ent, err := e.lookup(id)
	if err != nil {
		return InfoData{}, false, err
	}
	if !infoReady(ent.t) {
		return InfoData{}, false, nil
	}

	t := ent.t
	info := t.Info()
	mi := t.Metainfo()

	data := InfoData{
		ID:          id,
		Name:        info.BestName(),
		Comment:     mi.Comment,
		Creator:     mi.CreatedBy,
		TotalSize:   t.Length(),
		PieceLength: info.PieceLength,
		PieceCount:  t.NumPieces(),
	}
	if mi.CreationDate != 0 {
		data.CreatedAt = time.Unix(mi.CreationDate, 0).UTC()
	}
	if info.Private != nil {
		data.Private = *info.Private
	}

	files := t.Files()
	data.Files = make([]FileData, len(files))
	selected := len(ent.fileWanted) == len(files)
	for i, f := range files {
		fd := FileData{
			Name:           f.DisplayPath(),
			Length:         f.Length(),
			BytesCompleted: f.BytesCompleted(),
			Priority:       PrioNormal,
			Wanted:         true,
		}
		if selected {
			fd.Priority = ent.filePrio[i]
			fd.Wanted = ent.fileWanted[i]
		}
		data.Files[i] = fd
	}

	data.Pieces = make([]PieceData, data.PieceCount)
	for i := 0; i < data.PieceCount; i++ {
		ps := t.PieceState(i)
		data.Pieces[i] = PieceData{Complete: ps.Complete, Checking: ps.Checking}
	}

	seen := make(map[string]bool)
	for tier, urls := range mi.UpvertedAnnounceList() {
		for _, u := range urls {
			if u == "" || seen[u] {
				continue
			}
			seen[u] = true
			data.Trackers = append(data.Trackers, TrackerData{URL: u, Tier: tier})
		}
	}
	return data, true, nil
}
