package torrentkit

import (
	"os"
	"time"

	"github.com/anacrolix/torrent/metainfo"

	"torrentkit/internal/engine"
)

// TorrentInfo is an owned snapshot of a torrent's metadata. Slices belong to
// the caller.
type TorrentInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Comment   string    `json:"comment,omitempty"`
	Creator   string    `json:"creator,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
	Private   bool      `json:"private"`

	TotalSize   int64 `json:"totalSize"`
	PieceLength int64 `json:"pieceLength"`
	PieceCount  int   `json:"pieceCount"`

	Files    []TorrentFile  `json:"files"`
	Pieces   []TorrentPiece `json:"pieces,omitempty"`
	Trackers []TrackerInfo  `json:"trackers,omitempty"`
}

// TorrentFile is one file entry with its current selection and progress.
type TorrentFile struct {
	Name           string   `json:"name"`
	Length         int64    `json:"length"`
	BytesCompleted int64    `json:"bytesCompleted"`
	Priority       Priority `json:"priority"`
	Wanted         bool     `json:"wanted"`
}

// Selector returns the selector that resolves back to this file.
func (f TorrentFile) Selector() FileSelector {
	return FileSelector{Name: f.Name, Length: f.Length}
}

// TorrentPiece is one piece's verification state.
type TorrentPiece struct {
	Complete bool `json:"complete"`
	Checking bool `json:"checking"`
}

// TrackerInfo is one announce endpoint and its tier.
type TrackerInfo struct {
	URL  string `json:"url"`
	Tier int    `json:"tier"`
}

// Info snapshots the torrent's metadata. For magnet adds this returns
// ErrMetadataPending until peers deliver the info dictionary.
func (t *Torrent) Info() (*TorrentInfo, error) {
	if err := t.c.checkOpen(); err != nil {
		return nil, err
	}
	data, ready, err := t.c.eng.Info(t.id)
	if err != nil {
		return nil, engineErr("info", err)
	}
	if !ready {
		return nil, ErrMetadataPending
	}
	return infoFromEngine(data), nil
}

func infoFromEngine(d engine.InfoData) *TorrentInfo {
	info := &TorrentInfo{
		ID:          d.ID.HexString(),
		Name:        d.Name,
		Comment:     d.Comment,
		Creator:     d.Creator,
		CreatedAt:   d.CreatedAt,
		Private:     d.Private,
		TotalSize:   d.TotalSize,
		PieceLength: d.PieceLength,
		PieceCount:  d.PieceCount,
		Files:       make([]TorrentFile, len(d.Files)),
	}
	for i, f := range d.Files {
		info.Files[i] = TorrentFile{
			Name:           f.Name,
			Length:         f.Length,
			BytesCompleted: f.BytesCompleted,
			Priority:       priorityFromEngine(f.Priority),
			Wanted:         f.Wanted,
		}
	}
	if len(d.Pieces) > 0 {
		info.Pieces = make([]TorrentPiece, len(d.Pieces))
		for i, p := range d.Pieces {
			info.Pieces[i] = TorrentPiece{Complete: p.Complete, Checking: p.Checking}
		}
	}
	for _, tr := range d.Trackers {
		info.Trackers = append(info.Trackers, TrackerInfo{URL: tr.URL, Tier: tr.Tier})
	}
	return info
}

// ParseTorrentFile reads a .torrent file without adding it to any session.
// Failures carry kind ParseErr (malformed metadata) or IOError (unreadable
// file).
func ParseTorrentFile(path string) (*TorrentInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &Error{Op: "parse torrent file", Kind: IOError, Err: err}
	}
	defer f.Close()
	mi, err := metainfo.Load(f)
	if err != nil {
		return nil, &Error{Op: "parse torrent file", Kind: ParseErr, Err: err}
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return nil, &Error{Op: "parse torrent file", Kind: ParseErr, Err: err}
	}

	out := &TorrentInfo{
		ID:          mi.HashInfoBytes().HexString(),
		Name:        info.BestName(),
		Comment:     mi.Comment,
		Creator:     mi.CreatedBy,
		TotalSize:   info.TotalLength(),
		PieceLength: info.PieceLength,
		PieceCount:  info.NumPieces(),
	}
	if mi.CreationDate != 0 {
		out.CreatedAt = time.Unix(mi.CreationDate, 0).UTC()
	}
	if info.Private != nil {
		out.Private = *info.Private
	}
	for _, f := range info.UpvertedFiles() {
		out.Files = append(out.Files, TorrentFile{
			Name:     f.DisplayPath(&info),
			Length:   f.Length,
			Priority: PriorityNormal,
			Wanted:   true,
		})
	}
	seen := make(map[string]bool)
	for tier, urls := range mi.UpvertedAnnounceList() {
		for _, u := range urls {
			if u == "" || seen[u] {
				continue
			}
			seen[u] = true
			out.Trackers = append(out.Trackers, TrackerInfo{URL: u, Tier: tier})
		}
	}
	return out, nil
}
