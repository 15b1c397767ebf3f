package torrentkit

import (
	"time"

	"torrentkit/internal/engine"
)

// TorrentState is a torrent's activity, translated from the engine's
// numeric activity codes into a stable string vocabulary.
type TorrentState string

const (
	StateStopped      TorrentState = "stopped"
	StateCheckWait    TorrentState = "check-wait"
	StateChecking     TorrentState = "checking"
	StateDownloadWait TorrentState = "download-wait"
	StateDownloading  TorrentState = "downloading"
	StateSeedWait     TorrentState = "seed-wait"
	StateSeeding      TorrentState = "seeding"
	StateError        TorrentState = "error"
)

var activityStates = map[int]TorrentState{
	engine.ActivityStopped:      StateStopped,
	engine.ActivityCheckWait:    StateCheckWait,
	engine.ActivityCheck:        StateChecking,
	engine.ActivityDownloadWait: StateDownloadWait,
	engine.ActivityDownload:     StateDownloading,
	engine.ActivitySeedWait:     StateSeedWait,
	engine.ActivitySeed:         StateSeeding,
}

func stateFromActivity(code int) TorrentState {
	if s, ok := activityStates[code]; ok {
		return s
	}
	// Codes this wrapper does not know map to stopped rather than
	// inventing a state.
	return StateStopped
}

// TorrentStats is an owned snapshot of a torrent's transfer state. Percent
// fields are fractions in [0, 1]; rates are bytes per second.
type TorrentStats struct {
	ID    string       `json:"id"`
	Name  string       `json:"name"`
	State TorrentState `json:"state"`

	Error       ErrorKind `json:"error"`
	ErrorString string    `json:"errorString,omitempty"`

	MetadataReady   bool    `json:"metadataReady"`
	TotalSize       int64   `json:"totalSize"`
	SizeWhenDone    int64   `json:"sizeWhenDone"`
	LeftUntilDone   int64   `json:"leftUntilDone"`
	HaveValid       int64   `json:"haveValid"`
	DownloadedEver  int64   `json:"downloadedEver"`
	UploadedEver    int64   `json:"uploadedEver"`
	PercentDone     float64 `json:"percentDone"`
	PercentComplete float64 `json:"percentComplete"`
	RecheckProgress float64 `json:"recheckProgress"`

	DownloadRate   float64 `json:"downloadRate"`
	UploadRate     float64 `json:"uploadRate"`
	Ratio          float64 `json:"ratio"`
	SeedRatioLimit float64 `json:"seedRatioLimit"`
	Finished       bool    `json:"finished"`

	PeersConnected int `json:"peersConnected"`
	PeersTotal     int `json:"peersTotal"`

	PieceCount     int `json:"pieceCount"`
	PiecesComplete int `json:"piecesComplete"`

	AddedAt   time.Time `json:"addedAt"`
	StartedAt time.Time `json:"startedAt,omitzero"`
	DoneAt    time.Time `json:"doneAt,omitzero"`

	// ETA is the estimated remaining transfer time, or a negative value
	// when no estimate is possible.
	ETA time.Duration `json:"eta"`
}

// Stats snapshots the torrent's current transfer state.
func (t *Torrent) Stats() (*TorrentStats, error) {
	if err := t.c.checkOpen(); err != nil {
		return nil, err
	}
	data, err := t.c.eng.Stats(t.id)
	if err != nil {
		return nil, engineErr("stats", err)
	}
	return statsFromEngine(data), nil
}

func statsFromEngine(d engine.StatsData) *TorrentStats {
	s := &TorrentStats{
		ID:              d.ID.HexString(),
		Name:            d.Name,
		State:           stateFromActivity(d.Activity),
		Error:           statErrKind(d.Err),
		ErrorString:     d.ErrMsg,
		MetadataReady:   d.MetadataReady,
		TotalSize:       d.TotalSize,
		SizeWhenDone:    d.SizeWhenDone,
		LeftUntilDone:   d.LeftUntilDone,
		HaveValid:       d.HaveValid,
		DownloadedEver:  d.DownloadedEver,
		UploadedEver:    d.UploadedEver,
		PercentDone:     d.PercentDone,
		PercentComplete: d.PercentComplete,
		RecheckProgress: d.RecheckProgress,
		DownloadRate:    d.DownloadRate,
		UploadRate:      d.UploadRate,
		Ratio:           d.Ratio,
		SeedRatioLimit:  d.RatioLimit,
		Finished:        d.Finished,
		PeersConnected:  d.PeersConnected,
		PeersTotal:      d.PeersTotal,
		PieceCount:      d.PieceCount,
		PiecesComplete:  d.PiecesComplete,
		AddedAt:         d.AddedAt,
		StartedAt:       d.StartedAt,
		DoneAt:          d.DoneAt,
		ETA:             -1,
	}
	// A local or tracker failure overrides the activity-derived state;
	// warnings are informational and leave it alone.
	if d.Err == engine.StatLocalError || d.Err == engine.StatTrackerError {
		s.State = StateError
	}
	if s.State == StateDownloading && d.DownloadRate > 0 && d.LeftUntilDone > 0 {
		s.ETA = time.Duration(float64(d.LeftUntilDone)/d.DownloadRate) * time.Second
	}
	return s
}
