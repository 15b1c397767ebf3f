package engine

import (
	"log/slog"
	"time"

	"github.com/anacrolix/torrent/metainfo"
)

// StatsData is a point-in-time snapshot of one torrent's transfer state,
// copied out under the engine guard. It carries native codes; translation to
// the public vocabulary happens in the session layer.
type StatsData struct {
	ID   metainfo.Hash
	Name string

	Activity int
	Err      StatErrType
	ErrMsg   string

	MetadataReady   bool
	TotalSize       int64
	SizeWhenDone    int64
	LeftUntilDone   int64
	HaveValid       int64
	DownloadedEver  int64
	UploadedEver    int64
	PercentDone     float64 // of wanted data, 0..1
	PercentComplete float64 // of the whole torrent, 0..1
	RecheckProgress float64 // 0..1, only meaningful while checking

	DownloadRate float64 // bytes/sec
	UploadRate   float64 // bytes/sec
	Ratio        float64
	RatioLimit   float64 // 0 = no limit
	Finished     bool

	PeersConnected int
	PeersTotal     int

	PieceCount     int
	PiecesComplete int

	AddedAt   time.Time
	StartedAt time.Time
	DoneAt    time.Time
}

// Stats snapshots one torrent. The call also drives the wrapper's own
// housekeeping: the ratio-limit check runs here because the native engine
// does not enforce per-torrent seed ratios itself.
func (e *Engine) Stats(id metainfo.Hash) (StatsData, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, err := e.lookup(id)
	if err != nil {
		return StatsData{}, err
	}

	t := ent.t
	st := t.Stats()
	downloaded := st.ConnStats.BytesReadUsefulData.Int64()
	uploaded := st.ConnStats.BytesWrittenData.Int64()
	downRate, upRate := e.sampleSpeed(id, downloaded, uploaded)

	data := StatsData{
		ID:             id,
		Name:           t.Name(),
		Err:            ent.statErr,
		ErrMsg:         ent.statErrMsg,
		DownloadedEver: downloaded,
		UploadedEver:   uploaded,
		DownloadRate:   downRate,
		UploadRate:     upRate,
		PeersConnected: st.ActivePeers,
		PeersTotal:     st.TotalPeers,
		RatioLimit:     ent.ratioLimit,
		AddedAt:        ent.addedAt,
		StartedAt:      ent.startedAt,
		DoneAt:         ent.doneAt,
	}
	if downloaded > 0 {
		data.Ratio = float64(uploaded) / float64(downloaded)
	}

	if infoReady(t) {
		data.MetadataReady = true
		data.TotalSize = t.Length()
		data.HaveValid = t.BytesCompleted()
		data.PieceCount = t.NumPieces()
		data.PiecesComplete = e.completedPieces(ent)

		wanted := e.wantedBytes(ent)
		data.SizeWhenDone = wanted
		have := data.HaveValid
		if have > wanted {
			have = wanted
		}
		data.LeftUntilDone = wanted - have
		if wanted > 0 {
			data.PercentDone = float64(have) / float64(wanted)
		}
		if data.TotalSize > 0 {
			data.PercentComplete = float64(data.HaveValid) / float64(data.TotalSize)
		}
		if ent.verifying && data.PieceCount > 0 {
			data.RecheckProgress = float64(data.PiecesComplete) / float64(data.PieceCount)
		}
		data.Finished = data.LeftUntilDone == 0 && data.SizeWhenDone > 0
		if data.Finished && ent.doneAt.IsZero() && !ent.startedAt.IsZero() {
			ent.doneAt = time.Now().UTC()
			data.DoneAt = ent.doneAt
		}
	}

	e.enforceRatioLimit(ent, data.Ratio)
	data.Activity = e.activityCode(ent, data)
	return data, nil
}

// AllStats snapshots every tracked torrent.
func (e *Engine) AllStats() []StatsData {
	ids := e.Torrents()
	out := make([]StatsData, 0, len(ids))
	for _, id := range ids {
		if data, err := e.Stats(id); err == nil {
			out = append(out, data)
		}
	}
	return out
}

// completedPieces counts pieces whose full verification state is complete.
// Caller holds the lock and metadata is ready.
func (e *Engine) completedPieces(ent *entry) int {
	n := ent.t.NumPieces()
	complete := 0
	for i := 0; i < n; i++ {
		if ent.t.PieceState(i).Complete {
			complete++
		}
	}
	return complete
}

// wantedBytes sums the lengths of files currently selected for download.
// With no recorded selection everything is wanted.
func (e *Engine) wantedBytes(ent *entry) int64 {
	files := ent.t.Files()
	if len(ent.fileWanted) != len(files) {
		return ent.t.Length()
	}
	var total int64
	for i, f := range files {
		if ent.fileWanted[i] {
			total += f.Length()
		}
	}
	return total
}

// enforceRatioLimit turns uploads off once the configured ratio is reached.
// Caller holds the write lock.
func (e *Engine) enforceRatioLimit(ent *entry, ratio float64) {
	if ent.ratioLimit <= 0 || ent.uploadOff || ent.stopped {
		return
	}
	if ratio >= ent.ratioLimit {
		ent.uploadOff = true
		ent.t.DisallowDataUpload()
		e.logger.Info("seed ratio limit reached",
			slog.String("torrentId", ent.t.InfoHash().HexString()),
			slog.Float64("ratio", ratio),
		)
	}
}

// activityCode derives the native activity code from the entry's lifecycle
// flags and the snapshot. Caller holds the lock.
func (e *Engine) activityCode(ent *entry, data StatsData) int {
	switch {
	case ent.stopped:
		return ActivityStopped
	case ent.verifying:
		return ActivityCheck
	case !data.MetadataReady:
		return ActivityDownloadWait
	case data.LeftUntilDone > 0:
		return ActivityDownload
	case ent.uploadOff:
		return ActivityStopped
	default:
		return ActivitySeed
	}
}
