package engine

import (
	"time"

	"github.com/anacrolix/torrent/metainfo"
)

// speedSample remembers the last observed byte counters for rate derivation.
type speedSample struct {
	at       time.Time
	download int64
	upload   int64
}

// sampleSpeed derives instantaneous rates from the delta between the current
// byte counters and the previous observation. Counters can regress when the
// native client reconnects peers, so negative deltas clamp to zero. The first
// observation for a torrent yields zero rates.
func (e *Engine) sampleSpeed(id metainfo.Hash, download, upload int64) (downRate, upRate float64) {
	now := time.Now()

	e.speedMu.Lock()
	defer e.speedMu.Unlock()

	prev, ok := e.speeds[id]
	e.speeds[id] = speedSample{at: now, download: download, upload: upload}
	if !ok {
		return 0, 0
	}
	dt := now.Sub(prev.at).Seconds()
	if dt <= 0 {
		return 0, 0
	}
	dd := download - prev.download
	du := upload - prev.upload
	if dd < 0 {
		dd = 0
	}
	if du < 0 {
		du = 0
	}
	return float64(dd) / dt, float64(du) / dt
}

func (e *Engine) forgetSpeed(id metainfo.Hash) {
	e.speedMu.Lock()
	delete(e.speeds, id)
	e.speedMu.Unlock()
}
