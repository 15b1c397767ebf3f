package torrentkit

import (
	"errors"

	"torrentkit/internal/rpc"
)

// rpcController adapts the Client to the control surface. It translates
// public handle errors into the transport package's sentinel vocabulary and
// keeps DTO construction in one place.
type rpcController struct {
	c *Client
}

func (rc *rpcController) ListTorrents() []rpc.TorrentSummary {
	return rc.c.torrentSummaries()
}

func (rc *rpcController) Torrent(id string) (any, error) {
	t, err := rc.handle(id)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (rc *rpcController) AddMagnet(uri string) (rpc.TorrentSummary, error) {
	t, err := rc.c.AddTorrentMagnet(uri)
	if err != nil {
		return rpc.TorrentSummary{}, rpcErr(err)
	}
	stats, err := t.Stats()
	if err != nil {
		return rpc.TorrentSummary{}, rpcErr(err)
	}
	return summaryFromStats(stats), nil
}

func (rc *rpcController) Start(id string) error  { return rc.op(id, (*Torrent).Start) }
func (rc *rpcController) Stop(id string) error   { return rc.op(id, (*Torrent).Stop) }
func (rc *rpcController) Verify(id string) error { return rc.op(id, (*Torrent).Verify) }

func (rc *rpcController) Remove(id string, withData bool) error {
	t, err := rc.handle(id)
	if err != nil {
		return err
	}
	return rpcErr(t.Remove(withData))
}

func (rc *rpcController) op(id string, f func(*Torrent) error) error {
	t, err := rc.handle(id)
	if err != nil {
		return err
	}
	return rpcErr(f(t))
}

func (rc *rpcController) handle(id string) (*Torrent, error) {
	t, err := rc.c.Torrent(id)
	if err != nil {
		return nil, rpcErr(err)
	}
	return t, nil
}

func rpcErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTorrentRemoved):
		return rpc.ErrNotFound
	default:
		var e *Error
		if errors.As(err, &e) && e.Kind == ParseDuplicate {
			return rpc.ErrConflict
		}
		return err
	}
}

func (c *Client) torrentSummaries() []rpc.TorrentSummary {
	if c.Closed() {
		return nil
	}
	all := c.eng.AllStats()
	out := make([]rpc.TorrentSummary, 0, len(all))
	for _, d := range all {
		out = append(out, summaryFromStats(statsFromEngine(d)))
	}
	return out
}

func summaryFromStats(s *TorrentStats) rpc.TorrentSummary {
	return rpc.TorrentSummary{
		ID:             s.ID,
		Name:           s.Name,
		State:          string(s.State),
		PercentDone:    s.PercentDone,
		DownloadRate:   s.DownloadRate,
		UploadRate:     s.UploadRate,
		Ratio:          s.Ratio,
		PeersConnected: s.PeersConnected,
	}
}
