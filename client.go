// Package torrentkit is a typed, session-oriented wrapper around an embedded
// BitTorrent engine. A Client owns one engine session; Torrent values are
// lightweight handles into it. All data returned to callers is copied out of
// the engine, never aliased.
package torrentkit

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/anacrolix/torrent/metainfo"

	"torrentkit/internal/engine"
	"torrentkit/internal/metrics"
	"torrentkit/internal/rpc"
	"torrentkit/internal/telemetry"
)

// Client is a live engine session. Create one with New and release it with
// Close. A Client is safe for concurrent use.
type Client struct {
	mu     sync.RWMutex
	eng    *engine.Engine
	closed bool

	appName     string
	configDir   string
	downloadDir string
	logger      *slog.Logger

	rpcSrv   *rpc.Server
	stopFeed chan struct{}
	feedDone chan struct{}

	telemetryShutdown func(context.Context) error
}

// New validates the config and brings up the session. The config dir is
// claimed for the session's lifetime; a second New against the same dir
// fails until the first session closes.
func New(cfg *ClientConfig) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := claimConfigDir(cfg.configDir); err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slogLevel(cfg.logLevel),
	})).With(slog.String("app", cfg.appName))

	eng, err := engine.New(engine.Config{
		DataDir:           cfg.downloadDir,
		UseUTP:            cfg.useUTP,
		UseDHT:            cfg.useDHT,
		PeerPort:          cfg.peerPort,
		LogLevel:          cfg.logLevel,
		DownloadRateLimit: cfg.downloadRateLimit,
		UploadRateLimit:   cfg.uploadRateLimit,
		Logger:            logger,
	})
	if err != nil {
		releaseConfigDir(cfg.configDir)
		return nil, &Error{Op: "new client", Kind: Unknown, Err: err}
	}

	c := &Client{
		eng:         eng,
		appName:     cfg.appName,
		configDir:   cfg.configDir,
		downloadDir: cfg.downloadDir,
		logger:      logger,
	}

	if cfg.rpcEnabled {
		shutdown, terr := telemetry.Init(context.Background(), cfg.appName)
		if terr != nil {
			logger.Warn("telemetry init failed", slog.String("error", terr.Error()))
		} else {
			c.telemetryShutdown = shutdown
		}
		srv := rpc.NewServer(rpc.Config{
			ServiceName: cfg.appName,
			BasePath:    cfg.rpcURL,
			Port:        cfg.rpcPort,
			Logger:      logger,
		}, &rpcController{c: c})
		if err := srv.Start(); err != nil {
			_ = eng.Close()
			releaseConfigDir(cfg.configDir)
			return nil, &Error{Op: "new client", Kind: Unknown, Err: err}
		}
		c.rpcSrv = srv
		c.stopFeed = make(chan struct{})
		c.feedDone = make(chan struct{})
		go c.feedLoop()
	}

	// A session dropped without Close leaks the native engine. The finalizer
	// reclaims it and logs loudly so the bug gets fixed.
	runtime.SetFinalizer(c, func(leaked *Client) {
		if !leaked.Closed() {
			leaked.logger.Error("session leaked without Close; releasing engine from finalizer")
			_ = leaked.Close()
		}
	})

	logger.Info("session started",
		slog.String("configDir", cfg.configDir),
		slog.String("downloadDir", cfg.downloadDir),
		slog.Bool("rpc", cfg.rpcEnabled),
	)
	return c, nil
}

func slogLevel(level int) slog.Level {
	switch {
	case level <= 0:
		return slog.LevelError
	case level == 1:
		return slog.LevelWarn
	case level == 2:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// Close shuts the session down and releases the native engine. Closing an
// already-closed client is a no-op. Outstanding Torrent handles become
// invalid; their operations return ErrClientClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	runtime.SetFinalizer(c, nil)

	if c.rpcSrv != nil {
		close(c.stopFeed)
		<-c.feedDone
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.rpcSrv.Shutdown(ctx); err != nil {
			c.logger.Warn("rpc shutdown", slog.String("error", err.Error()))
		}
		if c.telemetryShutdown != nil {
			if err := c.telemetryShutdown(ctx); err != nil {
				c.logger.Warn("telemetry shutdown", slog.String("error", err.Error()))
			}
		}
		cancel()
	}

	err := c.eng.Close()
	releaseConfigDir(c.configDir)
	c.logger.Info("session closed")
	if err != nil {
		return &Error{Op: "close", Kind: Unknown, Err: err}
	}
	return nil
}

// Closed reports whether Close has been called.
func (c *Client) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Client) checkOpen() error {
	if c.Closed() {
		return ErrClientClosed
	}
	return nil
}

// AddTorrentFile adds a torrent from a .torrent file on disk. Re-adding a
// torrent the session already tracks fails with kind ParseDuplicate and the
// original handle stays valid.
func (c *Client) AddTorrentFile(path string) (*Torrent, error) {
	return c.addTorrent("add torrent file", func() (metainfo.Hash, engine.ParseResult, error) {
		return c.eng.AddFromFile(path)
	})
}

// AddTorrentMagnet adds a torrent from a magnet link. Metadata resolves in
// the background; Info returns ErrMetadataPending until it does.
func (c *Client) AddTorrentMagnet(uri string) (*Torrent, error) {
	return c.addTorrent("add magnet", func() (metainfo.Hash, engine.ParseResult, error) {
		return c.eng.AddFromMagnet(uri)
	})
}

func (c *Client) addTorrent(op string, add func() (metainfo.Hash, engine.ParseResult, error)) (*Torrent, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	id, res, err := add()
	if errors.Is(err, engine.ErrClosed) {
		return nil, ErrClientClosed
	}
	if kind := parseResultKind(res); kind != NoError {
		label := "parse_error"
		if kind == ParseDuplicate {
			label = "duplicate"
		}
		metrics.TorrentsAddedTotal.WithLabelValues(label).Inc()
		return nil, kindErr(op, kind, err)
	}
	if err != nil {
		metrics.TorrentsAddedTotal.WithLabelValues("error").Inc()
		return nil, engineErr(op, err)
	}
	metrics.TorrentsAddedTotal.WithLabelValues("ok").Inc()
	return &Torrent{c: c, id: id}, nil
}

// Torrent looks up a handle by its hex infohash id. Returns
// ErrTorrentRemoved when the session does not track the id.
func (c *Client) Torrent(id string) (*Torrent, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	var h metainfo.Hash
	if err := h.FromHexString(id); err != nil {
		return nil, ErrTorrentRemoved
	}
	if !c.eng.Has(h) {
		return nil, ErrTorrentRemoved
	}
	return &Torrent{c: c, id: h}, nil
}

// Torrents returns handles for every torrent in the session, ordered by id.
func (c *Client) Torrents() ([]*Torrent, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	ids := c.eng.Torrents()
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].HexString() < ids[j].HexString()
	})
	out := make([]*Torrent, len(ids))
	for i, id := range ids {
		out[i] = &Torrent{c: c, id: id}
	}
	return out, nil
}

// feedLoop pushes periodic stats snapshots to RPC subscribers.
func (c *Client) feedLoop() {
	defer close(c.feedDone)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopFeed:
			return
		case <-ticker.C:
			summaries := c.torrentSummaries()
			var down, up float64
			peers := 0
			for _, s := range summaries {
				down += s.DownloadRate
				up += s.UploadRate
				peers += s.PeersConnected
			}
			metrics.ActiveTorrents.Set(float64(len(summaries)))
			metrics.DownloadSpeedBytes.Set(down)
			metrics.UploadSpeedBytes.Set(up)
			metrics.PeersConnected.Set(float64(peers))
			// Always push, even an empty list: subscribers must see the
			// last torrent go away.
			c.rpcSrv.Broadcast(summaries)
		}
	}
}
