// Package engine owns the embedded torrent engine's handles. The native
// client pointer and every torrent handle stay inside this package; callers
// work with infohash identities and owned value snapshots. All access to the
// native objects goes through the engine's guard so the wrapper, not the
// caller, decides what may run concurrently.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	alog "github.com/anacrolix/log"
	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"
	"golang.org/x/time/rate"
)

var (
	ErrClosed           = errors.New("engine: session is closed")
	ErrNotFound         = errors.New("engine: torrent not found")
	errSourceAlreadySet = errors.New("engine: constructor already has a metainfo source")
)

// minRateBurst keeps the token bucket large enough for a full request chunk
// even under very low configured limits.
const minRateBurst = 256 << 10

// Config carries the subset of session settings the native engine consumes.
type Config struct {
	DataDir           string
	UseUTP            bool
	UseDHT            bool
	PeerPort          int
	LogLevel          int   // 0 none .. 4 everything
	DownloadRateLimit int64 // bytes/sec, 0 = unlimited
	UploadRateLimit   int64 // bytes/sec, 0 = unlimited
	Logger            *slog.Logger
}

// entry is the engine-side bookkeeping for one live torrent.
type entry struct {
	t       *torrent.Torrent
	store   storage.ClientImplCloser
	dataDir string

	addedAt    time.Time
	startedAt  time.Time
	doneAt     time.Time
	activityAt time.Time

	stopped    bool
	verifying  bool
	ratioLimit float64 // 0 = no limit
	uploadOff  bool    // set once the ratio limit tripped

	statErr    StatErrType
	statErrMsg string

	// File selection bookkeeping, indexed like the torrent's file list.
	// Populated lazily once metadata is available.
	filePrio   []int8
	fileWanted []bool
}

// Engine wraps one exclusively-owned native torrent client. At most one
// Engine exists per native client, and the client is released exactly once.
type Engine struct {
	mu      sync.RWMutex
	client  *torrent.Client
	closed  bool
	dataDir string
	entries map[metainfo.Hash]*entry
	logger  *slog.Logger

	speedMu sync.Mutex
	speeds  map[metainfo.Hash]speedSample
}

// New runs the native two-step bring-up: build the settings object from the
// session config, then initialize the client from it. Called exactly once per
// session.
func New(cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cc := torrent.NewDefaultClientConfig()
	cc.DataDir = cfg.DataDir
	cc.DisableUTP = !cfg.UseUTP
	cc.NoDHT = !cfg.UseDHT
	cc.ListenPort = cfg.PeerPort
	cc.Seed = true
	cc.Logger = alog.Default.FilterLevel(nativeLogLevel(cfg.LogLevel))
	if cfg.DownloadRateLimit > 0 {
		cc.DownloadRateLimiter = rate.NewLimiter(rate.Limit(cfg.DownloadRateLimit), rateBurst(cfg.DownloadRateLimit))
	}
	if cfg.UploadRateLimit > 0 {
		cc.UploadRateLimiter = rate.NewLimiter(rate.Limit(cfg.UploadRateLimit), rateBurst(cfg.UploadRateLimit))
	}

	client, err := torrent.NewClient(cc)
	if err != nil {
		return nil, err
	}

	return &Engine{
		client:  client,
		dataDir: cfg.DataDir,
		entries: make(map[metainfo.Hash]*entry),
		speeds:  make(map[metainfo.Hash]speedSample),
		logger:  logger,
	}, nil
}

func rateBurst(limit int64) int {
	if limit < minRateBurst {
		return minRateBurst
	}
	return int(limit)
}

// nativeLogLevel maps the session's 0-4 verbosity to the engine's own logger
// levels. 0 keeps only critical output; 4 is everything.
func nativeLogLevel(level int) alog.Level {
	switch {
	case level <= 0:
		return alog.Critical
	case level == 1:
		return alog.Error
	case level == 2:
		return alog.Info
	default:
		return alog.Debug
	}
}

// Close releases the native client. Closing twice is a no-op; the session
// layer is responsible for rejecting further operations.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var firstErr error
	for id, ent := range e.entries {
		if ent.store != nil {
			if err := ent.store.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		delete(e.entries, id)
	}
	errList := e.client.Close()
	if firstErr == nil && len(errList) > 0 {
		firstErr = errList[0]
	}
	e.client = nil
	return firstErr
}

// Closed reports whether the session has been shut down.
func (e *Engine) Closed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

// ---------------------------------------------------------------------------
// Construction pipeline
// ---------------------------------------------------------------------------

// AddFromFile feeds a .torrent file through the construction pipeline.
func (e *Engine) AddFromFile(path string) (metainfo.Hash, ParseResult, error) {
	return e.add(func(c *ctor) (ParseResult, error) {
		return c.setMetainfoFromFile(path)
	})
}

// AddFromMagnet feeds a magnet URI through the construction pipeline.
func (e *Engine) AddFromMagnet(uri string) (metainfo.Hash, ParseResult, error) {
	return e.add(func(c *ctor) (ParseResult, error) {
		return c.setMetainfoFromMagnet(uri)
	})
}

// add allocates a constructor scoped to the call, feeds it exactly one
// source, and instantiates the torrent. The constructor is released on every
// exit path. On the duplicate path the pre-existing native torrent must not
// be dropped: it is the live handle other callers still hold.
func (e *Engine) add(populate func(*ctor) (ParseResult, error)) (metainfo.Hash, ParseResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return metainfo.Hash{}, ParseFailed, ErrClosed
	}

	c := newCtor()
	defer c.release()

	if res, err := populate(c); res != ParseOK {
		return metainfo.Hash{}, res, err
	}

	store := storage.NewFile(e.dataDir)
	c.spec.Storage = store

	t, isNew, err := e.client.AddTorrentSpec(c.spec)
	if err != nil {
		_ = store.Close()
		return metainfo.Hash{}, ParseFailed, err
	}
	id := t.InfoHash()

	if !isNew {
		// Resubmission of a tracked torrent. The handle belongs to the
		// original add; releasing it here would double-free.
		_ = store.Close()
		return id, ParseDuplicate, nil
	}

	now := time.Now().UTC()
	ent := &entry{
		t:          t,
		store:      store,
		dataDir:    e.dataDir,
		addedAt:    now,
		activityAt: now,
		stopped:    true,
	}
	e.entries[id] = ent
	t.DisallowDataDownload()
	t.DisallowDataUpload()

	e.logger.Info("torrent added",
		slog.String("torrentId", id.HexString()),
		slog.String("name", t.Name()),
	)
	return id, ParseOK, nil
}

// ---------------------------------------------------------------------------
// Handle operations
// ---------------------------------------------------------------------------

func (e *Engine) lookup(id metainfo.Hash) (*entry, error) {
	if e.closed {
		return nil, ErrClosed
	}
	ent, ok := e.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return ent, nil
}

// Start requests a download/seed transition. The request is issued to the
// native engine and returns immediately; completion is observed via Stats.
func (e *Engine) Start(id metainfo.Hash) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, err := e.lookup(id)
	if err != nil {
		return err
	}
	ent.stopped = false
	if ent.startedAt.IsZero() {
		ent.startedAt = time.Now().UTC()
	}
	ent.t.AllowDataUpload()
	ent.t.AllowDataDownload()
	if infoReady(ent.t) {
		e.ensureFileState(ent)
		ent.t.DownloadAll()
		e.applyFileState(ent)
	}
	return nil
}

// Stop pauses transfer. Fire-and-forget, like Start.
func (e *Engine) Stop(id metainfo.Hash) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, err := e.lookup(id)
	if err != nil {
		return err
	}
	ent.stopped = true
	ent.t.DisallowDataDownload()
	ent.t.DisallowDataUpload()
	return nil
}

// Verify queues an asynchronous integrity recheck. Progress shows up in the
// stats snapshot as recheck progress.
func (e *Engine) Verify(id metainfo.Hash) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, err := e.lookup(id)
	if err != nil {
		return err
	}
	if !infoReady(ent.t) {
		// Nothing to check until metadata arrives.
		return nil
	}
	if ent.verifying {
		return nil
	}
	ent.verifying = true
	t := ent.t
	go func() {
		t.VerifyData()
		e.mu.Lock()
		if cur, ok := e.entries[id]; ok && cur == ent {
			ent.verifying = false
		}
		e.mu.Unlock()
	}()
	return nil
}

// Remove drops the torrent from the session. With withData set, the
// downloaded content under the torrent's storage root is deleted as well.
// The id is invalid afterwards.
func (e *Engine) Remove(id metainfo.Hash, withData bool) error {
	e.mu.Lock()
	ent, err := e.lookup(id)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	delete(e.entries, id)

	var contentPath string
	if withData && infoReady(ent.t) {
		contentPath = filepath.Join(ent.dataDir, ent.t.Info().BestName())
	}
	ent.t.Drop()
	if ent.store != nil {
		_ = ent.store.Close()
	}
	e.mu.Unlock()

	e.forgetSpeed(id)

	if contentPath != "" {
		if err := os.RemoveAll(contentPath); err != nil {
			e.logger.Warn("failed to delete torrent data",
				slog.String("torrentId", id.HexString()),
				slog.String("path", contentPath),
				slog.String("error", err.Error()),
			)
			return err
		}
	}
	e.logger.Info("torrent removed",
		slog.String("torrentId", id.HexString()),
		slog.Bool("withData", withData),
	)
	return nil
}

// SetRatioLimit caps seeding at the given upload/download ratio. The limit is
// enforced by the wrapper on stats refresh; 0 removes the cap.
func (e *Engine) SetRatioLimit(id metainfo.Hash, limit float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, err := e.lookup(id)
	if err != nil {
		return err
	}
	ent.ratioLimit = limit
	if ent.uploadOff && limit == 0 {
		ent.uploadOff = false
		if !ent.stopped {
			ent.t.AllowDataUpload()
		}
	}
	return nil
}

// SetDownloadDir re-roots a torrent's storage. The torrent is dropped from
// the native client, its on-disk content moved, and the same spec re-added
// with storage rooted at the new directory. The entry must never be left
// half-migrated: everything that can fail is checked before the drop, and a
// failed move re-adds the torrent under its old root.
func (e *Engine) SetDownloadDir(id metainfo.Hash, dir string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, err := e.lookup(id)
	if err != nil {
		return err
	}
	if ent.dataDir == dir {
		return nil
	}
	fi, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("engine: %s is not a directory", dir)
	}

	mi := ent.t.Metainfo()
	spec, err := torrent.TorrentSpecFromMetaInfoErr(&mi)
	if err != nil {
		return err
	}
	var name string
	if infoReady(ent.t) {
		name = ent.t.Info().BestName()
	}

	ent.t.Drop()
	if ent.store != nil {
		_ = ent.store.Close()
	}

	if name != "" {
		oldPath := filepath.Join(ent.dataDir, name)
		if _, statErr := os.Stat(oldPath); statErr == nil {
			if mvErr := os.Rename(oldPath, filepath.Join(dir, name)); mvErr != nil {
				// Content stayed under the old root; put the torrent
				// back there so the handle keeps working.
				if rbErr := e.reattach(ent, spec, ent.dataDir); rbErr != nil {
					delete(e.entries, id)
					e.forgetSpeed(id)
				}
				return mvErr
			}
		}
	}

	if err := e.reattach(ent, spec, dir); err != nil {
		// The torrent is gone from the native client and cannot come
		// back; keeping the entry would leave a handle that accepts
		// operations against nothing.
		delete(e.entries, id)
		e.forgetSpeed(id)
		return err
	}
	ent.dataDir = dir
	return nil
}

// reattach re-adds a dropped torrent with storage rooted at dir and restores
// the entry's transfer state. Caller holds the write lock.
func (e *Engine) reattach(ent *entry, spec *torrent.TorrentSpec, dir string) error {
	store := storage.NewFile(dir)
	spec.Storage = store
	t, _, err := e.client.AddTorrentSpec(spec)
	if err != nil {
		_ = store.Close()
		return err
	}
	ent.t = t
	ent.store = store
	if ent.stopped {
		t.DisallowDataDownload()
		t.DisallowDataUpload()
		return nil
	}
	t.AllowDataDownload()
	t.AllowDataUpload()
	if infoReady(t) {
		t.DownloadAll()
		e.applyFileState(ent)
	}
	return nil
}

// SetStatError records a stats-level error for a torrent. Severity is one of
// the stat error codes; StatOK clears it.
func (e *Engine) SetStatError(id metainfo.Hash, code StatErrType, msg string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, err := e.lookup(id)
	if err != nil {
		return err
	}
	ent.statErr = code
	ent.statErrMsg = msg
	return nil
}

// Torrents lists the ids of all tracked torrents.
func (e *Engine) Torrents() []metainfo.Hash {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]metainfo.Hash, 0, len(e.entries))
	for id := range e.entries {
		ids = append(ids, id)
	}
	return ids
}

// Has reports whether the id is still tracked.
func (e *Engine) Has(id metainfo.Hash) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.entries[id]
	return ok
}

// Name returns the torrent's display name (infohash hex until metadata
// resolves).
func (e *Engine) Name(id metainfo.Hash) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ent, err := e.lookup(id)
	if err != nil {
		return "", err
	}
	return ent.t.Name(), nil
}

func infoReady(t *torrent.Torrent) bool {
	if t == nil {
		return false
	}
	select {
	case <-t.GotInfo():
		return true
	default:
		return false
	}
}
