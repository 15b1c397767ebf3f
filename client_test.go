package torrentkit

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
)

// newTestClient brings up an isolated offline session: no DHT, random peer
// port, RPC off.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	cfg := NewClientConfig().
		AppName("client-test").
		ConfigDir(tempSubdir(t, "config")).
		DownloadDir(tempSubdir(t, "downloads")).
		UseDHT(false).
		UseUTP(false).
		LogLevel(0).
		PeerPort(0)
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// buildTorrentFile creates a .torrent for a tiny payload and returns its
// path.
func buildTorrentFile(t *testing.T, name string) string {
	t.Helper()
	src := writeSourceFile(t, name, "payload for "+name)
	out := filepath.Join(t.TempDir(), name+".torrent")
	if _, err := NewTorrentBuilder(src).Build(context.Background(), out); err != nil {
		t.Fatalf("build torrent: %v", err)
	}
	return out
}

func TestClientAddTorrentFile(t *testing.T) {
	c := newTestClient(t)
	tor, err := c.AddTorrentFile(buildTorrentFile(t, "add.txt"))
	if err != nil {
		t.Fatalf("AddTorrentFile: %v", err)
	}
	if len(tor.ID()) != 40 {
		t.Fatalf("ID = %q, want 40 hex chars", tor.ID())
	}

	name, err := tor.Name()
	if err != nil {
		t.Fatalf("Name: %v", err)
	}
	if name != "add.txt" {
		t.Fatalf("Name = %q", name)
	}

	stats, err := tor.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.ID != tor.ID() {
		t.Fatalf("stats.ID = %q, want %q", stats.ID, tor.ID())
	}
	if stats.PercentDone < 0 || stats.PercentDone > 1 {
		t.Fatalf("PercentDone = %v, want fraction in [0,1]", stats.PercentDone)
	}

	info, err := tor.Info()
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.ID != tor.ID() {
		t.Fatalf("info.ID = %q, want %q", info.ID, tor.ID())
	}
	if len(info.Files) != 1 || info.Files[0].Name != "add.txt" {
		t.Fatalf("files = %+v", info.Files)
	}
}

func TestClientDuplicateAdd(t *testing.T) {
	c := newTestClient(t)
	path := buildTorrentFile(t, "dup.txt")

	first, err := c.AddTorrentFile(path)
	if err != nil {
		t.Fatalf("first add: %v", err)
	}

	_, err = c.AddTorrentFile(path)
	var kerr *Error
	if !errors.As(err, &kerr) || kerr.Kind != ParseDuplicate {
		t.Fatalf("second add error = %v, want kind ParseDuplicate", err)
	}

	// The original handle keeps working.
	if _, err := first.Stats(); err != nil {
		t.Fatalf("stats on original after duplicate add: %v", err)
	}
}

func TestClientAddBadTorrentFile(t *testing.T) {
	c := newTestClient(t)
	bad := writeSourceFile(t, "garbage.torrent", "this is not bencode")
	_, err := c.AddTorrentFile(bad)
	var kerr *Error
	if !errors.As(err, &kerr) || kerr.Kind != ParseErr {
		t.Fatalf("error = %v, want kind ParseErr", err)
	}
}

func TestClientTorrentsListing(t *testing.T) {
	c := newTestClient(t)
	a, err := c.AddTorrentFile(buildTorrentFile(t, "list-a.txt"))
	if err != nil {
		t.Fatalf("add a: %v", err)
	}
	b, err := c.AddTorrentFile(buildTorrentFile(t, "list-b.txt"))
	if err != nil {
		t.Fatalf("add b: %v", err)
	}

	torrents, err := c.Torrents()
	if err != nil {
		t.Fatalf("Torrents: %v", err)
	}
	if len(torrents) != 2 {
		t.Fatalf("got %d torrents, want 2", len(torrents))
	}
	seen := map[string]bool{}
	for _, tor := range torrents {
		seen[tor.ID()] = true
	}
	if !seen[a.ID()] || !seen[b.ID()] {
		t.Fatalf("listing missed a handle: %v", seen)
	}
}

func TestClientTorrentLookup(t *testing.T) {
	c := newTestClient(t)
	tor, err := c.AddTorrentFile(buildTorrentFile(t, "lookup.txt"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	found, err := c.Torrent(tor.ID())
	if err != nil {
		t.Fatalf("Torrent: %v", err)
	}
	if found.ID() != tor.ID() {
		t.Fatalf("lookup ID = %q, want %q", found.ID(), tor.ID())
	}

	for _, id := range []string{"not-an-id", "ffffffffffffffffffffffffffffffffffffffff"} {
		if _, err := c.Torrent(id); !errors.Is(err, ErrTorrentRemoved) {
			t.Fatalf("Torrent(%q) = %v, want ErrTorrentRemoved", id, err)
		}
	}
}

func TestClientTorrentLifecycle(t *testing.T) {
	c := newTestClient(t)
	tor, err := c.AddTorrentFile(buildTorrentFile(t, "life.txt"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	stats, err := tor.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.State != StateStopped {
		t.Fatalf("fresh state = %q, want stopped", stats.State)
	}

	if err := tor.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	stats, _ = tor.Stats()
	if stats.State == StateStopped {
		t.Fatal("still stopped after Start")
	}

	if err := tor.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := tor.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := tor.SetRatioLimit(2.0); err != nil {
		t.Fatalf("set ratio limit: %v", err)
	}
	if err := tor.SetPriority(PriorityHigh); err != nil {
		t.Fatalf("set priority: %v", err)
	}

	if err := tor.Remove(false); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := tor.Stats(); !errors.Is(err, ErrTorrentRemoved) {
		t.Fatalf("stats after remove: %v, want ErrTorrentRemoved", err)
	}
}

func TestClientFileSelectors(t *testing.T) {
	c := newTestClient(t)
	tor, err := c.AddTorrentFile(buildTorrentFile(t, "sel.txt"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	info, err := tor.Info()
	if err != nil {
		t.Fatalf("info: %v", err)
	}

	good := info.Files[0].Selector()
	if err := tor.SetFilesDownload([]FileSelector{good}, false); err != nil {
		t.Fatalf("set files download: %v", err)
	}
	if err := tor.SetFilesPriorities([]FileSelector{good}, PriorityLow); err != nil {
		t.Fatalf("set files priorities: %v", err)
	}

	// Resolved selectors are applied; the miss is reported.
	bad := FileSelector{Name: good.Name, Length: good.Length + 1}
	err = tor.SetFilesDownload([]FileSelector{good, bad}, true)
	var uerr *UnresolvedFilesError
	if !errors.As(err, &uerr) {
		t.Fatalf("error = %v, want UnresolvedFilesError", err)
	}
	if len(uerr.Selectors) != 1 || uerr.Selectors[0] != bad {
		t.Fatalf("unresolved = %+v", uerr.Selectors)
	}
	info, err = tor.Info()
	if err != nil {
		t.Fatalf("info after selection: %v", err)
	}
	if !info.Files[0].Wanted {
		t.Fatal("resolved selector was not applied alongside the reported miss")
	}
}

func TestClientCloseIdempotent(t *testing.T) {
	c := newTestClient(t)
	tor, err := c.AddTorrentFile(buildTorrentFile(t, "close.txt"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if !c.Closed() {
		t.Fatal("Closed() = false after Close")
	}

	if _, err := c.AddTorrentFile("x"); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("add after close: %v, want ErrClientClosed", err)
	}
	if _, err := c.Torrents(); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("list after close: %v, want ErrClientClosed", err)
	}
	if err := tor.Start(); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("start after close: %v, want ErrClientClosed", err)
	}
	if _, err := tor.Stats(); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("stats after close: %v, want ErrClientClosed", err)
	}
}

func TestClientConcurrentClose(t *testing.T) {
	c := newTestClient(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Close(); err != nil {
				t.Errorf("concurrent close: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestClientConfigDirExclusive(t *testing.T) {
	configDir := tempSubdir(t, "shared-config")
	newCfg := func() *ClientConfig {
		return NewClientConfig().
			AppName("exclusive-test").
			ConfigDir(configDir).
			DownloadDir(tempSubdir(t, "downloads")).
			UseDHT(false).
			UseUTP(false).
			LogLevel(0).
			PeerPort(0)
	}

	first, err := New(newCfg())
	if err != nil {
		t.Fatalf("first session: %v", err)
	}

	if _, err := New(newCfg()); err == nil {
		t.Fatal("second session on same config dir must fail")
	}

	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	second, err := New(newCfg())
	if err != nil {
		t.Fatalf("session after close: %v", err)
	}
	_ = second.Close()
}
