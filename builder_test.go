package torrentkit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSourceFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestBuilderRoundTrip(t *testing.T) {
	src := writeSourceFile(t, "hello.txt", "hello torrent world")
	out := filepath.Join(t.TempDir(), "hello.torrent")

	built, err := NewTorrentBuilder(src).
		Tracker("udp://tracker.example.com:1337/announce").
		Comment("round trip").
		Creator("builder test").
		Private(true).
		Build(context.Background(), out)
	require.NoError(t, err)
	require.NotNil(t, built)

	parsed, err := ParseTorrentFile(out)
	require.NoError(t, err)

	assert.Equal(t, built.ID, parsed.ID)
	assert.Equal(t, "hello.txt", parsed.Name)
	assert.Equal(t, "round trip", parsed.Comment)
	assert.Equal(t, "builder test", parsed.Creator)
	assert.True(t, parsed.Private)
	assert.Equal(t, int64(len("hello torrent world")), parsed.TotalSize)
	require.Len(t, parsed.Trackers, 1)
	assert.Equal(t, "udp://tracker.example.com:1337/announce", parsed.Trackers[0].URL)
	require.Len(t, parsed.Files, 1)
	assert.Equal(t, "hello.txt", parsed.Files[0].Name)
}

func TestBuilderDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("aaaa"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("bbbbbbbb"), 0o644))

	out := filepath.Join(t.TempDir(), "dir.torrent")
	built, err := NewTorrentBuilder(dir).Build(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, int64(12), built.TotalSize)
	assert.Len(t, built.Files, 2)
}

func TestBuilderInvalidTrackerURL(t *testing.T) {
	src := writeSourceFile(t, "x.txt", "x")
	out := filepath.Join(t.TempDir(), "x.torrent")

	for _, bad := range []string{"not-a-url", "ftp://tracker.example.com/announce", "udp://"} {
		_, err := NewTorrentBuilder(src).Tracker(bad).Build(context.Background(), out)
		var kerr *Error
		require.ErrorAs(t, err, &kerr, "tracker %q", bad)
		assert.Equal(t, MakeMetaURL, kerr.Kind, "tracker %q", bad)
	}
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr), "output must not exist after rejected build")
}

func TestBuilderMissingSource(t *testing.T) {
	out := filepath.Join(t.TempDir(), "missing.torrent")
	_, err := NewTorrentBuilder(filepath.Join(t.TempDir(), "nope")).Build(context.Background(), out)
	var kerr *Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, IOError, kerr.Kind)
}

func TestBuilderCancelled(t *testing.T) {
	src := writeSourceFile(t, "c.txt", "content")
	out := filepath.Join(t.TempDir(), "c.torrent")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewTorrentBuilder(src).Build(ctx, out)
	var kerr *Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, MakeMetaCancelled, kerr.Kind)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestChoosePieceLength(t *testing.T) {
	b := &TorrentBuilder{}

	b.pieceLength = 1 << 10
	assert.Equal(t, int64(minPieceLength), b.choosePieceLength(), "clamped up")

	b.pieceLength = 1 << 30
	assert.Equal(t, int64(maxPieceLength), b.choosePieceLength(), "clamped down")

	b.pieceLength = 0
	b.sourcePath = writeSourceFile(t, "small.txt", "tiny")
	assert.Equal(t, int64(minPieceLength), b.choosePieceLength(), "small input uses minimum")
}
