package torrentkit

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTorrentFileMissing(t *testing.T) {
	_, err := ParseTorrentFile(filepath.Join(t.TempDir(), "nope.torrent"))
	var kerr *Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, IOError, kerr.Kind)
}

func TestParseTorrentFileGarbage(t *testing.T) {
	path := writeSourceFile(t, "garbage.torrent", "definitely not bencode")
	_, err := ParseTorrentFile(path)
	var kerr *Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, ParseErr, kerr.Kind)
}

func TestTorrentFileSelectorRoundTrip(t *testing.T) {
	f := TorrentFile{Name: "dir/video.mkv", Length: 1234}
	sel := f.Selector()
	assert.Equal(t, FileSelector{Name: "dir/video.mkv", Length: 1234}, sel)
}
