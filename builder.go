package torrentkit

import (
	"context"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"

	"torrentkit/internal/metrics"
)

// Piece length bounds for automatic selection.
const (
	minPieceLength = 16 << 10 // 16 KiB
	maxPieceLength = 16 << 20 // 16 MiB
)

// TorrentBuilder assembles a .torrent file from content on disk. Configure
// it with the chained setters, then call Build. A builder is single-use.
type TorrentBuilder struct {
	sourcePath  string
	trackers    [][]string
	webseeds    []string
	comment     string
	creator     string
	private     bool
	pieceLength int64
}

// NewTorrentBuilder starts a builder for the file or directory at path.
func NewTorrentBuilder(path string) *TorrentBuilder {
	return &TorrentBuilder{sourcePath: path}
}

// Tracker appends an announce URL as its own tier.
func (b *TorrentBuilder) Tracker(url string) *TorrentBuilder {
	b.trackers = append(b.trackers, []string{url})
	return b
}

// TrackerTier appends one tier of equivalent announce URLs.
func (b *TorrentBuilder) TrackerTier(urls ...string) *TorrentBuilder {
	if len(urls) > 0 {
		b.trackers = append(b.trackers, urls)
	}
	return b
}

// Webseed appends an HTTP seed URL.
func (b *TorrentBuilder) Webseed(url string) *TorrentBuilder {
	b.webseeds = append(b.webseeds, url)
	return b
}

// Comment sets the metadata comment.
func (b *TorrentBuilder) Comment(comment string) *TorrentBuilder {
	b.comment = comment
	return b
}

// Creator sets the created-by field.
func (b *TorrentBuilder) Creator(creator string) *TorrentBuilder {
	b.creator = creator
	return b
}

// Private marks the torrent private (no DHT or peer exchange).
func (b *TorrentBuilder) Private(private bool) *TorrentBuilder {
	b.private = private
	return b
}

// PieceLength overrides the automatically chosen piece length. Must be a
// power of two; values outside [16 KiB, 16 MiB] are clamped.
func (b *TorrentBuilder) PieceLength(n int64) *TorrentBuilder {
	b.pieceLength = n
	return b
}

type buildOutcome struct {
	info *TorrentInfo
	err  error
}

// Build hashes the source content and writes the metadata file to outPath.
// It blocks until the build finishes or ctx is done; on cancellation it
// returns an error of kind MakeMetaCancelled and the background work cleans
// up any partial output before exiting.
func (b *TorrentBuilder) Build(ctx context.Context, outPath string) (*TorrentInfo, error) {
	if err := b.validateTrackers(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(b.sourcePath); err != nil {
		return nil, &Error{Op: "build torrent", Kind: IOError, Err: err}
	}
	if err := ctx.Err(); err != nil {
		metrics.BuildsTotal.WithLabelValues("cancelled").Inc()
		return nil, &Error{Op: "build torrent", Kind: MakeMetaCancelled, Err: err}
	}

	done := make(chan buildOutcome, 1)
	go func() {
		info, err := b.run(outPath)
		done <- buildOutcome{info: info, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			metrics.BuildsTotal.WithLabelValues("error").Inc()
		} else {
			metrics.BuildsTotal.WithLabelValues("ok").Inc()
		}
		return out.info, out.err
	case <-ctx.Done():
		metrics.BuildsTotal.WithLabelValues("cancelled").Inc()
		// The hashing goroutine cannot be interrupted mid-file; let it
		// finish in the background and discard its output.
		go func() {
			if out := <-done; out.err == nil {
				_ = os.Remove(outPath)
			}
		}()
		return nil, &Error{Op: "build torrent", Kind: MakeMetaCancelled, Err: ctx.Err()}
	}
}

func (b *TorrentBuilder) validateTrackers() error {
	for _, tier := range b.trackers {
		for _, raw := range tier {
			u, err := url.Parse(raw)
			if err != nil || u.Host == "" {
				return &Error{Op: "build torrent", Kind: MakeMetaURL, Err: err}
			}
			switch u.Scheme {
			case "http", "https", "udp":
			default:
				return &Error{Op: "build torrent", Kind: MakeMetaURL}
			}
		}
	}
	return nil
}

func (b *TorrentBuilder) run(outPath string) (*TorrentInfo, error) {
	info := metainfo.Info{
		PieceLength: b.choosePieceLength(),
	}
	if err := info.BuildFromFilePath(b.sourcePath); err != nil {
		return nil, &Error{Op: "build torrent", Kind: IOError, Err: err}
	}
	if b.private {
		private := true
		info.Private = &private
	}

	infoBytes, err := bencode.Marshal(info)
	if err != nil {
		return nil, &Error{Op: "build torrent", Kind: Unknown, Err: err}
	}

	mi := metainfo.MetaInfo{
		InfoBytes:    infoBytes,
		Comment:      b.comment,
		CreatedBy:    b.creator,
		CreationDate: time.Now().Unix(),
		UrlList:      append([]string(nil), b.webseeds...),
	}
	if len(b.trackers) > 0 {
		mi.Announce = b.trackers[0][0]
		for _, tier := range b.trackers {
			mi.AnnounceList = append(mi.AnnounceList, append([]string(nil), tier...))
		}
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return nil, &Error{Op: "build torrent", Kind: IOError, Err: err}
	}
	f, err := os.Create(outPath)
	if err != nil {
		return nil, &Error{Op: "build torrent", Kind: IOError, Err: err}
	}
	if err := mi.Write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(outPath)
		return nil, &Error{Op: "build torrent", Kind: IOError, Err: err}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(outPath)
		return nil, &Error{Op: "build torrent", Kind: IOError, Err: err}
	}

	out := &TorrentInfo{
		ID:          mi.HashInfoBytes().HexString(),
		Name:        info.BestName(),
		Comment:     b.comment,
		Creator:     b.creator,
		CreatedAt:   time.Unix(mi.CreationDate, 0).UTC(),
		Private:     b.private,
		TotalSize:   info.TotalLength(),
		PieceLength: info.PieceLength,
		PieceCount:  info.NumPieces(),
	}
	for _, tf := range info.UpvertedFiles() {
		out.Files = append(out.Files, TorrentFile{
			Name:     tf.DisplayPath(&info),
			Length:   tf.Length,
			Priority: PriorityNormal,
			Wanted:   true,
		})
	}
	for tier, urls := range mi.AnnounceList {
		for _, u := range urls {
			out.Trackers = append(out.Trackers, TrackerInfo{URL: u, Tier: tier})
		}
	}
	return out, nil
}

// choosePieceLength picks the smallest power-of-two piece length that keeps
// the torrent under roughly two thousand pieces, within the allowed bounds.
func (b *TorrentBuilder) choosePieceLength() int64 {
	if b.pieceLength > 0 {
		n := b.pieceLength
		if n < minPieceLength {
			n = minPieceLength
		}
		if n > maxPieceLength {
			n = maxPieceLength
		}
		return n
	}

	var total int64
	_ = filepath.WalkDir(b.sourcePath, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if fi, err := d.Info(); err == nil {
			total += fi.Size()
		}
		return nil
	})

	pieceLen := int64(minPieceLength)
	for pieceLen < maxPieceLength && total/pieceLen > 2000 {
		pieceLen <<= 1
	}
	return pieceLen
}
