package rpc

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsPongTimeout  = 90 * time.Second
	wsPingEvery    = 25 * time.Second
	wsQueueDepth   = 8
	wsReadLimit    = 256
)

// wsFrame is the wire shape of one feed push. Every frame carries the full
// torrent list, so a subscriber's view is always the latest snapshot.
type wsFrame struct {
	Event    string           `json:"event"`
	Torrents []TorrentSummary `json:"torrents"`
}

// statsFeed fans stats snapshots out to WebSocket subscribers. Frames are
// snapshots of the whole list, so a subscriber that cannot keep up is given
// only the newest frame: publish drops the stale queued frame instead of the
// fresh one, and never drops the subscriber itself.
type statsFeed struct {
	mu     sync.Mutex
	subs   map[*wsSub]struct{}
	closed bool
	logger *slog.Logger
}

type wsSub struct {
	conn *websocket.Conn
	out  chan []byte
}

func newStatsFeed(logger *slog.Logger) *statsFeed {
	return &statsFeed{
		subs:   make(map[*wsSub]struct{}),
		logger: logger,
	}
}

// attach adopts an upgraded connection as a feed subscriber and starts its
// pump goroutines. It reports false once the feed has shut down, in which
// case the caller still owns the connection.
func (f *statsFeed) attach(conn *websocket.Conn) bool {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return false
	}
	sub := &wsSub{conn: conn, out: make(chan []byte, wsQueueDepth)}
	f.subs[sub] = struct{}{}
	n := len(f.subs)
	f.mu.Unlock()

	f.logger.Debug("feed subscriber attached", slog.Int("subscribers", n))
	go sub.writeLoop(f)
	go sub.readLoop(f)
	return true
}

// detach removes a subscriber and closes its queue. Safe to call more than
// once for the same subscriber.
func (f *statsFeed) detach(sub *wsSub) {
	f.mu.Lock()
	_, ok := f.subs[sub]
	if ok {
		delete(f.subs, sub)
		close(sub.out)
	}
	n := len(f.subs)
	f.mu.Unlock()
	if ok {
		f.logger.Debug("feed subscriber detached", slog.Int("subscribers", n))
	}
}

// publish pushes a snapshot to every subscriber. An empty list is still a
// snapshot and is delivered, so subscribers see the last torrent disappear.
func (f *statsFeed) publish(summaries []TorrentSummary) {
	if summaries == nil {
		summaries = []TorrentSummary{}
	}
	frame, err := json.Marshal(wsFrame{Event: "torrents", Torrents: summaries})
	if err != nil {
		f.logger.Error("feed frame marshal failed", slog.String("error", err.Error()))
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for sub := range f.subs {
		sub.offer(frame)
	}
}

// shutdown rejects future attaches, closes all subscriber queues and tells
// the peers the session is going away.
func (f *statsFeed) shutdown() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	subs := make([]*wsSub, 0, len(f.subs))
	for sub := range f.subs {
		subs = append(subs, sub)
		delete(f.subs, sub)
		close(sub.out)
	}
	f.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	for _, sub := range subs {
		_ = sub.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closing"),
			deadline,
		)
	}
	f.logger.Debug("feed shut down", slog.Int("subscribers", len(subs)))
}

// offer queues a frame without blocking. When the queue is full the oldest
// frame is discarded first; each snapshot supersedes the one before it.
// Called with the feed lock held, which keeps offer and close(out) ordered.
func (s *wsSub) offer(frame []byte) {
	select {
	case s.out <- frame:
		return
	default:
	}
	select {
	case <-s.out:
	default:
	}
	select {
	case s.out <- frame:
	default:
	}
}

func (s *wsSub) writeLoop(f *statsFeed) {
	ping := time.NewTicker(wsPingEvery)
	defer func() {
		ping.Stop()
		s.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-s.out:
			if !ok {
				_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				_ = s.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				f.detach(s)
				return
			}
		case <-ping.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				f.detach(s)
				return
			}
		}
	}
}

// readLoop drains the connection so pongs and close frames are processed.
// Subscribers never send application data; anything beyond the read limit
// kills the connection.
func (s *wsSub) readLoop(f *statsFeed) {
	defer func() {
		f.detach(s)
		s.conn.Close()
	}()
	s.conn.SetReadLimit(wsReadLimit)
	_ = s.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:   1024,
	WriteBufferSize:  1024,
	HandshakeTimeout: 10 * time.Second,
	CheckOrigin:      func(r *http.Request) bool { return true },
}
