package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestFeedOfferKeepsNewestFrame(t *testing.T) {
	sub := &wsSub{out: make(chan []byte, 1)}

	sub.offer([]byte("stale"))
	sub.offer([]byte("fresh"))

	select {
	case frame := <-sub.out:
		if string(frame) != "fresh" {
			t.Fatalf("queued frame = %q, want the newest", frame)
		}
	default:
		t.Fatal("no frame queued")
	}
	select {
	case frame := <-sub.out:
		t.Fatalf("unexpected second frame %q", frame)
	default:
	}
}

func TestFeedPublishEmptySnapshot(t *testing.T) {
	feed := newStatsFeed(slog.Default())
	sub := &wsSub{out: make(chan []byte, 1)}
	feed.subs[sub] = struct{}{}

	feed.publish(nil)

	var raw []byte
	select {
	case raw = <-sub.out:
	default:
		t.Fatal("empty snapshot was not delivered")
	}
	var frame wsFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if frame.Event != "torrents" {
		t.Fatalf("event = %q, want torrents", frame.Event)
	}
	if frame.Torrents == nil || len(frame.Torrents) != 0 {
		t.Fatalf("torrents = %v, want empty list", frame.Torrents)
	}
}

func TestFeedDeliversSnapshots(t *testing.T) {
	srv := newTestServer(&fakeController{})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/transmission/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The subscriber is attached by the handler goroutine; wait for it.
	attached := false
	for i := 0; i < 100; i++ {
		srv.feed.mu.Lock()
		attached = len(srv.feed.subs) > 0
		srv.feed.mu.Unlock()
		if attached {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !attached {
		t.Fatal("subscriber never attached")
	}

	want := []TorrentSummary{{ID: "aa", Name: "one", State: "downloading", PercentDone: 0.5}}
	srv.Broadcast(want)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var frame wsFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if len(frame.Torrents) != 1 || frame.Torrents[0].ID != "aa" {
		t.Fatalf("frame torrents = %+v", frame.Torrents)
	}
}

func TestFeedRejectsSubscribersAfterShutdown(t *testing.T) {
	srv := newTestServer(&fakeController{})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	// The test server still routes through the handler, so a late dial
	// exercises the closed feed. It must be turned away promptly instead
	// of hanging.
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/transmission/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected the connection to be closed")
	}
}
