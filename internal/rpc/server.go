// Package rpc is the optional HTTP control surface for a session. It exposes
// torrent listing and lifecycle operations under a configurable base path,
// a Prometheus endpoint, and a WebSocket feed of stats snapshots.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"torrentkit/internal/metrics"
)

// Sentinels the controller uses to drive HTTP status mapping.
var (
	ErrNotFound = errors.New("rpc: torrent not found")
	ErrConflict = errors.New("rpc: torrent already present")
)

// TorrentSummary is the wire shape for one torrent in list responses and
// WebSocket pushes.
type TorrentSummary struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	State          string  `json:"state"`
	PercentDone    float64 `json:"percentDone"`
	DownloadRate   float64 `json:"downloadRate"`
	UploadRate     float64 `json:"uploadRate"`
	Ratio          float64 `json:"ratio"`
	PeersConnected int     `json:"peersConnected"`
}

// Controller is the session facade the server drives. Implementations
// return ErrNotFound and ErrConflict to select 404 and 409 responses;
// anything else maps to 500.
type Controller interface {
	ListTorrents() []TorrentSummary
	Torrent(id string) (any, error)
	AddMagnet(uri string) (TorrentSummary, error)
	Start(id string) error
	Stop(id string) error
	Verify(id string) error
	Remove(id string, withData bool) error
}

// Config carries the server's listen and identity settings.
type Config struct {
	ServiceName string
	BasePath    string
	Port        int
	Logger      *slog.Logger
}

type Server struct {
	ctrl     Controller
	basePath string
	logger   *slog.Logger
	handler  http.Handler
	httpSrv  *http.Server
	feed     *statsFeed
}

// NewServer wires the routes and middleware but does not listen yet.
func NewServer(cfg Config, ctrl Controller) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		ctrl:     ctrl,
		basePath: strings.TrimSuffix(cfg.BasePath, "/"),
		logger:   logger,
		feed:     newStatsFeed(logger),
	}

	reg := prometheus.NewRegistry()
	metrics.Register(reg)
	reg.MustRegister(collectors.NewGoCollector())

	mux := http.NewServeMux()
	base := s.basePath
	mux.HandleFunc("GET "+base+"/torrents", s.handleList)
	mux.HandleFunc("POST "+base+"/torrents", s.handleAdd)
	mux.HandleFunc("GET "+base+"/torrents/{id}", s.handleGet)
	mux.HandleFunc("POST "+base+"/torrents/{id}/start", s.handleAction(ctrl.Start))
	mux.HandleFunc("POST "+base+"/torrents/{id}/stop", s.handleAction(ctrl.Stop))
	mux.HandleFunc("POST "+base+"/torrents/{id}/verify", s.handleAction(ctrl.Verify))
	mux.HandleFunc("DELETE "+base+"/torrents/{id}", s.handleRemove)
	mux.HandleFunc("GET "+base+"/events", s.handleWS)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	traced := otelhttp.NewHandler(loggingMiddleware(logger, mux), cfg.ServiceName,
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/healthz"
		}),
	)
	s.handler = recoveryMiddleware(logger, rateLimitMiddleware(100, 200, metricsMiddleware(s.basePath, corsMiddleware(traced))))
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start binds the listen port and serves in the background. A bind failure
// is returned synchronously so session bring-up can abort.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return err
	}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("rpc server stopped", slog.String("error", err.Error()))
		}
	}()
	s.logger.Info("rpc listening", slog.String("addr", ln.Addr().String()), slog.String("base", s.basePath))
	return nil
}

// Shutdown drains in-flight requests and disconnects WebSocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.feed.shutdown()
	return s.httpSrv.Shutdown(ctx)
}

// ServeHTTP lets tests exercise the full middleware chain without a socket.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Broadcast pushes a stats snapshot to all WebSocket subscribers. An empty
// list is a valid snapshot and is delivered.
func (s *Server) Broadcast(summaries []TorrentSummary) {
	s.feed.publish(summaries)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.ListTorrents())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	doc, err := s.ctrl.Torrent(r.PathValue("id"))
	if err != nil {
		s.writeCtrlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type addRequest struct {
	Magnet string `json:"magnet"`
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Magnet) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "body must be JSON with a magnet field")
		return
	}
	summary, err := s.ctrl.AddMagnet(req.Magnet)
	if err != nil {
		s.writeCtrlError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

func (s *Server) handleAction(op func(string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(r.PathValue("id")); err != nil {
			s.writeCtrlError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	withData := r.URL.Query().Get("withData") == "true"
	if err := s.ctrl.Remove(r.PathValue("id"), withData); err != nil {
		s.writeCtrlError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	if !s.feed.attach(conn) {
		// Feed already shut down; refuse the subscriber instead of
		// holding the connection open.
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closing"),
			time.Now().Add(time.Second),
		)
		conn.Close()
	}
}

func (s *Server) writeCtrlError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	default:
		s.logger.Error("rpc operation failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal_error", "operation failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}
