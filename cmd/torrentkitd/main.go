// torrentkitd runs a standalone session with the RPC control surface
// enabled. All settings come from the environment; every variable has a
// usable default so `torrentkitd` starts out of the box.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"torrentkit"
)

func main() {
	configDir := getEnv("TORRENTKIT_CONFIG_DIR", "./config")
	downloadDir := getEnv("TORRENTKIT_DOWNLOAD_DIR", "./downloads")
	for _, dir := range []string{configDir, downloadDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Error("directory setup failed", slog.String("dir", dir), slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	cfg := torrentkit.NewClientConfig().
		AppName(getEnv("TORRENTKIT_APP_NAME", "torrentkitd")).
		ConfigDir(configDir).
		DownloadDir(downloadDir).
		LogLevel(getEnvInt("TORRENTKIT_LOG_LEVEL", 2)).
		PeerPort(getEnvInt("TORRENTKIT_PEER_PORT", torrentkit.DefaultPeerPort)).
		UseDHT(getEnvBool("TORRENTKIT_DHT", true)).
		UseUTP(getEnvBool("TORRENTKIT_UTP", true)).
		DownloadRateLimit(getEnvInt64("TORRENTKIT_DOWNLOAD_RATE_LIMIT", 0)).
		UploadRateLimit(getEnvInt64("TORRENTKIT_UPLOAD_RATE_LIMIT", 0)).
		RPCEnabled(true).
		RPCPort(getEnvInt("TORRENTKIT_RPC_PORT", torrentkit.DefaultRPCPort)).
		RPCURL(getEnv("TORRENTKIT_RPC_URL", torrentkit.DefaultRPCURL))

	client, err := torrentkit.New(cfg)
	if err != nil {
		slog.Error("session start failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Seed the session with any magnets passed on the command line.
	for _, arg := range os.Args[1:] {
		if !strings.HasPrefix(arg, "magnet:") {
			continue
		}
		t, err := client.AddTorrentMagnet(arg)
		if err != nil {
			slog.Warn("magnet add failed", slog.String("error", err.Error()))
			continue
		}
		if err := t.Start(); err != nil {
			slog.Warn("torrent start failed", slog.String("id", t.ID()), slog.String("error", err.Error()))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	if err := client.Close(); err != nil {
		slog.Warn("session close error", slog.String("error", err.Error()))
	}
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key))); err == nil {
		return v
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v, err := strconv.ParseInt(strings.TrimSpace(os.Getenv(key)), 10, 64); err == nil {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
