package torrentkit

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Defaults applied by NewClientConfig.
const (
	DefaultLogLevel = 1
	DefaultRPCURL   = "/transmission/"
	DefaultRPCPort  = 9091
	DefaultPeerPort = 42000
)

// ClientConfig assembles the settings for a session. Build one with
// NewClientConfig, chain the setters, and hand it to New. AppName,
// ConfigDir and DownloadDir are required; everything else has a default.
//
// The zero value is not usable; always start from NewClientConfig.
type ClientConfig struct {
	appName     string
	configDir   string
	downloadDir string

	useUTP   bool
	useDHT   bool
	logLevel int
	peerPort int

	downloadRateLimit int64
	uploadRateLimit   int64

	rpcEnabled bool
	rpcURL     string
	rpcPort    int
}

// NewClientConfig returns a config with the session defaults: uTP and DHT
// on, moderate log verbosity, RPC off.
func NewClientConfig() *ClientConfig {
	return &ClientConfig{
		useUTP:   true,
		useDHT:   true,
		logLevel: DefaultLogLevel,
		peerPort: DefaultPeerPort,
		rpcURL:   DefaultRPCURL,
		rpcPort:  DefaultRPCPort,
	}
}

// AppName names the application owning the session. Required. It shows up in
// the session's log attributes and telemetry service name.
func (c *ClientConfig) AppName(name string) *ClientConfig {
	c.appName = name
	return c
}

// ConfigDir sets the directory for session state. Required. At most one live
// session may use a given config dir at a time.
func (c *ClientConfig) ConfigDir(dir string) *ClientConfig {
	c.configDir = dir
	return c
}

// DownloadDir sets where torrent content is written. Required.
func (c *ClientConfig) DownloadDir(dir string) *ClientConfig {
	c.downloadDir = dir
	return c
}

// UseUTP toggles the uTP transport. On by default.
func (c *ClientConfig) UseUTP(enabled bool) *ClientConfig {
	c.useUTP = enabled
	return c
}

// UseDHT toggles the distributed hash table. On by default.
func (c *ClientConfig) UseDHT(enabled bool) *ClientConfig {
	c.useDHT = enabled
	return c
}

// LogLevel sets engine log verbosity, 0 (silent) through 4 (everything).
// Values outside the range are clamped.
func (c *ClientConfig) LogLevel(level int) *ClientConfig {
	if level < 0 {
		level = 0
	}
	if level > 4 {
		level = 4
	}
	c.logLevel = level
	return c
}

// PeerPort sets the listening port for peer connections. 0 picks a free
// port.
func (c *ClientConfig) PeerPort(port int) *ClientConfig {
	c.peerPort = port
	return c
}

// DownloadRateLimit caps aggregate download speed in bytes per second.
// 0 means unlimited.
func (c *ClientConfig) DownloadRateLimit(bytesPerSec int64) *ClientConfig {
	c.downloadRateLimit = bytesPerSec
	return c
}

// UploadRateLimit caps aggregate upload speed in bytes per second.
// 0 means unlimited.
func (c *ClientConfig) UploadRateLimit(bytesPerSec int64) *ClientConfig {
	c.uploadRateLimit = bytesPerSec
	return c
}

// RPCEnabled turns the HTTP control surface on or off. Off by default.
func (c *ClientConfig) RPCEnabled(enabled bool) *ClientConfig {
	c.rpcEnabled = enabled
	return c
}

// RPCURL sets the base path for the control surface.
func (c *ClientConfig) RPCURL(url string) *ClientConfig {
	c.rpcURL = url
	return c
}

// RPCPort sets the listening port for the control surface.
func (c *ClientConfig) RPCPort(port int) *ClientConfig {
	c.rpcPort = port
	return c
}

// validate checks required fields and canonicalizes paths. Missing fields
// are configuration bugs (ConfigError); a directory that does not exist is a
// runtime condition (IOError).
func (c *ClientConfig) validate() error {
	if c.appName == "" {
		return &ConfigError{Field: "AppName", Reason: "must not be empty"}
	}
	if c.configDir == "" {
		return &ConfigError{Field: "ConfigDir", Reason: "must not be empty"}
	}
	if c.downloadDir == "" {
		return &ConfigError{Field: "DownloadDir", Reason: "must not be empty"}
	}
	if c.rpcEnabled {
		if c.rpcPort <= 0 || c.rpcPort > 65535 {
			return &ConfigError{Field: "RPCPort", Reason: fmt.Sprintf("port %d out of range", c.rpcPort)}
		}
		if c.rpcURL == "" {
			return &ConfigError{Field: "RPCURL", Reason: "must not be empty when RPC is enabled"}
		}
	}

	for _, dir := range []*string{&c.configDir, &c.downloadDir} {
		canonical, err := canonicalDir(*dir)
		if err != nil {
			return err
		}
		*dir = canonical
	}
	return nil
}

// canonicalDir resolves dir to an absolute, symlink-free path and requires
// it to be an existing directory.
func canonicalDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", &Error{Op: "validate config", Kind: IOError, Err: err}
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", &Error{Op: "validate config", Kind: IOError, Err: err}
	}
	fi, err := os.Stat(resolved)
	if err != nil {
		return "", &Error{Op: "validate config", Kind: IOError, Err: err}
	}
	if !fi.IsDir() {
		return "", &Error{Op: "validate config", Kind: IOError, Err: fmt.Errorf("%s is not a directory", dir)}
	}
	return resolved, nil
}

// Each config dir backs exactly one live session. The registry catches the
// second New before two engines fight over the same state directory.
var (
	configDirMu   sync.Mutex
	configDirLive = make(map[string]bool)
)

func claimConfigDir(dir string) error {
	configDirMu.Lock()
	defer configDirMu.Unlock()
	if configDirLive[dir] {
		return &ConfigError{Field: "ConfigDir", Reason: "already in use by a live session"}
	}
	configDirLive[dir] = true
	return nil
}

func releaseConfigDir(dir string) {
	configDirMu.Lock()
	delete(configDirLive, dir)
	configDirMu.Unlock()
}
