package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// SocketEnv overrides Config.Socket when set.
const SocketEnv = "CLAMD_SOCKET"

const (
	defaultSocket         = "/var/run/clamav/clamd.ctl"
	defaultChunkSize      = 4096
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
	defaultLogOutput      = "stderr"
	defaultLogFile        = "~/.local/state/clamav-instream/clamav-instream.log"
	defaultBridgeListen   = "unix:///run/clamav-instream/bridge.sock"
	defaultBridgeLockFile = "~/.local/state/clamav-instream/bridge.lock"
	defaultMaxMessageSize = 4 * 1024 * 1024
)

// Logging contains log output configuration.
type Logging struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	Output     string `toml:"output"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Bridge contains configuration for the gRPC bridge.
type Bridge struct {
	Listen         string `toml:"listen"`
	LockFile       string `toml:"lock_file"`
	MaxMessageSize int    `toml:"max_message_size"`
}

// Config is the root configuration.
type Config struct {
	Socket         string  `toml:"socket"`
	ChunkSize      int     `toml:"chunk_size"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	Logging        Logging `toml:"logging"`
	Bridge         Bridge  `toml:"bridge"`
}

// Default returns a Config populated with defaults.
func Default() Config {
	return Config{
		Socket:    defaultSocket,
		ChunkSize: defaultChunkSize,
		Logging: Logging{
			Level:      defaultLogLevel,
			Format:     defaultLogFormat,
			Output:     defaultLogOutput,
			File:       defaultLogFile,
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Bridge: Bridge{
			Listen:         defaultBridgeListen,
			LockFile:       defaultBridgeLockFile,
			MaxMessageSize: defaultMaxMessageSize,
		},
	}
}

// Load reads configuration from path, or from the default locations when
// path is empty. It returns the config, the resolved path, and whether a
// file existed there.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if socket, ok := os.LookupEnv(SocketEnv); ok && strings.TrimSpace(socket) != "" {
		cfg.Socket = socket
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("clamav-instream.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// DefaultPath returns the per-user config file location.
func DefaultPath() (string, error) {
	return expandPath("~/.config/clamav-instream/config.toml")
}

// Timeout returns the per-scan deadline, zero when disabled.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Encode renders the effective configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}

func (c *Config) normalize() error {
	c.Socket = strings.TrimSpace(c.Socket)
	var err error
	if c.Socket, err = expandPath(c.Socket); err != nil {
		return fmt.Errorf("socket: %w", err)
	}

	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" || c.Logging.Format == "console" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Output = strings.ToLower(strings.TrimSpace(c.Logging.Output))
	if c.Logging.Output == "" {
		c.Logging.Output = defaultLogOutput
	}
	if c.Logging.File, err = expandPath(c.Logging.File); err != nil {
		return fmt.Errorf("logging.file: %w", err)
	}

	c.Bridge.Listen = strings.TrimSpace(c.Bridge.Listen)
	if c.Bridge.LockFile, err = expandPath(c.Bridge.LockFile); err != nil {
		return fmt.Errorf("bridge.lock_file: %w", err)
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && pathValue[1] == '/' {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath applies the tilde and absolute-path rules used for config values.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to path.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
