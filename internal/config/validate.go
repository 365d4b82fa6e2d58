package config

import (
	"errors"
	"fmt"
	"math"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if c.Socket == "" {
		return errors.New("socket must be set")
	}
	if c.ChunkSize <= 0 || int64(c.ChunkSize) > math.MaxUint32 {
		return fmt.Errorf("chunk_size must be between 1 and %d", uint32(math.MaxUint32))
	}
	if c.TimeoutSeconds < 0 {
		return errors.New("timeout_seconds must not be negative")
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return c.validateBridge()
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format: unsupported format %q", c.Logging.Format)
	}
	switch c.Logging.Output {
	case "stdout", "stderr":
	case "file":
		if c.Logging.File == "" {
			return errors.New("logging.file must be set when logging.output is file")
		}
	default:
		return fmt.Errorf("logging.output: unsupported output %q", c.Logging.Output)
	}
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxBackups < 0 || c.Logging.MaxAgeDays < 0 {
		return errors.New("logging rotation limits must not be negative")
	}
	return nil
}

func (c *Config) validateBridge() error {
	if c.Bridge.Listen == "" {
		return errors.New("bridge.listen must be set")
	}
	if c.Bridge.MaxMessageSize <= 0 {
		return errors.New("bridge.max_message_size must be positive")
	}
	return nil
}
