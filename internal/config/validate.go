package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateRemote(); err != nil {
		return err
	}
	if err := c.validateRetries(); err != nil {
		return err
	}
	if err := c.validateDownload(); err != nil {
		return err
	}
	if err := c.validateHistory(); err != nil {
		return err
	}
	return nil
}

// RequireFolders reports an error when no monitored folders are configured.
// Only commands that run sync cycles need folders.
func (c *Config) RequireFolders() error {
	if len(c.Folders) == 0 {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/vidrelay/config.toml"
		}
		return fmt.Errorf("no monitored folders configured; add a [[folders]] entry to %s (create with 'vidrelay config init')", defaultPath)
	}
	return nil
}

func (c *Config) validateRemote() error {
	parsed, err := url.Parse(c.Remote.BaseURL)
	if err != nil {
		return fmt.Errorf("remote.base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("remote.base_url must use http or https, got %q", c.Remote.BaseURL)
	}
	if parsed.Host == "" {
		return fmt.Errorf("remote.base_url must include a host, got %q", c.Remote.BaseURL)
	}
	return nil
}

func (c *Config) validateRetries() error {
	if c.Upload.MaxRetries < 0 {
		return errors.New("upload.max_retries must not be negative")
	}
	if c.Download.MaxRetries < 0 {
		return errors.New("download.max_retries must not be negative")
	}
	return nil
}

func (c *Config) validateDownload() error {
	subdir := c.Download.OutputSubdir
	if subdir == "" {
		// Downloads would land on top of the source videos.
		return errors.New("download.output_subdir must not be empty")
	}
	if subdir == "." || subdir == ".." || strings.ContainsAny(subdir, "/\\") {
		return fmt.Errorf("download.output_subdir must be a single directory name, got %q", subdir)
	}
	return nil
}

func (c *Config) validateHistory() error {
	switch c.History.Backend {
	case BackendJSON, BackendSQLite:
		return nil
	default:
		return fmt.Errorf("history.backend must be %q or %q, got %q", BackendJSON, BackendSQLite, c.History.Backend)
	}
}
