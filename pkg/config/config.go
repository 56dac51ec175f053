// Package config persists the application settings document and notifies
// observers when it changes, either through Save or through external edits
// of the file on disk.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lanyeeee/picacomic-downloader/pkg/data"
)

// ProxyType selects the proxy protocol.
type ProxyType string

const (
	ProxyHTTP   ProxyType = "Http"
	ProxySocks5 ProxyType = "Socks5"
)

// Proxy is the optional outbound proxy applied at client construction.
type Proxy struct {
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	ProxyType ProxyType `json:"proxyType"`
}

// Config is the settings document. It is stored as a single JSON file named
// config.json under the per-user application data directory.
type Config struct {
	Token                           string              `json:"token"`
	DownloadDir                     string              `json:"downloadDir"`
	ComicDirNameFmt                 string              `json:"comicDirNameFmt"`
	ChapterDirNameFmt               string              `json:"chapterDirNameFmt"`
	DownloadFormat                  data.DownloadFormat `json:"downloadFormat"`
	ChapterConcurrency              int                 `json:"chapterConcurrency"`
	ImgConcurrency                  int                 `json:"imgConcurrency"`
	ChapterDownloadIntervalSec      int                 `json:"chapterDownloadIntervalSec"`
	ImgDownloadIntervalSec          int                 `json:"imgDownloadIntervalSec"`
	DownloadAllFavoritesIntervalSec int                 `json:"downloadAllFavoritesIntervalSec"`
	Proxy                           *Proxy              `json:"proxy,omitempty"`
	EnableFileLogger                bool                `json:"enableFileLogger"`

	// extra preserves fields this build does not recognize so that a
	// rewrite never destroys settings written by a newer build.
	extra map[string]json.RawMessage
}

// Default returns the document used when no config file exists yet.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		DownloadDir:                     filepath.Join(home, "Downloads", "picacomic"),
		ComicDirNameFmt:                 "[{author}] {comic_title}",
		ChapterDirNameFmt:               "{order} - {chapter_title}",
		DownloadFormat:                  data.FormatJpeg,
		ChapterConcurrency:              3,
		ImgConcurrency:                  10,
		ChapterDownloadIntervalSec:      0,
		ImgDownloadIntervalSec:          0,
		DownloadAllFavoritesIntervalSec: 3,
		EnableFileLogger:                false,
	}
}

// Validate rejects documents the engine cannot run with.
func (c *Config) Validate() error {
	if c.ChapterConcurrency < 1 {
		return fmt.Errorf("chapterConcurrency must be >= 1, got %d", c.ChapterConcurrency)
	}
	if c.ImgConcurrency < 1 {
		return fmt.Errorf("imgConcurrency must be >= 1, got %d", c.ImgConcurrency)
	}
	if c.ChapterDownloadIntervalSec < 0 || c.ImgDownloadIntervalSec < 0 || c.DownloadAllFavoritesIntervalSec < 0 {
		return fmt.Errorf("download intervals must be non-negative")
	}
	if !c.DownloadFormat.Valid() {
		return fmt.Errorf("unknown download format %q", c.DownloadFormat)
	}
	if c.Proxy != nil && c.Proxy.ProxyType != ProxyHTTP && c.Proxy.ProxyType != ProxySocks5 {
		return fmt.Errorf("unknown proxy type %q", c.Proxy.ProxyType)
	}
	return nil
}

// knownKeys are the JSON fields Config itself owns; everything else in the
// file round-trips through extra.
var knownKeys = map[string]struct{}{
	"token": {}, "downloadDir": {}, "comicDirNameFmt": {}, "chapterDirNameFmt": {},
	"downloadFormat": {}, "chapterConcurrency": {}, "imgConcurrency": {},
	"chapterDownloadIntervalSec": {}, "imgDownloadIntervalSec": {},
	"downloadAllFavoritesIntervalSec": {}, "proxy": {}, "enableFileLogger": {},
}

// UnmarshalJSON fills missing fields with defaults and stashes unknown ones.
func (c *Config) UnmarshalJSON(raw []byte) error {
	type plain Config
	doc := plain(Default())
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	*c = Config(doc)

	var all map[string]json.RawMessage
	if err := json.Unmarshal(raw, &all); err != nil {
		return err
	}
	for key := range all {
		if _, known := knownKeys[key]; known {
			delete(all, key)
		}
	}
	if len(all) > 0 {
		c.extra = all
	}
	return nil
}

// MarshalJSON merges the recognized fields with the preserved unknown ones.
func (c Config) MarshalJSON() ([]byte, error) {
	type plain Config
	raw, err := json.Marshal(plain(c))
	if err != nil {
		return nil, err
	}
	if len(c.extra) == 0 {
		return raw, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(raw, &merged); err != nil {
		return nil, err
	}
	for key, value := range c.extra {
		merged[key] = value
	}
	return json.Marshal(merged)
}

// DefaultPath returns the conventional location of config.json.
func DefaultPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(base, "picacomic-downloader", "config.json"), nil
}
