// Package config loads application configuration from environment variables
// and manages the persisted media-directory list.
package config

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"media-library/internal/logging"
)

// Config holds all application configuration. The media-directory list is
// mutable at runtime through the config API; everything else is fixed at
// startup.
type Config struct {
	Port      string
	DataDir   string
	DBPath    string
	HookToken string

	ThumbWidth       int
	ThumbFormat      string
	ThumbQuality     int
	ThumbConcurrency int

	VThumbWidth       int
	VThumbFormat      string
	VThumbQuality     int
	VThumbTimeSec     float64
	VThumbConcurrency int

	// DirMtimeOpt skips rescanning directory roots whose recorded mtime is
	// unchanged. Off by default: root mtime does not change when files in
	// subdirectories change.
	DirMtimeOpt bool

	// FromEnv is true when the media directories came from the environment;
	// runtime changes are then not persisted and are lost on restart.
	FromEnv bool

	mu        sync.RWMutex
	mediaDirs []string

	// Derived paths
	ThumbDir  string
	VThumbDir string
}

// DefaultMediaDirs is the suggestion shown by the setup UI when no media
// directory is configured yet.
var DefaultMediaDirs = []string{"/media"}

// persistedConfig is the shape of dataDir/config.json.
type persistedConfig struct {
	MediaDirs []string `json:"mediaDirs"`
}

// Load reads configuration from the environment, resolves and creates the
// data directories, and restores the persisted media-directory list when the
// environment does not provide one.
func Load() (*Config, error) {
	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")

	port := getEnv("PORT", "8080")
	dataDir := getEnv("DATA_DIR", "./data")
	hookToken := getEnv("HOOK_TOKEN", "")

	dataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := getEnv("INDEX_DB_PATH", filepath.Join(dataDir, "index.db"))

	cfg := &Config{
		Port:      port,
		DataDir:   dataDir,
		DBPath:    dbPath,
		HookToken: hookToken,

		ThumbWidth:       getEnvInt("THUMB_WIDTH", 480),
		ThumbFormat:      getEnv("THUMB_FORMAT", "webp"),
		ThumbQuality:     getEnvInt("THUMB_QUALITY", 80),
		ThumbConcurrency: getEnvInt("THUMB_CONCURRENCY", 0),

		VThumbWidth:       getEnvInt("VTHUMB_WIDTH", 480),
		VThumbFormat:      getEnv("VTHUMB_FORMAT", "jpg"),
		VThumbQuality:     getEnvInt("VTHUMB_QUALITY", 80),
		VThumbTimeSec:     getEnvFloat("VTHUMB_TIME_SEC", 1.0),
		VThumbConcurrency: getEnvInt("VTHUMB_CONCURRENCY", 0),

		DirMtimeOpt: getEnvBool("INDEX_DIR_MTIME_OPT", false),

		ThumbDir:  filepath.Join(dataDir, "thumbs"),
		VThumbDir: filepath.Join(dataDir, "vthumbs"),
	}

	for _, dir := range []string{cfg.ThumbDir, cfg.VThumbDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create thumbnail directory %s: %w", dir, err)
		}
	}

	// MEDIA_DIRS (';'-separated) wins over the single-dir MEDIA_DIR form;
	// either makes the list environment-owned.
	if raw := getEnv("MEDIA_DIRS", getEnv("MEDIA_DIR", "")); raw != "" {
		dirs, err := canonicalDirs(splitDirs(raw))
		if err != nil {
			return nil, err
		}
		cfg.mediaDirs = dirs
		cfg.FromEnv = true
	} else if err := cfg.restore(); err != nil {
		logging.Warn("  Failed to restore media directories: %v", err)
	}

	logging.Info("  PORT:              %s", port)
	logging.Info("  DATA_DIR:          %s", dataDir)
	logging.Info("  INDEX_DB_PATH:     %s", dbPath)
	logging.Info("  MEDIA_DIRS:        %s (from env: %v)", strings.Join(cfg.mediaDirs, ";"), cfg.FromEnv)
	logging.Info("  HOOK_TOKEN:        %s", maskSecret(hookToken))
	logging.Info("  THUMB:             %dpx %s q%d", cfg.ThumbWidth, cfg.ThumbFormat, cfg.ThumbQuality)
	logging.Info("  VTHUMB:            %dpx %s @%.1fs", cfg.VThumbWidth, cfg.VThumbFormat, cfg.VThumbTimeSec)
	logging.Info("  LOG_LEVEL:         %s", logging.GetLevel())

	return cfg, nil
}

// MediaDirs returns a copy of the configured media directories.
func (c *Config) MediaDirs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.mediaDirs...)
}

// SetMediaDirs validates and installs a new media-directory list. Paths must
// be absolute; nonexistent directories are accepted and skipped by scans
// until they appear.
// Unless the list is environment-owned it is persisted to dataDir/config.json.
func (c *Config) SetMediaDirs(dirs []string) error {
	canonical, err := canonicalDirs(dirs)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.mediaDirs = canonical
	c.mu.Unlock()

	if c.FromEnv {
		logging.Warn("Media directories set via environment; runtime change will not survive a restart")
		return nil
	}
	return c.persist()
}

// canonicalDirs rejects relative paths and normalizes the rest, dropping
// duplicates while preserving order.
func canonicalDirs(dirs []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool, len(dirs))
	for _, dir := range dirs {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			continue
		}
		if !filepath.IsAbs(dir) {
			return nil, fmt.Errorf("media directory must be an absolute path: %s", dir)
		}
		dir = filepath.Clean(dir)
		if seen[dir] {
			continue
		}
		seen[dir] = true
		out = append(out, dir)
	}
	return out, nil
}

func splitDirs(raw string) []string {
	return strings.Split(raw, ";")
}

func (c *Config) configPath() string {
	return filepath.Join(c.DataDir, "config.json")
}

func (c *Config) persist() error {
	c.mu.RLock()
	data, err := json.MarshalIndent(persistedConfig{MediaDirs: c.mediaDirs}, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return err
	}

	// Write-then-rename so a crash never leaves a truncated config.
	tmp := c.configPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.configPath())
}

func (c *Config) restore() error {
	data, err := os.ReadFile(c.configPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var persisted persistedConfig
	if err := json.Unmarshal(data, &persisted); err != nil {
		return fmt.Errorf("invalid config.json: %w", err)
	}

	dirs, err := canonicalDirs(persisted.MediaDirs)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.mediaDirs = dirs
	c.mu.Unlock()
	return nil
}

// DirID returns the stable identifier of a media directory: the SHA-1 of its
// cleaned absolute path. Directory identity survives restarts and list
// reordering.
func DirID(path string) string {
	sum := sha1.Sum([]byte(filepath.Clean(path)))
	return hex.EncodeToString(sum[:])
}

func maskSecret(s string) string {
	if s == "" {
		return "(unset)"
	}
	return "(set)"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
		logging.Warn("  Invalid %s, using default: %d", key, defaultValue)
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
		logging.Warn("  Invalid %s, using default: %g", key, defaultValue)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
		logging.Warn("  Invalid %s, using default: %v", key, defaultValue)
	}
	return defaultValue
}
