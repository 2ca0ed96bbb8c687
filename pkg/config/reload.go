// Package config provides configuration management for the overlay node.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ReloadableConfig wraps a Config with hot reload capabilities
type ReloadableConfig struct {
	mu              sync.RWMutex
	config          *Config
	configPath      string
	lastModTime     time.Time
	reloadCallbacks []ReloadCallback
	logger          *slog.Logger
	stopCh          chan struct{}
	doneCh          chan struct{}
}

// ReloadCallback is called when configuration is successfully reloaded
// It receives the old and new configuration for comparison
type ReloadCallback func(oldConfig, newConfig *Config) error

// ReloadableFields lists which configuration fields support hot reload without
// a process restart. Fields absent from this map affect connections or paths
// already in flight (the link layer's session parameters, the data directory,
// the listen address) and require a restart to take effect.
var ReloadableFields = map[string]bool{
	"LogLevel":                true,
	"EnableMetrics":           true,
	"MinConnectedRouters":     true,
	"MaxConnectedRouters":     true,
	"StrictConnectList":       true,
	"Blacklist":               true,
	"PublishInterval":         true,
	"RetryCooldown":           true,
	"LookupCooldown":          true,
	"MinIntroLookupEndpoints": true,
	"MaxIntroLookupEndpoints": true,
}

// NewReloadableConfig creates a new reloadable configuration
func NewReloadableConfig(config *Config, configPath string, logger *slog.Logger) *ReloadableConfig {
	if logger == nil {
		logger = slog.Default()
	}

	var modTime time.Time
	if configPath != "" {
		if info, err := os.Stat(configPath); err == nil {
			modTime = info.ModTime()
		}
	}

	return &ReloadableConfig{
		config:          config,
		configPath:      configPath,
		lastModTime:     modTime,
		reloadCallbacks: make([]ReloadCallback, 0),
		logger:          logger,
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
}

// Get returns a copy of the current configuration (thread-safe)
func (rc *ReloadableConfig) Get() *Config {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	cfg := *rc.config
	return &cfg
}

// OnReload registers a callback to be called when configuration is reloaded
func (rc *ReloadableConfig) OnReload(callback ReloadCallback) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.reloadCallbacks = append(rc.reloadCallbacks, callback)
}

// StartWatcher starts watching the configuration file for changes
// It checks for modifications every interval and reloads if the file changed
func (rc *ReloadableConfig) StartWatcher(ctx context.Context, interval time.Duration) {
	if rc.configPath == "" {
		rc.logger.Warn("configuration hot reload disabled: no config file specified")
		close(rc.doneCh)
		return
	}

	rc.logger.Info("starting configuration file watcher",
		"path", rc.configPath,
		"interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(rc.doneCh)

	for {
		select {
		case <-ctx.Done():
			rc.logger.Info("configuration watcher stopped: context cancelled")
			return
		case <-rc.stopCh:
			rc.logger.Info("configuration watcher stopped")
			return
		case <-ticker.C:
			if err := rc.checkAndReload(); err != nil {
				rc.logger.Error("failed to reload configuration",
					"error", err,
					"path", rc.configPath)
			}
		}
	}
}

// Stop stops the configuration watcher
func (rc *ReloadableConfig) Stop() {
	close(rc.stopCh)
	<-rc.doneCh
}

// checkAndReload checks if the config file has changed and reloads if necessary
func (rc *ReloadableConfig) checkAndReload() error {
	info, err := os.Stat(rc.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			rc.logger.Warn("configuration file disappeared", "path", rc.configPath)
			return nil
		}
		return fmt.Errorf("stat config file: %w", err)
	}

	modTime := info.ModTime()
	if !modTime.After(rc.lastModTime) {
		return nil
	}

	rc.logger.Info("configuration file changed, reloading",
		"path", rc.configPath,
		"old_mod_time", rc.lastModTime,
		"new_mod_time", modTime)

	newConfig, err := rc.loadConfigFile()
	if err != nil {
		return fmt.Errorf("load config file: %w", err)
	}

	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := rc.applyConfig(newConfig); err != nil {
		return fmt.Errorf("apply config: %w", err)
	}

	rc.lastModTime = modTime

	rc.logger.Info("configuration reloaded successfully", "path", rc.configPath)
	return nil
}

// Reload explicitly reloads configuration from the file
func (rc *ReloadableConfig) Reload() error {
	if rc.configPath == "" {
		return fmt.Errorf("no configuration file specified")
	}

	rc.logger.Info("manually reloading configuration", "path", rc.configPath)

	newConfig, err := rc.loadConfigFile()
	if err != nil {
		return fmt.Errorf("load config file: %w", err)
	}

	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := rc.applyConfig(newConfig); err != nil {
		return fmt.Errorf("apply config: %w", err)
	}

	if info, err := os.Stat(rc.configPath); err == nil {
		rc.lastModTime = info.ModTime()
	}

	rc.logger.Info("configuration reloaded successfully", "path", rc.configPath)
	return nil
}

// loadConfigFile loads configuration from the file
func (rc *ReloadableConfig) loadConfigFile() (*Config, error) {
	newConfig := DefaultConfig()

	ext := filepath.Ext(rc.configPath)
	switch ext {
	case ".conf", "":
		if err := LoadFromFile(rc.configPath, newConfig); err != nil {
			return nil, err
		}
		return newConfig, nil
	default:
		return nil, fmt.Errorf("unsupported config file extension: %s", ext)
	}
}

// applyConfig applies the new configuration, merging reloadable fields
func (rc *ReloadableConfig) applyConfig(newConfig *Config) error {
	rc.mu.Lock()
	oldConfig := rc.config

	mergedConfig := rc.mergeReloadableFields(oldConfig, newConfig)

	tempConfig := mergedConfig
	rc.mu.Unlock()

	for _, callback := range rc.reloadCallbacks {
		if err := callback(oldConfig, tempConfig); err != nil {
			rc.logger.Error("reload callback failed, rolling back",
				"error", err)
			return fmt.Errorf("reload callback failed: %w", err)
		}
	}

	rc.mu.Lock()
	rc.config = tempConfig
	rc.mu.Unlock()

	rc.logReloadedFields(oldConfig, tempConfig)
	return nil
}

// mergeReloadableFields creates a new config with only reloadable fields updated
func (rc *ReloadableConfig) mergeReloadableFields(oldConfig, newConfig *Config) *Config {
	merged := *oldConfig

	if ReloadableFields["LogLevel"] {
		merged.LogLevel = newConfig.LogLevel
	}
	if ReloadableFields["EnableMetrics"] {
		merged.EnableMetrics = newConfig.EnableMetrics
	}
	if ReloadableFields["MinConnectedRouters"] {
		merged.MinConnectedRouters = newConfig.MinConnectedRouters
	}
	if ReloadableFields["MaxConnectedRouters"] {
		merged.MaxConnectedRouters = newConfig.MaxConnectedRouters
	}
	if ReloadableFields["StrictConnectList"] {
		merged.StrictConnectList = append([]string{}, newConfig.StrictConnectList...)
	}
	if ReloadableFields["Blacklist"] {
		merged.Blacklist = append([]string{}, newConfig.Blacklist...)
	}
	if ReloadableFields["PublishInterval"] {
		merged.PublishInterval = newConfig.PublishInterval
	}
	if ReloadableFields["RetryCooldown"] {
		merged.RetryCooldown = newConfig.RetryCooldown
	}
	if ReloadableFields["LookupCooldown"] {
		merged.LookupCooldown = newConfig.LookupCooldown
	}
	if ReloadableFields["MinIntroLookupEndpoints"] {
		merged.MinIntroLookupEndpoints = newConfig.MinIntroLookupEndpoints
	}
	if ReloadableFields["MaxIntroLookupEndpoints"] {
		merged.MaxIntroLookupEndpoints = newConfig.MaxIntroLookupEndpoints
	}

	return &merged
}

// logReloadedFields logs which fields were changed
func (rc *ReloadableConfig) logReloadedFields(oldConfig, newConfig *Config) {
	changes := make([]string, 0)

	if oldConfig.LogLevel != newConfig.LogLevel {
		changes = append(changes, fmt.Sprintf("LogLevel: %s -> %s", oldConfig.LogLevel, newConfig.LogLevel))
	}
	if oldConfig.MinConnectedRouters != newConfig.MinConnectedRouters {
		changes = append(changes, fmt.Sprintf("MinConnectedRouters: %d -> %d", oldConfig.MinConnectedRouters, newConfig.MinConnectedRouters))
	}
	if oldConfig.MaxConnectedRouters != newConfig.MaxConnectedRouters {
		changes = append(changes, fmt.Sprintf("MaxConnectedRouters: %d -> %d", oldConfig.MaxConnectedRouters, newConfig.MaxConnectedRouters))
	}
	if oldConfig.PublishInterval != newConfig.PublishInterval {
		changes = append(changes, fmt.Sprintf("PublishInterval: %v -> %v", oldConfig.PublishInterval, newConfig.PublishInterval))
	}
	if len(oldConfig.Blacklist) != len(newConfig.Blacklist) {
		changes = append(changes, fmt.Sprintf("Blacklist: %d -> %d entries", len(oldConfig.Blacklist), len(newConfig.Blacklist)))
	}

	if len(changes) > 0 {
		rc.logger.Info("configuration fields updated",
			"changes", changes,
			"count", len(changes))
	}
}
