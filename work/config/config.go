package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"sync"
	"time"
)

// Default config file location, overridable for tests via LoadConfigFrom.
const DefaultConfigPath = "/settings/config.json"

// Escalation policies for the playback resilience controller. "ladder" walks
// the configured proxy strategy list automatically; "notify" never escalates
// on its own and only surfaces the suggestion to the user.
const (
	EscalationLadder = "ladder"
	EscalationNotify = "notify"
)

// Gateway modes. "direct" leaves stream URLs untouched; "edge-optimized"
// rewrites them through the configured gateway base URL.
const (
	GatewayDirect        = "direct"
	GatewayEdgeOptimized = "edge-optimized"
)

// Config holds all runtime configuration for the live TV hub.
type Config struct {
	ListenPort           int           `json:"listenPort"`           // HTTP listen port
	DatabasePath         string        `json:"databasePath"`         // SQLite database file location
	LogLevel             string        `json:"logLevel"`             // DEBUG, INFO, WARN, ERROR
	Debug                bool          `json:"debug"`                // enable verbose debug logging
	ObfuscateUrls        bool          `json:"obfuscateUrls"`        // obfuscate URLs in logs
	UserAgent            string        `json:"userAgent"`            // User-Agent for outbound requests
	ReqOrigin            string        `json:"reqOrigin"`            // Origin header for outbound requests
	ReqReferrer          string        `json:"reqReferrer"`          // Referer header for outbound requests
	WorkerThreads        int           `json:"workerThreads"`        // worker pool size for background tasks
	CacheDuration        time.Duration `json:"cacheDuration"`        // TTL for cached playlist/EPG documents
	CacheMaxBytes        int64         `json:"cacheMaxBytes"`        // byte budget for the document cache
	GuideRefreshInterval time.Duration `json:"guideRefreshInterval"` // periodic EPG refresh interval (0 disables)
	SourceRateLimit      int           `json:"sourceRateLimit"`      // outbound requests per second per source
	SortField            string        `json:"sortField"`            // "" (import order), "name" or "group"
	SortDirection        string        `json:"sortDirection"`        // "asc" or "desc"
	EPGSources           []EPGSource   `json:"epgSources"`           // configured XMLTV feeds
	Gateway              Gateway       `json:"gateway"`              // default gateway settings (store copy wins)
	Playback             Playback      `json:"playback"`             // resilience controller tuning
}

// EPGSource describes one named, regionally scoped XMLTV feed.
type EPGSource struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Region string `json:"region"`
	URL    string `json:"url"`
}

// Gateway describes how outbound stream requests are rewritten.
type Gateway struct {
	Mode    string `json:"mode"`    // "direct" or "edge-optimized"
	BaseURL string `json:"baseURL"` // gateway base URL for edge-optimized mode
	Region  string `json:"region"`  // region tag selecting simulated edge headers
}

// Playback tunes the stream resilience controller.
type Playback struct {
	MaxRetries        int           `json:"maxRetries"`        // in-place retries before escalating
	EscalationPolicy  string        `json:"escalationPolicy"`  // "ladder" or "notify"
	ProxyList         []string      `json:"proxyList"`         // ordered public CORS proxy prefixes
	BufferTarget      time.Duration `json:"bufferTarget"`      // buffered-ahead duration considered healthy
	HealthInterval    time.Duration `json:"healthInterval"`    // buffer health poll interval
	AutoplayAttempts  int           `json:"autoplayAttempts"`  // bounded unmuted autoplay attempts
	StreamTimeout     time.Duration `json:"streamTimeout"`     // per-request timeout for manifest/segment fetches
	SecureOrigin      bool          `json:"secureOrigin"`      // app origin is https (mixed content rules apply)
	WriteBackStrategy bool          `json:"writeBackStrategy"` // persist working strategy onto the channel
}

// ConfigFile mirrors Config for JSON with durations as strings (e.g. "30m").
type ConfigFile struct {
	ListenPort           int          `json:"listenPort"`
	DatabasePath         string       `json:"databasePath"`
	LogLevel             string       `json:"logLevel"`
	Debug                bool         `json:"debug"`
	ObfuscateUrls        bool         `json:"obfuscateUrls"`
	UserAgent            string       `json:"userAgent"`
	ReqOrigin            string       `json:"reqOrigin"`
	ReqReferrer          string       `json:"reqReferrer"`
	WorkerThreads        int          `json:"workerThreads"`
	CacheDuration        string       `json:"cacheDuration"`
	CacheMaxBytes        int64        `json:"cacheMaxBytes"`
	GuideRefreshInterval string       `json:"guideRefreshInterval"`
	SourceRateLimit      int          `json:"sourceRateLimit"`
	SortField            string       `json:"sortField"`
	SortDirection        string       `json:"sortDirection"`
	EPGSources           []EPGSource  `json:"epgSources"`
	Gateway              Gateway      `json:"gateway"`
	Playback             PlaybackFile `json:"playback"`
}

// PlaybackFile mirrors Playback with durations as strings.
type PlaybackFile struct {
	MaxRetries        int      `json:"maxRetries"`
	EscalationPolicy  string   `json:"escalationPolicy"`
	ProxyList         []string `json:"proxyList"`
	BufferTarget      string   `json:"bufferTarget"`
	HealthInterval    string   `json:"healthInterval"`
	AutoplayAttempts  int      `json:"autoplayAttempts"`
	StreamTimeout     string   `json:"streamTimeout"`
	SecureOrigin      bool     `json:"secureOrigin"`
	WriteBackStrategy bool     `json:"writeBackStrategy"`
}

var (
	configCache *Config
	configMutex sync.RWMutex
)

// LoadConfig loads configuration from the default path, caching the result.
// Missing or invalid files fall back to defaults so the server always starts.
func LoadConfig() *Config {
	configMutex.RLock()
	if configCache != nil {
		defer configMutex.RUnlock()
		return configCache
	}
	configMutex.RUnlock()

	configMutex.Lock()
	defer configMutex.Unlock()

	// double-check under write lock
	if configCache != nil {
		return configCache
	}

	cfg, err := LoadConfigFrom(DefaultConfigPath)
	if err != nil {
		cfg = DefaultConfig()
	}
	configCache = cfg
	return configCache
}

// ClearConfigCache drops the cached config so the next LoadConfig re-reads the file.
func ClearConfigCache() {
	configMutex.Lock()
	defer configMutex.Unlock()
	configCache = nil
}

// LoadConfigFrom reads and validates a config file at an explicit path.
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg := &Config{
		ListenPort:           file.ListenPort,
		DatabasePath:         file.DatabasePath,
		LogLevel:             file.LogLevel,
		Debug:                file.Debug,
		ObfuscateUrls:        file.ObfuscateUrls,
		UserAgent:            file.UserAgent,
		ReqOrigin:            file.ReqOrigin,
		ReqReferrer:          file.ReqReferrer,
		WorkerThreads:        file.WorkerThreads,
		CacheDuration:        parseDuration(file.CacheDuration, 30*time.Minute),
		CacheMaxBytes:        file.CacheMaxBytes,
		GuideRefreshInterval: parseDuration(file.GuideRefreshInterval, 0),
		SourceRateLimit:      file.SourceRateLimit,
		SortField:            file.SortField,
		SortDirection:        file.SortDirection,
		EPGSources:           file.EPGSources,
		Gateway:              file.Gateway,
		Playback: Playback{
			MaxRetries:        file.Playback.MaxRetries,
			EscalationPolicy:  file.Playback.EscalationPolicy,
			ProxyList:         file.Playback.ProxyList,
			BufferTarget:      parseDuration(file.Playback.BufferTarget, 15*time.Second),
			HealthInterval:    parseDuration(file.Playback.HealthInterval, 2*time.Second),
			AutoplayAttempts:  file.Playback.AutoplayAttempts,
			StreamTimeout:     parseDuration(file.Playback.StreamTimeout, 30*time.Second),
			SecureOrigin:      file.Playback.SecureOrigin,
			WriteBackStrategy: file.Playback.WriteBackStrategy,
		},
	}

	cfg.validate()
	return cfg, nil
}

// DefaultConfig returns a validated config with all defaults applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.validate()
	return cfg
}

// validate fills unset fields with safe defaults and clamps bad values.
func (c *Config) validate() {
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		c.ListenPort = 7070
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "/data/livetv.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "INFO"
	}
	if c.UserAgent == "" {
		c.UserAgent = "LiveTVHub/1.0"
	}
	if c.WorkerThreads <= 0 {
		c.WorkerThreads = 4
	}
	if c.CacheDuration <= 0 {
		c.CacheDuration = 30 * time.Minute
	}
	if c.CacheMaxBytes <= 0 {
		c.CacheMaxBytes = 64 << 20
	}
	if c.SourceRateLimit <= 0 {
		c.SourceRateLimit = 5
	}
	if c.SortDirection != "desc" {
		c.SortDirection = "asc"
	}
	if c.Gateway.Mode != GatewayEdgeOptimized {
		c.Gateway.Mode = GatewayDirect
	}
	if c.Gateway.Mode == GatewayEdgeOptimized && !validBaseURL(c.Gateway.BaseURL) {
		c.Gateway.Mode = GatewayDirect
	}
	if c.Playback.MaxRetries <= 0 {
		c.Playback.MaxRetries = 3
	}
	if c.Playback.EscalationPolicy != EscalationNotify {
		c.Playback.EscalationPolicy = EscalationLadder
	}
	if c.Playback.BufferTarget <= 0 {
		c.Playback.BufferTarget = 15 * time.Second
	}
	if c.Playback.HealthInterval <= 0 {
		c.Playback.HealthInterval = 2 * time.Second
	}
	if c.Playback.AutoplayAttempts <= 0 {
		c.Playback.AutoplayAttempts = 2
	}
	if c.Playback.StreamTimeout <= 0 {
		c.Playback.StreamTimeout = 30 * time.Second
	}
}

func validBaseURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
