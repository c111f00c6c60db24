package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" yaml:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases" yaml:"databases"`
	Redis       RedisConfig               `json:"redis" yaml:"redis"`
	Providers   map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Reply       ReplyConfig               `json:"reply" yaml:"reply"`
	Storage     StorageConfig             `json:"storage" yaml:"storage"`
	Mood        MoodConfig                `json:"mood" yaml:"mood"`
	Daily       DailyConfig               `json:"daily" yaml:"daily"`
	Auth        AuthConfig                `json:"auth" yaml:"auth"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url" yaml:"base_url"`
	Model   string `json:"model" yaml:"model"`
	APIKey  string `json:"api_key" yaml:"api_key"`
}

type BasicConfig struct {
	ServerAddress string   `json:"server_address" yaml:"server_address"`
	Mode          string   `json:"mode" yaml:"mode"`
	CORSOrigins   []string `json:"cors_origins" yaml:"cors_origins"`
	// TokenTTL is expressed in hours.
	TokenTTL int `json:"token_ttl" yaml:"token_ttl"`
	// HistoryLimit bounds the chat transcript loaded at session start.
	HistoryLimit int `json:"history_limit" yaml:"history_limit"`
	// ReplyTimeout is expressed in seconds.
	ReplyTimeout      int `json:"reply_timeout" yaml:"reply_timeout"`
	MinWorkers        int `json:"min_workers" yaml:"min_workers"`
	MaxWorkers        int `json:"max_workers" yaml:"max_workers"`
	QueueSize         int `json:"queue_size" yaml:"queue_size"`
	WorkerIdleTimeout int `json:"worker_idle_timeout" yaml:"worker_idle_timeout"`
	// SweepInterval and SessionIdleTimeout are expressed in minutes.
	SweepInterval      int    `json:"sweep_interval" yaml:"sweep_interval"`
	SessionIdleTimeout int    `json:"session_idle_timeout" yaml:"session_idle_timeout"`
	Timezone           string `json:"timezone" yaml:"timezone"`
	// NightWindow is [start, end) in local hours, e.g. [21, 6].
	NightWindow []int `json:"night_window" yaml:"night_window"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" yaml:"dsn"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DBName   string `json:"db_name" yaml:"db_name"`
	Params   string `json:"params" yaml:"params"`
}

type RedisConfig struct {
	Disabled bool   `json:"disabled" yaml:"disabled"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// ReplyConfig selects how assistant replies are produced.
// Kind "model" calls a chat model in process, "remote" calls hosted functions.
type ReplyConfig struct {
	Kind      string `json:"kind" yaml:"kind"`
	Provider  string `json:"provider" yaml:"provider"`
	RemoteURL string `json:"remote_url" yaml:"remote_url"`
	RemoteKey string `json:"remote_key" yaml:"remote_key"`
}

type StorageConfig struct {
	Backend     string `json:"backend" yaml:"backend"`
	Bucket      string `json:"bucket" yaml:"bucket"`
	Region      string `json:"region" yaml:"region"`
	Endpoint    string `json:"endpoint" yaml:"endpoint"`
	AccessKey   string `json:"access_key" yaml:"access_key"`
	SecretKey   string `json:"secret_key" yaml:"secret_key"`
	Credentials string `json:"credentials_file" yaml:"credentials_file"`
	LocalDir    string `json:"local_dir" yaml:"local_dir"`
	SigningKey  string `json:"signing_key" yaml:"signing_key"`
	PublicURL   string `json:"public_url" yaml:"public_url"`
}

// MoodConfig overrides the keyword table, keyed by mood label.
// Order stays fixed: sad, angry, anxious, happy.
type MoodConfig struct {
	Keywords map[string][]string `json:"keywords" yaml:"keywords"`
}

// DailyConfig overrides the daily rotation. "{nickname}" is substituted.
type DailyConfig struct {
	Birthday  string   `json:"birthday" yaml:"birthday"`
	Templates []string `json:"templates" yaml:"templates"`
}

// AuthConfig names the session cookies. CSRFExempt lists path prefixes
// that skip the double-submit check for cookie sessions.
type AuthConfig struct {
	CookieName     string   `json:"cookie_name" yaml:"cookie_name"`
	CSRFCookieName string   `json:"csrf_cookie_name" yaml:"csrf_cookie_name"`
	CSRFHeader     string   `json:"csrf_header" yaml:"csrf_header"`
	CSRFExempt     []string `json:"csrf_exempt" yaml:"csrf_exempt"`
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	raw, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("decode yaml config: %w", err)
		}
	default:
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	if len(cfg.Databases) == 0 {
		return nil, fmt.Errorf("at least one database must be configured")
	}

	baseDir := filepath.Dir(absPath)
	for name, db := range cfg.Databases {
		if isSQLite(name) && db.DSN != "" && db.DSN != ":memory:" && !strings.HasPrefix(db.DSN, "file:") && !filepath.IsAbs(db.DSN) {
			db.DSN = filepath.Join(baseDir, db.DSN)
			cfg.Databases[name] = db
		}
	}
	if cfg.Storage.LocalDir != "" && !filepath.IsAbs(cfg.Storage.LocalDir) {
		cfg.Storage.LocalDir = filepath.Join(baseDir, cfg.Storage.LocalDir)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills unset fields with development defaults.
func (c *Config) ApplyDefaults() {
	b := &c.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = ":8090"
	}
	if b.TokenTTL <= 0 {
		b.TokenTTL = 24
	}
	if b.HistoryLimit <= 0 {
		b.HistoryLimit = 100
	}
	if b.ReplyTimeout <= 0 {
		b.ReplyTimeout = 30
	}
	if b.MinWorkers <= 0 {
		b.MinWorkers = 1
	}
	if b.MaxWorkers < b.MinWorkers {
		b.MaxWorkers = b.MinWorkers * 4
	}
	if b.QueueSize <= 0 {
		b.QueueSize = 64
	}
	if b.WorkerIdleTimeout <= 0 {
		b.WorkerIdleTimeout = 5
	}
	if b.SweepInterval <= 0 {
		b.SweepInterval = 15
	}
	if b.SessionIdleTimeout <= 0 {
		b.SessionIdleTimeout = 60
	}
	if c.Reply.Kind == "" {
		c.Reply.Kind = "model"
	}
	if c.Reply.Provider == "" {
		c.Reply.Provider = "gemini"
	}
	if p, ok := c.Providers[c.Reply.Provider]; ok && p.Model == "" && c.Reply.Provider == "gemini" {
		p.Model = "gemini-2.5-flash"
		c.Providers[c.Reply.Provider] = p
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "local"
	}
	if c.Storage.Backend == "local" && c.Storage.LocalDir == "" {
		c.Storage.LocalDir = "./data/blobs"
	}
}

func isSQLite(name string) bool {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return true
	}
	return false
}
