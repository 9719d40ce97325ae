package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all application configuration
type Config struct {
	ListenAddress string    `json:"listenAddress"`
	DataDir       string    `json:"dataDir"`
	DatabasePath  string    `json:"databasePath"`
	Remote        Remote    `json:"remote"`
	Sync          Sync      `json:"sync"`
	Authority     Authority `json:"authority"`
}

// Remote configures the connection to the remote authority
type Remote struct {
	BaseURL  string `json:"baseUrl"`
	APIToken string `json:"apiToken"`
}

// Sync configures the sync engine
type Sync struct {
	IntervalMinutes int `json:"intervalMinutes"`
	TimeoutSeconds  int `json:"timeoutSeconds"`
	MaxRetries      int `json:"maxRetries"`
}

// Authority configures the authority server binary
type Authority struct {
	ListenAddress string `json:"listenAddress"`
	DatabasePath  string `json:"databasePath"`
	DatabaseURL   string `json:"databaseUrl"`
	APIKeyHash    string `json:"apiKeyHash"`
}

// UsePostgres returns true if the authority should use PostgreSQL
func (a *Authority) UsePostgres() bool {
	return a.DatabaseURL != ""
}

// Default configuration
func defaultConfig() *Config {
	return &Config{
		ListenAddress: "127.0.0.1:7420",
		DataDir:       "./data",
		DatabasePath:  "",
		Remote: Remote{
			BaseURL: "http://localhost:7421",
		},
		Sync: Sync{
			IntervalMinutes: 5,
			TimeoutSeconds:  30,
			MaxRetries:      5,
		},
		Authority: Authority{
			ListenAddress: ":7421",
			DatabasePath:  "authority.db",
		},
	}
}

// Load loads configuration from file or environment
func Load() (*Config, error) {
	cfg := defaultConfig()

	// Try to load from config file
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	// Override from environment variables
	if addr := os.Getenv("LISTEN_ADDRESS"); addr != "" {
		cfg.ListenAddress = addr
	}
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	if baseURL := os.Getenv("REMOTE_BASE_URL"); baseURL != "" {
		cfg.Remote.BaseURL = baseURL
	}
	if token := os.Getenv("REMOTE_API_TOKEN"); token != "" {
		cfg.Remote.APIToken = token
	}
	if interval := os.Getenv("SYNC_INTERVAL_MINUTES"); interval != "" {
		if minutes, err := strconv.Atoi(interval); err == nil && minutes > 0 {
			cfg.Sync.IntervalMinutes = minutes
		}
	}
	if timeout := os.Getenv("SYNC_TIMEOUT_SECONDS"); timeout != "" {
		if seconds, err := strconv.Atoi(timeout); err == nil && seconds > 0 {
			cfg.Sync.TimeoutSeconds = seconds
		}
	}
	if retries := os.Getenv("SYNC_MAX_RETRIES"); retries != "" {
		if n, err := strconv.Atoi(retries); err == nil && n > 0 {
			cfg.Sync.MaxRetries = n
		}
	}
	if addr := os.Getenv("AUTHORITY_LISTEN_ADDRESS"); addr != "" {
		cfg.Authority.ListenAddress = addr
	}
	if dbPath := os.Getenv("AUTHORITY_DATABASE_PATH"); dbPath != "" {
		cfg.Authority.DatabasePath = dbPath
	}
	if dbURL := os.Getenv("AUTHORITY_DATABASE_URL"); dbURL != "" {
		cfg.Authority.DatabaseURL = dbURL
	}
	if hash := os.Getenv("AUTHORITY_API_KEY_HASH"); hash != "" {
		cfg.Authority.APIKeyHash = hash
	}

	// Ensure the data directory exists
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, err
	}

	// Make data dir absolute and derive the database path inside it
	absDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	cfg.DataDir = absDir
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(cfg.DataDir, "logbook.db")
	}

	return cfg, nil
}
