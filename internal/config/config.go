package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration
type Config struct {
	ServerAddress string   `json:"serverAddress"`
	DatabasePath  string   `json:"databasePath"`
	DatabaseURL   string   `json:"databaseUrl"`
	API           API      `json:"api"`
	Push          Push     `json:"push"`
	Tracking      Tracking `json:"tracking"`
	Security      Security `json:"security"`
	SMTP          SMTP     `json:"smtp"`
}

// API configures the external tracking service client
type API struct {
	BaseURL        string `json:"baseUrl"`
	Token          string `json:"token"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

// Push configures the push-messaging channel
type Push struct {
	URL                     string `json:"url"`
	HandshakeTimeoutSeconds int    `json:"handshakeTimeoutSeconds"`
	HeartbeatSeconds        int    `json:"heartbeatSeconds"`
	RetryDelaySeconds       int    `json:"retryDelaySeconds"`
	MaxRetries              int    `json:"maxRetries"`
}

// Tracking configures the sync pipeline
type Tracking struct {
	UserID                string `json:"userId"`
	LocalDeviceID         string `json:"localDeviceId"`
	ShowTrails            bool   `json:"showTrails"`
	SweepIntervalSeconds  int    `json:"sweepIntervalSeconds"`
	ReportIntervalSeconds int    `json:"reportIntervalSeconds"`
	LocateURL             string `json:"locateUrl"`
}

// Security configures the dashboard API
type Security struct {
	APIKey       string `json:"apiKey"`
	APIKeyHeader string `json:"apiKeyHeader"`
}

// SMTP configures offline-device alerting; alerting is disabled when
// Host is empty
type SMTP struct {
	Host       string   `json:"host"`
	Port       int      `json:"port"`
	Sender     string   `json:"sender"`
	Password   string   `json:"password"`
	Recipients []string `json:"recipients"`
}

// UsePostgres returns true if PostgreSQL should be used for the cache
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// Default configuration
func defaultConfig() *Config {
	return &Config{
		ServerAddress: ":5100",
		DatabasePath:  "tracker.db",
		API: API{
			BaseURL:        "http://localhost:4000/api",
			TimeoutSeconds: 30,
		},
		Push: Push{
			URL:                     "ws://localhost:4000/ws",
			HandshakeTimeoutSeconds: 10,
			HeartbeatSeconds:        30,
			RetryDelaySeconds:       5,
			MaxRetries:              5,
		},
		Tracking: Tracking{
			ShowTrails:            true,
			SweepIntervalSeconds:  30,
			ReportIntervalSeconds: 60,
		},
		Security: Security{
			APIKeyHeader: "X-API-Key",
		},
		SMTP: SMTP{
			Port: 587,
		},
	}
}

// Load loads configuration from file or environment
func Load() (*Config, error) {
	cfg := defaultConfig()

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
	if addr := os.Getenv("SERVER_ADDRESS"); addr != "" {
		cfg.ServerAddress = addr
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.DatabaseURL = dbURL
	}
	if baseURL := os.Getenv("TRACKING_API_URL"); baseURL != "" {
		cfg.API.BaseURL = baseURL
	}
	if token := os.Getenv("TRACKING_API_TOKEN"); token != "" {
		cfg.API.Token = token
	}
	if pushURL := os.Getenv("TRACKING_PUSH_URL"); pushURL != "" {
		cfg.Push.URL = pushURL
	}
	if userID := os.Getenv("TRACKING_USER_ID"); userID != "" {
		cfg.Tracking.UserID = userID
	}
	if deviceID := os.Getenv("TRACKING_DEVICE_ID"); deviceID != "" {
		cfg.Tracking.LocalDeviceID = deviceID
	}
	if trails := os.Getenv("TRACKING_SHOW_TRAILS"); trails != "" {
		cfg.Tracking.ShowTrails = trails == "true" || trails == "1"
	}
	if apiKey := os.Getenv("API_KEY"); apiKey != "" {
		cfg.Security.APIKey = apiKey
	}
	if interval := os.Getenv("TRACKING_REPORT_INTERVAL_SECONDS"); interval != "" {
		if secs, err := strconv.Atoi(interval); err == nil && secs > 0 {
			cfg.Tracking.ReportIntervalSeconds = secs
		}
	}
	if host := os.Getenv("SMTP_HOST"); host != "" {
		cfg.SMTP.Host = host
	}
	if recipients := os.Getenv("SMTP_RECIPIENTS"); recipients != "" {
		cfg.SMTP.Recipients = strings.Split(recipients, ",")
	}

	return cfg, nil
}
