package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig       `yaml:"server"`
	Admin         AdminConfig        `yaml:"admin"`
	Database      DatabaseConfig     `yaml:"database"`
	Backend       BackendConfig      `yaml:"backend"`
	Map           MapConfig          `yaml:"map"`
	Geo           GeoConfig          `yaml:"geo"`
	Log           LogConfig          `yaml:"log"`
	Email         EmailConfig        `yaml:"email"`
	Notifications NotificationConfig `yaml:"notifications"`
}

type ServerConfig struct {
	Port         string          `yaml:"port" env:"PORT"`
	Host         string          `yaml:"host" env:"HOST"`
	Debug        bool            `yaml:"debug" env:"DEBUG"`
	CORSOrigins  []string        `yaml:"cors_origins" env:"CORS_ORIGINS"`
	RateLimiting RateLimitConfig `yaml:"rate_limiting"`
}

type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
}

type AdminConfig struct {
	Username   string        `yaml:"username" env:"ADMIN_USERNAME"`
	Password   string        `yaml:"password" env:"ADMIN_PASSWORD"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

type DatabaseConfig struct {
	Type     string `yaml:"type" env:"DB_TYPE"`
	Host     string `yaml:"host" env:"DB_HOST"`
	Port     string `yaml:"port" env:"DB_PORT"`
	Database string `yaml:"database" env:"DB_NAME"`
	Username string `yaml:"username" env:"DB_USER"`
	Password string `yaml:"password" env:"DB_PASSWORD"`
	SSLMode  string `yaml:"ssl_mode" env:"DB_SSL_MODE"`
}

// BackendConfig points at the visite REST backend
type BackendConfig struct {
	BaseURL string        `yaml:"base_url" env:"API_URL"`
	Token   string        `yaml:"token" env:"API_TOKEN"`
	Timeout time.Duration `yaml:"timeout" env:"API_TIMEOUT"`
}

type MapConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval" env:"MAP_REFRESH_INTERVAL"`
	AutoRefresh     bool          `yaml:"auto_refresh" env:"MAP_AUTO_REFRESH"`
	MaxZoom         int           `yaml:"max_zoom"`
	Palette         []string      `yaml:"palette"`
	ViewportWidth   int           `yaml:"viewport_width"`
	ViewportHeight  int           `yaml:"viewport_height"`
}

// GeoConfig bounds how old a reported GPS fix may be when injected
type GeoConfig struct {
	MaxPositionAge time.Duration `yaml:"max_position_age"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

type EmailConfig struct {
	Enabled bool       `yaml:"enabled" env:"EMAIL_ENABLED"`
	Subject string     `yaml:"subject"`
	SMTP    SMTPConfig `yaml:"smtp"`
}

type SMTPConfig struct {
	Host     string `yaml:"host" env:"SMTP_HOST"`
	Port     int    `yaml:"port" env:"SMTP_PORT"`
	Username string `yaml:"username" env:"SMTP_USERNAME"`
	Password string `yaml:"password" env:"SMTP_PASSWORD"`
	From     string `yaml:"from" env:"SMTP_FROM"`
}

type NotificationConfig struct {
	Ntfy NtfyConfig `yaml:"ntfy"`
}

type NtfyConfig struct {
	Enabled bool   `yaml:"enabled" env:"NTFY_ENABLED"`
	URL     string `yaml:"url" env:"NTFY_URL"`
	Topic   string `yaml:"topic" env:"NTFY_TOPIC"`
	Token   string `yaml:"token" env:"NTFY_TOKEN"`
}

// Load reads configuration from .env, the yaml file and environment
// variables, in increasing order of precedence
func Load(configPath string) (*Config, error) {
	config := &Config{}

	// Set defaults
	config.setDefaults()

	// A missing .env is fine
	_ = godotenv.Load()

	// Read from file if it exists
	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Override with environment variables
	config.loadFromEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) setDefaults() {
	c.Server.Port = "8080"
	c.Server.Host = "0.0.0.0"
	c.Server.Debug = false
	c.Server.CORSOrigins = []string{"*"}
	c.Server.RateLimiting.Enabled = true
	c.Server.RateLimiting.RequestsPerMinute = 120

	c.Admin.SessionTTL = 24 * time.Hour

	c.Database.Type = "sqlite"
	c.Database.Database = "visite-admin.db"
	c.Database.SSLMode = "disable"

	c.Backend.BaseURL = "http://localhost/api"
	c.Backend.Timeout = 30 * time.Second

	c.Map.RefreshInterval = 30 * time.Second
	c.Map.MaxZoom = 15
	c.Map.ViewportWidth = 1024
	c.Map.ViewportHeight = 768

	c.Geo.MaxPositionAge = 5 * time.Minute

	c.Log.Level = "info"
	c.Log.Format = "json"

	c.Email.SMTP.Port = 587
	c.Email.Subject = "Your visit has been recorded"
}

func (c *Config) loadFromEnv() {
	if port := os.Getenv("PORT"); port != "" {
		c.Server.Port = port
	}
	if host := os.Getenv("HOST"); host != "" {
		c.Server.Host = host
	}
	if debug := os.Getenv("DEBUG"); debug == "true" {
		c.Server.Debug = true
	}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		c.Server.CORSOrigins = strings.Split(origins, ",")
	}

	// Admin env vars
	if user := os.Getenv("ADMIN_USERNAME"); user != "" {
		c.Admin.Username = user
	}
	if pass := os.Getenv("ADMIN_PASSWORD"); pass != "" {
		c.Admin.Password = pass
	}

	// Database env vars
	if dbType := os.Getenv("DB_TYPE"); dbType != "" {
		c.Database.Type = dbType
	}
	if dbHost := os.Getenv("DB_HOST"); dbHost != "" {
		c.Database.Host = dbHost
	}
	if dbPort := os.Getenv("DB_PORT"); dbPort != "" {
		c.Database.Port = dbPort
	}
	if dbName := os.Getenv("DB_NAME"); dbName != "" {
		c.Database.Database = dbName
	}
	if dbUser := os.Getenv("DB_USER"); dbUser != "" {
		c.Database.Username = dbUser
	}
	if dbPass := os.Getenv("DB_PASSWORD"); dbPass != "" {
		c.Database.Password = dbPass
	}
	if sslMode := os.Getenv("DB_SSL_MODE"); sslMode != "" {
		c.Database.SSLMode = sslMode
	}

	// Backend env vars. REACT_APP_API_URL is honoured for deployments that
	// share an env file with the web console.
	if apiURL := os.Getenv("REACT_APP_API_URL"); apiURL != "" {
		c.Backend.BaseURL = apiURL
	}
	if apiURL := os.Getenv("API_URL"); apiURL != "" {
		c.Backend.BaseURL = apiURL
	}
	if token := os.Getenv("API_TOKEN"); token != "" {
		c.Backend.Token = token
	}
	if timeout := os.Getenv("API_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			c.Backend.Timeout = d
		}
	}

	// Map env vars
	if interval := os.Getenv("MAP_REFRESH_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			c.Map.RefreshInterval = d
		}
	}
	if auto := os.Getenv("MAP_AUTO_REFRESH"); auto == "true" {
		c.Map.AutoRefresh = true
	}

	// Log env vars
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		c.Log.Format = format
	}

	// Email env vars
	if enabled := os.Getenv("EMAIL_ENABLED"); enabled == "true" {
		c.Email.Enabled = true
	}
	if smtpHost := os.Getenv("SMTP_HOST"); smtpHost != "" {
		c.Email.SMTP.Host = smtpHost
	}
	if smtpPort := os.Getenv("SMTP_PORT"); smtpPort != "" {
		if port, err := strconv.Atoi(smtpPort); err == nil {
			c.Email.SMTP.Port = port
		}
	}
	if smtpUser := os.Getenv("SMTP_USERNAME"); smtpUser != "" {
		c.Email.SMTP.Username = smtpUser
	}
	if smtpPass := os.Getenv("SMTP_PASSWORD"); smtpPass != "" {
		c.Email.SMTP.Password = smtpPass
	}
	if smtpFrom := os.Getenv("SMTP_FROM"); smtpFrom != "" {
		c.Email.SMTP.From = smtpFrom
	}

	// Ntfy env vars
	if ntfyEnabled := os.Getenv("NTFY_ENABLED"); ntfyEnabled == "true" {
		c.Notifications.Ntfy.Enabled = true
	}
	if ntfyURL := os.Getenv("NTFY_URL"); ntfyURL != "" {
		c.Notifications.Ntfy.URL = ntfyURL
	}
	if ntfyTopic := os.Getenv("NTFY_TOPIC"); ntfyTopic != "" {
		c.Notifications.Ntfy.Topic = ntfyTopic
	}
	if ntfyToken := os.Getenv("NTFY_TOKEN"); ntfyToken != "" {
		c.Notifications.Ntfy.Token = ntfyToken
	}
}

// Validate rejects settings the services cannot run with
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend base url is required")
	}
	if c.Map.RefreshInterval < time.Second {
		return fmt.Errorf("map refresh interval must be at least 1s, got %s", c.Map.RefreshInterval)
	}
	if c.Map.MaxZoom < 1 || c.Map.MaxZoom > 22 {
		return fmt.Errorf("map max zoom must be between 1 and 22, got %d", c.Map.MaxZoom)
	}
	return nil
}

// Addr is the listen address of the HTTP server
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}
