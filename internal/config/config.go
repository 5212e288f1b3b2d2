package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/matebook/internal/database"
	"github.com/spf13/viper"
)

const (
	envPrefix                    = "MATEBOOK"
	defaultHTTPAddress           = "0.0.0.0:8080"
	defaultLogLevel              = "info"
	defaultDatabaseDriver        = database.DriverSQLite
	defaultDatabasePath          = "matebook.db"
	defaultDatabaseHost          = "localhost"
	defaultDatabasePort          = 5432
	defaultDatabaseName          = "matebook"
	defaultDatabaseUser          = "matebook"
	defaultDatabaseSSLMode       = "disable"
	defaultAcquireTimeoutSeconds = 5
	defaultMaxOpenConns          = 10
	defaultTokenTTLMinutes       = 30
	defaultTokenIssuer           = "matebook-auth"
	defaultTokenAudience         = "matebook-api"
	defaultMediaDir              = "media/avatars"
	defaultMediaRoute            = "/media/avatars"
	defaultMediaMaxBytes         = 5 << 20
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	LogLevel       string
	AllowedOrigins []string

	Database database.Config

	SigningSecret string
	TokenIssuer   string
	TokenAudience string
	TokenTTL      time.Duration

	MediaDir      string
	MediaRoute    string
	MediaBaseURL  string
	MediaMaxBytes int64
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{})
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.host", defaultDatabaseHost)
	configViper.SetDefault("database.port", defaultDatabasePort)
	configViper.SetDefault("database.name", defaultDatabaseName)
	configViper.SetDefault("database.user", defaultDatabaseUser)
	configViper.SetDefault("database.password", "")
	configViper.SetDefault("database.sslmode", defaultDatabaseSSLMode)
	configViper.SetDefault("database.acquire_timeout_seconds", defaultAcquireTimeoutSeconds)
	configViper.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("auth.issuer", defaultTokenIssuer)
	configViper.SetDefault("auth.audience", defaultTokenAudience)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("media.dir", defaultMediaDir)
	configViper.SetDefault("media.route", defaultMediaRoute)
	configViper.SetDefault("media.base_url", "")
	configViper.SetDefault("media.max_bytes", defaultMediaMaxBytes)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	mediaRoute := "/" + strings.Trim(configViper.GetString("media.route"), "/")
	mediaBaseURL := strings.TrimRight(configViper.GetString("media.base_url"), "/")
	if mediaBaseURL == "" {
		mediaBaseURL = mediaRoute
	}

	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		LogLevel:       configViper.GetString("log.level"),
		AllowedOrigins: configViper.GetStringSlice("http.allowed_origins"),
		Database:       loadDatabase(configViper),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		TokenIssuer:    configViper.GetString("auth.issuer"),
		TokenAudience:  configViper.GetString("auth.audience"),
		TokenTTL:       time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		MediaDir:       configViper.GetString("media.dir"),
		MediaRoute:     mediaRoute,
		MediaBaseURL:   mediaBaseURL,
		MediaMaxBytes:  configViper.GetInt64("media.max_bytes"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// LoadDatabase parses only the database section, for commands that do not
// serve HTTP.
func LoadDatabase(configViper *viper.Viper) (database.Config, error) {
	cfg := AppConfig{Database: loadDatabase(configViper)}
	if err := cfg.validateDatabase(); err != nil {
		return database.Config{}, err
	}
	return cfg.Database, nil
}

func loadDatabase(configViper *viper.Viper) database.Config {
	return database.Config{
		Driver:         strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		Path:           configViper.GetString("database.path"),
		Host:           configViper.GetString("database.host"),
		Port:           configViper.GetInt("database.port"),
		Name:           configViper.GetString("database.name"),
		User:           configViper.GetString("database.user"),
		Password:       configViper.GetString("database.password"),
		SSLMode:        configViper.GetString("database.sslmode"),
		AcquireTimeout: time.Duration(configViper.GetInt("database.acquire_timeout_seconds")) * time.Second,
		MaxOpenConns:   configViper.GetInt("database.max_open_conns"),
	}
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if strings.TrimSpace(c.MediaDir) == "" {
		return fmt.Errorf("media.dir is required")
	}
	if c.MediaMaxBytes <= 0 {
		return fmt.Errorf("media.max_bytes must be positive")
	}
	return c.validateDatabase()
}

func (c AppConfig) validateDatabase() error {
	switch c.Database.Driver {
	case database.DriverSQLite:
		if strings.TrimSpace(c.Database.Path) == "" {
			return fmt.Errorf("database.path is required")
		}
	case database.DriverPostgres:
		if strings.TrimSpace(c.Database.Host) == "" {
			return fmt.Errorf("database.host is required")
		}
		if strings.TrimSpace(c.Database.Name) == "" {
			return fmt.Errorf("database.name is required")
		}
	default:
		return fmt.Errorf("database.driver must be %q or %q", database.DriverSQLite, database.DriverPostgres)
	}
	if c.Database.AcquireTimeout <= 0 {
		return fmt.Errorf("database.acquire_timeout_seconds must be positive")
	}
	return nil
}
