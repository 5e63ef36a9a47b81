// conf/config.go
package conf

import (
	"crypto/rand"
	"embed"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/readerstudy/internal/logger"
	"github.com/tphakala/readerstudy/internal/secrets"
)

//go:embed config.yaml
var configFiles embed.FS

// EnvPrefix is the prefix for environment overrides, e.g. READERSTUDY_DATABASE_TYPE.
const EnvPrefix = "READERSTUDY"

// Settings contains all configuration options for the reader study service.
type Settings struct {
	Debug bool `mapstructure:"debug" yaml:"debug"`

	Main struct {
		Name string `mapstructure:"name" yaml:"name"` // instance name shown in health output
	} `mapstructure:"main" yaml:"main"`

	WebServer WebServerSettings    `mapstructure:"webserver" yaml:"webserver"`
	Database  DatabaseSettings     `mapstructure:"database" yaml:"database"`
	Security  SecuritySettings     `mapstructure:"security" yaml:"security"`
	Study     StudySettings        `mapstructure:"study" yaml:"study"`
	Logging   logger.LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Sentry    SentrySettings       `mapstructure:"sentry" yaml:"sentry"`
	Metrics   MetricsSettings      `mapstructure:"metrics" yaml:"metrics"`
	Backup    BackupSettings       `mapstructure:"backup" yaml:"backup"`
}

// WebServerSettings contains HTTP listener settings
type WebServerSettings struct {
	Listen          string        `mapstructure:"listen" yaml:"listen" validate:"required"`
	BodyLimit       string        `mapstructure:"body_limit" yaml:"body_limit"` // echo body limit, e.g. "2M"
	CORSOrigins     []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DatabaseSettings selects and configures the storage backend
type DatabaseSettings struct {
	Type        string           `mapstructure:"type" yaml:"type" validate:"oneof=sqlite mysql postgres"`
	SlowQueryMs int              `mapstructure:"slow_query_ms" yaml:"slow_query_ms" validate:"gte=0"`
	SQLite      SQLiteSettings   `mapstructure:"sqlite" yaml:"sqlite"`
	MySQL       MySQLSettings    `mapstructure:"mysql" yaml:"mysql"`
	Postgres    PostgresSettings `mapstructure:"postgres" yaml:"postgres"`
}

// SQLiteSettings configures the embedded database
type SQLiteSettings struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// MySQLSettings configures a MySQL server connection
type MySQLSettings struct {
	Host         string `mapstructure:"host" yaml:"host"`
	Port         int    `mapstructure:"port" yaml:"port"`
	Username     string `mapstructure:"username" yaml:"username"`
	Password     string `mapstructure:"password" yaml:"password"`
	PasswordFile string `mapstructure:"password_file" yaml:"password_file"`
	Database     string `mapstructure:"database" yaml:"database"`
}

// PostgresSettings configures a PostgreSQL connection
type PostgresSettings struct {
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
	DSNFile string `mapstructure:"dsn_file" yaml:"dsn_file"`
}

// SecuritySettings contains token and cookie settings. The *_file fields
// point at mounted secrets and take precedence over inline values.
type SecuritySettings struct {
	JWTSecret          string        `mapstructure:"jwt_secret" yaml:"jwt_secret" validate:"min=32"`
	JWTSecretFile      string        `mapstructure:"jwt_secret_file" yaml:"jwt_secret_file"`
	TokenTTL           time.Duration `mapstructure:"token_ttl" yaml:"token_ttl" validate:"gt=0"`
	CookieSecret       string        `mapstructure:"cookie_secret" yaml:"cookie_secret"`
	CookieSecretFile   string        `mapstructure:"cookie_secret_file" yaml:"cookie_secret_file"`
	SecureCookies      bool          `mapstructure:"secure_cookies" yaml:"secure_cookies"`
	LoginRatePerMinute int           `mapstructure:"login_rate_per_minute" yaml:"login_rate_per_minute" validate:"gte=1"`
	TrustCloudflare    bool          `mapstructure:"trust_cloudflare" yaml:"trust_cloudflare"`
}

// StudySettings seeds the study configuration on first start. Once the study
// is locked these values no longer affect design fields stored in the database.
type StudySettings struct {
	Name                 string          `mapstructure:"name" yaml:"name" validate:"required"`
	Description          string          `mapstructure:"description" yaml:"description"`
	TotalGroups          int             `mapstructure:"total_groups" yaml:"total_groups" validate:"gte=1,lte=16"`
	TotalSessions        int             `mapstructure:"total_sessions" yaml:"total_sessions" validate:"gte=1,lte=16"`
	KMax                 int             `mapstructure:"k_max" yaml:"k_max" validate:"gte=1,lte=10"`
	AIThreshold          float64         `mapstructure:"ai_threshold" yaml:"ai_threshold" validate:"gte=0,lte=1"`
	RequireLesionMarking bool            `mapstructure:"require_lesion_marking" yaml:"require_lesion_marking"`
	AutoAssign           bool            `mapstructure:"auto_assign" yaml:"auto_assign"`
	Cases                CaseSettings    `mapstructure:"cases" yaml:"cases"`
	Dataset              DatasetSettings `mapstructure:"dataset" yaml:"dataset"`
}

// CaseSettings lists candidate case IDs by category
type CaseSettings struct {
	Positive []string `mapstructure:"positive" yaml:"positive"`
	Negative []string `mapstructure:"negative" yaml:"negative"`
}

// DatasetSettings points at image folders scanned for case IDs
type DatasetSettings struct {
	PositiveDir string `mapstructure:"positive_dir" yaml:"positive_dir"`
	NegativeDir string `mapstructure:"negative_dir" yaml:"negative_dir"`
}

// SentrySettings enables error telemetry
type SentrySettings struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	DSN         string  `mapstructure:"dsn" yaml:"dsn"`
	Environment string  `mapstructure:"environment" yaml:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate" yaml:"sample_rate" validate:"gte=0,lte=1"`
}

// MetricsSettings controls the Prometheus endpoint
type MetricsSettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// BackupSettings controls SQLite snapshots written to a local directory
type BackupSettings struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Dir      string        `mapstructure:"dir" yaml:"dir"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval" validate:"gte=0"`
	Keep     int           `mapstructure:"keep" yaml:"keep" validate:"gte=1"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
}

// settingsInstance is the current settings instance
var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads .env, the configuration file and environment variables into a
// validated Settings value. An empty configFile searches the default paths and
// writes a default config there if none exists.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings, err := load(viper.GetViper(), configFile, true)
	if err != nil {
		return nil, err
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// load performs the actual loading against the given viper instance.
func load(v *viper.Viper, configFile string, createMissing bool) (*Settings, error) {
	// .env is optional; a missing file is not an error
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	if err := initViper(v, configFile, createMissing); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := resolveSecrets(settings); err != nil {
		return nil, fmt.Errorf("error resolving secrets: %w", err)
	}

	if settings.Security.JWTSecret == "" {
		// Tokens signed with an ephemeral secret do not survive a restart.
		settings.Security.JWTSecret = GenerateRandomSecret()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	return settings, nil
}

// resolveSecrets replaces credential settings with values read from secret
// files or expanded from ${VAR} references.
func resolveSecrets(s *Settings) error {
	fields := []struct {
		name   string
		file   string
		target *string
	}{
		{"security.jwt_secret", s.Security.JWTSecretFile, &s.Security.JWTSecret},
		{"security.cookie_secret", s.Security.CookieSecretFile, &s.Security.CookieSecret},
		{"database.mysql.password", s.Database.MySQL.PasswordFile, &s.Database.MySQL.Password},
		{"database.postgres.dsn", s.Database.Postgres.DSNFile, &s.Database.Postgres.DSN},
		{"sentry.dsn", "", &s.Sentry.DSN},
	}

	for _, f := range fields {
		value, err := secrets.Resolve(f.file, *f.target)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.target = value
	}
	return nil
}

// initViper registers defaults and environment bindings, then reads the config file.
func initViper(v *viper.Viper, configFile string, createMissing bool) error {
	setDefaultConfig(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("fatal error reading config file %s: %w", configFile, err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		v.AddConfigPath(path)
	}

	err = v.ReadInConfig()
	if err == nil {
		return nil
	}

	var configFileNotFoundError viper.ConfigFileNotFoundError
	if !errors.As(err, &configFileNotFoundError) {
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	if !createMissing {
		return nil
	}

	configPath := filepath.Join(configPaths[0], "config.yaml")
	if err := WriteDefaultConfig(configPath); err != nil {
		return err
	}
	return v.ReadInConfig()
}

// WriteDefaultConfig writes the embedded default configuration to configPath
// with a freshly generated JWT secret.
func WriteDefaultConfig(configPath string) error {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return fmt.Errorf("error reading embedded default config: %w", err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("error parsing embedded default config: %w", err)
	}
	if security, ok := doc["security"].(map[string]any); ok {
		security["jwt_secret"] = GenerateRandomSecret()
		security["cookie_secret"] = GenerateRandomSecret()
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("error encoding default config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, out, 0o600); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	return nil
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// RedactedYAML renders settings as YAML with secrets masked.
func (s *Settings) RedactedYAML() ([]byte, error) {
	redacted := *s
	redacted.Security.JWTSecret = maskSecret(s.Security.JWTSecret)
	redacted.Security.CookieSecret = maskSecret(s.Security.CookieSecret)
	redacted.Database.MySQL.Password = maskSecret(s.Database.MySQL.Password)
	redacted.Database.Postgres.DSN = maskSecret(s.Database.Postgres.DSN)
	redacted.Sentry.DSN = maskSecret(s.Sentry.DSN)
	return yaml.Marshal(&redacted)
}

func maskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}

// GenerateRandomSecret generates a URL-safe random secret of 32 bytes
func GenerateRandomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
