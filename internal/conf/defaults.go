// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig registers a default for every key so that environment
// overrides resolve even when the key is absent from the config file.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("main.name", "readerstudy")

	v.SetDefault("webserver.listen", ":8080")
	v.SetDefault("webserver.body_limit", "2M")
	v.SetDefault("webserver.cors_origins", []string{})
	v.SetDefault("webserver.read_timeout", 30*time.Second)
	v.SetDefault("webserver.write_timeout", 30*time.Second)
	v.SetDefault("webserver.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.slow_query_ms", 200)
	v.SetDefault("database.sqlite.path", "data/readerstudy.db")
	v.SetDefault("database.mysql.host", "localhost")
	v.SetDefault("database.mysql.port", 3306)
	v.SetDefault("database.mysql.username", "readerstudy")
	v.SetDefault("database.mysql.password", "")
	v.SetDefault("database.mysql.password_file", "")
	v.SetDefault("database.mysql.database", "readerstudy")
	v.SetDefault("database.postgres.dsn", "")
	v.SetDefault("database.postgres.dsn_file", "")

	v.SetDefault("security.jwt_secret", "")
	v.SetDefault("security.jwt_secret_file", "")
	v.SetDefault("security.token_ttl", 12*time.Hour)
	v.SetDefault("security.cookie_secret", "")
	v.SetDefault("security.cookie_secret_file", "")
	v.SetDefault("security.secure_cookies", false)
	v.SetDefault("security.login_rate_per_minute", 10)
	v.SetDefault("security.trust_cloudflare", false)

	v.SetDefault("study.name", "Reader Study")
	v.SetDefault("study.description", "")
	v.SetDefault("study.total_groups", 2)
	v.SetDefault("study.total_sessions", 2)
	v.SetDefault("study.k_max", 3)
	v.SetDefault("study.ai_threshold", 0.30)
	v.SetDefault("study.require_lesion_marking", false)
	v.SetDefault("study.auto_assign", true)
	v.SetDefault("study.cases.positive", []string{})
	v.SetDefault("study.cases.negative", []string{})
	v.SetDefault("study.dataset.positive_dir", "")
	v.SetDefault("study.dataset.negative_dir", "")

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/readerstudy.log")
	v.SetDefault("logging.file_output.level", "info")

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")
	v.SetDefault("sentry.sample_rate", 1.0)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("backup.enabled", false)
	v.SetDefault("backup.dir", "backups")
	v.SetDefault("backup.interval", 24*time.Hour)
	v.SetDefault("backup.keep", 7)
	v.SetDefault("backup.timeout", 10*time.Minute)
}
