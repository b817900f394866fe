package conf

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/envsense/envsense/internal/errors"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// ENVSENSE_DATABASE_TYPE=mysql.
const EnvPrefix = "ENVSENSE"

var (
	settingsMu sync.RWMutex
	settings   *Settings
)

// GetSettings returns the settings installed by Load, or nil.
func GetSettings() *Settings {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return settings
}

func setSettings(s *Settings) {
	settingsMu.Lock()
	settings = s
	settingsMu.Unlock()
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("main.name", "envsense")
	v.SetDefault("main.timezone", "")

	v.SetDefault("webserver.listen", ":8080")
	v.SetDefault("webserver.readtimeout", "15s")
	v.SetDefault("webserver.writetimeout", "15s")
	v.SetDefault("webserver.uploadratelimit", 20.0)
	v.SetDefault("webserver.uploadburst", 40)

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.sqlite.path", "envsense.db")
	v.SetDefault("database.mysql.host", "localhost")
	v.SetDefault("database.mysql.port", 3306)
	v.SetDefault("database.mysql.username", "envsense")
	v.SetDefault("database.mysql.password", "")
	v.SetDefault("database.mysql.database", "envsense")
	v.SetDefault("database.mysql.maxopenconns", 20)
	v.SetDefault("database.mysql.maxidleconns", 5)
	v.SetDefault("database.mysql.connmaxlifetime", "1h")

	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("auth.tokenttl", "24h")
	v.SetDefault("auth.issuer", "envsense")

	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.buffersize", 1000)
	v.SetDefault("queue.redis.addr", "localhost:6379")
	v.SetDefault("queue.redis.password", "")
	v.SetDefault("queue.redis.db", 0)
	v.SetDefault("queue.redis.stream", "envsense:tasks")
	v.SetDefault("queue.redis.group", "envsense-workers")
	v.SetDefault("queue.redis.claimidle", "1m")
	v.SetDefault("queue.redis.maxlen", 100000)

	v.SetDefault("alerting.retention", "90d")
	v.SetDefault("alerting.cleanupinterval", "1h")
	v.SetDefault("alerting.autoresolve", false)
	v.SetDefault("alerting.equalityepsilon", 1e-9)
	v.SetDefault("alerting.rulecachettl", "30s")

	v.SetDefault("notifications.webhooktimeout", "5s")
	v.SetDefault("notifications.maxretries", 0)
	v.SetDefault("notifications.retrydelay", "2s")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.clientid", "envsense")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topicprefix", "devices")
	v.SetDefault("mqtt.qos", 1)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.compress", false)
	v.SetDefault("log.maxsizemb", 50)
	v.SetDefault("log.maxbackups", 5)
	v.SetDefault("log.maxagedays", 30)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Load reads settings from configPath (optional), a .env file in the
// working directory (optional) and ENVSENSE_* environment variables, then
// validates and installs them as the package settings.
func Load(configPath string) (*Settings, error) {
	// A missing .env is normal; anything else is worth reporting.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Newf("failed to load .env: %w", err).
			Component("conf").Category(errors.CategoryConfiguration).Build()
	}

	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/envsense")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, errors.Newf("failed to read config: %w", err).
				Component("conf").Category(errors.CategoryConfiguration).Build()
		}
	}

	s, err := Decode(v)
	if err != nil {
		return nil, err
	}
	setSettings(s)
	return s, nil
}

// Decode unmarshals and validates the settings held by v.
func Decode(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s, viper.DecodeHook(DurationDecodeHook()), func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, errors.Newf("failed to decode settings: %w", err).
			Component("conf").Category(errors.CategoryConfiguration).Build()
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks cross-field constraints.
func (s *Settings) Validate() error {
	var problems []string

	if !slices.Contains([]string{"sqlite", "mysql"}, s.Database.Type) {
		problems = append(problems, fmt.Sprintf("database.type must be sqlite or mysql, got %q", s.Database.Type))
	}
	if s.Database.Type == "sqlite" && s.Database.SQLite.Path == "" {
		problems = append(problems, "database.sqlite.path is required")
	}
	if !slices.Contains([]string{"memory", "redis"}, s.Queue.Backend) {
		problems = append(problems, fmt.Sprintf("queue.backend must be memory or redis, got %q", s.Queue.Backend))
	}
	if s.Queue.Workers < 1 {
		problems = append(problems, "queue.workers must be at least 1")
	}
	if s.Alerting.Retention.Std() < 24*time.Hour {
		problems = append(problems, "alerting.retention must be at least 1d")
	}
	if s.Alerting.CleanupInterval.Std() <= 0 {
		problems = append(problems, "alerting.cleanupinterval must be positive")
	}
	if s.Alerting.EqualityEpsilon < 0 {
		problems = append(problems, "alerting.equalityepsilon must not be negative")
	}
	if s.Notifications.WebhookTimeout.Std() <= 0 {
		problems = append(problems, "notifications.webhooktimeout must be positive")
	}
	if s.Notifications.MaxRetries < 0 {
		problems = append(problems, "notifications.maxretries must not be negative")
	}
	if s.MQTT.Enabled && s.MQTT.Broker == "" {
		problems = append(problems, "mqtt.broker is required when mqtt is enabled")
	}
	if s.MQTT.QoS > 2 {
		problems = append(problems, "mqtt.qos must be 0, 1 or 2")
	}
	if s.Main.Timezone != "" {
		if _, err := time.LoadLocation(s.Main.Timezone); err != nil {
			problems = append(problems, fmt.Sprintf("main.timezone %q is not a valid zone", s.Main.Timezone))
		}
	}

	if len(problems) > 0 {
		return errors.Newf("invalid settings: %s", strings.Join(problems, "; ")).
			Component("conf").Category(errors.CategoryConfiguration).Build()
	}
	return nil
}

// Location returns the configured zone for quiet-hours evaluation.
func (s *Settings) Location() *time.Location {
	if s.Main.Timezone == "" {
		return time.Local
	}
	if loc, err := time.LoadLocation(s.Main.Timezone); err == nil {
		return loc
	}
	return time.Local
}
