// Package conf holds envsense settings and the viper-based loader.
package conf

import "time"

// Settings is the root configuration.
type Settings struct {
	Main          MainSettings         `mapstructure:"main" yaml:"main"`
	WebServer     WebServerSettings    `mapstructure:"webserver" yaml:"webserver"`
	Database      DatabaseSettings     `mapstructure:"database" yaml:"database"`
	Auth          AuthSettings         `mapstructure:"auth" yaml:"auth"`
	Queue         QueueSettings        `mapstructure:"queue" yaml:"queue"`
	Alerting      AlertingSettings     `mapstructure:"alerting" yaml:"alerting"`
	Notifications NotificationSettings `mapstructure:"notifications" yaml:"notifications"`
	MQTT          MQTTSettings         `mapstructure:"mqtt" yaml:"mqtt"`
	Log           LogSettings          `mapstructure:"log" yaml:"log"`
	Metrics       MetricsSettings      `mapstructure:"metrics" yaml:"metrics"`
}

type MainSettings struct {
	Name     string `mapstructure:"name" yaml:"name"`
	Timezone string `mapstructure:"timezone" yaml:"timezone"` // quiet-hours evaluation zone, empty = local
}

type WebServerSettings struct {
	Listen       string   `mapstructure:"listen" yaml:"listen"`
	ReadTimeout  Duration `mapstructure:"readtimeout" yaml:"readtimeout"`
	WriteTimeout Duration `mapstructure:"writetimeout" yaml:"writetimeout"`
	// UploadRateLimit is requests per second per client on the upload
	// endpoint. Zero disables limiting.
	UploadRateLimit float64 `mapstructure:"uploadratelimit" yaml:"uploadratelimit"`
	UploadBurst     int     `mapstructure:"uploadburst" yaml:"uploadburst"`
}

type DatabaseSettings struct {
	Type   string         `mapstructure:"type" yaml:"type"` // sqlite or mysql
	SQLite SQLiteSettings `mapstructure:"sqlite" yaml:"sqlite"`
	MySQL  MySQLSettings  `mapstructure:"mysql" yaml:"mysql"`
	Debug  bool           `mapstructure:"debug" yaml:"debug"`
}

type SQLiteSettings struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type MySQLSettings struct {
	Host            string   `mapstructure:"host" yaml:"host"`
	Port            int      `mapstructure:"port" yaml:"port"`
	Username        string   `mapstructure:"username" yaml:"username"`
	Password        string   `mapstructure:"password" yaml:"password"`
	Database        string   `mapstructure:"database" yaml:"database"`
	MaxOpenConns    int      `mapstructure:"maxopenconns" yaml:"maxopenconns"`
	MaxIdleConns    int      `mapstructure:"maxidleconns" yaml:"maxidleconns"`
	ConnMaxLifetime Duration `mapstructure:"connmaxlifetime" yaml:"connmaxlifetime"`
}

type AuthSettings struct {
	JWTSecret string   `mapstructure:"jwtsecret" yaml:"jwtsecret"`
	TokenTTL  Duration `mapstructure:"tokenttl" yaml:"tokenttl"`
	Issuer    string   `mapstructure:"issuer" yaml:"issuer"`
}

type QueueSettings struct {
	Backend    string        `mapstructure:"backend" yaml:"backend"` // memory or redis
	Workers    int           `mapstructure:"workers" yaml:"workers"`
	BufferSize int           `mapstructure:"buffersize" yaml:"buffersize"`
	Redis      RedisSettings `mapstructure:"redis" yaml:"redis"`
}

type RedisSettings struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Stream   string `mapstructure:"stream" yaml:"stream"`
	Group    string `mapstructure:"group" yaml:"group"`
	// ClaimIdle is how long a delivered but unacknowledged task may sit
	// before another consumer takes it over.
	ClaimIdle Duration `mapstructure:"claimidle" yaml:"claimidle"`
	MaxLen    int64    `mapstructure:"maxlen" yaml:"maxlen"`
}

type AlertingSettings struct {
	Retention       Duration `mapstructure:"retention" yaml:"retention"`
	CleanupInterval Duration `mapstructure:"cleanupinterval" yaml:"cleanupinterval"`
	AutoResolve     bool     `mapstructure:"autoresolve" yaml:"autoresolve"`
	EqualityEpsilon float64  `mapstructure:"equalityepsilon" yaml:"equalityepsilon"`
	// RuleCacheTTL is per process. Rule changes invalidate only the cache
	// of the instance that served them, so with queue.backend redis the
	// TTL is capped at 5s to bound staleness on the other workers.
	RuleCacheTTL    Duration `mapstructure:"rulecachettl" yaml:"rulecachettl"`
}

type NotificationSettings struct {
	WebhookTimeout Duration `mapstructure:"webhooktimeout" yaml:"webhooktimeout"`
	MaxRetries     int      `mapstructure:"maxretries" yaml:"maxretries"`
	RetryDelay     Duration `mapstructure:"retrydelay" yaml:"retrydelay"`
}

type MQTTSettings struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Broker      string `mapstructure:"broker" yaml:"broker"`
	ClientID    string `mapstructure:"clientid" yaml:"clientid"`
	Username    string `mapstructure:"username" yaml:"username"`
	Password    string `mapstructure:"password" yaml:"password"`
	TopicPrefix string `mapstructure:"topicprefix" yaml:"topicprefix"`
	QoS         byte   `mapstructure:"qos" yaml:"qos"`
}

type LogSettings struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"maxsizemb" yaml:"maxsizemb"`
	MaxBackups int    `mapstructure:"maxbackups" yaml:"maxbackups"`
	MaxAgeDays int    `mapstructure:"maxagedays" yaml:"maxagedays"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

type MetricsSettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// RetentionWindow returns the alert record retention as a time.Duration.
func (a AlertingSettings) RetentionWindow() time.Duration {
	return a.Retention.Std()
}
