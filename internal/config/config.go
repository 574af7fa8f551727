package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment   string `mapstructure:"environment"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`
	Server        struct {
		Addr          string        `mapstructure:"addr"`
		BaseURL       string        `mapstructure:"base_url"`
		ReadTimeout   time.Duration `mapstructure:"read_timeout"`
		WriteTimeout  time.Duration `mapstructure:"write_timeout"`
		SignRateLimit float64       `mapstructure:"sign_rate_limit"`
	} `mapstructure:"server"`
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
		MaxConns int32  `mapstructure:"max_conns"`
	} `mapstructure:"db"`
	Auth struct {
		OktaDomain      string `mapstructure:"okta_domain"`
		ClientID        string `mapstructure:"client_id"`
		ClientSecret    string `mapstructure:"client_secret"`
		RedirectURL     string `mapstructure:"redirect_url"`
		SwaggerClientID string `mapstructure:"swagger_client_id"`
	} `mapstructure:"auth"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
	Signing struct {
		TokenTTL time.Duration `mapstructure:"token_ttl"`
		TokenKey string        `mapstructure:"token_key"`
	} `mapstructure:"signing"`
	Storage struct {
		Driver      string        `mapstructure:"driver"`
		Bucket      string        `mapstructure:"bucket"`
		Region      string        `mapstructure:"region"`
		Endpoint    string        `mapstructure:"endpoint"`
		PathStyle   bool          `mapstructure:"path_style"`
		AccessKeyID string        `mapstructure:"access_key_id"`
		SecretKey   string        `mapstructure:"secret_access_key"`
		Root        string        `mapstructure:"root"`
		DownloadTTL time.Duration `mapstructure:"download_ttl"`
		SessionTTL  time.Duration `mapstructure:"session_ttl"`
	} `mapstructure:"storage"`
	Email struct {
		ResendAPIKey string `mapstructure:"resend_api_key"`
		From         string `mapstructure:"from"`
	} `mapstructure:"email"`
	Render struct {
		Workers      int           `mapstructure:"workers"`
		MaxAttempts  int           `mapstructure:"max_attempts"`
		PollInterval time.Duration `mapstructure:"poll_interval"`
		BaseBackoff  time.Duration `mapstructure:"base_backoff"`
	} `mapstructure:"render"`
}

// IsDev reports whether the service runs in the DEV environment.
func (c *Config) IsDev() bool {
	return strings.EqualFold(c.Environment, "DEV")
}

// Validate checks settings that have no safe default.
func (c *Config) Validate() error {
	if c.Signing.TokenKey == "" && !c.IsDev() {
		return errors.New("signing.token_key is required outside DEV")
	}
	if c.Storage.Driver == "s3" && c.Storage.Bucket == "" {
		return errors.New("storage.bucket is required for the s3 driver")
	}
	if c.Render.Workers < 1 {
		return errors.New("render.workers must be at least 1")
	}
	return nil
}

var envOnlyKeys = []string{
	"dev_mode_bypass",
	"db.user", "db.password", "db.name",
	"auth.okta_domain", "auth.client_id", "auth.client_secret", "auth.redirect_url", "auth.swagger_client_id",
	"tls.enable", "tls.cert_file", "tls.key_file",
	"signing.token_key",
	"storage.bucket", "storage.endpoint", "storage.path_style", "storage.access_key_id", "storage.secret_access_key",
	"email.resend_api_key",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "PROD")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.sign_rate_limit", 10)
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("signing.token_ttl", 7*24*time.Hour)
	v.SetDefault("storage.driver", "s3")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.root", "./data")
	v.SetDefault("storage.download_ttl", 24*time.Hour)
	v.SetDefault("storage.session_ttl", time.Hour)
	v.SetDefault("email.from", "onboarding@resend.dev")
	v.SetDefault("render.workers", 2)
	v.SetDefault("render.max_attempts", 5)
	v.SetDefault("render.poll_interval", 5*time.Second)
	v.SetDefault("render.base_backoff", 2*time.Second)
}

// LoadConfig loads the configuration from a file and the environment.
// An empty path searches ./ and ./config for config.yaml; a missing file is
// tolerated so the service can be configured from DOCSIGN_* variables alone.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix("DOCSIGN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Unmarshal only sees env values for keys viper already knows about.
	for _, key := range envOnlyKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// normalize OKTA issuer url (strip trailing slash if any)
	config.Auth.OktaDomain = normalizeOktaIssuer(config.Auth.OktaDomain)
	config.Server.BaseURL = strings.TrimRight(config.Server.BaseURL, "/")

	return &config, nil
}

// normalizeOktaIssuer ensures the provided Okta issuer string is in a
// predictable form. It removes any trailing slash and leaves the scheme and
// path intact.
func normalizeOktaIssuer(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}
