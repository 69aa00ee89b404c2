// Package config loads the gateway configuration from a YAML file with
// SIP2GATE_* environment overrides, fills defaults and validates the
// result before the gateway sees it.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/sip2gate/sip2gate"
)

// Config is the full gateway configuration.
//
// Sources, in order of precedence: environment variables (SIP2GATE_*,
// dots replaced by underscores, e.g. SIP2GATE_LOG_LEVEL=debug), the
// configuration file, defaults.
type Config struct {
	// Listen is the HTTP bind address.
	Listen string `mapstructure:"listen" validate:"required"`

	// LocationCode travels in the CP field of every login handshake.
	LocationCode string `mapstructure:"location_code"`

	// MasterKey keys the HMAC behind identifier masking. At least 32 hex
	// characters; usually provided as SIP2GATE_MASTER_KEY rather than on
	// disk.
	MasterKey string `mapstructure:"master_key" validate:"omitempty,hexadecimal,min=32"`

	Log            LogConfig            `mapstructure:"log"`
	TransactionLog TransactionLogConfig `mapstructure:"transaction_log"`
	Events         EventsConfig         `mapstructure:"events"`
	Breaker        BreakerConfig        `mapstructure:"breaker"`

	// Branches maps branch ids to LMS endpoints.
	Branches map[string]BranchConfig `mapstructure:"branches" validate:"required,min=1,dive"`
}

// LogConfig controls process logging.
type LogConfig struct {
	// Level: trace, debug, info, warn or error.
	Level string `mapstructure:"level" validate:"required,oneof=trace debug info warn error"`

	// Format: console for humans, json for collectors.
	Format string `mapstructure:"format" validate:"required,oneof=console json"`
}

// TransactionLogConfig sizes the rotating masked-transaction log.
type TransactionLogConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	File       string `mapstructure:"file" validate:"required_if=Enabled true"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"min=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"min=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"min=0"`
	Compress   bool   `mapstructure:"compress"`
}

// EventsConfig sizes the in-process event bus.
type EventsConfig struct {
	QueueSize int `mapstructure:"queue_size" validate:"min=0"`
}

// BreakerConfig tunes the per-branch circuit breaker.
type BreakerConfig struct {
	Threshold int             `mapstructure:"threshold" validate:"min=1"`
	Backoff   []time.Duration `mapstructure:"backoff" validate:"omitempty,min=1,dive,gt=0"`
}

// BranchConfig describes one LMS endpoint.
type BranchConfig struct {
	Host          string             `mapstructure:"host" validate:"required"`
	Port          int                `mapstructure:"port" validate:"required,min=1,max=65535"`
	Timeout       time.Duration      `mapstructure:"timeout" validate:"omitempty,gt=0"`
	InstitutionID string             `mapstructure:"institution_id" validate:"required"`
	TLS           TLSConfig          `mapstructure:"tls"`
	Credentials   *CredentialsConfig `mapstructure:"credentials"`
	Profile       ProfileConfig      `mapstructure:"profile"`
}

// TLSConfig switches the branch socket to TLS.
type TLSConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// InsecureSkipVerify accepts self-signed certificates. Leave off
	// outside of lab setups.
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`
}

// CredentialsConfig is the service login performed on connect.
type CredentialsConfig struct {
	User     string `mapstructure:"user" validate:"required"`
	Password string `mapstructure:"password" validate:"required"`
}

// ProfileConfig captures per-vendor protocol quirks.
type ProfileConfig struct {
	Name              string `mapstructure:"name"`
	ChecksumRequired  bool   `mapstructure:"checksum_required"`
	PostLoginSCStatus bool   `mapstructure:"post_login_sc_status"`
}

// Load reads the configuration. An empty path searches ./sip2gate.yaml
// and /etc/sip2gate/sip2gate.yaml; a missing file falls back to
// environment variables and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("SIP2GATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only overrides keys viper already knows about.
	v.SetDefault("listen", "")
	v.SetDefault("location_code", "")
	v.SetDefault("master_key", "")
	v.SetDefault("log.level", "")
	v.SetDefault("log.format", "")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/sip2gate")
		v.SetConfigName("sip2gate")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	return nil
}

func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// ApplyDefaults fills unset fields. Explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.TransactionLog.MaxSizeMB == 0 {
		cfg.TransactionLog.MaxSizeMB = 50
	}
	if cfg.TransactionLog.MaxBackups == 0 {
		cfg.TransactionLog.MaxBackups = 5
	}
	if cfg.Breaker.Threshold == 0 {
		cfg.Breaker.Threshold = sip2gate.DefaultBreakerThreshold
	}
	if len(cfg.Breaker.Backoff) == 0 {
		cfg.Breaker.Backoff = append([]time.Duration(nil), sip2gate.DefaultBackoffSchedule...)
	}
	for id, br := range cfg.Branches {
		if br.Timeout == 0 {
			br.Timeout = sip2gate.DefaultTimeout
			cfg.Branches[id] = br
		}
	}
}

// Validate runs the struct tags plus the checks tags cannot express.
func Validate(cfg *Config) error {
	validate := validator.New()

	// Report mapstructure names instead of Go field names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	for id := range cfg.Branches {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("invalid configuration: empty branch id")
		}
	}
	return nil
}

// BranchConfigs converts the file shape into the gateway's branch map.
func (c *Config) BranchConfigs() map[string]sip2gate.BranchConfig {
	out := make(map[string]sip2gate.BranchConfig, len(c.Branches))
	for id, br := range c.Branches {
		gw := sip2gate.BranchConfig{
			Host:          br.Host,
			Port:          br.Port,
			Timeout:       br.Timeout,
			InstitutionID: br.InstitutionID,
			TLS:           br.TLS.Enabled,
			TLSSkipVerify: br.TLS.InsecureSkipVerify,
			Profile: sip2gate.VendorProfile{
				Name:              br.Profile.Name,
				ChecksumRequired:  br.Profile.ChecksumRequired,
				PostLoginSCStatus: br.Profile.PostLoginSCStatus,
			},
		}
		if br.Credentials != nil {
			gw.Credentials = &sip2gate.Credentials{
				User:     br.Credentials.User,
				Password: br.Credentials.Password,
			}
		}
		out[id] = gw
	}
	return out
}
