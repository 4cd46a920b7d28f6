package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
	"github.com/imdario/mergo"
	"github.com/shopspring/decimal"

	"github.com/rampline/settlement/pkg/common/enum"
)

var validate = validator.New()

type Config struct {
	Environment  string             `yaml:"environment" validate:"required,oneof=production development"`
	Networks     NetworksConfig     `yaml:"networks" validate:"required"`
	DB           DBConfig           `yaml:"db" validate:"required"`
	NATS         NATSConfig         `yaml:"nats" validate:"required"`
	KVStore      KVStoreConfig      `yaml:"kvstore" validate:"required"`
	AddressIndex AddressIndexConfig `yaml:"address_index" validate:"required"`
	Provider     ProviderConfig     `yaml:"provider" validate:"required"`
	Fees         FeeSchedule        `yaml:"fees" validate:"required"`
	Sweep        SweepConfig        `yaml:"sweep"`
	Reconciler   ReconcilerConfig   `yaml:"reconciler"`
}

type DBConfig struct {
	Type string `yaml:"type" validate:"required,oneof=postgres sqlite"`
	URL  string `yaml:"url" validate:"required"`
}

type NATSConfig struct {
	URL           string `yaml:"url" validate:"required"`
	SubjectPrefix string `yaml:"subject_prefix" validate:"required"`
}

type KVStoreConfig struct {
	Type   enum.KVStoreType `yaml:"type" validate:"required,oneof=badger consul"`
	Badger BadgerKVConfig   `yaml:"badger"`
	Consul ConsulKVConfig   `yaml:"consul"`
}

type BadgerKVConfig struct {
	Directory string `yaml:"directory"`
	Prefix    string `yaml:"prefix"`
}

type ConsulKVConfig struct {
	Scheme   string         `yaml:"scheme"`
	Address  string         `yaml:"address"`
	Folder   string         `yaml:"folder"`
	Token    string         `yaml:"token"`
	HttpAuth HttpAuthConfig `yaml:"http_auth"`
}

type HttpAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type AddressIndexConfig struct {
	Backend enum.IndexBackend `yaml:"backend" validate:"required,oneof=redis in_memory"`
	Redis   RedisIndexConfig  `yaml:"redis"`
	// RefreshInterval is how often the index reloads registered addresses.
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

type RedisIndexConfig struct {
	URL       string `yaml:"url"`
	Password  string `yaml:"password"`
	KeyPrefix string `yaml:"key_prefix"`
}

type ProviderConfig struct {
	BaseURL      string        `yaml:"base_url" validate:"required,url"`
	APIKey       string        `yaml:"api_key" validate:"required"`
	FiatCurrency string        `yaml:"fiat_currency" validate:"required,uppercase,len=3"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
}

// FeeSchedule computes the platform fee taken out of a quote's gross fiat
// value: percent of gross, clamped to [min, max]. Fee is never negative.
type FeeSchedule struct {
	Percent decimal.Decimal `yaml:"percent" validate:"required"`
	Min     decimal.Decimal `yaml:"min"`
	Max     decimal.Decimal `yaml:"max"`
}

// Apply returns the fee owed on a gross fiat amount. The clamp bounds are
// only honored when set; a zero max means unbounded. The fee never exceeds
// the gross amount itself.
func (f FeeSchedule) Apply(gross decimal.Decimal) decimal.Decimal {
	fee := gross.Mul(f.Percent).Div(decimal.NewFromInt(100))
	if fee.LessThan(f.Min) {
		fee = f.Min
	}
	if f.Max.IsPositive() && fee.GreaterThan(f.Max) {
		fee = f.Max
	}
	if fee.IsNegative() {
		fee = decimal.Zero
	}
	if fee.GreaterThan(gross) {
		fee = gross
	}
	return fee
}

type SweepConfig struct {
	Interval     time.Duration `yaml:"interval"`
	SignerSecret string        `yaml:"signer_secret"`
}

type ReconcilerConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Workers     int           `yaml:"workers"`
	MaxAttempts int           `yaml:"max_attempts"`
	// MaxSubmitAttempts bounds resubmission of payouts the provider never
	// acknowledged; once spent the payout is resolved failed.
	MaxSubmitAttempts int `yaml:"max_submit_attempts"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// secrets are referenced as ${VAR} in the file
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// merge per-network defaults
	for name, network := range cfg.Networks.Items {
		if err := mergo.Merge(&network, cfg.Networks.Defaults); err != nil {
			return nil, err
		}
		network.Name = name
		cfg.Networks.Items[name] = network
	}

	cfg.applyFallbacks()

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("struct validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyFallbacks() {
	if c.Sweep.Interval <= 0 {
		c.Sweep.Interval = 15 * time.Second
	}
	if c.Reconciler.Interval <= 0 {
		c.Reconciler.Interval = 30 * time.Second
	}
	if c.Reconciler.Workers <= 0 {
		c.Reconciler.Workers = 4
	}
	if c.Reconciler.MaxAttempts <= 0 {
		c.Reconciler.MaxAttempts = 10
	}
	if c.Reconciler.MaxSubmitAttempts <= 0 {
		c.Reconciler.MaxSubmitAttempts = 5
	}
	if c.AddressIndex.RefreshInterval <= 0 {
		c.AddressIndex.RefreshInterval = time.Minute
	}
	if c.Provider.Timeout <= 0 {
		c.Provider.Timeout = 30 * time.Second
	}
	if c.Provider.MaxRetries <= 0 {
		c.Provider.MaxRetries = 3
	}
}
