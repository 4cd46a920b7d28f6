package config

import (
	"fmt"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/shopspring/decimal"

	"github.com/rampline/settlement/pkg/common/enum"
)

type NetworksConfig struct {
	Defaults NetworkConfig            `yaml:"defaults" validate:"-"`
	Items    map[string]NetworkConfig `yaml:",inline" validate:"required,dive"`
}

// UnmarshalYAML splits out "defaults" from inline network entries.
func (c *NetworksConfig) UnmarshalYAML(b []byte) error {
	var raw map[string]NetworkConfig
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == nil {
		raw = map[string]NetworkConfig{}
	}
	if def, ok := raw["defaults"]; ok {
		c.Defaults = def
		delete(raw, "defaults")
	} else {
		c.Defaults = NetworkConfig{}
	}
	c.Items = raw
	return nil
}

type NetworkConfig struct {
	Name                  string           `yaml:"name"`
	Kind                  enum.NetworkKind `yaml:"kind" validate:"required,oneof=evm"`
	Nodes                 []Node           `yaml:"nodes" validate:"required,min=1,dive"`
	NativeSymbol          string           `yaml:"native_symbol" validate:"required"`
	ConfirmationThreshold uint64           `yaml:"confirmation_threshold" validate:"gt=0"`
	PollInterval          time.Duration    `yaml:"poll_interval"`
	SponsorWallet         string           `yaml:"sponsor_wallet" validate:"required"`
	CustodyWallet         string           `yaml:"custody_wallet" validate:"required"`
	// SponsorFloor is the sponsor balance below which gas sponsorship is
	// refused instead of attempted.
	SponsorFloor    decimal.Decimal `yaml:"sponsor_floor"`
	GasSafetyMargin decimal.Decimal `yaml:"gas_safety_margin"`
	Client          ClientConfig    `yaml:"client"`
}

type Node struct {
	URL    string `yaml:"url" validate:"required,url"`
	APIKey string `yaml:"api_key"`
}

type ClientConfig struct {
	Timeout    time.Duration  `yaml:"timeout"`
	MaxRetries int            `yaml:"max_retries"`
	RetryDelay time.Duration  `yaml:"retry_delay"`
	Throttle   ThrottleConfig `yaml:"throttle"`
}

type ThrottleConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

func (c *NetworksConfig) GetAllNetworkNames() []string {
	names := make([]string, 0, len(c.Items))
	for name := range c.Items {
		names = append(names, name)
	}
	return names
}

func (c *NetworksConfig) ValidateNetworks(networks []string) error {
	for _, network := range networks {
		if _, ok := c.Items[network]; !ok {
			return fmt.Errorf("network %s not found", network)
		}
	}
	return nil
}

func (c *NetworksConfig) GetNetwork(network string) (NetworkConfig, error) {
	if nc, ok := c.Items[network]; ok {
		return nc, nil
	}
	return NetworkConfig{}, fmt.Errorf("network %s not found", network)
}
