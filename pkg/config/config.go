// Package config loads the proxy's TOML configuration file, writing a
// default document (with one example rule) the first time the proxy runs
// without one.
package config

import (
	"os"

	"github.com/BurntSushi/toml"

	"github.com/arda-oss/socksforward/pkg/routetable"
)

// DefaultListenAddr is used when listen_addr is absent from the config file.
const DefaultListenAddr = "127.0.0.1:1080"

// HostConfig is the on-disk form of routetable.Host.
type HostConfig struct {
	Addr       string `toml:"addr"`
	PathPrefix string `toml:"path_prefix"`
}

// ForwardConfig is the on-disk form of routetable.Forward. Rewrite is a
// pointer so that an absent key can be told apart from an explicit false,
// since it defaults to true.
type ForwardConfig struct {
	Addr                       string `toml:"addr"`
	PathPrefix                 string `toml:"path_prefix"`
	Rewrite                    *bool  `toml:"rewrite"`
	ConnectFailUseOriginalHost bool   `toml:"connect_fail_use_original_host"`
}

// RuleConfig is the on-disk form of routetable.Rule.
type RuleConfig struct {
	Matcher HostConfig    `toml:"matcher"`
	Forward ForwardConfig `toml:"forward"`
}

// Config is the decoded configuration document.
type Config struct {
	ListenAddr  string       `toml:"listen_addr"`
	MetricsAddr string       `toml:"metrics_addr"`
	Rules       []RuleConfig `toml:"rules"`
}

// Default returns the document written to disk the first time the proxy
// runs without a config file: a single example rule rewriting "/api" on
// one host to the root of a local upstream.
func Default() Config {
	rewrite := true
	return Config{
		ListenAddr: DefaultListenAddr,
		Rules: []RuleConfig{
			{
				Matcher: HostConfig{Addr: "192.168.120.177:81", PathPrefix: "/api"},
				Forward: ForwardConfig{
					Addr:                       "127.0.0.1:8686",
					PathPrefix:                 "",
					Rewrite:                    &rewrite,
					ConnectFailUseOriginalHost: false,
				},
			},
		},
	}
}

// Load reads the config file at path, writing and then loading Default()
// if the file does not exist. Unknown TOML keys are ignored. There is no
// reload: Load is meant to be called once at startup.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeDefault(path); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func writeDefault(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(Default())
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	for i := range c.Rules {
		if c.Rules[i].Forward.Rewrite == nil {
			rewrite := true
			c.Rules[i].Forward.Rewrite = &rewrite
		}
	}
}

// RouteTableRules converts the decoded document into routetable.Rule
// values, in document order, ready to hand to routetable.NewWithRules.
func (c *Config) RouteTableRules() []routetable.Rule {
	out := make([]routetable.Rule, 0, len(c.Rules))
	for _, rc := range c.Rules {
		rewrite := true
		if rc.Forward.Rewrite != nil {
			rewrite = *rc.Forward.Rewrite
		}
		out = append(out, routetable.Rule{
			Match: routetable.Host{Addr: rc.Matcher.Addr, Prefix: rc.Matcher.PathPrefix},
			Forward: routetable.Forward{
				Host:                       routetable.Host{Addr: rc.Forward.Addr, Prefix: rc.Forward.PathPrefix},
				Rewrite:                    rewrite,
				ConnectFailUseOriginalHost: rc.Forward.ConnectFailUseOriginalHost,
			},
		})
	}
	return out
}
