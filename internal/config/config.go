// Package config loads relay configuration from an optional YAML file, with
// environment-variable expansion applied before unmarshaling, matching the
// teacher's LoadFromBytes/applyDefaults pattern.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk/CLI-overlaid shape of relay configuration. Field
// names are intentionally distinct from relay.Config: this package reads
// YAML and fills unset fields with its own built-in defaults; cmd/cdprelay
// copies the result into a relay.Config and overlays flags on top.
type Config struct {
	Host                     string   `yaml:"host"`
	Port                     int      `yaml:"port"`
	BearerToken              string   `yaml:"bearerToken"`
	ExtensionOriginAllowList []string `yaml:"extensionOriginAllowList"`
	RequestTimeoutMs         int      `yaml:"requestTimeoutMs"`
	WriteQueueCapacity       int      `yaml:"writeQueueCapacity"`
	McpLogRate               float64  `yaml:"mcpLogRate"`
	LogLevel                 string   `yaml:"logLevel"`
	LogFormat                string   `yaml:"logFormat"`
	LogDroppedResponses      bool     `yaml:"logDroppedResponses"`
}

// LoadFromBytes loads configuration from YAML bytes with environment
// variable expansion, then applies built-in defaults for anything left
// unset.
func LoadFromBytes(data []byte) (Config, error) {
	var c Config
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &c); err != nil {
		return c, err
	}
	applyDefaults(&c)
	return c, nil
}

// LoadFile reads and parses the YAML file at path. A missing path is the
// caller's concern (cmd/cdprelay only calls this when --config was given).
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return LoadFromBytes(data)
}

func applyDefaults(c *Config) {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 9876
	}
	if c.RequestTimeoutMs == 0 {
		c.RequestTimeoutMs = 30000
	}
	if c.WriteQueueCapacity == 0 {
		c.WriteQueueCapacity = 64
	}
	if c.McpLogRate == 0 {
		c.McpLogRate = 60
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

// Reloadable is the subset of Config that is safe to apply without a
// restart. Port, bind address, and write-queue capacity require rebinding
// the listener or restarting writer goroutines and are excluded.
type Reloadable struct {
	BearerToken              string
	ExtensionOriginAllowList []string
}

func (c Config) Reloadable() Reloadable {
	return Reloadable{
		BearerToken:              c.BearerToken,
		ExtensionOriginAllowList: c.ExtensionOriginAllowList,
	}
}
