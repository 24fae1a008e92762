package main

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	envAddr        = "ADMINGUARD_ADDR"
	envToken       = "ADMINGUARD_TOKEN"
	envCACert      = "ADMINGUARD_CACERT"
	envConfigPath  = "ADMINGUARD_CLI_CONFIG"
	defaultAddress = "http://127.0.0.1:8080"
)

// CLIConfig is what guardctl needs to reach the server. It is stored in
// ~/.adminguard/config.yaml and overridden per invocation by ADMINGUARD_* variables.
type CLIConfig struct {
	Address   string `yaml:"address"`
	Token     string `yaml:"token"`
	TLSCACert string `yaml:"tls_ca_cert,omitempty"`
}

// cfg is the effective configuration for the running command.
var cfg CLIConfig

func configPath() string {
	if p := os.Getenv(envConfigPath); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".adminguard", "config.yaml")
}

// readConfig loads path over the defaults. A missing file is not an error.
func readConfig(path string) (CLIConfig, error) {
	c := CLIConfig{Address: defaultAddress}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parsing %s: %w", path, err)
	}
	return c, nil
}

// withEnv returns c with the environment overrides applied.
func (c CLIConfig) withEnv(getenv func(string) string) CLIConfig {
	if v := getenv(envAddr); v != "" {
		c.Address = v
	}
	if v := getenv(envToken); v != "" {
		c.Token = v
	}
	if v := getenv(envCACert); v != "" {
		c.TLSCACert = v
	}
	c.Address = strings.TrimRight(c.Address, "/")
	return c
}

func (c CLIConfig) validate() error {
	u, err := url.Parse(c.Address)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid server address %q, want http(s)://host[:port]", c.Address)
	}
	return nil
}

// loadConfig resolves the effective config: defaults, then the file, then the environment.
func loadConfig() error {
	c, err := readConfig(configPath())
	if err != nil {
		return err
	}
	cfg = c.withEnv(os.Getenv)
	return cfg.validate()
}

// saveConfig persists c. The token makes the file a credential, so it is owner-only.
func saveConfig(c CLIConfig) error {
	path := configPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(&c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
