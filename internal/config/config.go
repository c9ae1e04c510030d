package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	configPathEnvVar  = "CONFIG_PATH"
	defaultConfigPath = "./config.yaml"
)

type Config interface {
	EnvConfig
	ServerConfig
	StoreConfig
	ScheduleConfig
	BrowserConfig
	ConcurrencyConfig
	AccountsConfig
}

// fileConfig mirrors config.yaml. Environment variables override individual fields
// through the getters, never by rewriting the struct.
type fileConfig struct {
	AppName     string           `yaml:"appName"`
	Env         string           `yaml:"env"`
	LogLevel    string           `yaml:"logLevel"`
	DataFolder  string           `yaml:"dataFolder"`
	Credentials CredentialFile   `yaml:"credentials"`
	Server      serverFile       `yaml:"server"`
	Store       storeFile        `yaml:"store"`
	Schedule    scheduleFile     `yaml:"schedule"`
	Browser     browserFile      `yaml:"browser"`
	Concurrency concurrencyFile  `yaml:"concurrency"`
	Accounts    []AccountConfig  `yaml:"accounts"`
	Notifiers   []NotifierConfig `yaml:"notifiers"`
}

// CredentialFile selects the credential backend.
type CredentialFile struct {
	Backend string `yaml:"backend"` // file | sqlite
	DSN     string `yaml:"dsn"`
}

type mainConfig struct {
	EnvVars
	Server
	Store
	Schedule
	Browser
	Concurrency
	Accounts
}

var _ Config = (*mainConfig)(nil)

// New returns a configuration made only of defaults and environment variables.
func New() Config {
	return newMainConfig(&fileConfig{})
}

// Load reads a .env file when present, then the YAML config at path (or CONFIG_PATH),
// and validates the result.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = GetEnv(configPathEnvVar, defaultConfigPath)
	}

	fc := &fileConfig{}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// env-only configuration
	case err != nil:
		return nil, fmt.Errorf("[config Load] read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, fc); err != nil {
			return nil, fmt.Errorf("[config Load] parse %s: %w", path, err)
		}
	}

	c := newMainConfig(fc)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Parse builds a configuration from raw YAML without touching the filesystem.
func Parse(data []byte) (Config, error) {
	fc := &fileConfig{}
	if err := yaml.Unmarshal(data, fc); err != nil {
		return nil, fmt.Errorf("[config Parse] %w", err)
	}
	c := newMainConfig(fc)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func newMainConfig(fc *fileConfig) *mainConfig {
	return &mainConfig{
		EnvVars:     EnvVars{file: fc},
		Server:      Server{file: fc.Server},
		Store:       Store{file: fc.Store},
		Schedule:    Schedule{file: fc.Schedule},
		Browser:     Browser{file: fc.Browser},
		Concurrency: Concurrency{file: fc.Concurrency},
		Accounts:    Accounts{accounts: fc.Accounts, notifiers: fc.Notifiers},
	}
}

// Validate collects every problem instead of stopping at the first one.
func (c *mainConfig) Validate() error {
	var problems []string
	problems = append(problems, c.Accounts.validate()...)
	problems = append(problems, c.Schedule.validate()...)
	problems = append(problems, c.Store.validate()...)
	switch c.GetCredentialBackend() {
	case CredentialBackendFile, CredentialBackendSQLite:
	default:
		problems = append(problems, fmt.Sprintf("credentials.backend %q must be file or sqlite", c.GetCredentialBackend()))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
