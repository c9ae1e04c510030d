package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	appNameVar        = "APP_NAME"
	envVar            = "ENV"
	logLevelVar       = "LOG_LEVEL"
	folderEnvVar      = "FOLDER"
	credBackendEnvVar = "CREDENTIAL_BACKEND"
	credDSNEnvVar     = "CREDENTIAL_DSN"

	CredentialBackendFile   = "file"
	CredentialBackendSQLite = "sqlite"
)

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	GetDataFolder() string
	GetCredentialBackend() string
	GetCredentialDSN() string
}

type EnvVars struct {
	file *fileConfig
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetAppName() string {
	return GetEnv(appNameVar, orDefault(e.fileValue(func(f *fileConfig) string { return f.AppName }), "Store Claimer"))
}

func (e EnvVars) GetEnv() string {
	return GetEnv(envVar, orDefault(e.fileValue(func(f *fileConfig) string { return f.Env }), "DEV"))
}

func (e EnvVars) GetLogLevel() string {
	return GetEnv(logLevelVar, orDefault(e.fileValue(func(f *fileConfig) string { return f.LogLevel }), "info"))
}

func (e EnvVars) GetDataFolder() string {
	return GetEnv(folderEnvVar, orDefault(e.fileValue(func(f *fileConfig) string { return f.DataFolder }), "./data"))
}

func (e EnvVars) GetCredentialBackend() string {
	return GetEnv(credBackendEnvVar, orDefault(e.fileValue(func(f *fileConfig) string { return f.Credentials.Backend }), CredentialBackendFile))
}

// GetCredentialDSN is the sqlite DSN; defaults to a database inside the data folder.
func (e EnvVars) GetCredentialDSN() string {
	return GetEnv(credDSNEnvVar, orDefault(e.fileValue(func(f *fileConfig) string { return f.Credentials.DSN }), filepath.Join(e.GetDataFolder(), "credentials.db")))
}

func (e EnvVars) fileValue(get func(*fileConfig) string) string {
	if e.file == nil {
		return ""
	}
	return get(e.file)
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

func GetEnvInt(envVar string, defaultValue int) int {
	if v := os.Getenv(envVar); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func GetEnvBool(envVar string, defaultValue bool) bool {
	if v := os.Getenv(envVar); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func GetEnvDuration(envVar string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(envVar); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func orDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
