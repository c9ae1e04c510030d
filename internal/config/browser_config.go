package config

import "time"

type BrowserConfig interface {
	GetBrowserEnabled() bool
	GetHeadless() bool
	GetBrowserBin() string
	GetBrowserUserDataDir() string
	GetBrowserTimeout() time.Duration
	GetRemoteDebuggingHost() string
}

type browserFile struct {
	Enabled             *bool         `yaml:"enabled"`
	Headless            *bool         `yaml:"headless"`
	Bin                 string        `yaml:"bin"`
	UserDataDir         string        `yaml:"userDataDir"`
	Timeout             time.Duration `yaml:"timeout"`
	RemoteDebuggingHost string        `yaml:"remoteDebuggingHost"`
}

type Browser struct {
	file browserFile
}

var _ BrowserConfig = Browser{}

func (b Browser) GetBrowserEnabled() bool {
	def := true
	if b.file.Enabled != nil {
		def = *b.file.Enabled
	}
	return GetEnvBool("BROWSER_ENABLED", def)
}

func (b Browser) GetHeadless() bool {
	def := true
	if b.file.Headless != nil {
		def = *b.file.Headless
	}
	return GetEnvBool("BROWSER_HEADLESS", def)
}

func (b Browser) GetBrowserBin() string {
	return GetEnv("BROWSER_BIN", b.file.Bin)
}

func (b Browser) GetBrowserUserDataDir() string {
	return GetEnv("BROWSER_USER_DATA_DIR", b.file.UserDataDir)
}

func (b Browser) GetBrowserTimeout() time.Duration {
	return GetEnvDuration("BROWSER_TIMEOUT", orDefault(b.file.Timeout, 60*time.Second))
}

// GetRemoteDebuggingHost is the host:port humans can open the DevTools frontend on to
// solve a captcha inside the automated browser. Empty disables remote viewing.
func (b Browser) GetRemoteDebuggingHost() string {
	return GetEnv("BROWSER_REMOTE_HOST", b.file.RemoteDebuggingHost)
}
