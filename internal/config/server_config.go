package config

import (
	"fmt"
	"strings"
)

const (
	portEnvVar = "PORT"
	baseURLVar = "BASE_URL"
)

type ServerConfig interface {
	GetPort() string
	GetBaseURL() string
}

type serverFile struct {
	Port    string `yaml:"port"`
	BaseURL string `yaml:"baseUrl"`
}

type Server struct {
	file serverFile
}

var _ ServerConfig = Server{}

func (s Server) GetPort() string {
	port := GetEnv(portEnvVar, orDefault(s.file.Port, "3000"))
	if !strings.HasPrefix(port, ":") {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

// GetBaseURL returns the public URL humans reach the callback server on; escalation links
// are built from it.
func (s Server) GetBaseURL() string {
	return strings.TrimRight(GetEnv(baseURLVar, orDefault(s.file.BaseURL, "http://localhost:3000")), "/")
}
