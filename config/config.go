// Package config holds the runtime configuration for the conversion
// service. A Config is built once at startup and injected into the
// handler and converter; nothing reads the environment after that.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/sirupsen/logrus"
)

const (
	DefaultRunner         = "docker run --rm"
	DefaultImage          = "trophime/gmsh"
	DefaultTool           = "gmsh"
	DefaultMountPoint     = "/work"
	DefaultTimeout        = 60 * time.Second
	DefaultMaxUploadBytes = 64 << 20
	DefaultStaticDir      = "./static"
	DefaultPort           = "8080"
)

// Config carries everything the service needs to run.
type Config struct {
	Port           string
	Runner         string // container runtime command prefix, e.g. "docker run --rm"
	Image          string // container image providing the meshing tool
	Tool           string // tool binary inside the image
	MountPoint     string // where the staging dir is mounted inside the container
	Timeout        time.Duration
	StagingRoot    string
	StaticDir      string
	MaxUploadBytes int64
}

// Default returns a Config with production defaults.
func Default() Config {
	return Config{
		Port:           DefaultPort,
		Runner:         DefaultRunner,
		Image:          DefaultImage,
		Tool:           DefaultTool,
		MountPoint:     DefaultMountPoint,
		Timeout:        DefaultTimeout,
		StagingRoot:    os.TempDir(),
		StaticDir:      DefaultStaticDir,
		MaxUploadBytes: DefaultMaxUploadBytes,
	}
}

// RunnerArgs splits the runner command into argv words. The runner is
// operator-supplied (docker, podman, or a wrapper script), never derived
// from request input.
func (c Config) RunnerArgs() ([]string, error) {
	words, err := shlex.Split(c.Runner)
	if err != nil {
		return nil, fmt.Errorf("invalid runner command %q: %w", c.Runner, err)
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("runner command is empty")
	}
	return words, nil
}

// ParseLogLevel maps a LOG_LEVEL string to a logrus level, defaulting
// to info when unset or unrecognised.
func ParseLogLevel(s string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return logrus.DebugLevel
	case "info", "":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
