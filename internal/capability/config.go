// Package capability discovers and invokes tools exposed by MCP capability
// servers. A registry connects to every configured server at startup, indexes
// the tools and prompts each one advertises, and routes invocations to the
// owning server session.
package capability

import (
	"fmt"
	"os"
	"strings"
	"time"

	apperrors "github.com/parleyhq/parley/internal/platform/errors"
	"github.com/parleyhq/parley/internal/platform/timeouts"
	"gopkg.in/yaml.v3"
)

// Config describes the capability servers a gateway connects to.
type Config struct {
	Servers []ServerConfig `yaml:"servers"`
}

// ServerConfig describes one capability server process.
type ServerConfig struct {
	// Name identifies the server and prefixes its capability keys.
	// Keys take the form <server>_<tool>, so names must not contain
	// underscores.
	Name string `yaml:"name"`

	// Command is the argv used to launch the server. The process
	// speaks MCP over stdio.
	Command []string `yaml:"command"`

	// Groups restricts the server to identities holding at least one
	// of the listed groups. Empty means any identity may use it.
	Groups []string `yaml:"groups"`

	// Exclusive marks the server as incompatible with tools from any
	// other server within the same session.
	Exclusive bool `yaml:"exclusive"`

	// Timeout bounds each tool invocation, in time.ParseDuration
	// format (e.g. "30s"). Empty uses the default invocation timeout.
	Timeout string `yaml:"timeout"`
}

// LoadConfig reads and validates a YAML capability configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read capability config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, apperrors.Wrap(apperrors.CodeCapabilityConfigInvalid, "parse capability config", err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Validate checks server names, commands, and timeouts.
func (c Config) Validate() error {
	seen := make(map[string]bool, len(c.Servers))
	for _, server := range c.Servers {
		if server.Name == "" {
			return apperrors.New(apperrors.CodeCapabilityConfigInvalid, "capability server name is required")
		}
		if strings.Contains(server.Name, "_") {
			return apperrors.WithMetadata(
				apperrors.CodeCapabilityConfigInvalid,
				"capability server name must not contain underscores",
				map[string]string{"server": server.Name},
			)
		}
		if seen[server.Name] {
			return apperrors.WithMetadata(
				apperrors.CodeCapabilityConfigInvalid,
				"capability server name is duplicated",
				map[string]string{"server": server.Name},
			)
		}
		seen[server.Name] = true

		if len(server.Command) == 0 {
			return apperrors.WithMetadata(
				apperrors.CodeCapabilityConfigInvalid,
				"capability server command is required",
				map[string]string{"server": server.Name},
			)
		}
		if server.Timeout != "" {
			if _, err := time.ParseDuration(server.Timeout); err != nil {
				return apperrors.WithMetadata(
					apperrors.CodeCapabilityConfigInvalid,
					fmt.Sprintf("capability server timeout %q is invalid", server.Timeout),
					map[string]string{"server": server.Name},
				)
			}
		}
	}
	return nil
}

// CallTimeout returns the per-invocation timeout for the server. Validate
// should have rejected unparseable values, so parse failures fall back to
// the default.
func (s ServerConfig) CallTimeout() time.Duration {
	if s.Timeout == "" {
		return timeouts.Invocation
	}
	parsed, err := time.ParseDuration(s.Timeout)
	if err != nil {
		return timeouts.Invocation
	}
	return parsed
}
