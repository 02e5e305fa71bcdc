// Package toolserver parses toolserver command flags and serves the demo
// capability modules over stdio MCP.
package toolserver

import (
	"context"
	"flag"
	"fmt"
	"strings"

	entrypoint "github.com/parleyhq/parley/internal/platform/cmd"
	"github.com/parleyhq/parley/internal/services/toolserver/service"
)

// Config holds toolserver command configuration.
type Config struct {
	Modules string `env:"PARLEY_TOOLSERVER_MODULES"`
	Root    string `env:"PARLEY_TOOLSERVER_ROOT"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.Modules, "modules", cfg.Modules, "comma-separated tool modules to serve (empty serves all)")
	fs.StringVar(&cfg.Root, "root", cfg.Root, "directory served by the filesystem module")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run serves the selected tool modules on stdio until the context ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceToolserver, func(context.Context) error {
		if err := service.Run(ctx, service.Config{
			Modules: splitModules(cfg.Modules),
			Root:    cfg.Root,
		}); err != nil {
			return fmt.Errorf("serve toolserver: %w", err)
		}
		return nil
	})
}

func splitModules(value string) []string {
	var modules []string
	for _, part := range strings.Split(value, ",") {
		if name := strings.TrimSpace(part); name != "" {
			modules = append(modules, name)
		}
	}
	return modules
}
