// Package gateway parses gateway command flags and composes the
// conversation service: model provider, capability registry, transcript
// store, and the WebSocket transport.
package gateway

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/parleyhq/parley/internal/authz"
	"github.com/parleyhq/parley/internal/capability"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/llm/script"
	entrypoint "github.com/parleyhq/parley/internal/platform/cmd"
	server "github.com/parleyhq/parley/internal/services/gateway/app"
	"github.com/parleyhq/parley/internal/transcript"
	transcriptsqlite "github.com/parleyhq/parley/internal/transcript/sqlite"
)

// Model provider selectors.
const (
	ProviderOpenAI = "openai"
	ProviderScript = "script"
)

// Config holds gateway command configuration.
type Config struct {
	HTTPAddr         string `env:"PARLEY_GATEWAY_HTTP_ADDR"          envDefault:":8080"`
	LLMProvider      string `env:"PARLEY_GATEWAY_LLM_PROVIDER"       envDefault:"openai"`
	LLMBaseURL       string `env:"PARLEY_GATEWAY_LLM_BASE_URL"       envDefault:"https://api.openai.com"`
	LLMAPIKey        string `env:"PARLEY_GATEWAY_LLM_API_KEY"`
	LLMModel         string `env:"PARLEY_GATEWAY_LLM_MODEL"          envDefault:"gpt-4o-mini"`
	LLMScript        string `env:"PARLEY_GATEWAY_LLM_SCRIPT"`
	CapabilityConfig string `env:"PARLEY_GATEWAY_CAPABILITY_CONFIG"`
	DBPath           string `env:"PARLEY_GATEWAY_DB_PATH"`
	IdentitySecret   string `env:"PARLEY_GATEWAY_IDENTITY_SECRET"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "gateway HTTP listen address")
	fs.StringVar(&cfg.LLMProvider, "llm-provider", cfg.LLMProvider, "model provider (openai or script)")
	fs.StringVar(&cfg.LLMBaseURL, "llm-base-url", cfg.LLMBaseURL, "OpenAI-compatible API base URL")
	fs.StringVar(&cfg.LLMAPIKey, "llm-api-key", cfg.LLMAPIKey, "model API key")
	fs.StringVar(&cfg.LLMModel, "llm-model", cfg.LLMModel, "default model name for new turns")
	fs.StringVar(&cfg.LLMScript, "llm-script", cfg.LLMScript, "Lua script path for the script provider")
	fs.StringVar(&cfg.CapabilityConfig, "capability-config", cfg.CapabilityConfig, "capability server config file (YAML)")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "transcript SQLite path (empty disables persistence)")
	fs.StringVar(&cfg.IdentitySecret, "identity-secret", cfg.IdentitySecret, "HMAC secret for identity tokens (empty trusts plain user names)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run composes the gateway dependencies and serves until the context ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceGateway, func(context.Context) error {
		provider, err := buildProvider(cfg)
		if err != nil {
			return fmt.Errorf("build model provider: %w", err)
		}

		registry, err := openRegistry(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open capability registry: %w", err)
		}
		defer func() {
			if err := registry.Close(); err != nil {
				log.Printf("close capability registry: %v", err)
			}
		}()

		transcripts, err := openTranscripts(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := transcripts.Close(); err != nil {
				log.Printf("close transcript store: %v", err)
			}
		}()

		if err := server.Run(ctx, server.Config{
			HTTPAddr:     cfg.HTTPAddr,
			DefaultModel: cfg.LLMModel,
			Registry:     registry,
			Provider:     provider,
			Transcripts:  transcripts,
			Identities:   identitySource(cfg),
		}); err != nil {
			return fmt.Errorf("serve gateway: %w", err)
		}
		return nil
	})
}

func buildProvider(cfg Config) (llm.Provider, error) {
	switch strings.TrimSpace(cfg.LLMProvider) {
	case "", ProviderOpenAI:
		return llm.NewOpenAICompatible(cfg.LLMBaseURL, cfg.LLMAPIKey, nil), nil
	case ProviderScript:
		if strings.TrimSpace(cfg.LLMScript) == "" {
			return nil, errors.New("script provider requires a script path")
		}
		return script.Load(cfg.LLMScript)
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.LLMProvider)
	}
}

// openRegistry connects to the configured capability servers. An empty
// config path starts the gateway with no capabilities at all, which is a
// valid dev setup for plain conversations.
func openRegistry(ctx context.Context, cfg Config) (*capability.Registry, error) {
	var config capability.Config
	if path := strings.TrimSpace(cfg.CapabilityConfig); path != "" {
		loaded, err := capability.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		config = loaded
	}
	return capability.Open(ctx, config, capability.Options{})
}

func openTranscripts(cfg Config) (transcript.Store, error) {
	path := strings.TrimSpace(cfg.DBPath)
	if path == "" {
		return transcript.NewNoop(), nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := transcriptsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript store: %w", err)
	}
	return store, nil
}

func identitySource(cfg Config) authz.IdentitySource {
	if secret := strings.TrimSpace(cfg.IdentitySecret); secret != "" {
		return authz.NewTokenGroups(secret)
	}
	return authz.StaticGroups{}
}
