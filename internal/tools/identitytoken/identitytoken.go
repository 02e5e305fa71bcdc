// Package identitytoken mints signed development identity tokens for the
// gateway's token group source.
package identitytoken

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Config holds identity token generation settings.
type Config struct {
	Secret string
	User   string
	Groups string
	TTL    time.Duration
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{TTL: 24 * time.Hour}
	fs.StringVar(&cfg.Secret, "secret", cfg.Secret, "HMAC secret (empty generates a fresh one)")
	fs.StringVar(&cfg.User, "user", cfg.User, "user name for the sub claim")
	fs.StringVar(&cfg.Groups, "groups", cfg.Groups, "comma-separated group names")
	fs.DurationVar(&cfg.TTL, "ttl", cfg.TTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run mints the token and writes export lines to out. When no secret is
// given a fresh one is generated and exported alongside the token.
func Run(cfg Config, out io.Writer, reader io.Reader, now func() time.Time) error {
	if out == nil {
		return errors.New("output is required")
	}
	if strings.TrimSpace(cfg.User) == "" {
		return errors.New("user is required")
	}
	if cfg.TTL <= 0 {
		return errors.New("ttl must be greater than zero")
	}
	if reader == nil {
		reader = rand.Reader
	}
	if now == nil {
		now = time.Now
	}

	secret := strings.TrimSpace(cfg.Secret)
	generated := false
	if secret == "" {
		buf := make([]byte, 32)
		if _, err := io.ReadFull(reader, buf); err != nil {
			return fmt.Errorf("generate secret: %w", err)
		}
		secret = hex.EncodeToString(buf)
		generated = true
	}

	var groups []string
	for _, part := range strings.Split(cfg.Groups, ",") {
		if name := strings.TrimSpace(part); name != "" {
			groups = append(groups, name)
		}
	}

	issuedAt := now()
	claims := jwt.MapClaims{
		"sub":    strings.TrimSpace(cfg.User),
		"groups": groups,
		"iat":    jwt.NewNumericDate(issuedAt),
		"exp":    jwt.NewNumericDate(issuedAt.Add(cfg.TTL)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return fmt.Errorf("sign identity token: %w", err)
	}

	if generated {
		if _, err := fmt.Fprintf(out, "export PARLEY_GATEWAY_IDENTITY_SECRET=%s\n", secret); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(out, "export PARLEY_IDENTITY_TOKEN=%s\n", token)
	return err
}
