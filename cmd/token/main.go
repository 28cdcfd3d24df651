// Package main mints bearer tokens for the chat API using the configured
// signing secret. It is meant for operators and local testing.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/phrazzld/chatrelay/internal/config"
	"github.com/phrazzld/chatrelay/internal/service/auth"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	flags := pflag.NewFlagSet("token", pflag.ContinueOnError)
	flags.SetOutput(io.Discard)
	subject := flags.StringP("subject", "s", "", "token subject (client identifier)")
	lifetime := flags.DurationP("lifetime", "l", 0, "token lifetime, defaults to auth.token_lifetime")
	configDir := flags.String("config-dir", ".", "directory holding config.yaml")
	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("%w\n%s", err, flags.FlagUsages())
	}
	if *subject == "" {
		return errors.New("--subject is required")
	}

	cfg, err := config.LoadFrom(*configDir)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("no JWT secret configured (set RELAY_AUTH_JWT_SECRET)")
	}
	if *lifetime > 0 {
		cfg.Auth.TokenLifetime = *lifetime
	}

	svc, err := auth.NewJWTService(cfg.Auth)
	if err != nil {
		return err
	}
	token, err := svc.GenerateToken(ctx, *subject)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(out, "%s\n# expires %s\n", token,
		time.Now().Add(cfg.Auth.TokenLifetime).UTC().Format(time.RFC3339))
	return err
}
