// Package main provides the coachhub server binary.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"coachhub/cmd/identity"
	"coachhub/cmd/internal/app"
	"coachhub/cmd/security/token"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

const appName = "coachhub"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Trainer and client messaging server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(serveCmd(), tokenCmd(), versionCmd())
	return cmd
}

func serveCmd() *cobra.Command {
	var opts app.RunOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and WebSocket gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Run(opts)
		},
	}

	cmd.Flags().StringVar(&opts.EnvFile, "env-file", ".env", "Optional dotenv file; real environment variables take precedence")
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "Listen address (overrides COACHHUB_HTTP_ADDR)")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.Flags().StringVar(&opts.LogFormat, "log-format", "", "Log format: json or pretty")
	return cmd
}

// tokenCmd mints a bearer token for local testing with the configured key.
func tokenCmd() *cobra.Command {
	var (
		envFile string
		id      string
		name    string
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed participant token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
					return err
				}
			}

			r := identity.ParseRole(role)
			if !r.Valid() {
				return fmt.Errorf("unknown role %q", role)
			}
			key, err := token.KeyFromEnv(token.MinKeyBytes)
			if err != nil {
				return fmt.Errorf("%s: %w", token.KeyEnv, err)
			}
			v, err := token.NewVerifier(key)
			if err != nil {
				return err
			}

			raw, err := v.Issue(identity.Actor{
				Participant: identity.Participant{ID: id, DisplayName: name},
				Role:        r,
			}, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), raw)
			return err
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file")
	cmd.Flags().StringVar(&id, "id", "", "Participant id")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&role, "role", string(identity.RoleTrainer), "Role: trainer or client")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	}
}
