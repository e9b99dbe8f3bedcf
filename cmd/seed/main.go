// Command seed issues a development ingest token for a namespace. The raw
// token is printed once; only its hash is stored.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"workflow-ingest/backend/internal/auth"
	"workflow-ingest/backend/internal/bootstrap"
	"workflow-ingest/backend/internal/config"
	"workflow-ingest/backend/internal/logging"
	"workflow-ingest/backend/internal/repository"
	"workflow-ingest/backend/pkg/models"
)

type seedOptions struct {
	configFile string
	namespace  string
	name       string
}

func main() {
	if err := newSeedCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newSeedCommand() *cobra.Command {
	opts := &seedOptions{}

	cmd := &cobra.Command{
		Use:           "seed",
		Short:         "Issue a development ingest token",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(opts.configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := logging.NewLogger(cfg.Log.Level)
			ctx := cmd.Context()

			store, closeStore, err := bootstrap.OpenStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			return seed(ctx, store, opts.namespace, opts.name, cmd.OutOrStdout(), logger)
		},
	}
	cmd.Flags().StringVar(&opts.configFile, "config", "", "path to config file")
	cmd.Flags().StringVar(&opts.namespace, "namespace", "", "namespace the token authenticates (required)")
	cmd.Flags().StringVar(&opts.name, "name", "dev", "label stored with the token")
	_ = cmd.MarkFlagRequired("namespace")

	return cmd
}

func seed(ctx context.Context, issuer repository.TokenIssuer, namespace, name string, out io.Writer, logger *logging.Logger) error {
	token, err := auth.GenerateToken()
	if err != nil {
		return err
	}

	if err := issuer.IssueToken(ctx, &models.Token{
		TokenHash: auth.HashToken(token),
		Namespace: namespace,
		Name:      name,
		Active:    true,
	}); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	logger.Info("Issued ingest token", "namespace", namespace, "name", name)

	_, err = fmt.Fprintln(out, token)
	return err
}
