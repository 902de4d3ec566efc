package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"storefront/internal/app"
	"storefront/internal/config"
	"storefront/internal/logger"
	"storefront/internal/model"
)

// operator is the actor recorded in the audit log for CLI changes.
var operator = model.Identity{AccountID: "authctl", Role: model.RoleAdmin}

var rootCmd = &cobra.Command{
	Use:   "authctl",
	Short: "Operator tooling for storefront accounts and sessions",
	Long: `Manage storefront accounts and sessions directly against the credential
store and the session store. Reads the same environment as the server.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openCore builds the services from the environment. The returned release
// flushes audit events and closes the stores.
var openCore = func(cmd *cobra.Command) (*app.Core, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(slog.New(logger.New(cmd.ErrOrStderr(), cfg.LogFormat, cfg.LogLevel)))

	core, err := app.NewCore(commandContext(cmd), cfg)
	if err != nil {
		return nil, nil, err
	}

	stopAudit := core.StartAudit()
	return core, func() {
		stopAudit()
		core.Close()
	}, nil
}

// withCore wires the services, runs fn and releases them afterwards.
func withCore(cmd *cobra.Command, fn func(ctx context.Context, core *app.Core) error) error {
	core, release, err := openCore(cmd)
	if err != nil {
		return err
	}
	defer release()

	return fn(commandContext(cmd), core)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
