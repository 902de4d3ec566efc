package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"storefront/internal/app"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions [account-id]",
	Short: "List the live sessions of an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(cmd, func(ctx context.Context, core *app.Core) error {
			sessions, err := core.Admin.Sessions(ctx, args[0])
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tCREATED\tCLIENT IP\tREMEMBER ME")
			for _, s := range sessions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", s.ID, s.CreatedAt.Format(time.RFC3339), s.ClientIP, s.RememberMe)
			}
			return tw.Flush()
		})
	},
}

var revokeSessionsCmd = &cobra.Command{
	Use:   "revoke-sessions [account-id]",
	Short: "Revoke every live session of an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(cmd, func(ctx context.Context, core *app.Core) error {
			revoked, err := core.Admin.RevokeSessions(ctx, operator, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %d session(s) for account %s\n", revoked, args[0])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd, revokeSessionsCmd)
}
