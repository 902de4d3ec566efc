package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"storefront/internal/app"
	"storefront/internal/model"
)

var (
	createEmail    string
	createPassword string
	createRole     string
)

var createAccountCmd = &cobra.Command{
	Use:   "create-account",
	Short: "Create an account with the given role",
	Long: `Create an active account. The password is read from --password or, when
omitted, from the AUTHCTL_PASSWORD environment variable.`,
	Args: cobra.NoArgs,
	RunE: runCreateAccount,
}

var unlockCmd = &cobra.Command{
	Use:   "unlock [account-id]",
	Short: "Clear the failed-login counter and any lockout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(cmd, func(ctx context.Context, core *app.Core) error {
			if err := core.Admin.Unlock(ctx, operator, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "account %s unlocked\n", args[0])
			return nil
		})
	},
}

var deactivateCmd = &cobra.Command{
	Use:   "deactivate [account-id]",
	Short: "Deactivate an account and revoke all of its sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setActive(cmd, args[0], false)
	},
}

var activateCmd = &cobra.Command{
	Use:   "activate [account-id]",
	Short: "Reactivate an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setActive(cmd, args[0], true)
	},
}

func init() {
	rootCmd.AddCommand(createAccountCmd, unlockCmd, deactivateCmd, activateCmd)

	createAccountCmd.Flags().StringVar(&createEmail, "email", "", "Account email")
	createAccountCmd.Flags().StringVar(&createPassword, "password", "", "Account password")
	createAccountCmd.Flags().StringVar(&createRole, "role", string(model.RoleCustomer), "Role: customer, manager or admin")
	_ = createAccountCmd.MarkFlagRequired("email")
}

func runCreateAccount(cmd *cobra.Command, _ []string) error {
	role, ok := model.ParseRole(createRole)
	if !ok {
		return fmt.Errorf("unknown role %q", createRole)
	}

	password := createPassword
	if password == "" {
		password = os.Getenv("AUTHCTL_PASSWORD")
	}
	if password == "" {
		return fmt.Errorf("a password is required: use --password or AUTHCTL_PASSWORD")
	}

	return withCore(cmd, func(ctx context.Context, core *app.Core) error {
		account, err := core.Auth.CreateAccount(ctx, createEmail, password, role)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %s account %s (%s)\n", account.Role, account.ID, account.Email)
		return nil
	})
}

func setActive(cmd *cobra.Command, accountID string, active bool) error {
	return withCore(cmd, func(ctx context.Context, core *app.Core) error {
		if err := core.Admin.SetActive(ctx, operator, accountID, active); err != nil {
			return err
		}
		state := "activated"
		if !active {
			state = "deactivated"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "account %s %s\n", accountID, state)
		return nil
	})
}
