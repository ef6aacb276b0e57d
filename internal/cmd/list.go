package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/isometry/ldap-userstore-agent/internal/userstore"
)

var listUsersCmd = &cobra.Command{
	Use:   "list-users [FILTER]",
	Short: "List user names matching a wildcard filter",
	Long: `List user names whose username (or display name, when configured)
matches FILTER. '*' is a wildcard; the default filter matches everyone.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runList(cmd, args, (*userstore.Manager).ListUsers)
	},
}

var listRolesCmd = &cobra.Command{
	Use:   "list-roles [FILTER]",
	Short: "List role names matching a wildcard filter",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runList(cmd, args, (*userstore.Manager).ListRoles)
	},
}

type listFunc func(m *userstore.Manager, ctx context.Context, filter string, maxItems int) ([]string, error)

func runList(cmd *cobra.Command, args []string, list listFunc) error {
	filter := "*"
	if len(args) == 1 {
		filter = args[0]
	}
	maxItems, _ := cmd.Flags().GetInt("max")

	return withManager(cmd, func(ctx context.Context, m *userstore.Manager) error {
		names, err := list(m, ctx, filter, maxItems)
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	})
}

func init() {
	rootCmd.AddCommand(listUsersCmd)
	rootCmd.AddCommand(listRolesCmd)

	listUsersCmd.Flags().Int("max", -1, "maximum number of names (negative uses the configured limit)")
	listRolesCmd.Flags().Int("max", -1, "maximum number of names (negative uses the configured limit)")
}
