package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/isometry/ldap-userstore-agent/internal/userstore"
)

var rolesCmd = &cobra.Command{
	Use:   "roles USER",
	Short: "List the roles USER belongs to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd, func(ctx context.Context, m *userstore.Manager) error {
			roles, err := m.RoleNamesOfUser(ctx, args[0])
			if err != nil {
				return err
			}
			for _, role := range roles {
				fmt.Fprintln(cmd.OutOrStdout(), role)
			}
			return nil
		})
	},
}

var attributesCmd = &cobra.Command{
	Use:   "attributes USER ATTRIBUTE...",
	Short: "Show attributes of USER",
	Long: `Print the requested attributes of USER as "name: value" lines sorted by
name. Attributes the entry does not carry are omitted.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd, func(ctx context.Context, m *userstore.Manager) error {
			values, err := m.GetUserAttributes(ctx, args[0], args[1:])
			if err != nil {
				return err
			}

			names := make([]string, 0, len(values))
			for name := range values {
				names = append(names, name)
			}
			sort.Strings(names)

			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, values[name])
			}
			return nil
		})
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve USER",
	Short: "Print the distinguished name of USER",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd, func(ctx context.Context, m *userstore.Manager) error {
			dn, err := m.ResolveUserDN(ctx, args[0])
			if err != nil {
				return err
			}
			if dn == nil {
				return fmt.Errorf("user %q not found", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), dn.String())
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(rolesCmd)
	rootCmd.AddCommand(attributesCmd)
	rootCmd.AddCommand(resolveCmd)
}
