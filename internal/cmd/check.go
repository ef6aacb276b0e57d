package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/isometry/ldap-userstore-agent/internal/userstore"
)

var errUnhealthy = errors.New("directory connection is not healthy")

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the service account connection",
	Long:  `Open and close a service account session. Exits non-zero when the directory cannot be reached or the bind fails.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd, func(ctx context.Context, m *userstore.Manager) error {
			if !m.ConnectionHealthy(ctx) {
				printStatus(cmd.OutOrStdout(), false, "unhealthy")
				return errUnhealthy
			}
			printStatus(cmd.OutOrStdout(), true, "healthy")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
