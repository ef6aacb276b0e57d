// Package cmd contains the userstore-agent command tree.
package cmd

import (
	"context"
	"fmt"

	"github.com/hashicorp/terraform-plugin-log/tfsdklog"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/spf13/cobra"

	"github.com/isometry/ldap-userstore-agent/internal/config"
	"github.com/isometry/ldap-userstore-agent/internal/ldap"
	"github.com/isometry/ldap-userstore-agent/internal/userstore"
)

var (
	cfgFile string
	cfg     *config.Config
	version = "dev"

	// managerOptions are passed to every Manager the commands build.
	managerOptions []userstore.ManagerOption
)

var rootCmd = &cobra.Command{
	Use:   "userstore-agent",
	Short: "On-premise LDAP user store agent",
	Long: `userstore-agent answers identity queries against an LDAP directory:
credential checks, user and role listings, role membership and attribute
lookups.

Example usage:
  userstore-agent check                         # Verify the service account can bind
  userstore-agent authenticate alice < pw.txt   # Check alice's password
  userstore-agent list-users 'a*' --max 20      # List matching user names
  userstore-agent roles alice                   # Show alice's roles
  userstore-agent attributes alice mail sn      # Show selected attributes`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// Process exit statuses returned by ExitCode.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitConfig  = 2
)

// ExitCode maps an Execute error to a process exit status. Invalid user
// store properties get their own status so supervisors can stop restarting.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case userstore.IsConfigError(err):
		return ExitConfig
	default:
		return ExitFailure
	}
}

// SetVersion sets the version string for the CLI
func SetVersion(v string) {
	version = v
}

func init() {
	// Assigned here rather than in the literal: initConfig reads rootCmd,
	// which would otherwise form an initialization cycle.
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return initConfig(cmd)
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./userstore-agent.yaml)")
	rootCmd.PersistentFlags().String(config.LogLevelFlag, "", "log level: trace, debug, info, warn, error or off")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// initConfig loads the configuration and attaches the root logger to the
// command context.
func initConfig(cmd *cobra.Command) error {
	var err error

	cfg, err = config.Load(cfgFile, rootCmd.PersistentFlags())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	level := cfg.Level()
	ctx := tfsdklog.NewRootProviderLogger(cmd.Context(),
		tfsdklog.WithLogName("userstore-agent"),
		tfsdklog.WithLevel(level),
		tfsdklog.WithoutLocation(),
	)
	subsystems := append([]string{userstore.Subsystem}, ldap.Subsystems...)
	ctx = ldap.WithSubsystems(ctx, level, subsystems...)

	tflog.Debug(ctx, "Configuration loaded", map[string]any{
		"config_file":    cfgFile,
		"log_level":      level.String(),
		"property_count": len(cfg.UserStore),
	})

	cmd.SetContext(ctx)
	return nil
}

// openManager builds a Manager from the loaded user store properties.
func openManager(ctx context.Context) (*userstore.Manager, error) {
	storeCfg, err := userstore.ParseConfig(cfg.UserStore)
	if err != nil {
		return nil, err
	}
	return userstore.NewManager(ctx, storeCfg, managerOptions...)
}

// withManager runs fn against a freshly built Manager and closes it.
func withManager(cmd *cobra.Command, fn func(ctx context.Context, m *userstore.Manager) error) error {
	ctx := cmd.Context()

	m, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := m.Close(); cerr != nil {
			tflog.Warn(ctx, "Closing user store manager failed", map[string]any{"error": cerr.Error()})
		}
	}()

	return fn(ctx, m)
}
