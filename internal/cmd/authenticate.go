package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/isometry/ldap-userstore-agent/internal/userstore"
)

var authenticateCmd = &cobra.Command{
	Use:   "authenticate USER",
	Short: "Check a user's credential",
	Long: `Bind as USER with a credential read from --password-file or, when that
is not given, the first line of standard input.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		passwordFile, _ := cmd.Flags().GetString("password-file")

		credential, err := readCredential(cmd.InOrStdin(), passwordFile)
		if err != nil {
			return err
		}

		return withManager(cmd, func(ctx context.Context, m *userstore.Manager) error {
			ok, err := m.Authenticate(ctx, args[0], credential)
			if err != nil {
				return fmt.Errorf("authenticating %s: %w", args[0], err)
			}
			if ok {
				printStatus(cmd.OutOrStdout(), true, "authenticated")
			} else {
				printStatus(cmd.OutOrStdout(), false, "not authenticated")
			}
			return nil
		})
	},
}

// readCredential returns the first line of path, or of stdin when path is
// empty, without its line terminator.
func readCredential(stdin io.Reader, path string) (string, error) {
	src := stdin
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("opening password file: %w", err)
		}
		defer f.Close()
		src = f
	}

	line, err := bufio.NewReader(src).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("reading credential: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func init() {
	rootCmd.AddCommand(authenticateCmd)

	authenticateCmd.Flags().String("password-file", "", "file holding the credential on its first line")
}
