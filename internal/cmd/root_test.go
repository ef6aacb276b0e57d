package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/ldap-userstore-agent/internal/userstore"
)

func TestRootCmd_Help(t *testing.T) {
	out, err := run(t, newFakeDirectory(), userStoreProperties(), "", "--help")
	require.NoError(t, err)

	assert.Contains(t, out, "userstore-agent")
	for _, sub := range []string{"check", "authenticate", "list-users", "list-roles", "roles", "attributes", "resolve", "version"} {
		assert.Contains(t, out, sub)
	}
}

func TestRootCmd_UnknownCommand(t *testing.T) {
	_, err := run(t, newFakeDirectory(), userStoreProperties(), "", "nonexistent-command")
	require.Error(t, err)
}

func TestRootCmd_InvalidUserStoreProperties(t *testing.T) {
	props := userStoreProperties()
	delete(props, "ConnectionURL")

	_, err := run(t, newFakeDirectory(), props, "", "check")
	require.Error(t, err)
	assert.True(t, userstore.IsConfigError(err))
	assert.Equal(t, ExitConfig, ExitCode(err))
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "success", err: nil, want: ExitOK},
		{name: "config error", err: &userstore.ConfigError{Property: "ConnectionURL", Message: "is required"}, want: ExitConfig},
		{name: "wrapped config error", err: fmt.Errorf("building manager: %w", &userstore.ConfigError{Property: "Referral"}), want: ExitConfig},
		{name: "unhealthy", err: errUnhealthy, want: ExitFailure},
		{name: "invalid input", err: userstore.ErrInvalidInput, want: ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestRootCmd_InvalidLogLevelFlag(t *testing.T) {
	_, err := run(t, newFakeDirectory(), userStoreProperties(), "", "--log-level", "loud", "check")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestRootCmd_MissingConfigFile(t *testing.T) {
	resetCommands(t.Context(), rootCmd)
	rootCmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml"), "check"})

	err := rootCmd.ExecuteContext(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading config")
}

func TestReadCredential(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pw")
	require.NoError(t, os.WriteFile(path, []byte("from-file\r\nsecond line\n"), 0o600))

	tests := []struct {
		name  string
		stdin string
		path  string
		want  string
	}{
		{name: "stdin line", stdin: "secret\n", want: "secret"},
		{name: "stdin without newline", stdin: "secret", want: "secret"},
		{name: "first line only", stdin: "one\ntwo\n", want: "one"},
		{name: "empty stdin", stdin: "", want: ""},
		{name: "file wins over stdin", stdin: "ignored\n", path: path, want: "from-file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readCredential(strings.NewReader(tt.stdin), tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := readCredential(strings.NewReader(""), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opening password file")
}

func TestPrintStatus(t *testing.T) {
	noColorDefault := color.NoColor
	color.NoColor = false
	t.Cleanup(func() {
		color.NoColor = noColorDefault
		noColor = false
	})

	var colored strings.Builder
	printStatus(&colored, true, "healthy")
	assert.Contains(t, colored.String(), "\x1b[")
	assert.Contains(t, colored.String(), "healthy")

	noColor = true
	var plain strings.Builder
	printStatus(&plain, false, "unhealthy")
	assert.Equal(t, "unhealthy\n", plain.String())
}
