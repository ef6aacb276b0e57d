package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	goldap "github.com/go-ldap/ldap/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/isometry/ldap-userstore-agent/internal/ldap"
	"github.com/isometry/ldap-userstore-agent/internal/userstore"
)

// fakeDirectory answers searches from entries keyed by search base and
// accepts binds for DNs listed in passwords.
type fakeDirectory struct {
	passwords  map[string]string
	entries    map[string][]*goldap.Entry
	sessionErr error
	closed     bool
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		passwords: map[string]string{},
		entries:   map[string][]*goldap.Entry{},
	}
}

func (d *fakeDirectory) addEntry(base, dn string, attributes map[string][]string) {
	key := strings.ToLower(base)
	d.entries[key] = append(d.entries[key], goldap.NewEntry(dn, attributes))
}

func (d *fakeDirectory) GetSession(ctx context.Context) (ldap.Session, error) {
	if d.sessionErr != nil {
		return nil, d.sessionErr
	}
	return fakeSession{dir: d}, nil
}

func (d *fakeDirectory) GetSessionWithCredentials(ctx context.Context, dn, credential string) (ldap.Session, error) {
	if password, ok := d.passwords[strings.ToLower(dn)]; ok && password == credential {
		return fakeSession{dir: d}, nil
	}
	return nil, &ldap.AuthenticationError{
		DN:    dn,
		Cause: goldap.NewError(goldap.LDAPResultInvalidCredentials, errors.New("invalid credentials")),
	}
}

func (d *fakeDirectory) Close() error {
	d.closed = true
	return nil
}

type fakeSession struct {
	dir *fakeDirectory
}

func (s fakeSession) Search(ctx context.Context, req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	return &ldap.SearchResult{Entries: s.dir.entries[strings.ToLower(req.BaseDN)]}, nil
}

func (s fakeSession) Close() error { return nil }

func userStoreProperties() map[string]any {
	return map[string]any{
		"ConnectionURL":        "ldap://ldap.example.com:389",
		"ConnectionName":       "cn=agent,dc=example,dc=com",
		"ConnectionPassword":   "agent-secret",
		"UserSearchBase":       "ou=users,dc=example,dc=com",
		"UserNameListFilter":   "(objectClass=person)",
		"UserNameSearchFilter": "(&(objectClass=person)(uid=?))",
		"UserNameAttribute":    "uid",
		"GroupSearchBase":      "ou=groups,dc=example,dc=com",
		"GroupNameListFilter":  "(objectClass=groupOfNames)",
		"GroupNameAttribute":   "cn",
		"MembershipAttribute":  "member",
		"UserDNCacheEnabled":   "true",
	}
}

// writeAgentConfig writes a JSON agent file holding properties.
func writeAgentConfig(t *testing.T, properties map[string]any) string {
	t.Helper()

	data, err := json.Marshal(map[string]any{
		"log_level": "off",
		"userstore": properties,
	})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "agent.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

// resetCommands restores every flag in the tree to its default and points
// every command at ctx so state does not leak between executions.
func resetCommands(ctx context.Context, c *cobra.Command) {
	c.SetContext(ctx)
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetCommands(ctx, sub)
	}
}

// run executes the command tree against dir with the given properties.
func run(t *testing.T, dir *fakeDirectory, properties map[string]any, stdin string, args ...string) (string, error) {
	t.Helper()

	resetCommands(t.Context(), rootCmd)
	cfg = nil
	managerOptions = []userstore.ManagerOption{
		userstore.WithSessionProviderFactory(func(context.Context, *userstore.Config) (userstore.SessionProvider, error) {
			return dir, nil
		}),
	}
	t.Cleanup(func() { managerOptions = nil })

	noColorDefault := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = noColorDefault })

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(new(bytes.Buffer))
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(append([]string{"--config", writeAgentConfig(t, properties)}, args...))

	err := rootCmd.ExecuteContext(t.Context())
	return buf.String(), err
}
