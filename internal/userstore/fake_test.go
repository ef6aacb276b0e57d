package userstore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	goldap "github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/require"

	"github.com/isometry/ldap-userstore-agent/internal/ldap"
)

// fakeDirectory is an in-memory SessionProvider. Searches are answered by
// the search hook; binds succeed when the DN has the given password.
type fakeDirectory struct {
	mu sync.Mutex

	passwords  map[string]string
	search     func(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	bindErr    error
	sessionErr error

	binds    []string
	searches []ldap.SearchRequest
	open     int
	sessions int
	closed   bool
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{passwords: map[string]string{}}
}

func (d *fakeDirectory) addUser(dn, password string) {
	d.passwords[dnKey(dn)] = password
}

// dnKey folds the spellings of one DN to a single key, as a directory
// server would when matching a bind name.
func dnKey(dn string) string {
	if parsed, err := ldap.ParseDN(dn); err == nil {
		return strings.ToLower(parsed.String())
	}
	return strings.ToLower(dn)
}

func (d *fakeDirectory) GetSession(ctx context.Context) (ldap.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sessionErr != nil {
		return nil, d.sessionErr
	}
	d.open++
	d.sessions++
	return &fakeSession{dir: d}, nil
}

func (d *fakeDirectory) GetSessionWithCredentials(ctx context.Context, dn, credential string) (ldap.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.binds = append(d.binds, dn)
	if d.bindErr != nil {
		return nil, d.bindErr
	}

	password, ok := d.passwords[dnKey(dn)]
	if !ok || password != credential {
		return nil, &ldap.AuthenticationError{
			DN:    dn,
			Cause: goldap.NewError(goldap.LDAPResultInvalidCredentials, errors.New("invalid credentials")),
		}
	}
	d.open++
	return &fakeSession{dir: d}, nil
}

func (d *fakeDirectory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDirectory) bindCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.binds)
}

func (d *fakeDirectory) searchCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.searches)
}

func (d *fakeDirectory) openSessions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

type fakeSession struct {
	dir    *fakeDirectory
	closed bool
}

func (s *fakeSession) Search(ctx context.Context, req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	s.dir.mu.Lock()
	s.dir.searches = append(s.dir.searches, *req)
	search := s.dir.search
	s.dir.mu.Unlock()

	if search == nil {
		return &ldap.SearchResult{}, nil
	}
	return search(req)
}

func (s *fakeSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.dir.mu.Lock()
	s.dir.open--
	s.dir.mu.Unlock()
	return nil
}

// entriesByBase answers searches with the entries registered for the
// search base, ignoring the filter.
func entriesByBase(entries map[string][]*goldap.Entry) func(*ldap.SearchRequest) (*ldap.SearchResult, error) {
	return func(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
		for base, list := range entries {
			if strings.EqualFold(base, req.BaseDN) {
				return &ldap.SearchResult{Entries: list}, nil
			}
		}
		return &ldap.SearchResult{}, nil
	}
}

// mustParseDN parses a DN literal known to be valid.
func mustParseDN(dn string) *ldap.DN {
	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		panic(err)
	}
	return parsed
}

func userEntry(dn string, attributes map[string][]string) *goldap.Entry {
	return goldap.NewEntry(dn, attributes)
}

func baseProperties() map[string]any {
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

func newTestManager(t *testing.T, dir *fakeDirectory, overrides map[string]any) *Manager {
	t.Helper()

	props := baseProperties()
	for k, v := range overrides {
		if v == nil {
			delete(props, k)
			continue
		}
		props[k] = v
	}

	cfg, err := ParseConfig(props)
	require.NoError(t, err)

	m, err := NewManager(context.Background(), cfg, WithSessionProviderFactory(func(context.Context, *Config) (SessionProvider, error) {
		return dir, nil
	}))
	require.NoError(t, err)
	return m
}
