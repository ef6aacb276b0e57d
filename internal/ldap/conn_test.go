package ldap

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// fakeConn is an in-memory Conn.
type fakeConn struct {
	mu sync.Mutex

	passwords map[string]string
	search    func(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	gssapiErr error

	binds    []string
	searches []*ldap.SearchRequest
	timeout  time.Duration
	closed   bool
}

func (c *fakeConn) Bind(username, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.binds = append(c.binds, username)
	if want, ok := c.passwords[username]; ok && want == password {
		return nil
	}
	return ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("invalid credentials"))
}

func (c *fakeConn) GSSAPIBind(client ldap.GSSAPIClient, servicePrincipal, authzid string) error {
	return c.gssapiErr
}

func (c *fakeConn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	c.mu.Lock()
	c.searches = append(c.searches, req)
	search := c.search
	c.mu.Unlock()

	if search == nil {
		return &ldap.SearchResult{}, nil
	}
	return search(req)
}

func (c *fakeConn) SetTimeout(timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = timeout
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeNetwork hands out fakeConns and records dials.
type fakeNetwork struct {
	mu sync.Mutex

	passwords map[string]string
	search    func(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	down      map[string]bool

	dials []string
	conns []*fakeConn
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		passwords: map[string]string{"cn=agent,dc=example,dc=com": "agent-secret"},
		down:      map[string]bool{},
	}
}

func (n *fakeNetwork) Dial(ctx context.Context, server *ServerInfo) (Conn, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.dials = append(n.dials, server.Host)
	if n.down[server.Host] {
		return nil, ldap.NewError(ldap.ErrorNetwork, errors.New("connection refused"))
	}

	conn := &fakeConn{passwords: n.passwords, search: n.search}
	n.conns = append(n.conns, conn)
	return conn, nil
}

func testConnectionConfig() *ConnectionConfig {
	cfg := DefaultConfig()
	cfg.LDAPURLs = []string{"ldap://ldap.example.com:389"}
	cfg.Username = "cn=agent,dc=example,dc=com"
	cfg.Password = "agent-secret"
	cfg.Timeout = time.Second
	cfg.MaxRetries = 0
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = time.Millisecond
	return cfg
}
