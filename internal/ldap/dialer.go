package ldap

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// Conn is the subset of *ldap.Conn used by pools and sessions.
type Conn interface {
	Bind(username, password string) error
	GSSAPIBind(client ldap.GSSAPIClient, servicePrincipal, authzid string) error
	Search(searchRequest *ldap.SearchRequest) (*ldap.SearchResult, error)
	SetTimeout(timeout time.Duration)
	Close() error
}

// goLDAPConn adapts *ldap.Conn to Conn.
type goLDAPConn struct {
	*ldap.Conn
}

func (c goLDAPConn) Close() error {
	c.Conn.Close()
	return nil
}

var _ Conn = goLDAPConn{}

// Dialer opens connections to a directory server.
type Dialer interface {
	Dial(ctx context.Context, server *ServerInfo) (Conn, error)
}

// DialerFunc makes it easy to use a func as a Dialer.
type DialerFunc func(ctx context.Context, server *ServerInfo) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, server *ServerInfo) (Conn, error) {
	return f(ctx, server)
}

// netDialer dials with context support, which ldap.DialURL lacks.
type netDialer struct {
	config    *ConnectionConfig
	tlsConfig *tls.Config
}

// NewDialer returns the default Dialer for a configuration.
func NewDialer(config *ConnectionConfig) (Dialer, error) {
	tlsConfig, err := buildTLSConfig(config)
	if err != nil {
		return nil, err
	}
	return &netDialer{config: config, tlsConfig: tlsConfig}, nil
}

func (d *netDialer) Dial(ctx context.Context, server *ServerInfo) (Conn, error) {
	addr := net.JoinHostPort(server.Host, strconv.Itoa(server.Port))
	base := &net.Dialer{Timeout: d.config.Timeout}

	tlsConfig := d.tlsConfig.Clone()
	if tlsConfig.ServerName == "" {
		tlsConfig.ServerName = server.Host
	}

	var (
		c   net.Conn
		err error
	)
	if server.UseTLS {
		c, err = (&tls.Dialer{NetDialer: base, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		c, err = base.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, ldap.NewError(ldap.ErrorNetwork, fmt.Errorf("failed to connect to %s: %w", addr, err))
	}

	conn := ldap.NewConn(c, server.UseTLS)
	conn.Start()

	if !server.UseTLS && d.config.StartTLS {
		if err := conn.StartTLS(tlsConfig); err != nil {
			conn.Close()
			return nil, fmt.Errorf("StartTLS with %s failed: %w", addr, err)
		}
	}

	conn.SetTimeout(d.config.Timeout)

	return goLDAPConn{conn}, nil
}

// buildTLSConfig returns the configured TLS settings, loading the CA bundle
// when one is named.
func buildTLSConfig(config *ConnectionConfig) (*tls.Config, error) {
	if config.TLSConfig != nil {
		return config.TLSConfig, nil
	}

	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: config.InsecureSkipVerify, //nolint:gosec // operator opt-in
	}

	if config.TLSCACertFile != "" {
		pem, err := os.ReadFile(config.TLSCACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", config.TLSCACertFile)
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}
