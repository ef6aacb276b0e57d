package ldap

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// ConnectionConfig holds configuration for directory connections.
type ConnectionConfig struct {
	// Connection settings
	LDAPURLs []string      // ldap:// or ldaps:// URLs, tried in order; a host-less URL triggers SRV discovery
	Domain   string        // Domain for SRV discovery when no URL names a host
	Timeout  time.Duration // Dial and per-request timeout

	// Service account settings
	Username       string // Bind DN, or Kerberos principal
	Password       string // Password for simple bind or Kerberos password login
	KerberosRealm  string // Kerberos realm for GSSAPI authentication
	KerberosKeytab string // Path to Kerberos keytab file
	KerberosConfig string // Path to Kerberos config file (krb5.conf)
	KerberosCCache string // Path to Kerberos credential cache
	KerberosSPN    string // Service principal override, default ldap/<host>

	// TLS settings
	TLSConfig          *tls.Config // Custom TLS configuration, built from the fields below when nil
	StartTLS           bool        // Upgrade plain ldap:// connections
	TLSCACertFile      string      // Path to CA certificate bundle
	InsecureSkipVerify bool        // Skip server certificate verification

	// Pool settings
	MaxConnections int           // Maximum idle service-account connections kept
	MaxIdleTime    time.Duration // Maximum idle time before a pooled connection is discarded

	// Dial retry settings
	MaxRetries     int           // Additional passes over the server list
	InitialBackoff time.Duration // Initial backoff duration
	MaxBackoff     time.Duration // Maximum backoff duration
	BackoffFactor  float64       // Backoff multiplication factor
}

// DefaultConfig returns a secure default configuration.
func DefaultConfig() *ConnectionConfig {
	return &ConnectionConfig{
		Timeout:        30 * time.Second,
		MaxConnections: 10,
		MaxIdleTime:    5 * time.Minute,
		MaxRetries:     2,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
	}
}

// PooledConnection represents a service-account connection. Close returns
// it to its pool, or closes it when it was dialed for a single use.
type PooledConnection struct {
	conn          Conn
	lastUsed      time.Time
	healthy       bool
	authenticated bool
	serverInfo    *ServerInfo
	returnToPool  func(*PooledConnection)
}

// ServerInfo contains information about a directory server.
type ServerInfo struct {
	Host     string
	Port     int
	UseTLS   bool
	Priority int
	Weight   int
	Source   string // "srv", "config", "fallback"
}

// ConnectionPool manages service-account connections.
type ConnectionPool interface {
	// Get retrieves a bound service-account connection.
	Get(ctx context.Context) (*PooledConnection, error)

	// Dial opens an unbound connection that is closed, not pooled, on Close.
	Dial(ctx context.Context) (*PooledConnection, error)

	// Close closes all connections and shuts down the pool.
	Close() error

	// Stats returns pool statistics.
	Stats() PoolStats
}

// PoolStats provides statistics about the connection pool.
type PoolStats struct {
	Idle    int           // Idle connections
	Active  int64         // Connections handed out and not yet returned
	Created int64         // Total connections created
	Errors  int64         // Total connection errors
	Uptime  time.Duration // Pool uptime
}

// Session is a directory session valid for one logical operation.
type Session interface {
	Search(ctx context.Context, req *SearchRequest) (*SearchResult, error)
	Close() error
}

// SearchRequest encapsulates search parameters. Scope is always the whole
// subtree below BaseDN.
type SearchRequest struct {
	BaseDN     string
	Filter     string
	Attributes []string // empty means all user attributes
	SizeLimit  int
	TimeLimit  time.Duration
}

// SearchResult contains search results and metadata.
type SearchResult struct {
	Entries   []*ldap.Entry
	Referrals []string
	Truncated bool // a size or time limit cut the result short
}

// AuthMethod defines authentication method types.
type AuthMethod int

const (
	AuthMethodSimpleBind AuthMethod = iota // Bind DN and password
	AuthMethodKerberos                     // GSSAPI/Kerberos authentication
	AuthMethodAnonymous                    // No service account
)

// String returns string representation of authentication method.
func (a AuthMethod) String() string {
	switch a {
	case AuthMethodSimpleBind:
		return "simple"
	case AuthMethodKerberos:
		return "kerberos"
	case AuthMethodAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// GetAuthMethod determines the service account authentication method.
func (c *ConnectionConfig) GetAuthMethod() AuthMethod {
	if c.Username != "" && (c.KerberosRealm != "" || c.KerberosKeytab != "" || c.KerberosCCache != "") {
		return AuthMethodKerberos
	}

	if c.Username != "" {
		return AuthMethodSimpleBind
	}

	return AuthMethodAnonymous
}

// RetryableError indicates an error that can be retried.
type RetryableError interface {
	error
	IsRetryable() bool
}

// ConnectionError represents connection-related errors.
type ConnectionError struct {
	message   string
	retryable bool
	cause     error
}

func (e *ConnectionError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *ConnectionError) IsRetryable() bool {
	return e.retryable
}

func (e *ConnectionError) Unwrap() error {
	return e.cause
}

// NewConnectionError creates a new connection error.
func NewConnectionError(message string, retryable bool, cause error) *ConnectionError {
	return &ConnectionError{
		message:   message,
		retryable: retryable,
		cause:     cause,
	}
}
