package ldap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// MaxConnectionPoolLimit is the maximum allowed connections in a pool.
const MaxConnectionPoolLimit = 100

// connectionPool implements ConnectionPool.
type connectionPool struct {
	ctx         context.Context // Logging context
	config      *ConnectionConfig
	dialer      Dialer
	discovery   *SRVDiscovery
	servers     []*ServerInfo
	connections chan *PooledConnection
	mu          sync.RWMutex
	closed      bool

	// Statistics
	activeConns  int64
	totalCreated int64
	totalErrors  int64
	startTime    time.Time
}

// NewConnectionPool creates a new connection pool. Servers are resolved up
// front; connections are dialed lazily.
func NewConnectionPool(ctx context.Context, config *ConnectionConfig, dialer Dialer) (ConnectionPool, error) {
	return newConnectionPool(ctx, config, dialer, NewSRVDiscovery())
}

func newConnectionPool(ctx context.Context, config *ConnectionConfig, dialer Dialer, discovery *SRVDiscovery) (*connectionPool, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if dialer == nil {
		var err error
		if dialer, err = NewDialer(config); err != nil {
			return nil, err
		}
	}

	pool := &connectionPool{
		ctx:         ctx,
		config:      config,
		dialer:      dialer,
		discovery:   discovery,
		connections: make(chan *PooledConnection, config.MaxConnections),
		startTime:   time.Now(),
	}

	if err := pool.discoverServers(ctx); err != nil {
		return nil, fmt.Errorf("server discovery failed: %w", err)
	}

	LogPoolEvent(ctx, "pool_initialized", map[string]any{
		"server_count":    len(pool.servers),
		"max_connections": config.MaxConnections,
		"auth_method":     config.GetAuthMethod().String(),
	})
	return pool, nil
}

// discoverServers parses the configured URLs, expanding host-less URLs and
// the configured domain through SRV discovery.
func (p *connectionPool) discoverServers(ctx context.Context) error {
	var servers []*ServerInfo
	var domains []string

	for _, raw := range p.config.LDAPURLs {
		server, domain, err := ParseLDAPURL(raw)
		if err != nil {
			return err
		}
		if server != nil {
			servers = append(servers, server)
		} else {
			domains = append(domains, domain)
		}
	}

	if len(servers) == 0 && len(domains) == 0 && p.config.Domain != "" {
		domains = append(domains, p.config.Domain)
	}

	for _, domain := range domains {
		discoverCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
		found, err := p.discovery.DiscoverServers(discoverCtx, domain)
		cancel()
		if err != nil {
			return err
		}
		servers = append(servers, found...)
	}

	if len(servers) == 0 {
		return errors.New("either a domain or LDAP URLs must be specified")
	}

	p.mu.Lock()
	p.servers = servers
	p.mu.Unlock()

	tflog.SubsystemDebug(ctx, "ldap", "Directory servers resolved", map[string]any{
		"server_count": len(servers),
	})
	return nil
}

// Get retrieves a bound service-account connection from the pool.
func (p *connectionPool) Get(ctx context.Context) (*PooledConnection, error) {
	if p.isClosed() {
		return nil, errors.New("connection pool is closed")
	}

	for {
		select {
		case conn := <-p.connections:
			if !p.isConnectionHealthy(conn) {
				LogPoolEvent(ctx, "connection_discarded", map[string]any{
					"server": conn.serverInfo.Host,
				})
				p.closeConnection(conn)
				continue
			}
			conn.lastUsed = time.Now()
			atomic.AddInt64(&p.activeConns, 1)
			LogPoolEvent(ctx, "connection_acquired", map[string]any{
				"server": conn.serverInfo.Host,
				"reused": true,
			})
			return conn, nil
		default:
		}
		break
	}

	conn, err := p.createConnection(ctx, true)
	if err != nil {
		return nil, err
	}
	conn.returnToPool = p.returnConnection
	atomic.AddInt64(&p.activeConns, 1)
	return conn, nil
}

// Dial opens an unbound connection for a caller-supplied bind.
func (p *connectionPool) Dial(ctx context.Context) (*PooledConnection, error) {
	if p.isClosed() {
		return nil, errors.New("connection pool is closed")
	}
	return p.createConnection(ctx, false)
}

// createConnection tries each server in order, repeating the pass with
// exponential backoff up to MaxRetries times.
func (p *connectionPool) createConnection(ctx context.Context, bind bool) (*PooledConnection, error) {
	var lastErr error
	backoff := p.config.InitialBackoff

	p.mu.RLock()
	servers := p.servers
	p.mu.RUnlock()

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		for _, server := range servers {
			conn, err := p.createSingleConnection(ctx, server, bind)
			if err != nil {
				lastErr = err
				atomic.AddInt64(&p.totalErrors, 1)
				LogConnectionEvent(ctx, "connection_failed", map[string]any{
					"server":  ServerInfoToURL(server),
					"attempt": attempt + 1,
					"error":   err.Error(),
				})
				if bind && IsAuthenticationError(err) {
					// The service account itself was rejected; other servers will agree.
					return nil, NewConnectionError("service account bind failed", false, err)
				}
				continue
			}

			atomic.AddInt64(&p.totalCreated, 1)
			return conn, nil
		}

		if !IsRetryableError(lastErr) {
			break
		}

		if attempt < p.config.MaxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				backoff = min(time.Duration(float64(backoff)*p.config.BackoffFactor), p.config.MaxBackoff)
			}
		}
	}

	LogPoolEvent(ctx, "all_connections_failed", map[string]any{
		"server_count": len(servers),
	})
	return nil, NewConnectionError("failed to connect to any directory server", IsRetryableError(lastErr), lastErr)
}

// createSingleConnection dials one server and optionally binds the service account.
func (p *connectionPool) createSingleConnection(ctx context.Context, server *ServerInfo, bind bool) (*PooledConnection, error) {
	conn, err := p.dialer.Dial(ctx, server)
	if err != nil {
		return nil, err
	}

	pooled := &PooledConnection{
		conn:       conn,
		lastUsed:   time.Now(),
		healthy:    true,
		serverInfo: server,
	}

	if bind {
		if err := p.authenticateConnection(ctx, pooled); err != nil {
			_ = conn.Close()
			return nil, WrapError("bind", err)
		}
	}

	LogConnectionEvent(ctx, "connection_established", map[string]any{
		"server": ServerInfoToURL(server),
		"bound":  bind,
	})
	return pooled, nil
}

// authenticateConnection binds a connection as the service account.
func (p *connectionPool) authenticateConnection(ctx context.Context, pooled *PooledConnection) error {
	var err error

	switch method := p.config.GetAuthMethod(); method {
	case AuthMethodSimpleBind:
		err = pooled.conn.Bind(p.config.Username, p.config.Password)
	case AuthMethodKerberos:
		err = performKerberosAuth(ctx, pooled.conn, p.config, pooled.serverInfo)
	case AuthMethodAnonymous:
		pooled.authenticated = true
		return nil
	default:
		return fmt.Errorf("unsupported authentication method: %s", method.String())
	}

	if err != nil {
		pooled.authenticated = false
		return err
	}

	pooled.authenticated = true
	return nil
}

// returnConnection returns a connection to the pool.
func (p *connectionPool) returnConnection(conn *PooledConnection) {
	atomic.AddInt64(&p.activeConns, -1)

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed || !p.isConnectionHealthy(conn) {
		p.closeConnection(conn)
		return
	}

	conn.lastUsed = time.Now()
	select {
	case p.connections <- conn:
		LogPoolEvent(p.ctx, "connection_released", map[string]any{
			"server": conn.serverInfo.Host,
		})
	default:
		LogPoolEvent(p.ctx, "pool_full", map[string]any{
			"max_connections": p.config.MaxConnections,
		})
		p.closeConnection(conn)
	}
}

// isConnectionHealthy checks if a connection can be reused.
func (p *connectionPool) isConnectionHealthy(conn *PooledConnection) bool {
	if conn == nil || conn.conn == nil || !conn.healthy || !conn.authenticated {
		return false
	}
	return time.Since(conn.lastUsed) <= p.config.MaxIdleTime
}

// closeConnection closes a pooled connection.
func (p *connectionPool) closeConnection(conn *PooledConnection) {
	if conn != nil && conn.conn != nil {
		_ = conn.conn.Close()
		conn.healthy = false
		conn.authenticated = false
	}
}

func (p *connectionPool) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Close closes all idle connections and shuts down the pool. Connections
// still handed out are closed when they are returned.
func (p *connectionPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	for {
		select {
		case conn := <-p.connections:
			p.closeConnection(conn)
		default:
			return nil
		}
	}
}

// Stats returns pool statistics.
func (p *connectionPool) Stats() PoolStats {
	return PoolStats{
		Idle:    len(p.connections),
		Active:  atomic.LoadInt64(&p.activeConns),
		Created: atomic.LoadInt64(&p.totalCreated),
		Errors:  atomic.LoadInt64(&p.totalErrors),
		Uptime:  time.Since(p.startTime),
	}
}

// validateConfig validates the connection configuration.
func validateConfig(config *ConnectionConfig) error {
	if config.MaxConnections <= 0 {
		return errors.New("MaxConnections must be positive")
	}

	if config.MaxConnections > MaxConnectionPoolLimit {
		return fmt.Errorf("MaxConnections too high (max %d)", MaxConnectionPoolLimit)
	}

	if config.MaxIdleTime <= 0 {
		return errors.New("MaxIdleTime must be positive")
	}

	if config.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}

	if config.MaxRetries < 0 {
		return errors.New("MaxRetries cannot be negative")
	}

	if config.BackoffFactor <= 1.0 {
		return errors.New("BackoffFactor must be greater than 1.0")
	}

	return nil
}

// Close returns the connection to its pool, or closes it when it is not pooled.
func (pc *PooledConnection) Close() error {
	if pc.returnToPool != nil {
		pc.returnToPool(pc)
		return nil
	}
	if pc.conn == nil {
		return nil
	}
	return pc.conn.Close()
}

// Conn returns the underlying connection.
func (pc *PooledConnection) Conn() Conn {
	return pc.conn
}

// ServerInfo returns the server the connection was dialed to.
func (pc *PooledConnection) ServerInfo() *ServerInfo {
	return pc.serverInfo
}

// discard marks the connection unusable so returning it closes it.
func (pc *PooledConnection) discard() {
	pc.healthy = false
}
