package ldap

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// SessionProvider supplies directory sessions: pooled service-account
// sessions for searches and dedicated sessions for credential checks.
type SessionProvider struct {
	config *ConnectionConfig
	pool   ConnectionPool
	dialer Dialer
}

// Option configures a SessionProvider.
type Option func(*SessionProvider)

// WithDialer replaces the network dialer, mainly for tests.
func WithDialer(dialer Dialer) Option {
	return func(p *SessionProvider) {
		p.dialer = dialer
	}
}

// WithPool supplies a ready connection pool.
func WithPool(pool ConnectionPool) Option {
	return func(p *SessionProvider) {
		p.pool = pool
	}
}

// NewSessionProvider creates a session provider for config.
func NewSessionProvider(ctx context.Context, config *ConnectionConfig, opts ...Option) (*SessionProvider, error) {
	if config == nil {
		return nil, errors.New("connection configuration is required")
	}

	p := &SessionProvider{config: config}
	for _, opt := range opts {
		opt(p)
	}

	if p.pool == nil {
		pool, err := NewConnectionPool(ctx, config, p.dialer)
		if err != nil {
			return nil, err
		}
		p.pool = pool
	}

	tflog.SubsystemDebug(ctx, "ldap", "Session provider created", map[string]any{
		"url_count":   len(config.LDAPURLs),
		"auth_method": config.GetAuthMethod().String(),
		"start_tls":   config.StartTLS,
	})
	return p, nil
}

// GetSession returns a session bound as the service account. Closing the
// session returns its connection to the pool.
func (p *SessionProvider) GetSession(ctx context.Context) (Session, error) {
	conn, err := p.pool.Get(ctx)
	if err != nil {
		return nil, WrapError("connect", err)
	}
	return &session{conn: conn}, nil
}

// GetSessionWithCredentials dials a dedicated connection and binds with dn
// and credential. A rejected bind returns *AuthenticationError; any other
// failure is returned wrapped as *LDAPError.
func (p *SessionProvider) GetSessionWithCredentials(ctx context.Context, dn, credential string) (Session, error) {
	conn, err := p.pool.Dial(ctx)
	if err != nil {
		return nil, WrapError("connect", err)
	}

	if err := conn.Conn().Bind(dn, credential); err != nil {
		_ = conn.Close()
		if IsInvalidCredentials(err) {
			LogConnectionEvent(ctx, "authentication_failed", map[string]any{"dn": dn})
			return nil, &AuthenticationError{DN: dn, Cause: err}
		}
		ldapErr := NewLDAPError("bind", err)
		ldapErr.DN = dn
		return nil, ldapErr
	}

	LogConnectionEvent(ctx, "authentication_success", map[string]any{"dn": dn})
	return &session{conn: conn}, nil
}

// Stats returns statistics of the underlying pool.
func (p *SessionProvider) Stats() PoolStats {
	return p.pool.Stats()
}

// Close shuts down the pool.
func (p *SessionProvider) Close() error {
	return p.pool.Close()
}

// session wraps one connection for the lifetime of one operation.
type session struct {
	conn   *PooledConnection
	closed bool
}

// Search runs a whole-subtree search. Entries received before a referral
// are returned together with a *PartialResultError. Size and time limits
// truncate the result without an error.
func (s *session) Search(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	if s.closed {
		return nil, errors.New("session is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, WrapError("search", err)
	}

	searchReq := ldap.NewSearchRequest(
		req.BaseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		req.SizeLimit,
		timeLimitSeconds(req.TimeLimit),
		false,
		req.Filter,
		req.Attributes,
		nil,
	)

	tflog.SubsystemTrace(ctx, "ldap", "Executing search", map[string]any{
		"base_dn":    req.BaseDN,
		"filter":     req.Filter,
		"attributes": req.Attributes,
		"size_limit": req.SizeLimit,
	})

	res, err := s.conn.Conn().Search(searchReq)
	return s.interpret(ctx, req, res, err)
}

func (s *session) interpret(ctx context.Context, req *SearchRequest, res *ldap.SearchResult, err error) (*SearchResult, error) {
	result := &SearchResult{}
	if res != nil {
		result.Entries = res.Entries
		result.Referrals = res.Referrals
	}

	switch {
	case err == nil:
	case ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded),
		ldap.IsErrorWithCode(err, ldap.LDAPResultTimeLimitExceeded):
		result.Truncated = true
		tflog.SubsystemDebug(ctx, "ldap", "Search result truncated by limit", map[string]any{
			"base_dn":     req.BaseDN,
			"entry_count": len(result.Entries),
		})
	case ldap.IsErrorWithCode(err, ldap.LDAPResultReferral):
		return result, &PartialResultError{BaseDN: req.BaseDN, Referrals: result.Referrals, Cause: err}
	default:
		if ldap.IsErrorWithCode(err, ldap.ErrorNetwork) {
			s.conn.discard()
		}
		ldapErr := NewLDAPError("search", err)
		if ldapErr.DN == "" {
			ldapErr.DN = req.BaseDN
		}
		return nil, ldapErr
	}

	if len(result.Referrals) > 0 {
		return result, &PartialResultError{BaseDN: req.BaseDN, Referrals: result.Referrals}
	}
	return result, nil
}

// Close releases the session's connection. It is safe to call twice.
func (s *session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

// timeLimitSeconds converts a limit to whole seconds, rounding up so that
// sub-second limits do not become "no limit".
func timeLimitSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
