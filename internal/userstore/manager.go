package userstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	goldap "github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/ldap-userstore-agent/internal/ldap"
)

// Subsystem is the tflog subsystem used by the manager.
const Subsystem = "userstore"

// SessionProvider is the directory capability the manager depends on.
// *ldap.SessionProvider implements it.
type SessionProvider interface {
	GetSession(ctx context.Context) (ldap.Session, error)
	GetSessionWithCredentials(ctx context.Context, dn, credential string) (ldap.Session, error)
	Close() error
}

// SessionProviderFactory builds the session provider for a configuration.
type SessionProviderFactory func(ctx context.Context, cfg *Config) (SessionProvider, error)

// DefaultSessionProviderFactory connects to the directory named by cfg.
func DefaultSessionProviderFactory(ctx context.Context, cfg *Config) (SessionProvider, error) {
	provider, err := ldap.NewSessionProvider(ctx, cfg.ConnectionConfig())
	if err != nil {
		return nil, err
	}
	return provider, nil
}

// snapshot is everything an operation reads. It is replaced as a whole on
// reconfiguration.
type snapshot struct {
	cfg      *Config
	provider SessionProvider
	escaper  ldap.Escaper
	renderer *ldap.AttributeRenderer
}

// Manager is the user-store manager. It is safe for concurrent use.
type Manager struct {
	current atomic.Pointer[snapshot]
	cache   *DNCache
	factory SessionProviderFactory
	mu      sync.Mutex // serializes SetConfiguration
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDNCache injects the DN cache. By default each manager owns a new one.
func WithDNCache(cache *DNCache) ManagerOption {
	return func(m *Manager) {
		m.cache = cache
	}
}

// WithSessionProviderFactory replaces how session providers are built.
func WithSessionProviderFactory(factory SessionProviderFactory) ManagerOption {
	return func(m *Manager) {
		m.factory = factory
	}
}

// NewManager creates a manager for cfg.
func NewManager(ctx context.Context, cfg *Config, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{factory: DefaultSessionProviderFactory}
	for _, opt := range opts {
		opt(m)
	}
	if m.cache == nil {
		m.cache = NewDNCache()
	}

	if err := m.SetConfiguration(ctx, cfg); err != nil {
		return nil, err
	}
	return m, nil
}

// SetConfiguration validates cfg, builds a new session provider and swaps
// both in atomically. When cfg disables the DN cache the cache is disabled
// permanently; enabling it again has no effect.
func (m *Manager) SetConfiguration(ctx context.Context, cfg *Config) error {
	if cfg == nil {
		return &ConfigError{Property: "configuration", Message: "configuration is required"}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	provider, err := m.factory(ctx, cfg)
	if err != nil {
		return fmt.Errorf("building directory session provider: %w", err)
	}

	next := &snapshot{
		cfg:      cfg,
		provider: provider,
		escaper:  ldap.NewEscaper(cfg.EscapeAtLogin()),
		renderer: ldap.NewAttributeRenderer(strings.Fields(cfg.BinaryAttributes), cfg.DecodeIdentifierAttributes),
	}
	prev := m.current.Swap(next)

	if !cfg.CacheEnabled() && !m.cache.Disabled() {
		m.cache.Disable()
		tflog.SubsystemInfo(ctx, Subsystem, "User DN cache disabled", nil)
	}

	if prev != nil {
		if err := prev.provider.Close(); err != nil {
			tflog.SubsystemWarn(ctx, Subsystem, "Closing previous session provider failed", map[string]any{
				"error": err.Error(),
			})
		}
	}

	tflog.SubsystemDebug(ctx, Subsystem, "User store configured", map[string]any{
		"user_search_bases":  len(cfg.UserSearchBases()),
		"group_search_bases": len(cfg.GroupSearchBases()),
		"dn_patterns":        len(cfg.UserDNPatterns()),
		"cache_enabled":      !m.cache.Disabled(),
		"referral":           cfg.Referral,
	})
	return nil
}

// Config returns the configuration currently in effect.
func (m *Manager) Config() *Config {
	return m.current.Load().cfg
}

// Cache returns the manager's DN cache.
func (m *Manager) Cache() *DNCache {
	return m.cache
}

// ConnectionHealthy reports whether a directory session can be obtained.
func (m *Manager) ConnectionHealthy(ctx context.Context) bool {
	st := m.current.Load()

	sess, err := st.provider.GetSession(ctx)
	if err != nil {
		tflog.SubsystemWarn(ctx, Subsystem, "Directory connection check failed", map[string]any{
			"error": err.Error(),
		})
		return false
	}
	_ = sess.Close()
	return true
}

// Close releases the current session provider.
func (m *Manager) Close() error {
	return m.current.Load().provider.Close()
}

// search runs req and applies the referral policy to partial results.
func (st *snapshot) search(ctx context.Context, sess ldap.Session, req *ldap.SearchRequest) ([]*goldap.Entry, error) {
	res, err := sess.Search(ctx, req)

	var partial *ldap.PartialResultError
	if errors.As(err, &partial) {
		if !st.cfg.IgnoreReferrals() {
			return nil, ldap.WrapError("search", err)
		}
		tflog.SubsystemDebug(ctx, Subsystem, "Ignoring partial result", map[string]any{
			"base_dn":   req.BaseDN,
			"referrals": partial.Referrals,
		})
		if res == nil {
			return nil, nil
		}
		return res.Entries, nil
	}
	if err != nil {
		return nil, err
	}

	return res.Entries, nil
}

// searchRequest builds a request for one search root.
func (st *snapshot) searchRequest(base, filter string, attributes []string, sizeLimit int) *ldap.SearchRequest {
	return &ldap.SearchRequest{
		BaseDN:     st.escaper.EscapeDNForSearchRoot(base),
		Filter:     filter,
		Attributes: attributes,
		SizeLimit:  sizeLimit,
		TimeLimit:  st.cfg.SearchTimeLimit(),
	}
}

// firstValue returns the first value of the named attribute, matching the
// name case-insensitively.
func firstValue(entry *goldap.Entry, name string) string {
	if values := attributeValues(entry, name); len(values) > 0 {
		return values[0]
	}
	return ""
}

func attributeValues(entry *goldap.Entry, name string) []string {
	if attr := findAttribute(entry, name); attr != nil {
		return attr.Values
	}
	return nil
}

func findAttribute(entry *goldap.Entry, name string) *goldap.EntryAttribute {
	for _, attr := range entry.Attributes {
		if strings.EqualFold(attr.Name, name) {
			return attr
		}
	}
	return nil
}
