package userstore

import (
	"context"
	"strings"

	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/ldap-userstore-agent/internal/ldap"
)

// ResolveUserDN returns the DN of username, consulting the cache first.
// A nil DN with a nil error means no entry matched.
func (m *Manager) ResolveUserDN(ctx context.Context, username string) (*ldap.DN, error) {
	st := m.current.Load()
	if cached, ok := m.cache.Get(username); ok {
		return cached.DN, nil
	}
	return m.resolveDN(ctx, st, username)
}

// resolveDN searches for the entry of username. Each DN pattern is used as
// a search root before the configured user search bases; the first entry
// found wins and is cached. Failing to obtain a session is an error, while
// failures of individual searches only skip that root.
func (m *Manager) resolveDN(ctx context.Context, st *snapshot, username string) (*ldap.DN, error) {
	filter := strings.Replace(st.cfg.UserNameSearchFilter, FilterPlaceholder, st.escaper.EscapeForFilter(username), 1)

	sess, err := st.provider.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	var bases []string
	escaped := st.escaper.EscapeForDN(username)
	for _, pattern := range st.cfg.UserDNPatterns() {
		bases = append(bases, strings.ReplaceAll(pattern, PatternPlaceholder, escaped))
	}
	bases = append(bases, st.cfg.UserSearchBase)

	for _, base := range bases {
		for _, root := range splitMultiValue(base) {
			entries, err := st.search(ctx, sess, st.searchRequest(root, filter, []string{"1.1"}, 0))
			if err != nil {
				ldap.LogLDAPError(ctx, Subsystem, "resolve_dn", err, map[string]any{
					"base_dn": root,
					"filter":  filter,
				})
				continue
			}
			if len(entries) == 0 {
				continue
			}

			dn, err := ldap.ParseDN(entries[0].DN)
			if err != nil {
				tflog.SubsystemWarn(ctx, Subsystem, "Directory returned an unparsable DN", map[string]any{
					"dn":    entries[0].DN,
					"error": err.Error(),
				})
				continue
			}

			m.cache.Put(username, ResolvedIdentity{Username: username, DN: dn})
			tflog.SubsystemDebug(ctx, Subsystem, "Resolved user DN", map[string]any{
				"username": username,
				"dn":       dn.String(),
			})
			return dn, nil
		}
	}

	return nil, nil
}
