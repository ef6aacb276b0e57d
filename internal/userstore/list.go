package userstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	goldap "github.com/go-ldap/ldap/v3"

	"github.com/isometry/ldap-userstore-agent/internal/ldap"
)

// ListUsers returns the usernames whose display name (or username when no
// display name attribute is configured) matches filter, a value that may
// contain "*" wildcards. Service principals are excluded. At most maxItems
// names are returned per search root; a non-positive or oversized maxItems
// selects MaxUserNameListLength. The result is sorted.
func (m *Manager) ListUsers(ctx context.Context, filter string, maxItems int) ([]string, error) {
	st := m.current.Load()

	if strings.Contains(filter, FilterPlaceholder) || strings.Contains(filter, "**") {
		return nil, fmt.Errorf("%w: list filter %q contains a reserved marker", ErrInvalidInput, filter)
	}
	if maxItems == 0 {
		return []string{}, nil
	}
	limit := st.cfg.MaxUserNameListLength
	if maxItems > 0 && maxItems < limit {
		limit = maxItems
	}

	matchAttribute := st.cfg.UserNameAttribute
	if st.cfg.DisplayNameAttribute != "" {
		matchAttribute = st.cfg.DisplayNameAttribute
	}
	searchFilter := fmt.Sprintf("(&%s(%s=%s))",
		st.cfg.UserNameListFilter, matchAttribute, st.escaper.EscapeForFilterWithWildcard(filter))

	attributes := []string{st.cfg.UserNameAttribute, SurnameAttribute}
	if st.cfg.DisplayNameAttribute != "" {
		attributes = append(attributes, st.cfg.DisplayNameAttribute)
	}

	done := ldap.StartOperation(ctx, Subsystem, "list_users", map[string]any{"filter": searchFilter, "limit": limit})

	names, err := m.listNames(ctx, st, st.cfg.UserSearchBases(), searchFilter, attributes, limit, func(entry *goldap.Entry) string {
		if firstValue(entry, SurnameAttribute) == ServicePrincipalSurname {
			return ""
		}
		return firstValue(entry, st.cfg.UserNameAttribute)
	})
	done(err)
	if err != nil {
		return nil, err
	}

	sort.Strings(names)
	return names, nil
}

// ListRoles returns the role names matching filter across the group search
// roots, capped per root by maxItems or MaxRoleNameListLength.
func (m *Manager) ListRoles(ctx context.Context, filter string, maxItems int) ([]string, error) {
	st := m.current.Load()

	limit := st.cfg.MaxRoleNameListLength
	if maxItems >= 0 && maxItems < limit {
		limit = maxItems
	}
	if limit == 0 {
		return []string{}, nil
	}

	searchFilter := fmt.Sprintf("(&%s(%s=%s))",
		st.cfg.GroupNameListFilter, st.cfg.GroupNameAttribute, st.escaper.EscapeForFilterWithWildcard(filter))

	done := ldap.StartOperation(ctx, Subsystem, "list_roles", map[string]any{"filter": searchFilter, "limit": limit})

	roles, err := m.listNames(ctx, st, st.cfg.GroupSearchBases(), searchFilter, []string{st.cfg.GroupNameAttribute}, limit, func(entry *goldap.Entry) string {
		return firstValue(entry, st.cfg.GroupNameAttribute)
	})
	done(err)
	if err != nil {
		return nil, err
	}
	return roles, nil
}

// RoleNamesOfUser returns the names of the groups username belongs to. An
// unknown user has no roles.
func (m *Manager) RoleNamesOfUser(ctx context.Context, username string) ([]string, error) {
	st := m.current.Load()

	done := ldap.StartOperation(ctx, Subsystem, "role_names_of_user", map[string]any{"username": username})

	roles, err := m.roleNamesOfUser(ctx, st, username)
	done(err)
	return roles, err
}

func (m *Manager) roleNamesOfUser(ctx context.Context, st *snapshot, username string) ([]string, error) {
	dn, err := m.membershipDN(ctx, st, username)
	if err != nil {
		return nil, err
	}
	if dn == nil {
		return []string{}, nil
	}

	searchFilter := fmt.Sprintf("(&%s(%s=%s))",
		st.cfg.GroupNameListFilter, st.cfg.MembershipAttribute, st.membershipValue(dn))

	var roles []string
	err = m.eachRoot(ctx, st, st.cfg.GroupSearchBases(), searchFilter, []string{st.cfg.GroupNameAttribute}, 0, func(entry *goldap.Entry) {
		roles = append(roles, attributeValues(entry, st.cfg.GroupNameAttribute)...)
	})
	if err != nil {
		return nil, err
	}
	if roles == nil {
		roles = []string{}
	}
	return roles, nil
}

// membershipDN finds the DN used for membership lookups. A single DN
// pattern is trusted without a verifying search.
func (m *Manager) membershipDN(ctx context.Context, st *snapshot, username string) (*ldap.DN, error) {
	if cached, ok := m.cache.Get(username); ok {
		return cached.DN, nil
	}

	if patterns := st.cfg.UserDNPatterns(); len(patterns) == 1 {
		candidate := strings.ReplaceAll(patterns[0], PatternPlaceholder, st.escaper.EscapeForDN(username))
		dn, err := ldap.ParseDN(candidate)
		if err != nil {
			return nil, fmt.Errorf("user DN %q: %w", candidate, err)
		}
		m.cache.Put(username, ResolvedIdentity{Username: username, DN: dn})
		return dn, nil
	}

	return m.resolveDN(ctx, st, username)
}

// membershipValue is the assertion value matched against the membership
// attribute: the leaf RDN value for identifier membership, the escaped DN
// otherwise. Every filter metacharacter of the DN is encoded, so a name
// such as "*" matches only the entry of that name.
func (st *snapshot) membershipValue(dn *ldap.DN) string {
	if st.cfg.MembershipByIdentifier() {
		return st.escaper.EscapeForFilter(dn.LeafValue())
	}
	if !st.escaper.Enabled {
		return dn.String()
	}

	rdns := dn.RDNs()
	for i, rdn := range rdns {
		rdns[i] = goldap.EscapeFilter(rdn)
	}
	return strings.Join(rdns, ",")
}

// listNames collects one name per entry across roots, each root capped at
// limit entries. pick returns "" to skip an entry.
func (m *Manager) listNames(ctx context.Context, st *snapshot, roots []string, filter string, attributes []string, limit int, pick func(*goldap.Entry) string) ([]string, error) {
	names := []string{}
	err := m.eachRoot(ctx, st, roots, filter, attributes, limit, func(entry *goldap.Entry) {
		if name := pick(entry); name != "" {
			names = append(names, name)
		}
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// eachRoot searches every root with one service-account session and feeds
// the entries to fn. The first failing search aborts the walk.
func (m *Manager) eachRoot(ctx context.Context, st *snapshot, roots []string, filter string, attributes []string, limit int, fn func(*goldap.Entry)) error {
	sess, err := st.provider.GetSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	for _, root := range roots {
		entries, err := st.search(ctx, sess, st.searchRequest(root, filter, attributes, limit))
		if err != nil {
			ldap.LogLDAPError(ctx, Subsystem, "search", err, map[string]any{
				"base_dn": root,
				"filter":  filter,
			})
			return err
		}
		for _, entry := range entries {
			fn(entry)
		}
	}
	return nil
}
