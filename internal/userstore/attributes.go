package userstore

import (
	"context"
	"strings"

	goldap "github.com/go-ldap/ldap/v3"

	"github.com/isometry/ldap-userstore-agent/internal/ldap"
)

// GetUserAttributes returns the requested attributes of username, each
// attribute's values joined with MultiAttributeSeparator. Binary values are
// rendered as text first. Attributes that are absent or empty are omitted.
func (m *Manager) GetUserAttributes(ctx context.Context, username string, attributeNames []string) (map[string]string, error) {
	st := m.current.Load()

	done := ldap.StartOperation(ctx, Subsystem, "get_user_attributes", map[string]any{
		"username":   username,
		"attributes": attributeNames,
	})

	values, err := m.getUserAttributes(ctx, st, username, attributeNames)
	done(err)
	return values, err
}

func (m *Manager) getUserAttributes(ctx context.Context, st *snapshot, username string, attributeNames []string) (map[string]string, error) {
	var requested []string
	for _, name := range attributeNames {
		if name = strings.TrimSpace(name); name != "" {
			requested = append(requested, name)
		}
	}

	result := map[string]string{}
	if len(requested) == 0 {
		return result, nil
	}

	dn, err := m.attributeDN(ctx, st, username)
	if err != nil {
		return nil, err
	}

	filter := strings.Replace(st.cfg.UserNameSearchFilter, FilterPlaceholder, st.escaper.EscapeForFilter(username), 1)

	sess, err := st.provider.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	var entries []*goldap.Entry
	if dn != nil {
		entries, err = st.search(ctx, sess, st.searchRequest(dn.String(), filter, requested, 0))
		if err != nil {
			return nil, err
		}
	} else {
		for _, root := range st.cfg.UserSearchBases() {
			entries, err = st.search(ctx, sess, st.searchRequest(root, filter, requested, 0))
			if err != nil {
				return nil, err
			}
			if len(entries) > 0 {
				break
			}
		}
	}

	for _, entry := range entries {
		for _, name := range requested {
			attr := findAttribute(entry, name)
			if attr == nil {
				continue
			}
			if joined := st.joinValues(st.renderer.Values(attr)); joined != "" {
				result[name] = joined
			}
		}
	}
	return result, nil
}

// attributeDN finds the DN to read attributes from. A single DN pattern is
// substituted without a verifying search. A nil DN means the user search
// bases are searched directly.
func (m *Manager) attributeDN(ctx context.Context, st *snapshot, username string) (*ldap.DN, error) {
	if cached, ok := m.cache.Get(username); ok {
		return cached.DN, nil
	}

	patterns := st.cfg.UserDNPatterns()
	switch len(patterns) {
	case 0:
		return nil, nil
	case 1:
		candidate := strings.ReplaceAll(patterns[0], PatternPlaceholder, st.escaper.EscapeForDN(username))
		dn, err := ldap.ParseDN(candidate)
		if err != nil {
			return nil, err
		}
		m.cache.Put(username, ResolvedIdentity{Username: username, DN: dn})
		return dn, nil
	default:
		return m.resolveDN(ctx, st, username)
	}
}

func (st *snapshot) joinValues(values []string) string {
	var kept []string
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			kept = append(kept, v)
		}
	}
	return strings.Join(kept, st.cfg.MultiAttributeSeparator)
}
