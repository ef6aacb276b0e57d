package userstore

import (
	"context"
	"errors"
	"strings"

	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/ldap-userstore-agent/internal/ldap"
)

// BindOutcome classifies a credential bind.
type BindOutcome int

const (
	// BindAuthenticated means the directory accepted the credential.
	BindAuthenticated BindOutcome = iota
	// BindWrongCredential means the directory rejected the credential.
	BindWrongCredential
	// BindDirectoryError means the bind could not be completed.
	BindDirectoryError
)

func (o BindOutcome) String() string {
	switch o {
	case BindAuthenticated:
		return "authenticated"
	case BindWrongCredential:
		return "wrong_credential"
	case BindDirectoryError:
		return "directory_error"
	default:
		return "unknown"
	}
}

// bind opens a dedicated session as dn and closes it again.
func (st *snapshot) bind(ctx context.Context, dn, credential string) (BindOutcome, error) {
	sess, err := st.provider.GetSessionWithCredentials(ctx, dn, credential)
	if err != nil {
		var authErr *ldap.AuthenticationError
		if errors.As(err, &authErr) {
			return BindWrongCredential, err
		}
		return BindDirectoryError, err
	}
	if err := sess.Close(); err != nil {
		tflog.SubsystemDebug(ctx, Subsystem, "Closing credential session failed", map[string]any{
			"error": err.Error(),
		})
	}
	return BindAuthenticated, nil
}

// Authenticate verifies credential for username by binding as the user's
// DN. A cached DN is tried first; when it fails the DN is resolved again.
// With DN patterns configured the candidates are tried in order and the
// first successful bind wins. Without patterns the DN is found by search.
//
// Rejected credentials yield false with a nil error. Directory failures
// during the pattern walk also yield false. An error is returned only when
// the search-resolved DN exists but the bind could not be completed, or
// when no directory session could be obtained for resolution.
func (m *Manager) Authenticate(ctx context.Context, username, credential string) (bool, error) {
	st := m.current.Load()

	username = strings.TrimSpace(username)
	if username == "" || strings.TrimSpace(credential) == "" {
		return false, nil
	}

	done := ldap.StartOperation(ctx, Subsystem, "authenticate", map[string]any{"username": username})

	ok, err := m.authenticate(ctx, st, username, credential)
	done(err)
	return ok, err
}

func (m *Manager) authenticate(ctx context.Context, st *snapshot, username, credential string) (bool, error) {
	var attempted *ldap.DN

	if cached, hit := m.cache.Get(username); hit {
		attempted = cached.DN
		outcome, err := st.bind(ctx, attempted.String(), credential)
		if outcome == BindAuthenticated {
			return true, nil
		}
		tflog.SubsystemDebug(ctx, Subsystem, "Bind with cached DN failed", map[string]any{
			"dn":      attempted.String(),
			"outcome": outcome.String(),
			"error":   errorString(err),
		})
	}

	if patterns := st.cfg.UserDNPatterns(); len(patterns) > 0 {
		escaped := st.escaper.EscapeForDN(username)
		for _, pattern := range patterns {
			candidate := strings.ReplaceAll(pattern, PatternPlaceholder, escaped)
			if sameDN(attempted, candidate) {
				continue
			}

			outcome, err := st.bind(ctx, candidate, credential)
			if outcome != BindAuthenticated {
				tflog.SubsystemTrace(ctx, Subsystem, "Bind with pattern DN failed", map[string]any{
					"dn":      candidate,
					"outcome": outcome.String(),
					"error":   errorString(err),
				})
				continue
			}

			if dn, err := ldap.ParseDN(candidate); err == nil {
				m.cache.Put(username, ResolvedIdentity{Username: username, DN: dn})
			}
			return true, nil
		}
		return false, nil
	}

	dn, err := m.resolveDN(ctx, st, username)
	if err != nil {
		return false, err
	}
	if dn == nil {
		tflog.SubsystemDebug(ctx, Subsystem, "No directory entry for user", map[string]any{"username": username})
		return false, nil
	}

	outcome, err := st.bind(ctx, dn.String(), credential)
	switch outcome {
	case BindAuthenticated:
		m.cache.Put(username, ResolvedIdentity{Username: username, DN: dn})
		return true, nil
	case BindWrongCredential:
		return false, nil
	default:
		return false, err
	}
}

// sameDN reports whether candidate names the entry dn, comparing parsed
// components rather than spelling.
func sameDN(dn *ldap.DN, candidate string) bool {
	if dn == nil {
		return false
	}
	parsed, err := ldap.ParseDN(candidate)
	if err != nil {
		return false
	}
	return dn.Equal(parsed)
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
