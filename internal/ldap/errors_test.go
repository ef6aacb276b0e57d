package ldap

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLDAPError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantCode      uint16
		wantCategory  ErrorCategory
		wantRetryable bool
	}{
		{
			name:         "invalid credentials",
			err:          ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("bad password")),
			wantCode:     ldap.LDAPResultInvalidCredentials,
			wantCategory: ErrorCategoryAuthentication,
		},
		{
			name:          "server busy",
			err:           ldap.NewError(ldap.LDAPResultBusy, errors.New("busy")),
			wantCode:      ldap.LDAPResultBusy,
			wantCategory:  ErrorCategoryServer,
			wantRetryable: true,
		},
		{
			name:          "network",
			err:           ldap.NewError(ldap.ErrorNetwork, errors.New("connection reset")),
			wantCode:      ldap.ErrorNetwork,
			wantCategory:  ErrorCategoryConnection,
			wantRetryable: true,
		},
		{
			name:         "wrapped result error",
			err:          fmt.Errorf("searching: %w", ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("no such object"))),
			wantCode:     ldap.LDAPResultNoSuchObject,
			wantCategory: ErrorCategoryNotFound,
		},
		{
			name:         "partial result",
			err:          &PartialResultError{BaseDN: "dc=example,dc=com"},
			wantCode:     ldap.LDAPResultReferral,
			wantCategory: ErrorCategoryReferral,
		},
		{
			name:          "generic connection error",
			err:           errors.New("connection refused"),
			wantCategory:  ErrorCategoryConnection,
			wantRetryable: true,
		},
		{
			name:         "generic error",
			err:          errors.New("something odd"),
			wantCategory: ErrorCategoryUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewLDAPError("search", tt.err)
			require.NotNil(t, got)

			assert.Equal(t, "search", got.Operation)
			assert.Equal(t, tt.wantCode, got.LDAPCode)
			assert.Equal(t, tt.wantCategory, got.Category)
			assert.Equal(t, tt.wantRetryable, got.IsRetryable())
			assert.ErrorIs(t, got, tt.err)
		})
	}

	assert.Nil(t, NewLDAPError("search", nil))
}

func TestLDAPError_Error(t *testing.T) {
	err := &LDAPError{
		Operation: "search",
		LDAPCode:  ldap.LDAPResultNoSuchObject,
		Message:   "Requested object does not exist",
		ServerMsg: "0000208D: NameErr",
		DN:        "ou=missing,dc=example,dc=com",
	}
	assert.Equal(t,
		"LDAP search failed (code 32) - Requested object does not exist - server: 0000208D: NameErr - DN: ou=missing,dc=example,dc=com",
		err.Error())

	assert.Equal(t, "LDAP bind failed", (&LDAPError{Operation: "bind"}).Error())
}

func TestWrapError(t *testing.T) {
	assert.NoError(t, WrapError("search", nil))

	wrapped := WrapError("search", errors.New("timeout waiting for response"))
	var ldapErr *LDAPError
	require.ErrorAs(t, wrapped, &ldapErr)
	assert.Equal(t, "search", ldapErr.Operation)
	assert.Equal(t, ErrorCategoryConnection, ldapErr.Category)

	existing := &LDAPError{Category: ErrorCategoryServer}
	again := WrapError("bind", existing)
	assert.Same(t, existing, again)
	assert.Equal(t, "bind", existing.Operation, "missing operation is filled in")

	named := &LDAPError{Operation: "search"}
	_ = WrapError("bind", named)
	assert.Equal(t, "search", named.Operation)
}

func TestGetErrorCategory(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ErrorCategoryUnknown},
		{"ldap error", &LDAPError{Category: ErrorCategoryPermission}, ErrorCategoryPermission},
		{"authentication error", &AuthenticationError{DN: "uid=a"}, ErrorCategoryAuthentication},
		{"partial result", &PartialResultError{BaseDN: "dc=example"}, ErrorCategoryReferral},
		{"result code", ldap.NewError(ldap.LDAPResultFilterError, errors.New("bad filter")), ErrorCategoryValidation},
		{"deadline", context.DeadlineExceeded, ErrorCategoryConnection},
		{"other", errors.New("boom"), ErrorCategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetErrorCategory(tt.err))
		})
	}
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.True(t, IsRetryableError(NewConnectionError("dial", true, nil)))
	assert.False(t, IsRetryableError(NewConnectionError("bind", false, nil)))
	assert.True(t, IsRetryableError(NewLDAPError("search", ldap.NewError(ldap.LDAPResultUnavailable, errors.New("unavailable")))))
	assert.False(t, IsRetryableError(NewLDAPError("bind", ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("invalid")))))
	assert.True(t, IsRetryableError(errors.New("temporary failure in name resolution")))
}

func TestIsInvalidCredentials(t *testing.T) {
	assert.True(t, IsInvalidCredentials(ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("invalid"))))
	assert.True(t, IsInvalidCredentials(ldap.NewError(ldap.LDAPResultInappropriateAuthentication, errors.New("anonymous"))))
	assert.False(t, IsInvalidCredentials(ldap.NewError(ldap.LDAPResultUnwillingToPerform, errors.New("unwilling"))))
	assert.False(t, IsInvalidCredentials(ldap.NewError(ldap.ErrorNetwork, errors.New("reset"))))
	assert.False(t, IsInvalidCredentials(errors.New("invalid credentials")))
}

func TestAuthenticationError(t *testing.T) {
	cause := ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("invalid"))
	err := &AuthenticationError{DN: "uid=alice,dc=example", Cause: cause}

	assert.Equal(t, "directory rejected credentials for uid=alice,dc=example", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsAuthenticationError(err))
}

func TestPartialResultError(t *testing.T) {
	err := &PartialResultError{BaseDN: "dc=example"}
	assert.Equal(t, "partial result for search under dc=example", err.Error())

	err.Referrals = []string{"ldap://a.example", "ldap://b.example"}
	assert.Equal(t, "partial result for search under dc=example: referred to ldap://a.example, ldap://b.example", err.Error())
}

func TestGetLDAPCodeMessage(t *testing.T) {
	assert.Equal(t, "Invalid credentials", getLDAPCodeMessage(ldap.LDAPResultInvalidCredentials))
	assert.Equal(t, "Network error", getLDAPCodeMessage(ldap.ErrorNetwork))
	assert.Equal(t, "Unknown LDAP error (code 9999)", getLDAPCodeMessage(9999))
}
