package ldap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	krb5config "github.com/jcmturner/gokrb5/v8/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareKerberosConfig(t *testing.T) {
	tests := []struct {
		name       string
		config     *ConnectionConfig
		wantUser   string
		wantRealm  string
		wantKrb5   string
		wantErrMsg string
	}{
		{
			name:      "principal with realm",
			config:    &ConnectionConfig{Username: "agent@EXAMPLE.COM"},
			wantUser:  "agent",
			wantRealm: "EXAMPLE.COM",
			wantKrb5:  "/etc/krb5.conf",
		},
		{
			name:      "explicit realm wins",
			config:    &ConnectionConfig{Username: "agent@OTHER.COM", KerberosRealm: "EXAMPLE.COM", KerberosConfig: "/opt/krb5.conf"},
			wantUser:  "agent",
			wantRealm: "EXAMPLE.COM",
			wantKrb5:  "/opt/krb5.conf",
		},
		{
			name:       "no realm",
			config:     &ConnectionConfig{Username: "agent"},
			wantErrMsg: "realm is required",
		},
		{
			name:       "no principal",
			config:     &ConnectionConfig{KerberosRealm: "EXAMPLE.COM"},
			wantErrMsg: "principal is required",
		},
		{
			name:       "nil config",
			wantErrMsg: "cannot be nil",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := prepareKerberosConfig(tt.config)
			if tt.wantErrMsg != "" {
				assert.ErrorContains(t, err, tt.wantErrMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantUser, got.Username)
			assert.Equal(t, tt.wantRealm, got.KerberosRealm)
			assert.Equal(t, tt.wantKrb5, got.KerberosConfig)
			assert.NotSame(t, tt.config, got)
		})
	}
}

func TestBuildServicePrincipal(t *testing.T) {
	spn, err := buildServicePrincipal(&ConnectionConfig{}, &ServerInfo{Host: "dc1.example.com"})
	require.NoError(t, err)
	assert.Equal(t, "ldap/dc1.example.com", spn)

	spn, err = buildServicePrincipal(&ConnectionConfig{KerberosSPN: "ldap/ad.example.com"}, &ServerInfo{Host: "dc1.example.com"})
	require.NoError(t, err)
	assert.Equal(t, "ldap/ad.example.com", spn)

	_, err = buildServicePrincipal(&ConnectionConfig{}, nil)
	assert.Error(t, err)
}

func TestCreateGSSAPIClient_NoCredentials(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("KRB5CCNAME", filepath.Join(dir, "ccache"))
	t.Setenv("KRB5_KTNAME", filepath.Join(dir, "keytab"))

	_, _, err := createGSSAPIClient(context.Background(), &ConnectionConfig{
		Username:       "agent",
		KerberosRealm:  "EXAMPLE.COM",
		KerberosConfig: filepath.Join(dir, "krb5.conf"),
	})
	assert.ErrorContains(t, err, "no suitable credentials")
}

func TestRuntimeKrb5Conf(t *testing.T) {
	cfg, err := krb5config.NewFromString(runtimeKrb5Conf("example.com", "Corp.Example.com"))
	require.NoError(t, err)

	assert.Equal(t, "EXAMPLE.COM", cfg.LibDefaults.DefaultRealm)
	assert.True(t, cfg.LibDefaults.DNSLookupKDC)
	assert.False(t, cfg.LibDefaults.DNSLookupRealm)
	assert.Equal(t, "EXAMPLE.COM", cfg.DomainRealm["corp.example.com"])
}

func TestWriteRuntimeKrb5Conf(t *testing.T) {
	path, cleanup, err := writeRuntimeKrb5Conf(context.Background(), &ConnectionConfig{KerberosRealm: "EXAMPLE.COM"})
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "default_realm = EXAMPLE.COM")

	cleanup()
	assert.False(t, fileExists(path))
}

func TestPerformKerberosAuth_ConfigurationError(t *testing.T) {
	err := performKerberosAuth(context.Background(), &fakeConn{}, &ConnectionConfig{Username: "agent"}, &ServerInfo{Host: "dc1.example.com"})
	assert.ErrorContains(t, err, "kerberos configuration error")
}

func TestDefaultCredentialPaths(t *testing.T) {
	t.Setenv("KRB5CCNAME", "FILE:/tmp/krb5cc_test")
	assert.Equal(t, "/tmp/krb5cc_test", defaultCCachePath())

	t.Setenv("KRB5_KTNAME", "FILE:/etc/test.keytab")
	assert.Equal(t, "/etc/test.keytab", defaultKeytabPath())

	t.Setenv("KRB5_KTNAME", "")
	assert.Equal(t, "/etc/krb5.keytab", defaultKeytabPath())
}

func TestFileHelpers(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "present")
	require.NoError(t, os.WriteFile(present, []byte("x"), 0o600))
	missing := filepath.Join(dir, "missing")

	assert.True(t, fileExists(present))
	assert.False(t, fileExists(missing))
	assert.False(t, fileExists(""))

	assert.Equal(t, present, firstExisting(missing, present))
	assert.Equal(t, "", firstExisting(missing, ""))
}
