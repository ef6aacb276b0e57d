package ldap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
	krb5config "github.com/jcmturner/gokrb5/v8/config"
)

const defaultKrb5Conf = "/etc/krb5.conf"

// performKerberosAuth binds the service account with GSSAPI.
func performKerberosAuth(ctx context.Context, conn Conn, cfg *ConnectionConfig, serverInfo *ServerInfo) error {
	krbCfg, err := prepareKerberosConfig(cfg)
	if err != nil {
		return fmt.Errorf("kerberos configuration error: %w", err)
	}

	client, source, err := createGSSAPIClient(ctx, krbCfg)
	if err != nil {
		LogKerberosEvent(ctx, "ticket_acquisition_failed", map[string]any{
			"realm": krbCfg.KerberosRealm,
			"error": err.Error(),
		})
		return fmt.Errorf("failed to create GSSAPI client: %w", err)
	}
	defer func() {
		_ = client.DeleteSecContext()
	}()

	LogKerberosEvent(ctx, "ticket_acquired", map[string]any{
		"realm":  krbCfg.KerberosRealm,
		"source": source,
	})

	spn, err := buildServicePrincipal(krbCfg, serverInfo)
	if err != nil {
		return fmt.Errorf("failed to build service principal: %w", err)
	}

	if err := conn.GSSAPIBind(client, spn, ""); err != nil {
		LogKerberosEvent(ctx, "authentication_failed", map[string]any{
			"spn":   spn,
			"error": err.Error(),
		})
		return fmt.Errorf("GSSAPI bind failed: %w", err)
	}

	return nil
}

// gssapiClient is the part of *gssapi.Client used here.
type gssapiClient interface {
	ldap.GSSAPIClient
	DeleteSecContext() error
}

// createGSSAPIClient creates a GSSAPI client from the first available
// credential source: credential cache, keytab, password. Without a
// krb5.conf a runtime configuration relying on DNS KDC lookup is used.
func createGSSAPIClient(ctx context.Context, cfg *ConnectionConfig) (gssapiClient, string, error) {
	if !fileExists(cfg.KerberosConfig) {
		path, cleanup, err := writeRuntimeKrb5Conf(ctx, cfg)
		if err != nil {
			return nil, "", fmt.Errorf("kerberos configuration file not found at %s: %w", cfg.KerberosConfig, err)
		}
		defer cleanup()

		runtime := *cfg
		runtime.KerberosConfig = path
		cfg = &runtime
	}

	if ccache := firstExisting(cfg.KerberosCCache, defaultCCachePath()); ccache != "" {
		client, err := gssapi.NewClientFromCCache(ccache, cfg.KerberosConfig, krb5client.DisablePAFXFAST(true))
		if err != nil {
			return nil, "", err
		}
		return client, "ccache", nil
	}

	if keytab := firstExisting(cfg.KerberosKeytab, defaultKeytabPath()); keytab != "" {
		client, err := gssapi.NewClientWithKeytab(cfg.Username, cfg.KerberosRealm, keytab, cfg.KerberosConfig, krb5client.DisablePAFXFAST(true))
		if err != nil {
			return nil, "", err
		}
		return client, "keytab", nil
	}

	if cfg.Password != "" {
		client, err := gssapi.NewClientWithPassword(cfg.Username, cfg.KerberosRealm, cfg.Password, cfg.KerberosConfig, krb5client.DisablePAFXFAST(true))
		if err != nil {
			return nil, "", err
		}
		return client, "password", nil
	}

	return nil, "", errors.New("no suitable credentials found for Kerberos authentication")
}

// runtimeKrb5Conf renders a minimal krb5.conf for realm. KDCs are located
// through DNS SRV records.
func runtimeKrb5Conf(realm, domain string) string {
	realm = strings.ToUpper(realm)
	domain = strings.ToLower(domain)

	return fmt.Sprintf(`[libdefaults]
  default_realm = %[1]s
  dns_lookup_kdc = true
  dns_lookup_realm = false
  rdns = false

[domain_realm]
  .%[2]s = %[1]s
  %[2]s = %[1]s
`, realm, domain)
}

// writeRuntimeKrb5Conf writes runtimeKrb5Conf to a temporary file. The
// returned cleanup removes it; the GSSAPI client reads the file only while
// it is constructed.
func writeRuntimeKrb5Conf(ctx context.Context, cfg *ConnectionConfig) (string, func(), error) {
	domain := cfg.Domain
	if domain == "" {
		domain = cfg.KerberosRealm
	}

	content := runtimeKrb5Conf(cfg.KerberosRealm, domain)
	if _, err := krb5config.NewFromString(content); err != nil {
		return "", nil, fmt.Errorf("generated krb5.conf is invalid: %w", err)
	}

	f, err := os.CreateTemp("", "userstore-agent-krb5-*.conf")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.Remove(f.Name()) }

	if _, err := f.WriteString(content); err != nil {
		f.Close()
		cleanup()
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, err
	}

	LogKerberosEvent(ctx, "runtime_config_generated", map[string]any{
		"realm":  strings.ToUpper(cfg.KerberosRealm),
		"domain": strings.ToLower(domain),
	})
	return f.Name(), cleanup, nil
}

// buildServicePrincipal returns the SPN override or ldap/<host>.
func buildServicePrincipal(cfg *ConnectionConfig, serverInfo *ServerInfo) (string, error) {
	if cfg.KerberosSPN != "" {
		return cfg.KerberosSPN, nil
	}

	if serverInfo == nil || serverInfo.Host == "" {
		return "", errors.New("hostname is required for service principal")
	}

	return "ldap/" + serverInfo.Host, nil
}

// prepareKerberosConfig returns a copy of cfg with the realm split off a
// user@REALM principal and the krb5.conf default applied.
func prepareKerberosConfig(cfg *ConnectionConfig) (*ConnectionConfig, error) {
	if cfg == nil {
		return nil, errors.New("configuration cannot be nil")
	}

	out := *cfg
	if out.KerberosConfig == "" {
		out.KerberosConfig = defaultKrb5Conf
	}

	if user, realm, ok := strings.Cut(out.Username, "@"); ok {
		out.Username = user
		if out.KerberosRealm == "" {
			out.KerberosRealm = realm
		}
	}

	if out.KerberosRealm == "" {
		return nil, errors.New("kerberos realm is required (set KerberosRealm or include the realm in ConnectionName)")
	}
	if out.Username == "" {
		return nil, errors.New("principal is required for Kerberos authentication")
	}

	return &out, nil
}

// defaultCCachePath returns the default credential cache location.
func defaultCCachePath() string {
	if ccache := os.Getenv("KRB5CCNAME"); ccache != "" {
		return strings.TrimPrefix(ccache, "FILE:")
	}
	return fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
}

// defaultKeytabPath returns the default keytab location.
func defaultKeytabPath() string {
	if keytab := os.Getenv("KRB5_KTNAME"); keytab != "" {
		return strings.TrimPrefix(keytab, "FILE:")
	}
	return "/etc/krb5.keytab"
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if fileExists(p) {
			return p
		}
	}
	return ""
}

// fileExists checks if a file exists and is readable.
func fileExists(path string) bool {
	if path == "" {
		return false
	}
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	file.Close()
	return true
}
