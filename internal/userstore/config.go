package userstore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/mitchellh/mapstructure"

	"github.com/isometry/ldap-userstore-agent/internal/ldap"
)

// Referral policies.
const (
	ReferralIgnore = "ignore"
	ReferralFail   = "fail"
	referralFollow = "follow"
)

const (
	// MultiValueSeparator separates search bases and DN patterns.
	MultiValueSeparator = "#"
	// FilterPlaceholder is replaced by the escaped username in UserNameSearchFilter.
	FilterPlaceholder = "?"
	// PatternPlaceholder is replaced by the escaped username in UserDNPattern.
	PatternPlaceholder = "{0}"
	// MemberUIDAttribute selects identifier-based group membership.
	MemberUIDAttribute = "memberUid"
	// ServicePrincipalSurname marks service accounts that ListUsers hides.
	ServicePrincipalSurname = "Service"
	// SurnameAttribute carries ServicePrincipalSurname.
	SurnameAttribute = "sn"
)

// Config is a validated user-store configuration. It is never modified
// after ParseConfig returns; reconfiguration builds a new Config.
type Config struct {
	ConnectionURL      string `mapstructure:"ConnectionURL"`
	ConnectionName     string `mapstructure:"ConnectionName"`
	ConnectionPassword string `mapstructure:"ConnectionPassword"`

	UserSearchBase       string `mapstructure:"UserSearchBase"`
	UserNameListFilter   string `mapstructure:"UserNameListFilter"`
	UserNameSearchFilter string `mapstructure:"UserNameSearchFilter"`
	UserNameAttribute    string `mapstructure:"UserNameAttribute"`
	DisplayNameAttribute string `mapstructure:"DisplayNameAttribute"`
	UserDNPattern        string `mapstructure:"UserDNPattern"`

	GroupSearchBase     string `mapstructure:"GroupSearchBase"`
	GroupNameListFilter string `mapstructure:"GroupNameListFilter"`
	GroupNameAttribute  string `mapstructure:"GroupNameAttribute"`
	MembershipAttribute string `mapstructure:"MembershipAttribute"`

	Referral                           string `mapstructure:"Referral" default:"fail"`
	UserDNCacheEnabled                 *bool  `mapstructure:"UserDNCacheEnabled"`
	ReplaceEscapeCharactersAtUserLogin *bool  `mapstructure:"ReplaceEscapeCharactersAtUserLogin" default:"true"`
	MaxUserNameListLength              int    `mapstructure:"MaxUserNameListLength" default:"100"`
	MaxRoleNameListLength              int    `mapstructure:"MaxRoleNameListLength" default:"100"`
	MaxSearchQueryTime                 int    `mapstructure:"MaxSearchQueryTime" default:"10000"`
	MultiAttributeSeparator            string `mapstructure:"MultiAttributeSeparator" default:","`
	BinaryAttributes                   string `mapstructure:"BinaryAttributes" default:"objectGUID objectSid jpegPhoto thumbnailPhoto userCertificate"`
	DecodeIdentifierAttributes         bool   `mapstructure:"DecodeIdentifierAttributes"`

	StartTLS           bool          `mapstructure:"StartTLS"`
	InsecureSkipVerify bool          `mapstructure:"InsecureSkipVerify"`
	TLSCACertFile      string        `mapstructure:"TLSCACertFile"`
	ConnectionTimeout  time.Duration `mapstructure:"ConnectionTimeout" default:"30s"`
	MaxConnections     int           `mapstructure:"MaxConnections" default:"10"`

	KerberosRealm  string `mapstructure:"KerberosRealm"`
	KerberosKeytab string `mapstructure:"KerberosKeytab"`
	KerberosConfig string `mapstructure:"KerberosConfig"`
	KerberosCCache string `mapstructure:"KerberosCCache"`
	KerberosSPN    string `mapstructure:"KerberosSPN"`
}

// ConfigError reports a missing or invalid property.
type ConfigError struct {
	Property string
	Message  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid user store configuration: %s: %s", e.Property, e.Message)
}

// ParseConfig decodes a property map, applies defaults and validates the
// result. Property names match case-insensitively and string values are
// converted to the target types.
func ParseConfig(properties map[string]any) (*Config, error) {
	var cfg Config

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           &cfg,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(properties); err != nil {
		return nil, &ConfigError{Property: "properties", Message: err.Error()}
	}

	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("applying configuration defaults: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required properties and the shape of filters and patterns.
func (c *Config) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"ConnectionURL", c.ConnectionURL},
		{"ConnectionName", c.ConnectionName},
		{"UserSearchBase", c.UserSearchBase},
		{"UserNameListFilter", c.UserNameListFilter},
		{"UserNameSearchFilter", c.UserNameSearchFilter},
		{"UserNameAttribute", c.UserNameAttribute},
		{"GroupSearchBase", c.GroupSearchBase},
		{"GroupNameListFilter", c.GroupNameListFilter},
		{"GroupNameAttribute", c.GroupNameAttribute},
		{"MembershipAttribute", c.MembershipAttribute},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &ConfigError{Property: r.name, Message: "required property is not set"}
		}
	}

	if c.UserDNCacheEnabled == nil {
		return &ConfigError{Property: "UserDNCacheEnabled", Message: "required property is not set"}
	}

	if strings.TrimSpace(c.ConnectionPassword) == "" && c.KerberosKeytab == "" && c.KerberosCCache == "" {
		return &ConfigError{Property: "ConnectionPassword", Message: "required property is not set"}
	}

	if n := strings.Count(c.UserNameSearchFilter, FilterPlaceholder); n != 1 {
		return &ConfigError{
			Property: "UserNameSearchFilter",
			Message:  fmt.Sprintf("must contain exactly one %q placeholder, found %d", FilterPlaceholder, n),
		}
	}

	for _, pattern := range c.UserDNPatterns() {
		if !strings.Contains(pattern, PatternPlaceholder) {
			return &ConfigError{
				Property: "UserDNPattern",
				Message:  fmt.Sprintf("pattern %q has no %s placeholder", pattern, PatternPlaceholder),
			}
		}
	}

	switch strings.ToLower(c.Referral) {
	case ReferralIgnore, ReferralFail, referralFollow:
	default:
		return &ConfigError{Property: "Referral", Message: fmt.Sprintf("unknown policy %q, want ignore or fail", c.Referral)}
	}

	limits := []struct {
		name  string
		value int
	}{
		{"MaxUserNameListLength", c.MaxUserNameListLength},
		{"MaxRoleNameListLength", c.MaxRoleNameListLength},
		{"MaxSearchQueryTime", c.MaxSearchQueryTime},
	}
	for _, l := range limits {
		if l.value < 0 {
			return &ConfigError{Property: l.name, Message: "must not be negative"}
		}
	}

	if c.ConnectionTimeout <= 0 {
		return &ConfigError{Property: "ConnectionTimeout", Message: "must be positive"}
	}
	if c.MaxConnections <= 0 || c.MaxConnections > ldap.MaxConnectionPoolLimit {
		return &ConfigError{
			Property: "MaxConnections",
			Message:  fmt.Sprintf("must be between 1 and %d", ldap.MaxConnectionPoolLimit),
		}
	}

	return nil
}

// UserSearchBases returns the configured user search roots in order.
func (c *Config) UserSearchBases() []string {
	return splitMultiValue(c.UserSearchBase)
}

// GroupSearchBases returns the configured group search roots in order.
func (c *Config) GroupSearchBases() []string {
	return splitMultiValue(c.GroupSearchBase)
}

// UserDNPatterns returns the configured DN templates in order.
func (c *Config) UserDNPatterns() []string {
	return splitMultiValue(c.UserDNPattern)
}

// CacheEnabled reports the UserDNCacheEnabled flag.
func (c *Config) CacheEnabled() bool {
	return c.UserDNCacheEnabled != nil && *c.UserDNCacheEnabled
}

// EscapeAtLogin reports the ReplaceEscapeCharactersAtUserLogin flag.
func (c *Config) EscapeAtLogin() bool {
	return c.ReplaceEscapeCharactersAtUserLogin == nil || *c.ReplaceEscapeCharactersAtUserLogin
}

// IgnoreReferrals reports whether partial results are accepted.
func (c *Config) IgnoreReferrals() bool {
	return strings.EqualFold(c.Referral, ReferralIgnore)
}

// MembershipByIdentifier reports whether groups list member identifiers
// rather than member DNs.
func (c *Config) MembershipByIdentifier() bool {
	return strings.EqualFold(c.MembershipAttribute, MemberUIDAttribute)
}

// SearchTimeLimit returns MaxSearchQueryTime as a duration.
func (c *Config) SearchTimeLimit() time.Duration {
	return time.Duration(c.MaxSearchQueryTime) * time.Millisecond
}

// ConnectionConfig maps the connection properties onto the directory
// client configuration.
func (c *Config) ConnectionConfig() *ldap.ConnectionConfig {
	conn := ldap.DefaultConfig()
	conn.LDAPURLs = strings.Fields(c.ConnectionURL)
	conn.Username = c.ConnectionName
	conn.Password = c.ConnectionPassword
	conn.Timeout = c.ConnectionTimeout
	conn.MaxConnections = c.MaxConnections
	conn.StartTLS = c.StartTLS
	conn.InsecureSkipVerify = c.InsecureSkipVerify
	conn.TLSCACertFile = c.TLSCACertFile
	conn.KerberosRealm = c.KerberosRealm
	conn.KerberosKeytab = c.KerberosKeytab
	conn.KerberosConfig = c.KerberosConfig
	conn.KerberosCCache = c.KerberosCCache
	conn.KerberosSPN = c.KerberosSPN
	return conn
}

// IsConfigError reports whether err is a *ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

func splitMultiValue(value string) []string {
	var out []string
	for _, part := range strings.Split(value, MultiValueSeparator) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
