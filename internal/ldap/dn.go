package ldap

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// DN is a parsed distinguished name. Components are ordered leftmost
// first, so "uid=alice,ou=users,dc=example,dc=com" has the leaf
// component "uid=alice" at index 0.
type DN struct {
	parsed *ldap.DN
	rdns   []string
}

// ParseDN parses an RFC 4514 distinguished name.
func ParseDN(dn string) (*DN, error) {
	dn = strings.TrimSpace(dn)
	if dn == "" {
		return nil, errors.New("DN cannot be empty")
	}

	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return nil, fmt.Errorf("invalid DN syntax: %w", err)
	}
	if len(parsed.RDNs) == 0 {
		return nil, fmt.Errorf("DN %q has no components", dn)
	}

	rdns := make([]string, 0, len(parsed.RDNs))
	for _, rdn := range parsed.RDNs {
		attrs := make([]string, 0, len(rdn.Attributes))
		for _, attr := range rdn.Attributes {
			attrs = append(attrs, attr.Type+"="+EscapeDNValue(attr.Value))
		}
		rdns = append(rdns, strings.Join(attrs, "+"))
	}

	return &DN{parsed: parsed, rdns: rdns}, nil
}

// String returns the DN with each value escaped per RFC 4514.
func (d *DN) String() string {
	if d == nil {
		return ""
	}
	return strings.Join(d.rdns, ",")
}

// RDNs returns the relative name components in string form, leaf first.
func (d *DN) RDNs() []string {
	out := make([]string, len(d.rdns))
	copy(out, d.rdns)
	return out
}

// LeafValue returns the unescaped value of the first attribute in the leaf
// component, "alice" for "uid=alice,ou=users,dc=example,dc=com".
func (d *DN) LeafValue() string {
	if d == nil || len(d.parsed.RDNs) == 0 || len(d.parsed.RDNs[0].Attributes) == 0 {
		return ""
	}
	return d.parsed.RDNs[0].Attributes[0].Value
}

// Equal reports whether two DNs name the same entry, ignoring attribute
// type case and insignificant whitespace.
func (d *DN) Equal(other *DN) bool {
	if d == nil || other == nil {
		return d == other
	}
	return d.parsed.EqualFold(other.parsed)
}

// DomainFromDN converts the domain component attributes of a DN into a DNS
// domain name: "dc=example,dc=com" becomes "example.com".
func DomainFromDN(dn string) (string, error) {
	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return "", fmt.Errorf("invalid DN syntax: %w", err)
	}

	var labels []string
	for _, rdn := range parsed.RDNs {
		for _, attr := range rdn.Attributes {
			if strings.EqualFold(attr.Type, "dc") {
				labels = append(labels, attr.Value)
			}
		}
	}

	if len(labels) == 0 {
		return "", fmt.Errorf("DN %q has no domain components", dn)
	}

	return strings.ToLower(strings.Join(labels, ".")), nil
}
