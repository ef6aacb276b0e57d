package ldap

import (
	"strings"
)

// Escaper sanitizes untrusted strings before they are embedded in directory
// filters, DN templates or search roots. The zero value is disabled.
type Escaper struct {
	Enabled bool
}

// NewEscaper returns an Escaper honouring the escape-on-login flag.
func NewEscaper(enabled bool) Escaper {
	return Escaper{Enabled: enabled}
}

// EscapeForFilter escapes a value for use inside a search filter assertion.
//
// A caller supplied "\*" is first folded back to "*" so that it is encoded
// exactly once. The remaining substitutions are:
//
//	\   -> \5c
//	*   -> \2a
//	(   -> \28
//	)   -> \29
//	NUL -> \00
func (e Escaper) EscapeForFilter(value string) string {
	if !e.Enabled || value == "" {
		return value
	}

	value = strings.ReplaceAll(value, `\*`, "*")

	var b strings.Builder
	b.Grow(len(value) + 8)

	for i := 0; i < len(value); i++ {
		c := value[i]
		switch c {
		case '\\':
			b.WriteString(`\5c`)
		case '*':
			b.WriteString(`\2a`)
		case '(':
			b.WriteString(`\28`)
		case ')':
			b.WriteString(`\29`)
		case 0:
			b.WriteString(`\00`)
		default:
			b.WriteByte(c)
		}
	}

	return b.String()
}

// EscapeForFilterWithWildcard escapes a value for a substring filter. A bare
// "*" stays a wildcard; an escaped "\*" becomes a literal asterisk (\2a).
//
// Examples:
//   - "jo*"  -> "jo*"
//   - `jo\*` -> `jo\2a`
//   - "a(b)" -> `a\28b\29`
func (e Escaper) EscapeForFilterWithWildcard(value string) string {
	if !e.Enabled || value == "" {
		return value
	}

	var b strings.Builder
	b.Grow(len(value) + 8)

	for i := 0; i < len(value); i++ {
		c := value[i]
		switch c {
		case '\\':
			if i+1 < len(value) && value[i+1] == '*' {
				b.WriteString(`\2a`)
				i++
			} else {
				b.WriteString(`\5c`)
			}
		case '(':
			b.WriteString(`\28`)
		case ')':
			b.WriteString(`\29`)
		case 0:
			b.WriteString(`\00`)
		default:
			b.WriteByte(c)
		}
	}

	return b.String()
}

// EscapeForDN escapes a value substituted into a DN template such as
// "uid={0},ou=users,dc=example,dc=com".
//
// Examples:
//   - "Doe, John" -> `Doe\, John`
//   - "#admin"    -> `\#admin`
//   - "john "     -> `john\ `
//   - "a*b"       -> `a\2ab`
func (e Escaper) EscapeForDN(value string) string {
	if !e.Enabled || value == "" {
		return value
	}

	value = strings.ReplaceAll(value, `\*`, "*")

	var b strings.Builder
	b.Grow(len(value) + 8)

	if value[0] == ' ' || value[0] == '#' {
		b.WriteByte('\\')
	}

	last := len(value) - 1
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch c {
		case '\\':
			b.WriteString(`\\`)
		case ',', '+', '"', '<', '>', ';':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '*':
			b.WriteString(`\2a`)
		case ' ':
			if i == last && i > 0 {
				b.WriteByte('\\')
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}

	return b.String()
}

// EscapeDNForSearchRoot prepares a DN for use as a search base: escaped
// backslashes and escaped quotes gain one more level of escaping.
func (e Escaper) EscapeDNForSearchRoot(dn string) string {
	if !e.Enabled || dn == "" {
		return dn
	}

	dn = strings.ReplaceAll(dn, `\\`, `\\\`)
	return strings.ReplaceAll(dn, `\"`, `\\"`)
}

// EscapeDNValue escapes a single attribute value according to RFC 4514. It
// is used when a parsed DN is turned back into its string form.
func EscapeDNValue(value string) string {
	if value == "" {
		return value
	}

	var b strings.Builder
	b.Grow(len(value) + 8)

	last := len(value) - 1
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch c {
		case ',', '+', '"', '\\', '<', '>', ';':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '#':
			if i == 0 {
				b.WriteByte('\\')
			}
			b.WriteByte(c)
		case ' ':
			if i == 0 || i == last {
				b.WriteByte('\\')
			}
			b.WriteByte(c)
		case 0:
			b.WriteString(`\00`)
		default:
			b.WriteByte(c)
		}
	}

	return b.String()
}
