/*
Package ldap provides the directory plumbing used by the user-store agent.

It contains everything that talks to, or prepares strings for, an LDAP
directory. The user-store manager in package userstore depends only on the
narrow Session capability defined here.

# Escaping

An Escaper sanitizes untrusted input for three contexts:

  - filter values (EscapeForFilter, EscapeForFilterWithWildcard)
  - DN template substitutions (EscapeForDN)
  - DNs used as search roots (EscapeDNForSearchRoot)

A disabled Escaper passes input through unchanged so that deployments which
pre-escape login names keep working.

# Sessions

SessionProvider hands out directory sessions:

  - GetSession returns a session bound as the configured service account,
    backed by a bounded connection pool.
  - GetSessionWithCredentials dials a dedicated connection and binds with the
    supplied DN and credential. Rejected credentials are reported as
    *AuthenticationError.

Searches always cover the whole subtree below the base and never dereference
aliases. Referrals are reported as *PartialResultError together with the
entries received before the referral.

Servers come from explicit ldap:// and ldaps:// URLs. A URL without a host,
such as ldap:///dc=example,dc=com, locates domain controllers for the
domain named by the DN through DNS SRV records.

# Authentication

The service account binds with a simple bind or, when a Kerberos realm is
configured, with GSSAPI using a credential cache, a keytab or a password.

# Logging

All logging goes through tflog subsystems ("ldap", "pool", "kerberos").
Without a root logger in the context every log call is a no-op.
*/
package ldap
