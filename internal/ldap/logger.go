package ldap

import (
	"context"
	"maps"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// Subsystems used by this package.
var Subsystems = []string{"ldap", "pool", "kerberos"}

// WithSubsystems registers the named tflog subsystems on ctx at level.
func WithSubsystems(ctx context.Context, level hclog.Level, subsystems ...string) context.Context {
	for _, name := range subsystems {
		ctx = tflog.NewSubsystem(ctx, name, tflog.WithLevel(level))
	}
	return ctx
}

// StartOperation logs the start of an operation and returns a function that
// logs its completion. Every call gets its own operation id.
func StartOperation(ctx context.Context, subsystem, operation string, fields map[string]any) func(error) {
	start := time.Now()

	base := SanitizeFields(fields)
	base["operation"] = operation
	base["operation_id"] = uuid.NewString()

	tflog.SubsystemDebug(ctx, subsystem, "Starting operation", base)

	return func(err error) {
		exit := make(map[string]any, len(base)+3)
		maps.Copy(exit, base)
		exit["duration_ms"] = time.Since(start).Milliseconds()
		exit["has_error"] = err != nil

		if err != nil {
			exit["error"] = err.Error()
			tflog.SubsystemError(ctx, subsystem, "Operation failed", exit)
		} else {
			tflog.SubsystemDebug(ctx, subsystem, "Operation completed successfully", exit)
		}
	}
}

// LogLDAPError logs directory-specific error information.
func LogLDAPError(ctx context.Context, subsystem string, operation string, err error, fields map[string]any) {
	fields = SanitizeFields(fields)
	fields["operation"] = operation
	fields["error"] = err.Error()

	if ldapErr, ok := err.(*ldap.Error); ok {
		fields["ldap_result_code"] = ldapErr.ResultCode
		if ldapErr.MatchedDN != "" {
			fields["ldap_matched_dn"] = ldapErr.MatchedDN
		}
		if ldapErr.Err != nil {
			fields["ldap_diagnostic_message"] = ldapErr.Err.Error()
		}
	} else {
		fields["error_category"] = string(GetErrorCategory(err))
	}

	tflog.SubsystemError(ctx, subsystem, "LDAP operation failed", fields)
}

// LogConnectionEvent logs connection-related events.
func LogConnectionEvent(ctx context.Context, event string, fields map[string]any) {
	fields = SanitizeFields(fields)
	fields["event"] = event

	switch event {
	case "connection_established", "authentication_success":
		tflog.SubsystemInfo(ctx, "ldap", "Connection event", fields)
	case "connection_failed", "authentication_failed":
		tflog.SubsystemError(ctx, "ldap", "Connection event", fields)
	default:
		tflog.SubsystemDebug(ctx, "ldap", "Connection event", fields)
	}
}

// LogKerberosEvent logs Kerberos-specific events.
func LogKerberosEvent(ctx context.Context, event string, fields map[string]any) {
	fields = SanitizeFields(fields)
	fields["event"] = event

	switch event {
	case "ticket_acquired":
		tflog.SubsystemInfo(ctx, "kerberos", "Kerberos event", fields)
	case "ticket_acquisition_failed", "authentication_failed":
		tflog.SubsystemError(ctx, "kerberos", "Kerberos event", fields)
	default:
		tflog.SubsystemTrace(ctx, "kerberos", "Kerberos event", fields)
	}
}

// LogPoolEvent logs connection pool events.
func LogPoolEvent(ctx context.Context, event string, fields map[string]any) {
	fields = SanitizeFields(fields)
	fields["event"] = event

	switch event {
	case "pool_initialized", "connection_acquired", "connection_released":
		tflog.SubsystemDebug(ctx, "pool", "Pool event", fields)
	case "connection_discarded", "pool_full":
		tflog.SubsystemWarn(ctx, "pool", "Pool event", fields)
	case "all_connections_failed":
		tflog.SubsystemError(ctx, "pool", "Pool event", fields)
	default:
		tflog.SubsystemTrace(ctx, "pool", "Pool event", fields)
	}
}

var sensitiveKeys = map[string]bool{
	"password":    true,
	"passwd":      true,
	"secret":      true,
	"token":       true,
	"credential":  true,
	"credentials": true,
}

// SanitizeFields returns a copy of fields with sensitive values redacted.
// A nil map yields an empty, writable map.
func SanitizeFields(fields map[string]any) map[string]any {
	sanitized := make(map[string]any, len(fields))

	for k, v := range fields {
		if sensitiveKeys[strings.ToLower(k)] {
			sanitized[k] = "[REDACTED]"
			continue
		}
		if str, ok := v.(string); ok && containsSensitivePattern(str) {
			sanitized[k] = "[REDACTED]"
			continue
		}
		sanitized[k] = v
	}

	return sanitized
}

func containsSensitivePattern(s string) bool {
	lower := strings.ToLower(s)
	for _, pattern := range []string{"password=", "passwd=", "secret=", "token="} {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
