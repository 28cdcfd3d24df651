// Package redact scrubs secrets and infrastructure details from text before
// it reaches a log line or a client.
//
// String applies every rule and is meant for logs. Message applies only the
// credential rules, so that error text relayed to a streaming client stays
// readable while never carrying keys, tokens or connection secrets.
package redact

import "regexp"

// Placeholders substituted for redacted fragments
const (
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
	RedactedJWTPlaceholder        = "[REDACTED_JWT]"
	RedactedPathPlaceholder       = "[REDACTED_PATH]"
	RedactedHostPlaceholder       = "[REDACTED_HOST]"
	RedactedSQLPlaceholder        = "[REDACTED_SQL]"
	RedactedStackPlaceholder      = "[STACK_TRACE_REDACTED]"
	RedactedEmailPlaceholder      = "[REDACTED_EMAIL]"
)

type rule struct {
	pattern     *regexp.Regexp
	placeholder string
	credential  bool
}

// Order matters: connection strings must be rewritten before the host rule
// sees them, and JWTs before the generic key rule.
var rules = []rule{
	{
		pattern:     regexp.MustCompile(`(?i)(postgres(?:ql)?|redis|rediss|amqp|mongodb)://[^@\s]+@`),
		placeholder: "${1}://" + RedactedCredentialPlaceholder + "@",
		credential:  true,
	},
	{
		pattern:     regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`),
		placeholder: RedactedJWTPlaceholder,
		credential:  true,
	},
	{
		pattern:     regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_\-.~+/]+=*`),
		placeholder: "Bearer " + RedactedCredentialPlaceholder,
		credential:  true,
	},
	{
		pattern:     regexp.MustCompile(`(?i)(password|passwd|pwd)([=:\s]?['"]?)[^'"&\s]{3,}`),
		placeholder: RedactedCredentialPlaceholder,
		credential:  true,
	},
	{
		pattern:     regexp.MustCompile(`(?i)(api[_-]?key|token|secret|key|auth)(['"\s:=]+)[A-Za-z0-9_\-.~+/]{8,}`),
		placeholder: RedactedKeyPlaceholder,
		credential:  true,
	},
	{
		pattern:     regexp.MustCompile(`AIza[0-9A-Za-z_\-]{35}`),
		placeholder: RedactedKeyPlaceholder,
		credential:  true,
	},
	{
		pattern:     regexp.MustCompile(`(?:goroutine \d+|panic:)[\s\S]*?(\n\t.*)+`),
		placeholder: RedactedStackPlaceholder,
	},
	{
		pattern:     regexp.MustCompile(`(?i)(SELECT|INSERT|UPDATE|DELETE)[\s\w,*()]+(?:FROM|INTO|SET)(?:[\s\w,*()='"$]+)?`),
		placeholder: RedactedSQLPlaceholder,
	},
	{
		pattern:     regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
		placeholder: RedactedEmailPlaceholder,
	},
	{
		pattern:     regexp.MustCompile(`(/[\w.-]+){2,}`),
		placeholder: RedactedPathPlaceholder,
	},
	{
		pattern:     regexp.MustCompile(`\b(?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}(?::\d{1,5})?\b`),
		placeholder: RedactedHostPlaceholder,
	},
}

// String applies every redaction rule to input
func String(input string) string {
	return apply(input, false)
}

// Error redacts an error's message for logging
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}

// Message removes credentials only and leaves the rest of input intact
func Message(input string) string {
	return apply(input, true)
}

func apply(input string, credentialsOnly bool) string {
	if input == "" {
		return input
	}
	result := input
	for _, r := range rules {
		if credentialsOnly && !r.credential {
			continue
		}
		result = r.pattern.ReplaceAllString(result, r.placeholder)
	}
	return result
}
