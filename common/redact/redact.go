// Package redact scrubs credentials out of strings before they are logged.
// It only knows about the values it is handed; keep secrets away from log
// call-sites in the first place.
package redact

import "strings"

const placeholder = "[REDACTED]"

// minSecretLen guards against blanking out short common substrings.
const minSecretLen = 4

// String replaces every occurrence of each secret in s with [REDACTED].
func String(s string, secrets ...string) string {
	for _, secret := range secrets {
		if len(secret) < minSecretLen {
			continue
		}
		s = strings.ReplaceAll(s, secret, placeholder)
	}
	return s
}

// Error is String applied to err.Error(); a nil err yields "".
func Error(err error, secrets ...string) string {
	if err == nil {
		return ""
	}
	return String(err.Error(), secrets...)
}
