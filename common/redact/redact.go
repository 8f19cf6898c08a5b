// Package redact strips credentials from strings before they reach logs,
// error messages, or HTTP responses.
//
// Provider SDKs and error bodies occasionally echo request headers or the
// key itself. Everything that leaves a provider client is passed through
// String with the configured keys, and through Keys as a second net for
// key-shaped tokens the caller did not know about.
package redact

import (
	"regexp"
	"strings"
)

const placeholder = "[REDACTED]"

// String replaces each occurrence of the given values with [REDACTED].
// Values shorter than 4 characters are ignored.
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// keyPattern matches OpenAI ("sk-...", "sk-proj-...") and Anthropic
// ("sk-ant-...") style secret keys, and bearer tokens in echoed headers.
var keyPattern = regexp.MustCompile(`(?i)(sk-[a-z0-9_\-]{8,}|bearer\s+[a-z0-9._\-]{8,})`)

// Keys replaces anything that looks like an API key or bearer token.
func Keys(s string) string {
	return keyPattern.ReplaceAllString(s, placeholder)
}
