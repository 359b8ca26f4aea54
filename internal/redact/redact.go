package redact

import (
	"regexp"
)

const redacted = "[REDACTED]"

type rule struct {
	re   *regexp.Regexp
	repl string
}

// rules hold single-line credential patterns in priority order. Each keeps
// the key so a redacted dump still shows which field was present.
var rules = []rule{
	// JSON credential fields
	{regexp.MustCompile(`("(?:password|csrfmiddlewaretoken)"\s*:\s*)"(?:[^"\\]|\\.)*"`), `${1}"` + redacted + `"`},
	// Form-encoded credential fields
	{regexp.MustCompile(`\b((?:password|csrfmiddlewaretoken)=)[^&\s]*`), "${1}" + redacted},
	// CSRF header
	{regexp.MustCompile(`(?i)(X-CSRFToken:\s*)\S+`), "${1}" + redacted},
	// Session and CSRF cookies
	{regexp.MustCompile(`\b((?:csrftoken|sessionid)=)[^;\s]+`), "${1}" + redacted},
	// Bearer tokens; minimum 20-char token avoids false positives
	{regexp.MustCompile(`(?i)(Bearer\s+)[A-Za-z0-9\-._~+/]{20,}=*`), "${1}" + redacted},
	// JWT tokens (three base64url segments)
	{regexp.MustCompile(`eyJ[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+`), redacted},
}

// Redact replaces credentials in a request or response dump with [REDACTED].
// Line structure is preserved.
func Redact(input string) string {
	for _, r := range rules {
		input = r.re.ReplaceAllString(input, r.repl)
	}
	return input
}
