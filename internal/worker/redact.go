package worker

import "regexp"

// Notification payloads can carry recipient addresses; failure logs must
// not leak them.
var emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)

// Redact masks email addresses in a payload string before logging.
func Redact(s string) string {
	return emailPattern.ReplaceAllString(s, "[redacted]")
}
