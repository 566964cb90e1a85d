package catalog

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxCodeLength = 64
	MaxNameLength = 160
)

var codePattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9-]{0,63}$`)

// NormalizeCode canonicalizes a human-entered code: uppercase, every run of
// characters outside [A-Z0-9-] becomes one hyphen, repeated hyphens collapse,
// and leading/trailing hyphens are trimmed. It is total and idempotent.
func NormalizeCode(code string) string {
	upper := strings.ToUpper(code)
	var b strings.Builder
	b.Grow(len(upper))
	lastHyphen := false
	for _, r := range upper {
		ok := (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
			continue
		}
		b.WriteRune(r)
		lastHyphen = false
	}
	return strings.Trim(b.String(), "-")
}

// ValidateCode normalizes code and checks it against the allowed shape.
// label names the entity in the error message (e.g. "Service point").
func ValidateCode(code, label string) error {
	_, err := AssertCode(code, label)
	return err
}

// AssertCode returns the normalized code or an ErrInvalidCode error.
func AssertCode(code, label string) (string, error) {
	n := NormalizeCode(code)
	if n == "" {
		return "", fmt.Errorf("%w: %s code is required", ErrInvalidCode, label)
	}
	if !codePattern.MatchString(n) {
		return "", fmt.Errorf("%w: %s code %q must be 1-%d characters of A-Z, 0-9 or '-' starting alphanumeric",
			ErrInvalidCode, label, n, MaxCodeLength)
	}
	return n, nil
}

// ValidateName checks that the trimmed name is non-empty and at most 160 characters.
func ValidateName(name, label string) error {
	_, err := AssertName(name, label)
	return err
}

// AssertName returns the trimmed name or an ErrInvalidName error.
func AssertName(name, label string) (string, error) {
	return AssertNameMax(name, label, MaxNameLength)
}

// AssertNameMax is AssertName with a caller-chosen length bound. Templates
// allow longer names than catalog rows.
func AssertNameMax(name, label string, max int) (string, error) {
	n := strings.TrimSpace(name)
	if n == "" {
		return "", fmt.Errorf("%w: %s name is required", ErrInvalidName, label)
	}
	if utf8.RuneCountInString(n) > max {
		return "", fmt.Errorf("%w: %s name exceeds %d characters", ErrInvalidName, label, max)
	}
	return n, nil
}
