package utils

import (
	"errors"
	"strings"
)

// ValidateIdentifier checks that a stored record id is non-empty and
// cannot escape a directory when used in a path.
func ValidateIdentifier(identifier string) error {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return errors.New("identifier is required and must be a non-empty string")
	}
	if trimmed != identifier {
		return errors.New("identifier must not have leading or trailing whitespace")
	}
	if strings.ContainsAny(trimmed, "/\\") || strings.Contains(trimmed, "..") {
		return errors.New("identifier must not contain path separators or '..'")
	}
	return nil
}
