// Package utils provides small shared helpers (error wrapping, env lookups)
// used by packages that don't need the chiralerr taxonomy's Kind tagging.
package utils

import "fmt"

// Wrap adds context to an error message. It returns nil if err is nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
