package util

import "fmt"

// Must panics on error. It is reserved for conditions that indicate a
// programming bug rather than a runtime failure.
func Must(err error) {
	if err != nil {
		panic(fmt.Errorf("unexpected error: %v", err))
	}
}

// Must2 is Must for single-value, error-returning expressions.
func Must2[T any](v T, err error) T {
	Must(err)
	return v
}
