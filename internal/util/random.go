// Package util provides utility functions for the VisitPipe application.
package util

import (
	"math/rand/v2"
	"strings"
)

// GenerateRandomID generates a random ID with the specified prefix and hex length.
// The returned ID will be in the format: "{prefix}{hex_string}".
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified length.
// Uses math/rand/v2; not for cryptographic purposes.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.IntN(16)])
	}

	return builder.String()
}

// GenerateOTPCode generates a numeric one-time password of the specified
// number of digits, e.g. "482913" for length 6.
func GenerateOTPCode(length int) string {
	if length <= 0 {
		return ""
	}

	const digits = "0123456789"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(digits[rand.IntN(10)])
	}

	return builder.String()
}

// GenerateAuditID generates a unique audit entry ID with "a_" prefix.
func GenerateAuditID() string {
	return GenerateRandomID("a_", 32)
}

// GenerateDraftID generates a unique contract draft ID with "d_" prefix.
func GenerateDraftID() string {
	return GenerateRandomID("d_", 32)
}
