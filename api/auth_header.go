package api

import (
	"errors"
	"strings"
	"unsafe"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

const bearerScheme = "Bearer "

// bearerTokenFromString extracts the JWT from an Authorization header value
// without copying it. The returned bytes alias the header string and must be
// treated as read-only.
func bearerTokenFromString(raw string) ([]byte, error) {
	trimmed := strings.Trim(raw, " ")
	if trimmed == "" {
		return nil, errMissingAuthorization
	}
	if len(trimmed) <= len(bearerScheme) || trimmed[:len(bearerScheme)] != bearerScheme {
		return nil, errBadAuthorization
	}
	token := readOnlyBytes(trimmed[len(bearerScheme):])
	// A JWT has exactly three dot-separated segments; rejecting anything else
	// here keeps obvious garbage away from the parser.
	if countByte(token, '.') != 2 {
		return nil, errBadAuthorization
	}
	return token, nil
}

func countByte(buf []byte, target byte) int {
	count := 0
	for _, b := range buf {
		if b == target {
			count++
		}
	}
	return count
}

func readOnlyBytes(s string) []byte {
	if s == "" {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

func readOnlyString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}
