package api

import (
	"bytes"
	"errors"
	"net/http"
	"strings"
	"unsafe"

	"github.com/labstack/echo/v4"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

var bearerPrefix = []byte("Bearer ")

// credentialFromRequest returns the Authorization header, or a bearer header
// built from the token query parameter. Browsers cannot set headers on a
// WebSocket handshake.
func credentialFromRequest(r *http.Request) string {
	if h := r.Header.Get(echo.HeaderAuthorization); h != "" {
		return h
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return "Bearer " + token
	}
	return ""
}

func bearerTokenFromHeader(header http.Header) ([]byte, error) {
	values := header.Values(echo.HeaderAuthorization)
	if len(values) == 0 {
		return nil, errMissingAuthorization
	}
	return bearerTokenFromString(values[0])
}

func bearerTokenFromString(raw string) ([]byte, error) {
	trimmed := strings.Trim(raw, " ")
	if trimmed == "" {
		return nil, errMissingAuthorization
	}
	tokenBytes := readOnlyBytes(trimmed)
	if len(tokenBytes) <= len(bearerPrefix) || !bytes.HasPrefix(tokenBytes, bearerPrefix) {
		return nil, errBadAuthorization
	}
	tokenBytes = tokenBytes[len(bearerPrefix):]
	if bytes.Count(tokenBytes, []byte{'.'}) != 2 {
		return nil, errBadAuthorization
	}
	return tokenBytes, nil
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
