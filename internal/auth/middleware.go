package auth

import (
	"net/http"
	"strings"
)

// AccessKeyHeader carries the admin access key.
const AccessKeyHeader = "AccessKey"

// ExtractAccessKey returns the key from the AccessKey header, falling back
// to "Authorization: Bearer <key>". Surrounding whitespace is removed.
func ExtractAccessKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(AccessKeyHeader)); key != "" {
		return key
	}
	return extractBearerToken(r)
}

// extractBearerToken gets token from "Authorization: Bearer <token>" header
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
