// Package logging provides masking helpers so request logs never carry
// admin credentials, device identifiers or complete license key codes.
package logging

import (
	"encoding/json"
	"strings"
)

const redacted = "[REDACTED]"

// BodyAllowlist lists the JSON fields of the key server's request and
// response bodies that are safe to log verbatim. Code-bearing fields are
// handled separately by MaskJSONBody.
var BodyAllowlist = []string{
	// requests
	"count", "duration", "mode", "days", "confirm",
	// responses
	"valid", "message", "expiry", "new_expiry", "extended", "status",
	"total", "used", "available", "expired", "activation_pending",
	"error", "hint", "level", "version", "keys_count",
}

// codeFields are JSON fields holding license key codes. Their values are
// partially masked with MaskCode instead of being redacted.
var codeFields = map[string]bool{
	"key":  true,
	"code": true,
	"keys": true,
}

// MaskHeader redacts sensitive header values based on header name.
//
// Rules:
//   - Password/secret headers: "[REDACTED]"
//   - Access key headers: "****" + last 4 characters
//   - Other headers: unchanged
func MaskHeader(name, value string) string {
	lowerName := strings.ToLower(name)

	if strings.Contains(lowerName, "password") ||
		strings.Contains(lowerName, "secret") ||
		strings.Contains(lowerName, "private-key") {
		return redacted
	}

	switch lowerName {
	case "authorization", "accesskey", "x-api-key", "x-access-key", "cookie":
		if len(value) < 4 {
			return "****"
		}
		return "****" + value[len(value)-4:]
	}

	return value
}

// MaskCode hides the inner groups of a hyphenated license key code, keeping
// the first and last group (e.g. "ABCD-****-****-****-****-9A8E").
// Codes without hyphens keep only their last four characters.
func MaskCode(code string) string {
	parts := strings.Split(code, "-")
	if len(parts) < 3 {
		if len(code) <= 4 {
			return "****"
		}
		return "****" + code[len(code)-4:]
	}
	for i := 1; i < len(parts)-1; i++ {
		parts[i] = "****"
	}
	return strings.Join(parts, "-")
}

// MaskJSONBody masks a JSON body for logging. Code fields are passed
// through MaskCode; other primitive fields not in allowlist are redacted.
// A nil allowlist returns the body unchanged. Bodies that are not valid
// JSON are returned as-is.
func MaskJSONBody(body []byte, allowlist []string) []byte {
	if allowlist == nil || len(body) == 0 {
		return body
	}

	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return body
	}

	allowed := make(map[string]bool, len(allowlist))
	for _, field := range allowlist {
		allowed[field] = true
	}

	result, err := json.Marshal(maskJSONValue(data, allowed))
	if err != nil {
		return body
	}
	return result
}

func maskJSONValue(value any, allowed map[string]bool) any {
	switch v := value.(type) {
	case map[string]any:
		result := make(map[string]any, len(v))
		for key, val := range v {
			switch {
			case codeFields[key]:
				result[key] = maskCodes(val)
			case allowed[key]:
				result[key] = maskJSONValue(val, allowed)
			default:
				switch val.(type) {
				case map[string]any, []any:
					result[key] = maskJSONValue(val, allowed)
				default:
					result[key] = redacted
				}
			}
		}
		return result
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			result[i] = maskJSONValue(item, allowed)
		}
		return result
	default:
		return value
	}
}

// maskCodes masks a code string or a list of code strings.
func maskCodes(value any) any {
	switch v := value.(type) {
	case string:
		return MaskCode(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = maskCodes(item)
		}
		return out
	default:
		return redacted
	}
}
