package license

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/sipico/license-key-server/internal/storage"
)

// Code layout: six groups of two random bytes, hex encoded.
const (
	codeGroups     = 6
	codeGroupBytes = 2
)

// GenerateCode draws a new key code from r, e.g. "3F9A-0C1B-77D2-E4A0-5B6C-9A8E".
func GenerateCode(r io.Reader) (string, error) {
	buf := make([]byte, codeGroups*codeGroupBytes)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	groups := make([]string, codeGroups)
	for i := range groups {
		chunk := buf[i*codeGroupBytes : (i+1)*codeGroupBytes]
		groups[i] = strings.ToUpper(hex.EncodeToString(chunk))
	}
	return strings.Join(groups, "-"), nil
}

// NormalizeCode trims and upper-cases a code as entered by a client or admin.
func NormalizeCode(code string) string {
	return storage.NormalizeCode(code)
}
