package storage

import (
	"fmt"
	"time"
)

// ExpiryMode decides when a key's expiry clock starts.
type ExpiryMode string

const (
	// ExpiryFromCreation computes the expiry at generation time.
	ExpiryFromCreation ExpiryMode = "creation"
	// ExpiryFromActivation leaves the expiry unset until first activation.
	ExpiryFromActivation ExpiryMode = "activation"
)

// ParseExpiryMode parses "creation" or "activation".
// An empty string yields ExpiryFromCreation.
func ParseExpiryMode(s string) (ExpiryMode, error) {
	switch ExpiryMode(s) {
	case "", ExpiryFromCreation:
		return ExpiryFromCreation, nil
	case ExpiryFromActivation:
		return ExpiryFromActivation, nil
	default:
		return "", fmt.Errorf("invalid expiry mode %q (must be: creation, activation)", s)
	}
}

// KeyRecord is the persisted state of one license key.
type KeyRecord struct {
	Code        string
	Policy      Policy
	Mode        ExpiryMode
	CreatedAt   time.Time
	ExpiresAt   *time.Time // nil until activation for ExpiryFromActivation
	Used        bool
	DeviceID    string // empty while unused
	ActivatedAt *time.Time

	// ExtendedDays is the cumulative number of days added by admin extensions.
	ExtendedDays int
	ExtendedAt   *time.Time
	Notes        string

	// Revision is bumped by the store on every write.
	Revision int64
}

// Clone returns a deep copy of the record.
func (r *KeyRecord) Clone() *KeyRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.ExpiresAt = cloneTime(r.ExpiresAt)
	c.ActivatedAt = cloneTime(r.ActivatedAt)
	c.ExtendedAt = cloneTime(r.ExtendedAt)
	return &c
}

// IsExpired reports whether the record has an expiry strictly before now.
// Records without an expiry are never expired.
func (r *KeyRecord) IsExpired(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// timePtr returns a pointer to t in UTC.
func timePtr(t time.Time) *time.Time {
	v := t.UTC()
	return &v
}
