package license

import (
	"time"

	"github.com/sipico/license-key-server/internal/storage"
)

// Outcome is the result of evaluating a validation attempt.
type Outcome int

const (
	OutcomeNotFound Outcome = iota
	OutcomeActivatedNow
	OutcomeStillValid
	OutcomeExpired
	OutcomeDeviceMismatch
)

// String returns the outcome label used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case OutcomeActivatedNow:
		return "activated"
	case OutcomeStillValid:
		return "valid"
	case OutcomeExpired:
		return "expired"
	case OutcomeDeviceMismatch:
		return "device_mismatch"
	default:
		return "not_found"
	}
}

// Valid reports whether the outcome grants access.
func (o Outcome) Valid() bool {
	return o == OutcomeActivatedNow || o == OutcomeStillValid
}

// Err returns the error describing a failed outcome, or nil for valid ones.
func (o Outcome) Err() error {
	switch o {
	case OutcomeActivatedNow, OutcomeStillValid:
		return nil
	case OutcomeExpired:
		return ErrKeyExpired
	case OutcomeDeviceMismatch:
		return ErrDeviceConflict
	default:
		return ErrKeyNotFound
	}
}

// Decision is what Evaluate concluded about one validation attempt.
type Decision struct {
	Outcome   Outcome
	ExpiresAt *time.Time

	// Next is the record to persist. It is nil unless the attempt is a
	// successful first activation.
	Next *storage.KeyRecord
}

// Evaluate applies the key lifecycle rules to rec for a validation from
// deviceID at now. rec is never modified. A nil rec yields OutcomeNotFound.
//
// Expiry is strict: a key is expired only when now is after its expiry, so
// the expiry instant itself still validates.
func Evaluate(rec *storage.KeyRecord, deviceID string, now time.Time) Decision {
	if rec == nil {
		return Decision{Outcome: OutcomeNotFound}
	}
	now = now.UTC()

	if !rec.Used {
		next := rec.Clone()
		switch rec.Mode {
		case storage.ExpiryFromActivation:
			expires := now.Add(rec.Policy.Duration())
			next.ExpiresAt = &expires
		default:
			if rec.IsExpired(now) {
				return Decision{Outcome: OutcomeExpired, ExpiresAt: cloneTime(rec.ExpiresAt)}
			}
		}
		activated := now
		next.Used = true
		next.DeviceID = deviceID
		next.ActivatedAt = &activated
		return Decision{
			Outcome:   OutcomeActivatedNow,
			ExpiresAt: cloneTime(next.ExpiresAt),
			Next:      next,
		}
	}

	if rec.IsExpired(now) {
		return Decision{Outcome: OutcomeExpired, ExpiresAt: cloneTime(rec.ExpiresAt)}
	}
	if rec.DeviceID != deviceID {
		return Decision{Outcome: OutcomeDeviceMismatch}
	}
	return Decision{Outcome: OutcomeStillValid, ExpiresAt: cloneTime(rec.ExpiresAt)}
}

// NewRecord builds a fresh, never-activated record. Creation-anchored keys
// get their expiry immediately; activation-anchored keys get none.
func NewRecord(code string, policy storage.Policy, mode storage.ExpiryMode, notes string, now time.Time) *storage.KeyRecord {
	now = now.UTC()
	rec := &storage.KeyRecord{
		Code:      code,
		Policy:    policy,
		Mode:      mode,
		CreatedAt: now,
		Notes:     notes,
	}
	if mode != storage.ExpiryFromActivation {
		rec.Mode = storage.ExpiryFromCreation
		expires := now.Add(policy.Duration())
		rec.ExpiresAt = &expires
	}
	return rec
}

// Extend returns a copy of rec with days added to its current expiry.
// Returns ErrNoExpirySet if the expiry clock has not started.
func Extend(rec *storage.KeyRecord, days int, now time.Time) (*storage.KeyRecord, error) {
	if rec.ExpiresAt == nil {
		return nil, ErrNoExpirySet
	}
	next := rec.Clone()
	expires := rec.ExpiresAt.Add(time.Duration(days) * 24 * time.Hour)
	extendedAt := now.UTC()
	next.ExpiresAt = &expires
	next.ExtendedDays += days
	next.ExtendedAt = &extendedAt
	return next, nil
}

// Reset returns a copy of rec rolled back to its pre-activation state.
// Activation-anchored keys also lose their expiry and extension history,
// which the expiry carried; creation-anchored keys keep both. Notes are kept.
func Reset(rec *storage.KeyRecord) *storage.KeyRecord {
	next := rec.Clone()
	next.Used = false
	next.DeviceID = ""
	next.ActivatedAt = nil
	if rec.Mode == storage.ExpiryFromActivation {
		next.ExpiresAt = nil
		next.ExtendedDays = 0
		next.ExtendedAt = nil
	}
	return next
}

// Status is the display state of a key.
type Status string

const (
	StatusAvailable Status = "available"
	StatusUsed      Status = "used"
	StatusExpired   Status = "expired"
	// StatusPending marks activation-anchored keys whose clock has not started.
	StatusPending Status = "pending"
)

// ParseStatus accepts the Status values; an empty string matches any status.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case "", StatusAvailable, StatusUsed, StatusExpired, StatusPending:
		return st, true
	}
	return "", false
}

// StatusOf classifies rec at now. Expiry takes precedence over use.
func StatusOf(rec *storage.KeyRecord, now time.Time) Status {
	switch {
	case rec.IsExpired(now):
		return StatusExpired
	case rec.Used:
		return StatusUsed
	case rec.Mode == storage.ExpiryFromActivation:
		return StatusPending
	default:
		return StatusAvailable
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
