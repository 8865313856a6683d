package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"time"
)

// recordDoc is the JSON document form of a KeyRecord. Field names follow
// the keys.json layout used by earlier deployments of the key server, so
// the same shape serves the Redis backend, the export endpoint and seeding.
type recordDoc struct {
	Expiry        *string `json:"expiry"`
	Used          bool    `json:"used"`
	HWID          *string `json:"hwid"`
	Created       string  `json:"created,omitempty"`
	Duration      string  `json:"duration,omitempty"`
	Mode          string  `json:"mode,omitempty"`
	ActivatedDate *string `json:"activated_date,omitempty"`
	Extended      int     `json:"extended,omitempty"`
	ExtendedDate  *string `json:"extended_date,omitempty"`
	Notes         string  `json:"notes,omitempty"`
	Revision      int64   `json:"revision,omitempty"`
}

// Accepted timestamp layouts, most specific first. Timestamps without a
// zone are read as UTC.
var docTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func formatDocTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func docTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatDocTime(*t)
	return &s
}

func parseDocTime(s string) (time.Time, error) {
	for _, layout := range docTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

func parseDocTimePtr(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := parseDocTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func newRecordDoc(r *KeyRecord) recordDoc {
	doc := recordDoc{
		Expiry:        docTimePtr(r.ExpiresAt),
		Used:          r.Used,
		Created:       formatDocTime(r.CreatedAt),
		Duration:      r.Policy.String(),
		Mode:          string(r.Mode),
		ActivatedDate: docTimePtr(r.ActivatedAt),
		Extended:      r.ExtendedDays,
		ExtendedDate:  docTimePtr(r.ExtendedAt),
		Notes:         r.Notes,
		Revision:      r.Revision,
	}
	if r.DeviceID != "" {
		hwid := r.DeviceID
		doc.HWID = &hwid
	}
	return doc
}

// record converts the document into a KeyRecord. now fills in a creation
// time for documents that never carried one.
func (d recordDoc) record(code string, now time.Time) (*KeyRecord, error) {
	r := &KeyRecord{
		Code:         code,
		Used:         d.Used,
		ExtendedDays: d.Extended,
		Notes:        d.Notes,
		Revision:     d.Revision,
	}
	if d.HWID != nil {
		r.DeviceID = *d.HWID
	}

	var err error
	if r.ExpiresAt, err = parseDocTimePtr(d.Expiry); err != nil {
		return nil, fmt.Errorf("key %s: expiry: %w", code, err)
	}
	if r.ActivatedAt, err = parseDocTimePtr(d.ActivatedDate); err != nil {
		return nil, fmt.Errorf("key %s: activated_date: %w", code, err)
	}
	if r.ExtendedAt, err = parseDocTimePtr(d.ExtendedDate); err != nil {
		return nil, fmt.Errorf("key %s: extended_date: %w", code, err)
	}

	r.CreatedAt = now.UTC()
	if d.Created != "" {
		if r.CreatedAt, err = parseDocTime(d.Created); err != nil {
			return nil, fmt.Errorf("key %s: created: %w", code, err)
		}
	}

	switch {
	case d.Mode != "":
		if r.Mode, err = ParseExpiryMode(d.Mode); err != nil {
			return nil, fmt.Errorf("key %s: %w", code, err)
		}
	case r.ExpiresAt == nil:
		r.Mode = ExpiryFromActivation
	default:
		r.Mode = ExpiryFromCreation
	}

	if d.Duration != "" {
		if r.Policy, err = ParsePolicy(d.Duration); err != nil {
			return nil, fmt.Errorf("key %s: %w", code, err)
		}
	} else {
		if r.ExpiresAt == nil {
			return nil, fmt.Errorf("key %s: neither duration nor expiry set", code)
		}
		r.Policy = inferPolicy(r.CreatedAt, *r.ExpiresAt)
	}

	if r.Used && r.ActivatedAt == nil {
		activated := r.CreatedAt
		r.ActivatedAt = &activated
	}
	return r, nil
}

// inferPolicy derives a whole-day policy for documents lacking a duration tag.
func inferPolicy(created, expiry time.Time) Policy {
	days := int(math.Ceil(expiry.Sub(created).Hours() / 24))
	if days < 1 {
		days = 1
	}
	if days > MaxPolicyDays {
		days = MaxPolicyDays
	}
	return Days(days)
}

// NormalizeCode trims surrounding whitespace and upper-cases a key code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// DecodeLegacy reads a keys.json mapping of code to record. Codes are
// normalized; now is used as creation time for entries lacking one.
func DecodeLegacy(r io.Reader, now time.Time) ([]*KeyRecord, error) {
	var docs map[string]recordDoc
	if err := json.NewDecoder(r).Decode(&docs); err != nil {
		return nil, fmt.Errorf("failed to decode key file: %w", err)
	}

	recs := make([]*KeyRecord, 0, len(docs))
	seen := make(map[string]string, len(docs))
	for code, doc := range docs {
		normalized := NormalizeCode(code)
		if prev, ok := seen[normalized]; ok {
			return nil, fmt.Errorf("duplicate key %q in key file (also listed as %q)", normalized, prev)
		}
		seen[normalized] = code
		doc.Revision = 0
		rec, err := doc.record(normalized, now)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	sortRecords(recs)
	return recs, nil
}

// EncodeLegacy writes records as an indented keys.json mapping.
func EncodeLegacy(w io.Writer, recs []*KeyRecord) error {
	docs := make(map[string]recordDoc, len(recs))
	for _, r := range recs {
		doc := newRecordDoc(r)
		doc.Revision = 0
		docs[r.Code] = doc
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(docs); err != nil {
		return fmt.Errorf("failed to encode key file: %w", err)
	}
	return nil
}
