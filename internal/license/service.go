// Package license implements the key lifecycle: code generation, the
// validation state machine and the admin operations built on it.
package license

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/sipico/license-key-server/internal/logging"
	"github.com/sipico/license-key-server/internal/storage"
)

const (
	// DefaultMaxGenerate bounds the number of keys created per request.
	DefaultMaxGenerate = 100
	// PurgeAllConfirmation must be passed verbatim to PurgeAll.
	PurgeAllConfirmation = "DELETE ALL"

	// maxCodeAttempts bounds redraws of a colliding code.
	maxCodeAttempts = 10
)

// Validation messages returned to clients.
const (
	MsgInvalidKey     = "Invalid key"
	MsgKeyExpired     = "Key expired"
	MsgDeviceMismatch = "Key already in use on another PC"
	MsgActivated      = "Key activated successfully"
	MsgValid          = "Key valid"
)

// Result is the client-facing answer to a validation request.
type Result struct {
	Outcome   Outcome
	Valid     bool
	Message   string
	ExpiresAt *time.Time
}

func newResult(d Decision) Result {
	r := Result{Outcome: d.Outcome, Valid: d.Outcome.Valid()}
	switch d.Outcome {
	case OutcomeActivatedNow:
		r.Message = MsgActivated
		r.ExpiresAt = d.ExpiresAt
	case OutcomeStillValid:
		r.Message = MsgValid
		r.ExpiresAt = d.ExpiresAt
	case OutcomeExpired:
		r.Message = MsgKeyExpired
	case OutcomeDeviceMismatch:
		r.Message = MsgDeviceMismatch
	default:
		r.Message = MsgInvalidKey
	}
	return r
}

// GenerateRequest describes a batch of keys to create.
type GenerateRequest struct {
	Count  int
	Policy storage.Policy
	// Mode defaults to the service's configured mode when empty.
	Mode  storage.ExpiryMode
	Notes string
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Policy *storage.Policy
	Status Status
	// Query matches a case-insensitive substring of the code, device or notes.
	Query string
}

// Stats summarizes the stored keys.
type Stats struct {
	Total     int `json:"total"`
	Used      int `json:"used"`
	Available int `json:"available"`
	// Expired counts used keys past their expiry.
	Expired           int `json:"expired"`
	ActivationPending int `json:"activation_pending"`
}

// Service orchestrates the lifecycle engine over a Store.
type Service struct {
	store       Store
	logger      *slog.Logger
	now         func() time.Time
	random      io.Reader
	maxGenerate int
	defaultMode storage.ExpiryMode
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRandom replaces crypto/rand as the code entropy source.
func WithRandom(r io.Reader) Option {
	return func(s *Service) { s.random = r }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMaxGenerate sets the upper bound on keys per Generate call.
func WithMaxGenerate(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxGenerate = n
		}
	}
}

// WithDefaultMode sets the expiry mode used when a request names none.
func WithDefaultMode(mode storage.ExpiryMode) Option {
	return func(s *Service) {
		if mode != "" {
			s.defaultMode = mode
		}
	}
}

// NewService creates a Service backed by store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		logger:      slog.Default(),
		now:         time.Now,
		random:      rand.Reader,
		maxGenerate: DefaultMaxGenerate,
		defaultMode: storage.ExpiryFromCreation,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxGenerate returns the per-request generate limit.
func (s *Service) MaxGenerate() int {
	return s.maxGenerate
}

// DefaultMode returns the expiry mode applied when a request names none.
func (s *Service) DefaultMode() storage.ExpiryMode {
	return s.defaultMode
}

// Now returns the current time of the service's clock.
func (s *Service) Now() time.Time {
	return s.now()
}

// Validate runs one validation attempt for code from deviceID. The
// read-evaluate-write sequence executes inside the store's per-code
// critical section, so of several concurrent first activations exactly
// one binds the key.
//
// Failed outcomes are returned as a Result, not an error. The error is
// non-nil only for a *PersistenceError.
func (s *Service) Validate(ctx context.Context, code, deviceID string) (Result, error) {
	code = NormalizeCode(code)
	if code == "" {
		return newResult(Decision{Outcome: OutcomeNotFound}), nil
	}

	now := s.now()
	var decision Decision
	_, err := s.store.Update(ctx, code, func(cur *storage.KeyRecord) (*storage.KeyRecord, error) {
		decision = Evaluate(cur, deviceID, now)
		return decision.Next, nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return newResult(Decision{Outcome: OutcomeNotFound}), nil
		}
		s.logger.Error("validation could not be persisted",
			"code", logging.MaskCode(code),
			"error", err)
		return Result{}, persistenceError("validate", err)
	}

	if decision.Outcome == OutcomeActivatedNow {
		s.logger.Info("key activated",
			"code", logging.MaskCode(code),
			"expires_at", decision.ExpiresAt)
	} else {
		s.logger.Debug("key validated",
			"code", logging.MaskCode(code),
			"outcome", decision.Outcome.String())
	}
	return newResult(decision), nil
}

// Generate creates req.Count new keys and returns their codes once all of
// them are stored. If a store write fails, keys already created by this
// call are removed again before the error is returned.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) ([]string, error) {
	if req.Count < 1 || req.Count > s.maxGenerate {
		return nil, fmt.Errorf("%w: count must be between 1 and %d, got %d", ErrInvalidCount, s.maxGenerate, req.Count)
	}
	if err := req.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	mode := req.Mode
	if mode == "" {
		mode = s.defaultMode
	}

	now := s.now()
	codes := make([]string, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		code, err := s.insertUnique(ctx, req.Policy, mode, req.Notes, now)
		if err != nil {
			s.rollback(codes)
			return nil, err
		}
		codes = append(codes, code)
	}

	s.logger.Info("keys generated",
		"count", len(codes),
		"duration", req.Policy.String(),
		"mode", string(mode))
	return codes, nil
}

// insertUnique draws codes until one is not yet stored and inserts it.
func (s *Service) insertUnique(ctx context.Context, policy storage.Policy, mode storage.ExpiryMode, notes string, now time.Time) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := GenerateCode(s.random)
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		err = s.store.Insert(ctx, NewRecord(code, policy, mode, notes, now))
		if err == nil {
			return code, nil
		}
		if !errors.Is(err, storage.ErrDuplicate) {
			return "", persistenceError("generate", err)
		}
		s.logger.Warn("generated code collided, redrawing", "attempt", attempt+1)
	}
	return "", persistenceError("generate",
		fmt.Errorf("no unique code after %d attempts", maxCodeAttempts))
}

func (s *Service) rollback(codes []string) {
	// The request context may already be canceled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, code := range codes {
		if err := s.store.Delete(ctx, code); err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.logger.Error("failed to roll back generated key",
				"code", logging.MaskCode(code),
				"error", err)
		}
	}
}

// Get returns the record for code.
func (s *Service) Get(ctx context.Context, code string) (*storage.KeyRecord, error) {
	rec, err := s.store.Get(ctx, NormalizeCode(code))
	if err != nil {
		return nil, s.mapStoreError("get", err)
	}
	return rec, nil
}

// List returns stored keys matching f, newest first.
func (s *Service) List(ctx context.Context, f Filter) ([]*storage.KeyRecord, error) {
	recs, err := s.store.List(ctx)
	if err != nil {
		return nil, persistenceError("list", err)
	}

	now := s.now()
	query := strings.ToUpper(strings.TrimSpace(f.Query))
	out := make([]*storage.KeyRecord, 0, len(recs))
	for _, rec := range recs {
		if f.Policy != nil && rec.Policy != *f.Policy {
			continue
		}
		if f.Status != "" && StatusOf(rec, now) != f.Status {
			continue
		}
		if query != "" && !matchesQuery(rec, query) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func matchesQuery(rec *storage.KeyRecord, upperQuery string) bool {
	return strings.Contains(rec.Code, upperQuery) ||
		strings.Contains(strings.ToUpper(rec.DeviceID), upperQuery) ||
		strings.Contains(strings.ToUpper(rec.Notes), upperQuery)
}

// Count returns the number of stored keys.
func (s *Service) Count(ctx context.Context) (int, error) {
	n, err := s.store.Count(ctx)
	if err != nil {
		return 0, persistenceError("count", err)
	}
	return n, nil
}

// Stats counts keys by state. Activation-anchored keys that were never
// used have no expiry and are never counted as expired.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	recs, err := s.store.List(ctx)
	if err != nil {
		return Stats{}, persistenceError("stats", err)
	}

	now := s.now()
	var st Stats
	st.Total = len(recs)
	for _, rec := range recs {
		if rec.Used {
			st.Used++
			if rec.IsExpired(now) {
				st.Expired++
			}
		} else if rec.Mode == storage.ExpiryFromActivation {
			st.ActivationPending++
		}
	}
	st.Available = st.Total - st.Used
	return st, nil
}

// Extend adds days to the key's current expiry.
func (s *Service) Extend(ctx context.Context, code string, days int) (*storage.KeyRecord, error) {
	if days < 1 || days > storage.MaxPolicyDays {
		return nil, fmt.Errorf("%w: days must be between 1 and %d, got %d", ErrInvalidDays, storage.MaxPolicyDays, days)
	}
	code = NormalizeCode(code)
	now := s.now()
	rec, err := s.store.Update(ctx, code, func(cur *storage.KeyRecord) (*storage.KeyRecord, error) {
		return Extend(cur, days, now)
	})
	if err != nil {
		return nil, s.mapStoreError("extend", err)
	}
	s.logger.Info("key extended",
		"code", logging.MaskCode(code),
		"days", days,
		"expires_at", rec.ExpiresAt)
	return rec, nil
}

// Reset returns the key to its never-activated state.
func (s *Service) Reset(ctx context.Context, code string) (*storage.KeyRecord, error) {
	code = NormalizeCode(code)
	rec, err := s.store.Update(ctx, code, func(cur *storage.KeyRecord) (*storage.KeyRecord, error) {
		return Reset(cur), nil
	})
	if err != nil {
		return nil, s.mapStoreError("reset", err)
	}
	s.logger.Info("key reset", "code", logging.MaskCode(code))
	return rec, nil
}

// SetNotes replaces the key's admin annotation.
func (s *Service) SetNotes(ctx context.Context, code, notes string) (*storage.KeyRecord, error) {
	rec, err := s.store.Update(ctx, NormalizeCode(code), func(cur *storage.KeyRecord) (*storage.KeyRecord, error) {
		if cur.Notes == notes {
			return nil, nil
		}
		cur.Notes = notes
		return cur, nil
	})
	if err != nil {
		return nil, s.mapStoreError("notes", err)
	}
	return rec, nil
}

// Delete removes the key.
func (s *Service) Delete(ctx context.Context, code string) error {
	code = NormalizeCode(code)
	if err := s.store.Delete(ctx, code); err != nil {
		return s.mapStoreError("delete", err)
	}
	s.logger.Info("key deleted", "code", logging.MaskCode(code))
	return nil
}

// PurgeExpired deletes every key past its expiry and returns the count.
func (s *Service) PurgeExpired(ctx context.Context) (int, error) {
	n, err := s.store.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, persistenceError("purge expired", err)
	}
	s.logger.Info("expired keys purged", "count", n)
	return n, nil
}

// PurgeAll deletes every key. confirm must equal PurgeAllConfirmation.
func (s *Service) PurgeAll(ctx context.Context, confirm string) (int, error) {
	if confirm != PurgeAllConfirmation {
		return 0, ErrConfirmationRequired
	}
	n, err := s.store.DeleteAll(ctx)
	if err != nil {
		return 0, persistenceError("purge all", err)
	}
	s.logger.Warn("all keys purged", "count", n)
	return n, nil
}

// Export writes every key as a keys.json mapping.
func (s *Service) Export(ctx context.Context, w io.Writer) error {
	recs, err := s.store.List(ctx)
	if err != nil {
		return persistenceError("export", err)
	}
	return storage.EncodeLegacy(w, recs)
}

// Import loads a keys.json mapping. Existing codes are skipped unless
// overwrite is set. Returns the number of records written.
func (s *Service) Import(ctx context.Context, r io.Reader, overwrite bool) (int, error) {
	recs, err := storage.DecodeLegacy(r, s.now())
	if err != nil {
		return 0, err
	}

	written := 0
	for _, rec := range recs {
		if overwrite {
			err = s.store.Put(ctx, rec)
		} else {
			err = s.store.Insert(ctx, rec)
			if errors.Is(err, storage.ErrDuplicate) {
				continue
			}
		}
		if err != nil {
			return written, persistenceError("import", err)
		}
		written++
	}
	s.logger.Info("keys imported", "count", written, "total", len(recs))
	return written, nil
}

// Ping checks that the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// mapStoreError converts storage errors for single-key operations. Errors
// raised by the lifecycle functions pass through unchanged.
func (s *Service) mapStoreError(op string, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return ErrKeyNotFound
	case errors.Is(err, ErrNoExpirySet):
		return err
	default:
		return persistenceError(op, err)
	}
}
