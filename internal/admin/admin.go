// Package admin provides the authenticated key administration API and the
// health endpoints of the key server.
package admin

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/sipico/license-key-server/internal/auth"
	"github.com/sipico/license-key-server/internal/license"
	"github.com/sipico/license-key-server/internal/storage"
)

// KeyService is the set of license operations exposed by the admin API.
type KeyService interface {
	Now() time.Time
	MaxGenerate() int
	Ping(ctx context.Context) error

	Generate(ctx context.Context, req license.GenerateRequest) ([]string, error)
	Get(ctx context.Context, code string) (*storage.KeyRecord, error)
	List(ctx context.Context, f license.Filter) ([]*storage.KeyRecord, error)
	Stats(ctx context.Context) (license.Stats, error)
	Extend(ctx context.Context, code string, days int) (*storage.KeyRecord, error)
	Reset(ctx context.Context, code string) (*storage.KeyRecord, error)
	SetNotes(ctx context.Context, code, notes string) (*storage.KeyRecord, error)
	Delete(ctx context.Context, code string) error
	PurgeExpired(ctx context.Context) (int, error)
	PurgeAll(ctx context.Context, confirm string) (int, error)
	Export(ctx context.Context, w io.Writer) error
	Import(ctx context.Context, r io.Reader, overwrite bool) (int, error)
}

// Authenticator resolves an access key to a principal.
type Authenticator interface {
	Authenticate(key string) (*auth.Principal, error)
}

var _ KeyService = (*license.Service)(nil)

// Handler provides admin endpoints
type Handler struct {
	service       KeyService
	authenticator Authenticator
	logger        *slog.Logger
	logLevel      *slog.LevelVar
	maxBodyBytes  int64
}

// NewHandler creates an admin handler
func NewHandler(service KeyService, authenticator Authenticator, logLevel *slog.LevelVar, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if logLevel == nil {
		logLevel = new(slog.LevelVar)
	}

	return &Handler{
		service:       service,
		authenticator: authenticator,
		logLevel:      logLevel,
		logger:        logger,
	}
}

// SetMaxBodyBytes bounds admin request bodies; zero keeps the default.
func (h *Handler) SetMaxBodyBytes(n int64) {
	h.maxBodyBytes = n
}
