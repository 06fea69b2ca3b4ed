package remote

import (
	"context"
	"errors"

	"github.com/gridpoint-io/meterwms/internal/models"
)

// ErrNotFound is returned when a record does not exist remotely.
var ErrNotFound = errors.New("remote: record not found")

// ErrNotConfigured is returned when no remote endpoint is configured.
// The connectivity monitor treats it as offline.
var ErrNotConfigured = errors.New("remote: no endpoint configured")

// Store is the record-oriented remote service boundary: per-entity
// collections supporting filtered select, insert, update-by-id and
// delete-by-id. The sync core treats the implementation as opaque.
type Store interface {
	List(ctx context.Context, collection string, filter map[string]string) ([]models.Record, error)
	Get(ctx context.Context, collection, id string) (models.Record, error)
	Insert(ctx context.Context, collection string, rec models.Record) (models.Record, error)
	Update(ctx context.Context, collection, id string, patch models.Record) (models.Record, error)
	Delete(ctx context.Context, collection, id string) error

	// Ping is the minimal read the connectivity monitor probes with.
	Ping(ctx context.Context) error
}
