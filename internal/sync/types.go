package sync

import (
	"errors"
	"time"

	"github.com/gridpoint-io/meterwms/internal/models"
)

// State is the process-wide, ephemeral outcome of the most recent sync
// pass. It is never persisted.
type State string

const (
	StateIdle     State = "idle"
	StateSyncing  State = "syncing"
	StateSuccess  State = "success"
	StateError    State = "error"
	StateConflict State = "conflict"
)

// ConnStatus is the tri-state result of connectivity checking.
type ConnStatus string

const (
	StatusOnline   ConnStatus = "online"
	StatusOffline  ConnStatus = "offline"
	StatusChecking ConnStatus = "checking"
)

var (
	// ErrSyncInProgress is returned when a sync pass is requested while
	// another one is still draining the queue.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrConflictResolved is returned on an attempt to re-resolve a
	// conflict that is already terminal.
	ErrConflictResolved = errors.New("conflict already resolved")

	// ErrResolvedDataRequired is returned when a merge or manual
	// resolution is applied without a final payload.
	ErrResolvedDataRequired = errors.New("resolved data required for this strategy")

	// ErrUnknownStrategy is returned for a resolution strategy outside
	// server/client/merge/manual.
	ErrUnknownStrategy = errors.New("unknown resolution strategy")
)

// SyncResult aggregates the outcome of one drain attempt over the
// pending-operation queue. Individual failures never abort the batch.
type SyncResult struct {
	Processed int               `json:"processed"`
	Failed    int               `json:"failed"`
	Conflicts []models.Conflict `json:"conflicts,omitempty"`
	Errors    []string          `json:"errors,omitempty"`
	Duration  time.Duration     `json:"duration"`
	Timestamp time.Time         `json:"timestamp"`
}

// Notifier receives sync state transitions, typically to push them to
// connected dashboard clients.
type Notifier interface {
	NotifySync(state State, pending int)
}
