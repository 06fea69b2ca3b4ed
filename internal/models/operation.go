package models

import "time"

// OperationType is the kind of mutation a pending operation carries.
type OperationType string

const (
	OpAdd    OperationType = "add"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
)

// PendingOperation is a locally queued mutation awaiting confirmation by
// the remote service. Data is kept in remote field naming so the engine
// can replay it verbatim. For updates, Base holds the snapshot the edit
// was made against; it is the basis for version and merge decisions.
type PendingOperation struct {
	ID            string        `json:"id"`
	Kind          EntityKind    `json:"entity"`
	Type          OperationType `json:"type"`
	EntityID      string        `json:"entity_id"`
	Data          Record        `json:"data"`
	Base          Record        `json:"base,omitempty"`
	BaseUpdatedAt *time.Time    `json:"base_updated_at,omitempty"`
	CreatedAt     time.Time     `json:"timestamp"`
}
