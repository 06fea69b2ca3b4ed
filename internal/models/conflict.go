package models

import "time"

// ConflictType classifies a divergence between a queued operation and
// current remote state.
type ConflictType string

const (
	// ConflictDelete: the record vanished server-side.
	ConflictDelete ConflictType = "delete"
	// ConflictVersion: the server record was modified after the basis
	// the client operation was made against.
	ConflictVersion ConflictType = "version"
	// ConflictData: a domain invariant would be violated, e.g. a meter
	// already marked sold.
	ConflictData ConflictType = "data"
)

// ResolutionStrategy is how a conflict was (or should be) settled.
type ResolutionStrategy string

const (
	ResolveServer ResolutionStrategy = "server"
	ResolveClient ResolutionStrategy = "client"
	ResolveMerge  ResolutionStrategy = "merge"
	ResolveManual ResolutionStrategy = "manual"
)

// Conflict records a detected divergence between a pending local
// operation and the corresponding remote record. Once Resolved is set
// the record is terminal; re-resolution is rejected.
type Conflict struct {
	ID           string             `json:"id"`
	OperationID  string             `json:"operation_id"`
	Kind         EntityKind         `json:"entity"`
	EntityID     string             `json:"entity_id"`
	Type         ConflictType       `json:"type"`
	ClientData   Record             `json:"client_data"`
	ServerData   Record             `json:"server_data,omitempty"`
	Resolved     bool               `json:"resolved"`
	Resolution   ResolutionStrategy `json:"resolution,omitempty"`
	ResolvedData Record             `json:"resolved_data,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	ResolvedAt   *time.Time         `json:"resolved_at,omitempty"`
}
