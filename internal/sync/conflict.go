package sync

import (
	"reflect"
	"sort"
	"time"

	"github.com/gridpoint-io/meterwms/internal/models"
)

// auditFields never participate in change detection or merging: id is
// identity, the timestamps are bookkeeping both sides rewrite freely.
var auditFields = map[string]bool{
	"id":         true,
	"created_at": true,
	"updated_at": true,
}

// DetectConflict classifies an update or delete operation against the
// current server copy. A nil return means the operation can replay
// cleanly. Checks run in precedence order: a vanished record beats a
// version skew, a version skew beats a domain violation.
func DetectConflict(op *models.PendingOperation, server models.Record) *models.Conflict {
	if op.Type == models.OpAdd {
		return nil
	}

	if server == nil {
		return newConflict(op, models.ConflictDelete, nil)
	}

	if op.BaseUpdatedAt != nil {
		if serverAt, ok := recordTime(server, "updated_at"); ok && serverAt.After(*op.BaseUpdatedAt) {
			return newConflict(op, models.ConflictVersion, server)
		}
	}

	if c := detectDataConflict(op, server); c != nil {
		return c
	}

	return nil
}

// detectDataConflict covers domain invariants that no timestamp can
// express. For meters: once a unit is sold or installed it left the
// warehouse, and an offline status change targeting anything else must
// go to a human instead of silently un-selling the unit.
func detectDataConflict(op *models.PendingOperation, server models.Record) *models.Conflict {
	if op.Kind != models.KindMeter || op.Type != models.OpUpdate {
		return nil
	}

	target, ok := op.Data["status"].(string)
	if !ok {
		return nil
	}
	current, _ := server["status"].(string)
	if models.ExclusiveStatus(models.MeterStatus(current)) && target != current {
		return newConflict(op, models.ConflictData, server)
	}
	return nil
}

func newConflict(op *models.PendingOperation, t models.ConflictType, server models.Record) *models.Conflict {
	// ClientData is the full record as the client intended it, not just
	// the patch, so a client-wins resolution can reconstruct it.
	client := op.Data.Clone()
	if op.Base != nil {
		client = op.Base.Clone()
		for k, v := range op.Data {
			client[k] = v
		}
	}
	return &models.Conflict{
		OperationID: op.ID,
		Kind:        op.Kind,
		EntityID:    op.EntityID,
		Type:        t,
		ClientData:  client,
		ServerData:  server.Clone(),
		CreatedAt:   time.Now().UTC(),
	}
}

// recordTime reads a timestamp field that may arrive as RFC 3339 text
// (the common case after JSON decoding) or as a time.Time.
func recordTime(rec models.Record, field string) (time.Time, bool) {
	switch v := rec[field].(type) {
	case time.Time:
		return v, true
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t, true
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ChangedFields returns the sorted set of fields whose values differ
// between two records, audit fields excluded. Comparison is shallow:
// nested values compare as whole units.
func ChangedFields(after, before models.Record) []string {
	seen := map[string]bool{}
	var fields []string

	check := func(k string) {
		if auditFields[k] || seen[k] {
			return
		}
		seen[k] = true
		if !reflect.DeepEqual(after[k], before[k]) {
			fields = append(fields, k)
		}
	}

	for k := range after {
		check(k)
	}
	for k := range before {
		check(k)
	}

	sort.Strings(fields)
	return fields
}

// patchChangedFields returns the fields a patch actually changes
// relative to the record it was based on. Fields absent from the patch
// are not client changes even if the base carries them.
func patchChangedFields(patch, base models.Record) []string {
	var fields []string
	for k, v := range patch {
		if auditFields[k] {
			continue
		}
		if !reflect.DeepEqual(base[k], v) {
			fields = append(fields, k)
		}
	}
	sort.Strings(fields)
	return fields
}

// disjoint reports whether two sorted field sets share no element.
func disjoint(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, k := range a {
		set[k] = true
	}
	for _, k := range b {
		if set[k] {
			return false
		}
	}
	return true
}

// AutoResolve picks the automatic strategy for a detected conflict.
// ResolveManual means no safe automatic answer exists and the conflict
// must wait for a human.
func AutoResolve(op *models.PendingOperation, c *models.Conflict) models.ResolutionStrategy {
	switch c.Type {
	case models.ConflictDelete:
		// The record is gone remotely; resurrecting it from a stale
		// client copy is never safe.
		return models.ResolveServer
	case models.ConflictVersion:
		clientChanged := patchChangedFields(op.Data, op.Base)
		serverChanged := ChangedFields(c.ServerData, op.Base)
		if disjoint(clientChanged, serverChanged) {
			return models.ResolveMerge
		}
		return models.ResolveManual
	default:
		return models.ResolveManual
	}
}

// MergeRecords builds the merge result: the server copy with every
// field the client changed overlaid on top. Identity and creation
// fields always come from the server side.
func MergeRecords(client, server models.Record) models.Record {
	out := server.Clone()
	if out == nil {
		out = models.Record{}
	}
	for k, v := range client {
		if k == "id" || k == "created_at" {
			continue
		}
		if !reflect.DeepEqual(server[k], v) {
			out[k] = v
		}
	}
	return out
}

// Resolve marks a conflict terminal under the given strategy. Merge and
// manual require the caller to supply the final payload; server and
// client derive it from the conflict itself. Resolving twice fails.
func Resolve(c *models.Conflict, strategy models.ResolutionStrategy, resolvedData models.Record) error {
	if c.Resolved {
		return ErrConflictResolved
	}

	switch strategy {
	case models.ResolveServer:
		c.ResolvedData = c.ServerData.Clone()
	case models.ResolveClient:
		c.ResolvedData = c.ClientData.Clone()
	case models.ResolveMerge, models.ResolveManual:
		if resolvedData == nil {
			return ErrResolvedDataRequired
		}
		c.ResolvedData = resolvedData.Clone()
	default:
		return ErrUnknownStrategy
	}

	now := time.Now().UTC()
	c.Resolved = true
	c.Resolution = strategy
	c.ResolvedAt = &now
	return nil
}
