package sync

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/gridpoint-io/meterwms/internal/models"
)

func updateOp(kind models.EntityKind, id string, data, base models.Record, baseAt time.Time) *models.PendingOperation {
	return &models.PendingOperation{
		ID:            "op-1",
		Kind:          kind,
		Type:          models.OpUpdate,
		EntityID:      id,
		Data:          data,
		Base:          base,
		BaseUpdatedAt: &baseAt,
	}
}

func TestDetectConflictAddNeverConflicts(t *testing.T) {
	op := &models.PendingOperation{Kind: models.KindProduct, Type: models.OpAdd, EntityID: "tmp-1"}
	if c := DetectConflict(op, nil); c != nil {
		t.Errorf("add against missing record should not conflict, got %v", c.Type)
	}
}

func TestDetectConflictDeletedRecord(t *testing.T) {
	op := updateOp(models.KindProduct, "p1", models.Record{"name": "X"}, models.Record{"name": "Y"}, time.Now())
	c := DetectConflict(op, nil)
	if c == nil || c.Type != models.ConflictDelete {
		t.Fatalf("expected delete conflict, got %+v", c)
	}
	if c.ServerData != nil {
		t.Error("delete conflict should carry no server data")
	}
}

func TestDetectConflictVersionSkew(t *testing.T) {
	base := time.Now().Add(-time.Hour)
	server := models.Record{
		"id":         "p1",
		"name":       "Meter X",
		"updated_at": time.Now().Format(time.RFC3339Nano),
	}
	op := updateOp(models.KindProduct, "p1", models.Record{"name": "Meter Y"}, models.Record{"name": "Meter X"}, base)

	c := DetectConflict(op, server)
	if c == nil || c.Type != models.ConflictVersion {
		t.Fatalf("expected version conflict, got %+v", c)
	}
}

func TestDetectConflictNoSkewWhenServerOlder(t *testing.T) {
	base := time.Now()
	server := models.Record{
		"id":         "p1",
		"updated_at": base.Add(-time.Hour).Format(time.RFC3339Nano),
	}
	op := updateOp(models.KindProduct, "p1", models.Record{"name": "Y"}, models.Record{"name": "X"}, base)

	if c := DetectConflict(op, server); c != nil {
		t.Errorf("expected clean replay, got %v conflict", c.Type)
	}
}

func TestDetectConflictSoldMeter(t *testing.T) {
	base := time.Now()
	server := models.Record{
		"id":         "m1",
		"status":     "sold",
		"updated_at": base.Add(-time.Minute).Format(time.RFC3339Nano),
	}
	op := updateOp(models.KindMeter, "m1",
		models.Record{"status": "allocated"},
		models.Record{"status": "in-stock"}, base)

	c := DetectConflict(op, server)
	if c == nil || c.Type != models.ConflictData {
		t.Fatalf("expected data conflict on sold meter, got %+v", c)
	}
	if AutoResolve(op, c) != models.ResolveManual {
		t.Error("data conflicts must always go to manual resolution")
	}
}

func TestDetectConflictAllowsNormalTransition(t *testing.T) {
	base := time.Now()
	server := models.Record{
		"id":         "m1",
		"status":     "in-stock",
		"updated_at": base.Add(-time.Minute).Format(time.RFC3339Nano),
	}
	op := updateOp(models.KindMeter, "m1",
		models.Record{"status": "allocated"},
		models.Record{"status": "in-stock"}, base)

	if c := DetectConflict(op, server); c != nil {
		t.Errorf("normal transition should replay cleanly, got %v", c.Type)
	}
}

func TestChangedFieldsSkipsAuditColumns(t *testing.T) {
	after := models.Record{"id": "x", "name": "B", "price": 5.0, "updated_at": "now"}
	before := models.Record{"id": "y", "name": "A", "price": 5.0, "updated_at": "then"}

	got := ChangedFields(after, before)
	if !reflect.DeepEqual(got, []string{"name"}) {
		t.Errorf("expected [name], got %v", got)
	}
}

func TestChangedFieldsIncludesRemovedKeys(t *testing.T) {
	after := models.Record{"name": "A"}
	before := models.Record{"name": "A", "notes": "old"}

	got := ChangedFields(after, before)
	if !reflect.DeepEqual(got, []string{"notes"}) {
		t.Errorf("expected [notes], got %v", got)
	}
}

func TestAutoResolveDisjointEditsMerge(t *testing.T) {
	base := models.Record{"id": "p1", "name": "A", "stock_quantity": float64(10)}
	server := models.Record{"id": "p1", "name": "A", "stock_quantity": float64(7), "updated_at": time.Now().Format(time.RFC3339Nano)}
	op := updateOp(models.KindProduct, "p1", models.Record{"name": "B"}, base, time.Now().Add(-time.Hour))

	c := DetectConflict(op, server)
	if c == nil || c.Type != models.ConflictVersion {
		t.Fatalf("expected version conflict, got %+v", c)
	}
	if got := AutoResolve(op, c); got != models.ResolveMerge {
		t.Fatalf("disjoint edits should merge, got %v", got)
	}

	merged := MergeRecords(op.Data, server)
	if merged["name"] != "B" {
		t.Errorf("client change lost in merge: %v", merged["name"])
	}
	if merged["stock_quantity"] != float64(7) {
		t.Errorf("server change lost in merge: %v", merged["stock_quantity"])
	}
	if merged["id"] != "p1" {
		t.Errorf("merge must keep server identity, got %v", merged["id"])
	}
}

func TestAutoResolveOverlappingEditsManual(t *testing.T) {
	base := models.Record{"id": "p1", "stock_quantity": float64(10)}
	server := models.Record{"id": "p1", "stock_quantity": float64(7), "updated_at": time.Now().Format(time.RFC3339Nano)}
	op := updateOp(models.KindProduct, "p1", models.Record{"stock_quantity": float64(12)}, base, time.Now().Add(-time.Hour))

	c := DetectConflict(op, server)
	if c == nil {
		t.Fatal("expected a conflict")
	}
	if got := AutoResolve(op, c); got != models.ResolveManual {
		t.Errorf("overlapping edits must be manual, got %v", got)
	}
}

func TestMergeSkipsIdentityFields(t *testing.T) {
	client := models.Record{"id": "tmp-1", "created_at": "yesterday", "notes": "client"}
	server := models.Record{"id": "srv-1", "created_at": "long ago", "notes": "server"}

	merged := MergeRecords(client, server)
	if merged["id"] != "srv-1" || merged["created_at"] != "long ago" {
		t.Errorf("identity fields must come from server: %v", merged)
	}
	if merged["notes"] != "client" {
		t.Errorf("changed field should come from client: %v", merged["notes"])
	}
}

func TestResolveStrategies(t *testing.T) {
	newConflict := func() *models.Conflict {
		return &models.Conflict{
			Type:       models.ConflictVersion,
			ClientData: models.Record{"name": "client"},
			ServerData: models.Record{"name": "server"},
		}
	}

	c := newConflict()
	if err := Resolve(c, models.ResolveServer, nil); err != nil {
		t.Fatalf("server resolution failed: %v", err)
	}
	if !c.Resolved || c.ResolvedData["name"] != "server" || c.ResolvedAt == nil {
		t.Errorf("server resolution wrong: %+v", c)
	}

	c = newConflict()
	if err := Resolve(c, models.ResolveClient, nil); err != nil {
		t.Fatalf("client resolution failed: %v", err)
	}
	if c.ResolvedData["name"] != "client" {
		t.Errorf("client resolution wrong: %+v", c)
	}

	c = newConflict()
	if err := Resolve(c, models.ResolveManual, nil); !errors.Is(err, ErrResolvedDataRequired) {
		t.Errorf("manual without data should fail, got %v", err)
	}
	if err := Resolve(c, models.ResolveManual, models.Record{"name": "human"}); err != nil {
		t.Fatalf("manual with data failed: %v", err)
	}
	if c.ResolvedData["name"] != "human" {
		t.Errorf("manual resolution wrong: %+v", c)
	}

	c = newConflict()
	if err := Resolve(c, "nonsense", nil); !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("expected ErrUnknownStrategy, got %v", err)
	}
}

func TestResolveIsTerminal(t *testing.T) {
	c := &models.Conflict{
		Type:       models.ConflictVersion,
		ServerData: models.Record{"name": "server"},
	}
	if err := Resolve(c, models.ResolveServer, nil); err != nil {
		t.Fatalf("first resolution failed: %v", err)
	}
	if err := Resolve(c, models.ResolveClient, nil); !errors.Is(err, ErrConflictResolved) {
		t.Errorf("re-resolution should be rejected, got %v", err)
	}
	if c.Resolution != models.ResolveServer {
		t.Errorf("resolution must stay terminal, got %v", c.Resolution)
	}
}
