package store

import (
	"testing"
	"time"

	"github.com/gridpoint-io/meterwms/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSnapshotRoundTrip(t *testing.T) {
	st := openTestStore(t)

	records, err := st.GetEntities(models.KindMeter)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty snapshot, got %d records", len(records))
	}

	saved := []models.Record{
		{"id": "m1", "serial_number": "SN-001", "status": "in-stock"},
		{"id": "m2", "serial_number": "SN-002", "status": "allocated"},
	}
	if err := st.SaveEntities(models.KindMeter, saved); err != nil {
		t.Fatalf("failed to save snapshot: %v", err)
	}

	records, err = st.GetEntities(models.KindMeter)
	if err != nil {
		t.Fatalf("failed to read snapshot: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].ID() != "m1" || records[1].ID() != "m2" {
		t.Errorf("record order or ids wrong: %v", records)
	}
}

func TestPendingQueuePreservesOrder(t *testing.T) {
	st := openTestStore(t)

	for i, id := range []string{"e1", "e2", "e3"} {
		op := &models.PendingOperation{
			Kind:      models.KindProduct,
			Type:      models.OpUpdate,
			EntityID:  id,
			Data:      models.Record{"stock_quantity": i},
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Millisecond),
		}
		if err := st.AppendPending(op); err != nil {
			t.Fatalf("failed to enqueue: %v", err)
		}
		if op.ID == "" {
			t.Fatal("expected id to be assigned")
		}
	}

	ops, err := st.ListPending()
	if err != nil {
		t.Fatalf("failed to list queue: %v", err)
	}
	if len(ops) != 3 {
		t.Fatalf("expected 3 operations, got %d", len(ops))
	}
	for i, want := range []string{"e1", "e2", "e3"} {
		if ops[i].EntityID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, ops[i].EntityID)
		}
	}

	n, err := st.PendingCount()
	if err != nil || n != 3 {
		t.Fatalf("expected count 3, got %d (%v)", n, err)
	}

	if err := st.RemovePending(ops[1].ID); err != nil {
		t.Fatalf("failed to remove: %v", err)
	}
	ops, _ = st.ListPending()
	if len(ops) != 2 || ops[0].EntityID != "e1" || ops[1].EntityID != "e3" {
		t.Errorf("queue after removal wrong: %v", ops)
	}
}

func TestUpdatePendingKeepsPosition(t *testing.T) {
	st := openTestStore(t)

	first := &models.PendingOperation{Kind: models.KindMeter, Type: models.OpAdd, EntityID: "tmp-1", Data: models.Record{"id": "tmp-1"}}
	second := &models.PendingOperation{Kind: models.KindMeter, Type: models.OpUpdate, EntityID: "tmp-1", Data: models.Record{"status": "allocated"}}
	if err := st.AppendPending(first); err != nil {
		t.Fatal(err)
	}
	if err := st.AppendPending(second); err != nil {
		t.Fatal(err)
	}

	second.EntityID = "srv-9"
	if err := st.UpdatePending(second); err != nil {
		t.Fatalf("failed to update: %v", err)
	}

	ops, _ := st.ListPending()
	if len(ops) != 2 {
		t.Fatalf("expected 2 operations, got %d", len(ops))
	}
	if ops[1].EntityID != "srv-9" {
		t.Errorf("expected rewritten entity id, got %s", ops[1].EntityID)
	}
	if ops[0].EntityID != "tmp-1" {
		t.Errorf("first operation should be untouched, got %s", ops[0].EntityID)
	}
}

func TestConflictPersistence(t *testing.T) {
	st := openTestStore(t)

	c := &models.Conflict{
		OperationID: "op-1",
		Kind:        models.KindMeter,
		EntityID:    "m1",
		Type:        models.ConflictVersion,
		ClientData:  models.Record{"status": "allocated"},
		ServerData:  models.Record{"status": "faulty"},
	}
	if err := st.SaveConflict(c); err != nil {
		t.Fatalf("failed to save conflict: %v", err)
	}
	if c.ID == "" {
		t.Fatal("expected conflict id to be assigned")
	}

	got, err := st.GetConflict(c.ID)
	if err != nil {
		t.Fatalf("failed to read conflict: %v", err)
	}
	if got == nil || got.EntityID != "m1" || got.Type != models.ConflictVersion {
		t.Fatalf("conflict round trip wrong: %+v", got)
	}

	unresolved, err := st.ListConflicts(true)
	if err != nil || len(unresolved) != 1 {
		t.Fatalf("expected 1 unresolved conflict, got %d (%v)", len(unresolved), err)
	}

	now := time.Now().UTC()
	c.Resolved = true
	c.Resolution = models.ResolveServer
	c.ResolvedAt = &now
	if err := st.SaveConflict(c); err != nil {
		t.Fatalf("failed to update conflict: %v", err)
	}

	unresolved, _ = st.ListConflicts(true)
	if len(unresolved) != 0 {
		t.Errorf("expected no unresolved conflicts, got %d", len(unresolved))
	}
	all, _ := st.ListConflicts(false)
	if len(all) != 1 {
		t.Errorf("expected 1 conflict total, got %d", len(all))
	}

	forEntity, _ := st.ConflictsForEntity(models.KindMeter, "m1")
	if len(forEntity) != 1 {
		t.Errorf("expected 1 conflict for entity, got %d", len(forEntity))
	}

	missing, err := st.GetConflict("nope")
	if err != nil || missing != nil {
		t.Errorf("unknown conflict should yield nil, nil; got %v, %v", missing, err)
	}
}

func TestFindUnresolvedConflict(t *testing.T) {
	st := openTestStore(t)

	c := &models.Conflict{
		OperationID: "op-1",
		Kind:        models.KindProduct,
		EntityID:    "p1",
		Type:        models.ConflictVersion,
	}
	if err := st.SaveConflict(c); err != nil {
		t.Fatalf("failed to save conflict: %v", err)
	}

	got, err := st.FindUnresolvedConflict("op-1", "p1")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if got == nil || got.ID != c.ID {
		t.Fatalf("expected the saved conflict, got %+v", got)
	}

	if got, _ := st.FindUnresolvedConflict("op-2", "p1"); got != nil {
		t.Errorf("unknown operation should yield nil, got %+v", got)
	}
	if got, _ := st.FindUnresolvedConflict("op-1", "p2"); got != nil {
		t.Errorf("other entity should yield nil, got %+v", got)
	}
	if got, _ := st.FindUnresolvedConflict("", "p1"); got != nil {
		t.Errorf("empty operation id should yield nil, got %+v", got)
	}

	c.Resolved = true
	c.Resolution = models.ResolveServer
	if err := st.SaveConflict(c); err != nil {
		t.Fatalf("failed to update conflict: %v", err)
	}
	if got, _ := st.FindUnresolvedConflict("op-1", "p1"); got != nil {
		t.Errorf("resolved conflict should not be found, got %+v", got)
	}
}

func TestLastSyncTime(t *testing.T) {
	st := openTestStore(t)

	got, err := st.LastSyncTime()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil before first sync, got %v", got)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	if err := st.SetLastSyncTime(now); err != nil {
		t.Fatalf("failed to set: %v", err)
	}

	got, err = st.LastSyncTime()
	if err != nil || got == nil {
		t.Fatalf("failed to read back: %v", err)
	}
	if !got.Equal(now) {
		t.Errorf("expected %v, got %v", now, got)
	}
}

func TestClearAllIsIdempotent(t *testing.T) {
	st := openTestStore(t)

	st.SaveEntities(models.KindProduct, []models.Record{{"id": "p1"}})
	st.AppendPending(&models.PendingOperation{Kind: models.KindProduct, Type: models.OpDelete, EntityID: "p1"})
	st.SaveConflict(&models.Conflict{Kind: models.KindProduct, EntityID: "p1", Type: models.ConflictDelete})
	st.SetLastSyncTime(time.Now())

	for i := 0; i < 2; i++ {
		if err := st.ClearAll(); err != nil {
			t.Fatalf("clear attempt %d failed: %v", i+1, err)
		}
	}

	records, _ := st.GetEntities(models.KindProduct)
	if len(records) != 0 {
		t.Errorf("expected empty snapshot, got %d", len(records))
	}
	n, _ := st.PendingCount()
	if n != 0 {
		t.Errorf("expected empty queue, got %d", n)
	}
	conflicts, _ := st.ListConflicts(false)
	if len(conflicts) != 0 {
		t.Errorf("expected no conflicts, got %d", len(conflicts))
	}
	last, _ := st.LastSyncTime()
	if last != nil {
		t.Errorf("expected nil last sync, got %v", last)
	}
}
