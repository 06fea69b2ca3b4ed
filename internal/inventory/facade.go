package inventory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gridpoint-io/meterwms/internal/models"
	"github.com/gridpoint-io/meterwms/internal/remote"
	"github.com/gridpoint-io/meterwms/internal/store"
	"github.com/gridpoint-io/meterwms/internal/sync"
	"github.com/gridpoint-io/meterwms/internal/utils"
)

var (
	// ErrNotFound is returned when a record is absent from the local
	// cache.
	ErrNotFound = errors.New("inventory: record not found")

	// ErrInvalidTransition is returned for a meter status change the
	// lifecycle does not allow.
	ErrInvalidTransition = errors.New("inventory: invalid meter status transition")

	// ErrMeterUnavailable is returned when a sale references a meter
	// that is already sold or installed.
	ErrMeterUnavailable = errors.New("inventory: meter is not available for sale")
)

// Facade is the single entry point the dashboard talks to. Every write
// lands in the local store immediately; when the remote service is
// reachable it is applied there too, otherwise it is queued for the
// sync engine. Reads always come from the local cache.
type Facade struct {
	store   *store.Store
	remote  remote.Store
	monitor *sync.Monitor
	engine  *sync.Engine
}

// NewFacade wires the facade to its collaborators. All four are
// required.
func NewFacade(st *store.Store, rs remote.Store, monitor *sync.Monitor, engine *sync.Engine) *Facade {
	return &Facade{store: st, remote: rs, monitor: monitor, engine: engine}
}

func (f *Facade) online() bool {
	return f.monitor.Online()
}

// --- creation ---

// AddProduct creates a catalog product, remotely when possible,
// otherwise optimistically under a temp id.
func (f *Facade) AddProduct(ctx context.Context, p models.Product) (models.Record, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("inventory: product name is required")
	}
	rec, err := models.ToRecord(p)
	if err != nil {
		return nil, err
	}
	return f.addEntity(ctx, models.KindProduct, rec)
}

// AddMeter registers a physical meter. Status defaults to in-stock.
func (f *Facade) AddMeter(ctx context.Context, m models.Meter) (models.Record, error) {
	if m.SerialNumber == "" {
		return nil, fmt.Errorf("inventory: meter serial number is required")
	}
	if m.Status == "" {
		m.Status = models.MeterInStock
	}
	rec, err := models.ToRecord(m)
	if err != nil {
		return nil, err
	}
	return f.addEntity(ctx, models.KindMeter, rec)
}

// AddCustomer registers an end customer.
func (f *Facade) AddCustomer(ctx context.Context, c models.Customer) (models.Record, error) {
	if c.Name == "" {
		return nil, fmt.Errorf("inventory: customer name is required")
	}
	rec, err := models.ToRecord(c)
	if err != nil {
		return nil, err
	}
	return f.addEntity(ctx, models.KindCustomer, rec)
}

func (f *Facade) addEntity(ctx context.Context, kind models.EntityKind, rec models.Record) (models.Record, error) {
	// Online failures propagate; the online path assumes an error is a
	// real rejection, not a connectivity problem.
	if f.online() {
		payload := rec.Clone()
		delete(payload, "id")
		created, err := f.remote.Insert(ctx, kind.Collection(), payload)
		if err != nil {
			return nil, err
		}
		if err := f.patchSnapshot(kind, created); err != nil {
			return nil, err
		}
		return created, nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	rec = rec.Clone()
	rec["id"] = utils.NewTempID()
	rec["created_at"] = now
	rec["updated_at"] = now

	if err := f.patchSnapshot(kind, rec); err != nil {
		return nil, err
	}
	op := &models.PendingOperation{
		Kind:     kind,
		Type:     models.OpAdd,
		EntityID: rec.ID(),
		Data:     rec.Clone(),
	}
	if err := f.store.AppendPending(op); err != nil {
		return nil, err
	}
	return rec, nil
}

// --- updates ---

// UpdateProductStock sets a product's stock quantity.
func (f *Facade) UpdateProductStock(ctx context.Context, id string, quantity int) (models.Record, error) {
	return f.UpdateEntity(ctx, models.KindProduct, id, models.Record{"stock_quantity": quantity})
}

// UpdateMeterStatus moves a meter through its lifecycle, enforcing the
// allowed transitions locally. Concurrent transitions elsewhere are the
// conflict detector's problem, not this method's.
func (f *Facade) UpdateMeterStatus(ctx context.Context, id string, to models.MeterStatus) (models.Record, error) {
	current, err := f.Entity(models.KindMeter, id)
	if err != nil {
		return nil, err
	}
	from, _ := current["status"].(string)
	if !models.CanTransition(models.MeterStatus(from), to) {
		return nil, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
	}
	return f.UpdateEntity(ctx, models.KindMeter, id, models.Record{"status": string(to)})
}

// UpdateEntity applies a field patch to a cached record. The snapshot
// the edit was made against rides along on the queued operation as the
// basis for later conflict decisions.
func (f *Facade) UpdateEntity(ctx context.Context, kind models.EntityKind, id string, patch models.Record) (models.Record, error) {
	base, err := f.Entity(kind, id)
	if err != nil {
		return nil, err
	}

	if f.online() {
		updated, err := f.remote.Update(ctx, kind.Collection(), id, patch)
		if err != nil {
			return nil, err
		}
		if err := f.patchSnapshot(kind, updated); err != nil {
			return nil, err
		}
		return updated, nil
	}

	local := base.Clone()
	for k, v := range patch {
		local[k] = v
	}
	local["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	if err := f.patchSnapshot(kind, local); err != nil {
		return nil, err
	}

	op := &models.PendingOperation{
		Kind:     kind,
		Type:     models.OpUpdate,
		EntityID: id,
		Data:     patch.Clone(),
		Base:     base.Clone(),
	}
	if t, ok := recordUpdatedAt(base); ok {
		op.BaseUpdatedAt = &t
	}
	if err := f.store.AppendPending(op); err != nil {
		return nil, err
	}
	return local, nil
}

// DeleteEntity removes a record, locally always, remotely when
// possible.
func (f *Facade) DeleteEntity(ctx context.Context, kind models.EntityKind, id string) error {
	base, err := f.Entity(kind, id)
	if err != nil {
		return err
	}

	if f.online() {
		err := f.remote.Delete(ctx, kind.Collection(), id)
		if err != nil && err != remote.ErrNotFound {
			return err
		}
		return f.removeFromSnapshot(kind, id)
	}

	if err := f.removeFromSnapshot(kind, id); err != nil {
		return err
	}
	op := &models.PendingOperation{
		Kind:     kind,
		Type:     models.OpDelete,
		EntityID: id,
		Base:     base.Clone(),
	}
	if t, ok := recordUpdatedAt(base); ok {
		op.BaseUpdatedAt = &t
	}
	return f.store.AppendPending(op)
}

// --- sales ---

// RecordSale books a sale of one or more meters. Online, each meter is
// verified against the server before anything is written, so a unit
// sold elsewhere is rejected up front. Offline, the whole composite is
// applied optimistically and queued as a single operation; the sync
// engine re-checks every meter during replay.
func (f *Facade) RecordSale(ctx context.Context, sale models.Sale) (models.Record, error) {
	if len(sale.MeterIDs) == 0 && len(sale.Items) == 0 {
		return nil, fmt.Errorf("inventory: sale needs at least one item or meter")
	}
	if sale.SoldAt.IsZero() {
		sale.SoldAt = time.Now().UTC()
	}

	if f.online() {
		return f.recordSaleOnline(ctx, sale)
	}
	return f.recordSaleOffline(sale)
}

func (f *Facade) recordSaleOnline(ctx context.Context, sale models.Sale) (models.Record, error) {
	// Verify availability first so a double-sale is caught before any
	// partial write.
	for _, meterID := range sale.MeterIDs {
		m, err := f.remote.Get(ctx, models.KindMeter.Collection(), meterID)
		if err != nil {
			return nil, fmt.Errorf("failed to check meter %s: %w", meterID, err)
		}
		status, _ := m["status"].(string)
		if models.ExclusiveStatus(models.MeterStatus(status)) {
			return nil, fmt.Errorf("%w: %s is %s", ErrMeterUnavailable, meterID, status)
		}
	}

	items := sale.Items
	sale.Items = nil
	rec, err := models.ToRecord(sale)
	if err != nil {
		return nil, err
	}
	delete(rec, "id")

	created, err := f.remote.Insert(ctx, models.KindSale.Collection(), rec)
	if err != nil {
		return nil, err
	}
	saleID := created.ID()
	if err := f.patchSnapshot(models.KindSale, created); err != nil {
		return nil, err
	}

	for _, item := range items {
		item.SaleID = saleID
		itemRec, rerr := models.ToRecord(item)
		if rerr != nil {
			return nil, rerr
		}
		delete(itemRec, "id")
		if _, rerr = f.remote.Insert(ctx, "sales_items", itemRec); rerr != nil {
			log.Printf("⚠️ Failed to push line item for sale %s: %v", saleID, rerr)
		}
	}

	for _, meterID := range sale.MeterIDs {
		updated, rerr := f.remote.Update(ctx, models.KindMeter.Collection(), meterID,
			models.Record{"status": string(models.MeterSold)})
		if rerr != nil {
			log.Printf("⚠️ Failed to mark meter %s sold: %v", meterID, rerr)
			continue
		}
		if serr := f.patchSnapshot(models.KindMeter, updated); serr != nil {
			return nil, serr
		}
	}

	return created, nil
}

func (f *Facade) recordSaleOffline(sale models.Sale) (models.Record, error) {
	// Check availability against the local cache; the replay re-checks
	// against the server.
	for _, meterID := range sale.MeterIDs {
		m, err := f.Entity(models.KindMeter, meterID)
		if err != nil {
			return nil, err
		}
		status, _ := m["status"].(string)
		if models.ExclusiveStatus(models.MeterStatus(status)) {
			return nil, fmt.Errorf("%w: %s is %s", ErrMeterUnavailable, meterID, status)
		}
	}

	now := time.Now().UTC()
	sale.ID = utils.NewTempID()
	sale.CreatedAt = now
	sale.UpdatedAt = now
	for i := range sale.Items {
		sale.Items[i].ID = utils.NewTempID()
		sale.Items[i].SaleID = sale.ID
	}

	rec, err := models.ToRecord(sale)
	if err != nil {
		return nil, err
	}
	if err := f.patchSnapshot(models.KindSale, rec); err != nil {
		return nil, err
	}

	for _, meterID := range sale.MeterIDs {
		m, err := f.Entity(models.KindMeter, meterID)
		if err != nil {
			return nil, err
		}
		m = m.Clone()
		m["status"] = string(models.MeterSold)
		m["updated_at"] = now.Format(time.RFC3339Nano)
		if err := f.patchSnapshot(models.KindMeter, m); err != nil {
			return nil, err
		}
	}

	op := &models.PendingOperation{
		Kind:     models.KindSale,
		Type:     models.OpAdd,
		EntityID: sale.ID,
		Data:     rec.Clone(),
	}
	if err := f.store.AppendPending(op); err != nil {
		return nil, err
	}
	return rec, nil
}

// --- reads ---

// Products returns the cached product catalog.
func (f *Facade) Products() ([]models.Record, error) {
	return f.store.GetEntities(models.KindProduct)
}

// Meters returns the cached meter list.
func (f *Facade) Meters() ([]models.Record, error) {
	return f.store.GetEntities(models.KindMeter)
}

// Customers returns the cached customer list.
func (f *Facade) Customers() ([]models.Record, error) {
	return f.store.GetEntities(models.KindCustomer)
}

// Sales returns the cached sales transactions.
func (f *Facade) Sales() ([]models.Record, error) {
	return f.store.GetEntities(models.KindSale)
}

// Entity finds one cached record by kind and id.
func (f *Facade) Entity(kind models.EntityKind, id string) (models.Record, error) {
	records, err := f.store.GetEntities(kind)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.ID() == id {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
}

// --- sync control ---

// RefreshData replaces every local snapshot with fresh server state.
// Pending operations and conflicts are left untouched.
func (f *Facade) RefreshData(ctx context.Context) error {
	for _, kind := range models.Kinds {
		records, err := f.remote.List(ctx, kind.Collection(), nil)
		if err != nil {
			return fmt.Errorf("failed to refresh %s: %w", kind, err)
		}
		if err := f.store.SaveEntities(kind, records); err != nil {
			return err
		}
	}
	log.Printf("✅ Local snapshots refreshed from remote")
	return nil
}

// SyncData drains the pending queue once.
func (f *Facade) SyncData(ctx context.Context) (*sync.SyncResult, error) {
	return f.engine.SyncPending(ctx)
}

// SyncState reports the outcome of the latest sync pass.
func (f *Facade) SyncState() sync.State {
	return f.engine.State()
}

// CheckConnection probes the remote service.
func (f *Facade) CheckConnection(ctx context.Context) sync.ConnStatus {
	return f.monitor.Check(ctx)
}

// ConnectionStatus returns the last known connectivity state.
func (f *Facade) ConnectionStatus() sync.ConnStatus {
	return f.monitor.Status()
}

// PendingCount returns the number of queued operations.
func (f *Facade) PendingCount() (int, error) {
	return f.store.PendingCount()
}

// PendingOperations lists the queue in replay order.
func (f *Facade) PendingOperations() ([]models.PendingOperation, error) {
	return f.store.ListPending()
}

// LastSyncTime returns when the last sync pass completed, or nil.
func (f *Facade) LastSyncTime() (*time.Time, error) {
	return f.store.LastSyncTime()
}

// Conflicts lists recorded conflicts, optionally unresolved only.
func (f *Facade) Conflicts(unresolvedOnly bool) ([]models.Conflict, error) {
	return f.store.ListConflicts(unresolvedOnly)
}

// ResolveConflict settles a conflict with an explicit strategy.
func (f *Facade) ResolveConflict(ctx context.Context, conflictID string, strategy models.ResolutionStrategy, resolvedData models.Record) (*models.Conflict, error) {
	return f.engine.ApplyResolution(ctx, conflictID, strategy, resolvedData)
}

// ClearAllData wipes the local cache, queue and conflict log. Running
// it twice is harmless.
func (f *Facade) ClearAllData() error {
	log.Printf("🛑 Clearing all local data")
	return f.store.ClearAll()
}

// --- snapshot helpers ---

func (f *Facade) patchSnapshot(kind models.EntityKind, rec models.Record) error {
	records, err := f.store.GetEntities(kind)
	if err != nil {
		return err
	}
	replaced := false
	for i, existing := range records {
		if existing.ID() == rec.ID() {
			records[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		records = append(records, rec)
	}
	return f.store.SaveEntities(kind, records)
}

func (f *Facade) removeFromSnapshot(kind models.EntityKind, id string) error {
	records, err := f.store.GetEntities(kind)
	if err != nil {
		return err
	}
	out := records[:0]
	for _, rec := range records {
		if rec.ID() != id {
			out = append(out, rec)
		}
	}
	return f.store.SaveEntities(kind, out)
}

func recordUpdatedAt(rec models.Record) (time.Time, bool) {
	switch v := rec["updated_at"].(type) {
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
