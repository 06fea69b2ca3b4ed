package sync

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/gridpoint-io/meterwms/internal/models"
	"github.com/gridpoint-io/meterwms/internal/remote"
	"github.com/gridpoint-io/meterwms/internal/store"
	"github.com/gridpoint-io/meterwms/internal/utils"
)

// EngineConfig tunes the synchronization engine.
type EngineConfig struct {
	// OpTimeout bounds each remote call made while replaying one
	// operation. Defaults to 15s.
	OpTimeout time.Duration
	// AutoSyncInterval between background drain attempts. Defaults to
	// 60s. The background loop only fires while the monitor reports
	// online.
	AutoSyncInterval time.Duration
}

// Engine drains the pending-operation queue against the remote service,
// oldest first, detecting and resolving conflicts along the way. One
// pass runs at a time; concurrent requests get ErrSyncInProgress.
type Engine struct {
	store    *store.Store
	remote   remote.Store
	monitor  *Monitor
	notifier Notifier

	opTimeout time.Duration
	interval  time.Duration

	mu      sync.Mutex
	state   State
	syncing bool

	running  bool
	stopChan chan struct{}
}

// NewEngine wires the engine to its local store, remote service and
// connectivity monitor. monitor may be nil, in which case the
// background loop attempts every tick unconditionally.
func NewEngine(st *store.Store, rs remote.Store, monitor *Monitor, cfg EngineConfig) *Engine {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 15 * time.Second
	}
	if cfg.AutoSyncInterval <= 0 {
		cfg.AutoSyncInterval = 60 * time.Second
	}

	return &Engine{
		store:     st,
		remote:    rs,
		monitor:   monitor,
		opTimeout: cfg.OpTimeout,
		interval:  cfg.AutoSyncInterval,
		state:     StateIdle,
	}
}

// SetNotifier registers a listener for state transitions.
func (e *Engine) SetNotifier(n Notifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifier = n
}

// State returns the outcome of the most recent pass.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	n := e.notifier
	e.mu.Unlock()

	if n != nil {
		pending, _ := e.store.PendingCount()
		n.NotifySync(s, pending)
	}
}

// syncPass carries the queue being drained so temp-id reconciliation
// can rewrite operations that have not replayed yet, and tracks which
// entities are stuck behind a failed operation.
type syncPass struct {
	ops     []*models.PendingOperation
	idx     int
	res     *SyncResult
	blocked map[string]bool
}

func (p *syncPass) fail(format string, args ...interface{}) {
	p.res.Failed++
	p.res.Errors = append(p.res.Errors, fmt.Sprintf(format, args...))
}

// opEntityKeys lists every entity an operation writes. A sale touches
// its own record plus each meter it flips.
func opEntityKeys(op *models.PendingOperation) []string {
	keys := []string{string(op.Kind) + "/" + op.EntityID}
	if op.Kind == models.KindSale && op.Type == models.OpAdd {
		for _, id := range stringSlice(op.Data["meter_ids"]) {
			keys = append(keys, string(models.KindMeter)+"/"+id)
		}
	}
	return keys
}

func (p *syncPass) block(op *models.PendingOperation) {
	if p.blocked == nil {
		p.blocked = map[string]bool{}
	}
	for _, k := range opEntityKeys(op) {
		p.blocked[k] = true
	}
}

func (p *syncPass) isBlocked(op *models.PendingOperation) bool {
	for _, k := range opEntityKeys(op) {
		if p.blocked[k] {
			return true
		}
	}
	return false
}

// SyncPending drains the queue once. Operations replay oldest first;
// an operation that fails or conflicts stays queued (or is settled by
// an automatic resolution) without blocking unrelated ones behind it.
// Operations on an entity whose earlier operation got stuck are held
// back so per-entity ordering survives the retry.
func (e *Engine) SyncPending(ctx context.Context) (*SyncResult, error) {
	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	e.syncing = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.syncing = false
		e.mu.Unlock()
	}()

	start := time.Now()
	res := &SyncResult{Timestamp: start.UTC()}

	queued, err := e.store.ListPending()
	if err != nil {
		e.setState(StateError)
		return nil, err
	}
	if len(queued) == 0 {
		if err := e.store.SetLastSyncTime(time.Now()); err != nil {
			log.Printf("⚠️ Failed to persist sync timestamp: %v", err)
		}
		e.setState(StateSuccess)
		return res, nil
	}

	e.setState(StateSyncing)
	log.Printf("🔄 Syncing %d pending operation(s)", len(queued))

	pass := &syncPass{res: res, ops: make([]*models.PendingOperation, len(queued))}
	for i := range queued {
		pass.ops[i] = &queued[i]
	}
	sort.SliceStable(pass.ops, func(i, j int) bool {
		return pass.ops[i].CreatedAt.Before(pass.ops[j].CreatedAt)
	})

	for pass.idx = 0; pass.idx < len(pass.ops); pass.idx++ {
		if ctx.Err() != nil {
			// Remaining operations stay queued for the next pass.
			break
		}
		op := pass.ops[pass.idx]
		if pass.isBlocked(op) {
			// Replaying past a stuck predecessor would reorder writes
			// on the entity; the whole chain waits for the next pass.
			pass.fail("skipping %s %s %s behind a stuck operation", op.Type, op.Kind, op.EntityID)
			continue
		}
		failedBefore := res.Failed
		e.processOp(ctx, pass)
		if res.Failed > failedBefore {
			pass.block(op)
		}
	}

	if err := e.store.SetLastSyncTime(time.Now()); err != nil {
		log.Printf("⚠️ Failed to persist sync timestamp: %v", err)
	}
	res.Duration = time.Since(start)

	switch {
	case len(res.Conflicts) > 0:
		e.setState(StateConflict)
	case res.Failed > 0:
		e.setState(StateError)
	default:
		e.setState(StateSuccess)
	}
	log.Printf("✅ Sync pass done: %d processed, %d failed, %d conflict(s) in %s",
		res.Processed, res.Failed, len(res.Conflicts), res.Duration.Round(time.Millisecond))

	return res, nil
}

func (e *Engine) processOp(ctx context.Context, pass *syncPass) {
	op := pass.ops[pass.idx]

	switch op.Type {
	case models.OpAdd:
		if op.Kind == models.KindSale {
			e.replaySale(ctx, pass, op)
			return
		}
		e.replayAdd(ctx, pass, op)
	case models.OpUpdate, models.OpDelete:
		e.replayMutation(ctx, pass, op)
	default:
		// A corrupt operation would otherwise be retried forever.
		pass.fail("dropping operation %s with unknown type %q", op.ID, op.Type)
		_ = e.store.RemovePending(op.ID)
	}
}

func (e *Engine) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.opTimeout)
}

// replayAdd pushes a locally created record. On success the server
// assigns the authoritative id, which is propagated through the local
// snapshot and every still-queued operation referencing the temp id.
func (e *Engine) replayAdd(ctx context.Context, pass *syncPass, op *models.PendingOperation) {
	rctx, cancel := e.callCtx(ctx)
	created, err := e.remote.Insert(rctx, op.Kind.Collection(), stripTempID(op.Data))
	cancel()
	if err != nil {
		pass.fail("failed to push new %s %s: %v", op.Kind, op.EntityID, err)
		return
	}

	if utils.IsTempID(op.EntityID) {
		e.reconcileTempID(pass, op.Kind, op.EntityID, created)
	} else {
		e.patchSnapshot(op.Kind, created)
	}

	if err := e.store.RemovePending(op.ID); err != nil {
		pass.fail("failed to dequeue operation %s: %v", op.ID, err)
		return
	}
	pass.res.Processed++
}

// replayMutation pushes an update or delete, running the conflict
// detector against the current server copy first.
func (e *Engine) replayMutation(ctx context.Context, pass *syncPass, op *models.PendingOperation) {
	rctx, cancel := e.callCtx(ctx)
	server, err := e.remote.Get(rctx, op.Kind.Collection(), op.EntityID)
	cancel()
	if err != nil && err != remote.ErrNotFound {
		pass.fail("failed to fetch %s %s: %v", op.Kind, op.EntityID, err)
		return
	}

	conflict := DetectConflict(op, server)
	if conflict == nil {
		e.applyClean(ctx, pass, op)
		return
	}

	strategy := AutoResolve(op, conflict)
	if strategy == models.ResolveManual {
		if err := e.saveDetected(conflict); err != nil {
			pass.fail("failed to record conflict for %s %s: %v", op.Kind, op.EntityID, err)
			return
		}
		pass.res.Conflicts = append(pass.res.Conflicts, *conflict)
		pass.res.Failed++
		log.Printf("⚠️ %s conflict on %s %s needs manual resolution", conflict.Type, op.Kind, op.EntityID)
		return
	}

	var final models.Record
	if strategy == models.ResolveMerge {
		final = MergeRecords(op.Data, conflict.ServerData)
	}
	if err := Resolve(conflict, strategy, final); err != nil {
		pass.fail("failed to resolve conflict for %s %s: %v", op.Kind, op.EntityID, err)
		return
	}

	pushed, err := e.applyResolved(ctx, conflict)
	if err != nil {
		pass.fail("failed to apply %s resolution for %s %s: %v", strategy, op.Kind, op.EntityID, err)
		return
	}
	if pushed != nil {
		e.refreshBasis(pass, conflict.Kind, conflict.EntityID, pushed)
	}

	if err := e.saveDetected(conflict); err != nil {
		pass.fail("failed to record conflict for %s %s: %v", op.Kind, op.EntityID, err)
		return
	}
	pass.res.Conflicts = append(pass.res.Conflicts, *conflict)

	if err := e.store.RemovePending(op.ID); err != nil {
		pass.fail("failed to dequeue operation %s: %v", op.ID, err)
		return
	}
	pass.res.Processed++
}

// applyClean replays a non-conflicting update or delete verbatim.
func (e *Engine) applyClean(ctx context.Context, pass *syncPass, op *models.PendingOperation) {
	rctx, cancel := e.callCtx(ctx)
	defer cancel()

	switch op.Type {
	case models.OpUpdate:
		updated, err := e.remote.Update(rctx, op.Kind.Collection(), op.EntityID, op.Data)
		if err != nil {
			pass.fail("failed to push %s update %s: %v", op.Kind, op.EntityID, err)
			return
		}
		e.patchSnapshot(op.Kind, updated)
		e.refreshBasis(pass, op.Kind, op.EntityID, updated)
	case models.OpDelete:
		if err := e.remote.Delete(rctx, op.Kind.Collection(), op.EntityID); err != nil && err != remote.ErrNotFound {
			pass.fail("failed to push %s delete %s: %v", op.Kind, op.EntityID, err)
			return
		}
		e.removeFromSnapshot(op.Kind, op.EntityID)
	}

	if err := e.store.RemovePending(op.ID); err != nil {
		pass.fail("failed to dequeue operation %s: %v", op.ID, err)
		return
	}
	pass.res.Processed++
}

// applyResolved propagates an already-resolved conflict: server-wins on
// a deletion drops the local copy, anything carrying resolved data is
// pushed remotely and mirrored into the snapshot. It returns the record
// as the remote stored it, or nil when nothing was pushed.
func (e *Engine) applyResolved(ctx context.Context, c *models.Conflict) (models.Record, error) {
	if c.Resolution == models.ResolveServer {
		if c.Type == models.ConflictDelete {
			e.removeFromSnapshot(c.Kind, c.EntityID)
			return nil, nil
		}
		// The server copy is already authoritative; just mirror it.
		e.patchSnapshot(c.Kind, c.ResolvedData)
		return nil, nil
	}

	rctx, cancel := e.callCtx(ctx)
	defer cancel()

	if c.Type == models.ConflictDelete {
		// The record is gone remotely; keeping the client copy means
		// recreating it, not updating it.
		created, err := e.remote.Insert(rctx, c.Kind.Collection(), c.ResolvedData.Clone())
		if err != nil {
			return nil, err
		}
		e.patchSnapshot(c.Kind, created)
		return created, nil
	}

	updated, err := e.remote.Update(rctx, c.Kind.Collection(), c.EntityID, c.ResolvedData)
	if err != nil {
		return nil, err
	}
	e.patchSnapshot(c.Kind, updated)
	return updated, nil
}

// replaySale replays an offline sale as its server-side composite:
// the transaction record, its line items, then each meter's status
// flip. A meter that turned out to be already sold or installed gets a
// conflict instead of a silent double-sale; the rest of the sale still
// lands.
func (e *Engine) replaySale(ctx context.Context, pass *syncPass, op *models.PendingOperation) {
	data := op.Data.Clone()
	items := recordSlice(data["items"])
	meterIDs := stringSlice(data["meter_ids"])
	delete(data, "items")

	rctx, cancel := e.callCtx(ctx)
	created, err := e.remote.Insert(rctx, models.KindSale.Collection(), stripTempID(data))
	cancel()
	if err != nil {
		// The whole composite retries next pass.
		pass.fail("failed to push sale %s: %v", op.EntityID, err)
		return
	}
	saleID := created.ID()

	if utils.IsTempID(op.EntityID) {
		e.reconcileTempID(pass, models.KindSale, op.EntityID, created)
	} else {
		e.patchSnapshot(models.KindSale, created)
	}

	for _, item := range items {
		item = stripTempID(item)
		item["sale_id"] = saleID
		ictx, cancel := e.callCtx(ctx)
		_, err := e.remote.Insert(ictx, "sales_items", item)
		cancel()
		if err != nil {
			pass.res.Errors = append(pass.res.Errors,
				fmt.Sprintf("failed to push line item for sale %s: %v", saleID, err))
		}
	}

	for _, meterID := range meterIDs {
		e.markMeterSold(ctx, pass, op, meterID)
	}

	if err := e.store.RemovePending(op.ID); err != nil {
		pass.fail("failed to dequeue operation %s: %v", op.ID, err)
		return
	}
	pass.res.Processed++
}

// markMeterSold flips one meter to sold as part of a sale replay,
// unless another party got there first.
func (e *Engine) markMeterSold(ctx context.Context, pass *syncPass, op *models.PendingOperation, meterID string) {
	rctx, cancel := e.callCtx(ctx)
	server, err := e.remote.Get(rctx, models.KindMeter.Collection(), meterID)
	cancel()
	if err == remote.ErrNotFound {
		pass.res.Errors = append(pass.res.Errors,
			fmt.Sprintf("meter %s from sale %s no longer exists remotely", meterID, op.EntityID))
		return
	}
	if err != nil {
		pass.res.Errors = append(pass.res.Errors,
			fmt.Sprintf("failed to fetch meter %s: %v", meterID, err))
		return
	}

	current, _ := server["status"].(string)
	if models.ExclusiveStatus(models.MeterStatus(current)) {
		conflict := &models.Conflict{
			OperationID: op.ID,
			Kind:        models.KindMeter,
			EntityID:    meterID,
			Type:        models.ConflictData,
			ClientData:  models.Record{"status": string(models.MeterSold)},
			ServerData:  server.Clone(),
			CreatedAt:   time.Now().UTC(),
		}
		if err := e.saveDetected(conflict); err != nil {
			pass.res.Errors = append(pass.res.Errors,
				fmt.Sprintf("failed to record conflict for meter %s: %v", meterID, err))
			return
		}
		pass.res.Conflicts = append(pass.res.Conflicts, *conflict)
		log.Printf("⚠️ Meter %s already %s, flagged for manual resolution", meterID, current)
		return
	}

	uctx, cancel := e.callCtx(ctx)
	updated, err := e.remote.Update(uctx, models.KindMeter.Collection(), meterID,
		models.Record{"status": string(models.MeterSold)})
	cancel()
	if err != nil {
		pass.res.Errors = append(pass.res.Errors,
			fmt.Sprintf("failed to mark meter %s sold: %v", meterID, err))
		return
	}
	e.patchSnapshot(models.KindMeter, updated)
	e.refreshBasis(pass, models.KindMeter, meterID, updated)
}

// saveDetected records a detected conflict, reusing the open record
// from an earlier pass for the same operation and entity. A stuck
// operation re-detects on every pass; it still owns exactly one
// unresolved conflict.
func (e *Engine) saveDetected(c *models.Conflict) error {
	existing, err := e.store.FindUnresolvedConflict(c.OperationID, c.EntityID)
	if err != nil {
		return err
	}
	if existing != nil {
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
	}
	return e.store.SaveConflict(c)
}

// refreshBasis advances the basis timestamp of still-queued operations
// on an entity after this pass rewrote its server copy. Without it, the
// next operation in an offline edit chain reads its own predecessor as
// a version skew.
func (e *Engine) refreshBasis(pass *syncPass, kind models.EntityKind, entityID string, pushed models.Record) {
	serverAt, ok := recordTime(pushed, "updated_at")
	if !ok {
		return
	}
	for i := pass.idx + 1; i < len(pass.ops); i++ {
		op := pass.ops[i]
		if op.Kind != kind || op.EntityID != entityID || op.BaseUpdatedAt == nil {
			continue
		}
		at := serverAt
		op.BaseUpdatedAt = &at
		if err := e.store.UpdatePending(op); err != nil {
			log.Printf("⚠️ Failed to rewrite operation %s: %v", op.ID, err)
		}
	}
}

// ApplyResolution settles a recorded conflict with an explicit
// strategy, pushes the outcome and dequeues the originating operation.
func (e *Engine) ApplyResolution(ctx context.Context, conflictID string, strategy models.ResolutionStrategy, resolvedData models.Record) (*models.Conflict, error) {
	c, err := e.store.GetConflict(conflictID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("conflict %s not found", conflictID)
	}

	if err := Resolve(c, strategy, resolvedData); err != nil {
		return nil, err
	}

	if _, err := e.applyResolved(ctx, c); err != nil {
		return nil, err
	}

	if err := e.store.SaveConflict(c); err != nil {
		return nil, err
	}
	if c.OperationID != "" {
		if err := e.store.RemovePending(c.OperationID); err != nil {
			return nil, err
		}
	}
	log.Printf("✅ Conflict %s on %s %s resolved via %s", c.ID, c.Kind, c.EntityID, strategy)
	return c, nil
}

// reconcileTempID swaps a client-generated temp id for the
// server-assigned one: in the entity snapshot and in every queued
// operation that still references it, including nested references like
// a sale's meter list.
func (e *Engine) reconcileTempID(pass *syncPass, kind models.EntityKind, tempID string, created models.Record) {
	serverID := created.ID()

	records, err := e.store.GetEntities(kind)
	if err == nil {
		replaced := false
		for i, rec := range records {
			if rec.ID() == tempID {
				records[i] = created
				replaced = true
				break
			}
		}
		if !replaced {
			records = append(records, created)
		}
		if err := e.store.SaveEntities(kind, records); err != nil {
			log.Printf("⚠️ Failed to update %s snapshot: %v", kind, err)
		}
	}

	if serverID == "" {
		return
	}
	serverAt, hasServerAt := recordTime(created, "updated_at")
	for i := pass.idx + 1; i < len(pass.ops); i++ {
		op := pass.ops[i]
		changed := false
		if op.EntityID == tempID {
			op.EntityID = serverID
			changed = true
			// The basis of these edits is the record that was just
			// pushed; a stale basis timestamp would read as a version
			// skew the entity never had.
			if hasServerAt && op.BaseUpdatedAt != nil {
				op.BaseUpdatedAt = &serverAt
			}
		}
		if rewriteID(op.Data, tempID, serverID) {
			changed = true
		}
		if rewriteID(op.Base, tempID, serverID) {
			changed = true
		}
		if changed {
			if err := e.store.UpdatePending(op); err != nil {
				log.Printf("⚠️ Failed to rewrite operation %s: %v", op.ID, err)
			}
		}
	}
}

// rewriteID replaces every string equal to tempID anywhere in the
// record, including nested maps and slices.
func rewriteID(rec models.Record, tempID, serverID string) bool {
	if rec == nil {
		return false
	}
	changed := false
	for k, v := range rec {
		nv, c := rewriteValue(v, tempID, serverID)
		if c {
			rec[k] = nv
			changed = true
		}
	}
	return changed
}

func rewriteValue(v interface{}, tempID, serverID string) (interface{}, bool) {
	switch val := v.(type) {
	case string:
		if val == tempID {
			return serverID, true
		}
	case map[string]interface{}:
		return val, rewriteID(models.Record(val), tempID, serverID)
	case models.Record:
		return val, rewriteID(val, tempID, serverID)
	case []interface{}:
		changed := false
		for i, el := range val {
			nv, c := rewriteValue(el, tempID, serverID)
			if c {
				val[i] = nv
				changed = true
			}
		}
		return val, changed
	case []string:
		changed := false
		for i, s := range val {
			if s == tempID {
				val[i] = serverID
				changed = true
			}
		}
		return val, changed
	}
	return v, false
}

// stripTempID clones a record without its client-generated id so the
// server assigns the authoritative one.
func stripTempID(rec models.Record) models.Record {
	out := rec.Clone()
	if utils.IsTempID(out.ID()) {
		delete(out, "id")
	}
	return out
}

func recordSlice(v interface{}) []models.Record {
	switch val := v.(type) {
	case []models.Record:
		return val
	case []interface{}:
		out := make([]models.Record, 0, len(val))
		for _, el := range val {
			if m, ok := el.(map[string]interface{}); ok {
				out = append(out, models.Record(m))
			}
		}
		return out
	}
	return nil
}

func stringSlice(v interface{}) []string {
	switch val := v.(type) {
	case []string:
		return val
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, el := range val {
			if s, ok := el.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func (e *Engine) patchSnapshot(kind models.EntityKind, rec models.Record) {
	if rec == nil || rec.ID() == "" {
		return
	}
	records, err := e.store.GetEntities(kind)
	if err != nil {
		log.Printf("⚠️ Failed to read %s snapshot: %v", kind, err)
		return
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
	if err := e.store.SaveEntities(kind, records); err != nil {
		log.Printf("⚠️ Failed to update %s snapshot: %v", kind, err)
	}
}

func (e *Engine) removeFromSnapshot(kind models.EntityKind, id string) {
	records, err := e.store.GetEntities(kind)
	if err != nil {
		log.Printf("⚠️ Failed to read %s snapshot: %v", kind, err)
		return
	}
	out := records[:0]
	for _, rec := range records {
		if rec.ID() != id {
			out = append(out, rec)
		}
	}
	if err := e.store.SaveEntities(kind, out); err != nil {
		log.Printf("⚠️ Failed to update %s snapshot: %v", kind, err)
	}
}

// Start launches the background auto-sync loop. A stopped engine can
// be started again.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stopChan = make(chan struct{})
	stop := e.stopChan
	e.mu.Unlock()

	log.Printf("🚀 Auto-sync started (every %s)", e.interval)
	go e.autoSyncLoop(stop)
}

// Stop halts the background loop. In-flight passes finish on their own.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.running = false
	close(e.stopChan)
}

func (e *Engine) autoSyncLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if e.monitor != nil && !e.monitor.Online() {
				continue
			}
			if _, err := e.SyncPending(context.Background()); err != nil && err != ErrSyncInProgress {
				log.Printf("⚠️ Background sync failed: %v", err)
			}
		case <-stop:
			return
		}
	}
}
