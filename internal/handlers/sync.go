package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/gridpoint-io/meterwms/internal/models"
	"github.com/gridpoint-io/meterwms/internal/remote"
	"github.com/gridpoint-io/meterwms/internal/sync"
)

// triggerSync drains the pending queue once. A pass already in flight
// yields 409 rather than a second concurrent drain.
func (r *Router) triggerSync(w http.ResponseWriter, req *http.Request) {
	result, err := r.inv.SyncData(req.Context())
	if err != nil {
		if errors.Is(err, sync.ErrSyncInProgress) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (r *Router) syncStatus(w http.ResponseWriter, req *http.Request) {
	pending, err := r.inv.PendingCount()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	lastSync, err := r.inv.LastSyncTime()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"state":     r.inv.SyncState(),
		"pending":   pending,
		"last_sync": lastSync,
	})
}

func (r *Router) checkConnection(w http.ResponseWriter, req *http.Request) {
	status := r.inv.CheckConnection(req.Context())
	respondJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

func (r *Router) listConflicts(w http.ResponseWriter, req *http.Request) {
	unresolvedOnly := req.URL.Query().Get("unresolved") == "true"
	conflicts, err := r.inv.Conflicts(unresolvedOnly)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, conflicts)
}

func (r *Router) resolveConflict(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	var body struct {
		Strategy models.ResolutionStrategy `json:"strategy"`
		Data     models.Record             `json:"data,omitempty"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conflict, err := r.inv.ResolveConflict(req.Context(), id, body.Strategy, body.Data)
	if err != nil {
		switch {
		case errors.Is(err, sync.ErrConflictResolved):
			respondError(w, http.StatusConflict, err.Error())
		case errors.Is(err, sync.ErrResolvedDataRequired), errors.Is(err, sync.ErrUnknownStrategy):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, conflict)
}

// refreshData replaces every snapshot with fresh server state.
func (r *Router) refreshData(w http.ResponseWriter, req *http.Request) {
	if err := r.inv.RefreshData(req.Context()); err != nil {
		if errors.Is(err, remote.ErrNotConfigured) {
			respondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

// clearData wipes the agent's local cache, queue and conflict log.
func (r *Router) clearData(w http.ResponseWriter, req *http.Request) {
	if err := r.inv.ClearAllData(); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
