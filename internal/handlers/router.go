package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/gridpoint-io/meterwms/internal/inventory"
	"github.com/gridpoint-io/meterwms/internal/websocket"
)

// Router wraps the mux router with the agent's inventory facade.
type Router struct {
	*mux.Router
	inv *inventory.Facade
	hub *websocket.Hub
}

// NewRouter creates the agent HTTP router with all routes.
func NewRouter(inv *inventory.Facade, hub *websocket.Hub) *Router {
	r := &Router{
		Router: mux.NewRouter(),
		inv:    inv,
		hub:    hub,
	}

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", r.getStatus).Methods("GET")

	// Inventory routes
	api.HandleFunc("/products", r.listProducts).Methods("GET")
	api.HandleFunc("/products", r.createProduct).Methods("POST")
	api.HandleFunc("/products/{id}/stock", r.updateProductStock).Methods("PUT")
	api.HandleFunc("/products/{id}", r.deleteEntity("product")).Methods("DELETE")

	api.HandleFunc("/meters", r.listMeters).Methods("GET")
	api.HandleFunc("/meters", r.createMeter).Methods("POST")
	api.HandleFunc("/meters/labels", r.printMeterLabels).Methods("POST")
	api.HandleFunc("/meters/{id}/status", r.updateMeterStatus).Methods("PUT")
	api.HandleFunc("/meters/{id}", r.deleteEntity("meter")).Methods("DELETE")

	api.HandleFunc("/customers", r.listCustomers).Methods("GET")
	api.HandleFunc("/customers", r.createCustomer).Methods("POST")
	api.HandleFunc("/customers/{id}", r.deleteEntity("customer")).Methods("DELETE")

	api.HandleFunc("/sales", r.listSales).Methods("GET")
	api.HandleFunc("/sales", r.recordSale).Methods("POST")

	// Sync routes
	api.HandleFunc("/sync", r.triggerSync).Methods("POST")
	api.HandleFunc("/sync/status", r.syncStatus).Methods("GET")
	api.HandleFunc("/connection/check", r.checkConnection).Methods("POST")
	api.HandleFunc("/conflicts", r.listConflicts).Methods("GET")
	api.HandleFunc("/conflicts/{id}/resolve", r.resolveConflict).Methods("POST")
	api.HandleFunc("/data/refresh", r.refreshData).Methods("POST")
	api.HandleFunc("/data", r.clearData).Methods("DELETE")

	// Dashboard event stream
	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		websocket.ServeWs(hub, w, req)
	})

	return r
}

// healthCheck returns the health status of the agent
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"node":   "agent",
	})
}

// getStatus returns a combined snapshot for the dashboard header.
func (r *Router) getStatus(w http.ResponseWriter, req *http.Request) {
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
	unresolved, err := r.inv.Conflicts(true)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"connection": r.inv.ConnectionStatus(),
		"sync_state": r.inv.SyncState(),
		"pending":    pending,
		"conflicts":  len(unresolved),
		"last_sync":  lastSync,
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
