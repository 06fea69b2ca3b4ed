package server

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/gridpoint-io/meterwms/internal/config"
	"github.com/gridpoint-io/meterwms/internal/middleware"
	"github.com/gridpoint-io/meterwms/internal/models"
	"github.com/gridpoint-io/meterwms/internal/utils"
)

// Router wraps the mux router and database of the central server.
type Router struct {
	*mux.Router
	db  *DB
	cfg *config.ServerConfig
}

// NewRouter creates the central server HTTP router.
func NewRouter(db *DB, cfg *config.ServerConfig) *Router {
	r := &Router{
		Router: mux.NewRouter(),
		db:     db,
		cfg:    cfg,
	}

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	// Auth routes
	auth := r.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/login", r.login).Methods("POST")

	// Record API (protected)
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Auth(cfg.JWTSecret))
	api.HandleFunc("/{collection}", r.listRecords).Methods("GET")
	api.HandleFunc("/{collection}", r.createRecord).Methods("POST")
	api.HandleFunc("/{collection}/{id}", r.getRecord).Methods("GET")
	api.HandleFunc("/{collection}/{id}", r.updateRecord).Methods("PUT")
	api.HandleFunc("/{collection}/{id}", r.deleteRecord).Methods("DELETE")

	return r
}

// SeedAdmin creates the initial admin user when the user table is empty.
func (r *Router) SeedAdmin() error {
	var count int64
	if err := r.db.Model(&models.UserAuth{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := utils.HashPassword(r.cfg.AdminPass)
	if err != nil {
		return err
	}
	admin := models.UserAuth{
		ID:           uuid.New().String(),
		Email:        r.cfg.AdminEmail,
		Name:         "Administrator",
		PasswordHash: hash,
		Role:         "admin",
	}
	if err := r.db.Create(&admin).Error; err != nil {
		return err
	}
	log.Printf("✅ Seeded admin user %s", admin.Email)
	return nil
}

// healthCheck returns the health status of the API
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"server": "central",
	})
}

// login verifies credentials and issues a JWT.
func (r *Router) login(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var user models.UserAuth
	if err := r.db.Where("email = ?", body.Email).First(&user).Error; err != nil {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if !utils.CheckPasswordHash(body.Password, user.PasswordHash) {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := utils.GenerateToken(user.ID, user.Email, user.Role, r.cfg.JWTSecret)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"token": token,
		"user": map[string]string{
			"id":    user.ID,
			"email": user.Email,
			"role":  user.Role,
		},
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
