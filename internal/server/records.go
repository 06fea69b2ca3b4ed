package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"github.com/gridpoint-io/meterwms/internal/models"
)

// collections whitelists the tables the record API exposes.
var collections = map[string]bool{
	"products":           true,
	"meters":             true,
	"customers":          true,
	"sales_transactions": true,
	"sales_items":        true,
}

func (r *Router) collection(w http.ResponseWriter, req *http.Request) (string, bool) {
	name := mux.Vars(req)["collection"]
	if !collections[name] {
		respondError(w, http.StatusNotFound, "unknown collection")
		return "", false
	}
	return name, true
}

// listRecords returns all records of a collection, optionally filtered
// by exact field matches given as query parameters.
func (r *Router) listRecords(w http.ResponseWriter, req *http.Request) {
	name, ok := r.collection(w, req)
	if !ok {
		return
	}

	query := r.db.Table(name)
	for key, values := range req.URL.Query() {
		if len(values) == 0 || values[0] == "" {
			continue
		}
		query = query.Where(map[string]interface{}{key: values[0]})
	}

	var rows []map[string]interface{}
	if err := query.Find(&rows).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, row := range rows {
		decodeRow(row)
	}
	if rows == nil {
		rows = []map[string]interface{}{}
	}
	respondJSON(w, http.StatusOK, rows)
}

func (r *Router) getRecord(w http.ResponseWriter, req *http.Request) {
	name, ok := r.collection(w, req)
	if !ok {
		return
	}
	id := mux.Vars(req)["id"]

	row := map[string]interface{}{}
	err := r.db.Table(name).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		respondError(w, http.StatusNotFound, "record not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	decodeRow(row)
	respondJSON(w, http.StatusOK, row)
}

// createRecord inserts a record, assigning the authoritative id and
// timestamps server-side.
func (r *Router) createRecord(w http.ResponseWriter, req *http.Request) {
	name, ok := r.collection(w, req)
	if !ok {
		return
	}

	var rec models.Record
	if err := json.NewDecoder(req.Body).Decode(&rec); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	now := time.Now().UTC()
	if rec.ID() == "" {
		rec["id"] = uuid.New().String()
	}
	rec["created_at"] = now
	rec["updated_at"] = now

	row := encodeRow(rec)
	if err := r.db.Table(name).Create(row).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	r.respondWithRecord(w, http.StatusCreated, name, rec.ID())
}

// updateRecord applies a field patch. Identity and creation time are
// immutable; updated_at is always stamped server-side.
func (r *Router) updateRecord(w http.ResponseWriter, req *http.Request) {
	name, ok := r.collection(w, req)
	if !ok {
		return
	}
	id := mux.Vars(req)["id"]

	var patch models.Record
	if err := json.NewDecoder(req.Body).Decode(&patch); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	delete(patch, "id")
	delete(patch, "created_at")
	patch["updated_at"] = time.Now().UTC()

	result := r.db.Table(name).Where("id = ?", id).Updates(encodeRow(patch))
	if result.Error != nil {
		respondError(w, http.StatusInternalServerError, result.Error.Error())
		return
	}
	if result.RowsAffected == 0 {
		respondError(w, http.StatusNotFound, "record not found")
		return
	}

	r.respondWithRecord(w, http.StatusOK, name, id)
}

func (r *Router) deleteRecord(w http.ResponseWriter, req *http.Request) {
	name, ok := r.collection(w, req)
	if !ok {
		return
	}
	id := mux.Vars(req)["id"]

	result := r.db.Table(name).Where("id = ?", id).Delete(nil)
	if result.Error != nil {
		respondError(w, http.StatusInternalServerError, result.Error.Error())
		return
	}
	if result.RowsAffected == 0 {
		respondError(w, http.StatusNotFound, "record not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (r *Router) respondWithRecord(w http.ResponseWriter, status int, name, id string) {
	row := map[string]interface{}{}
	if err := r.db.Table(name).Where("id = ?", id).Take(&row).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	decodeRow(row)
	respondJSON(w, status, row)
}

// encodeRow serializes nested values so they land in jsonb columns.
func encodeRow(rec models.Record) map[string]interface{} {
	row := make(map[string]interface{}, len(rec))
	for k, v := range rec {
		switch v.(type) {
		case map[string]interface{}, []interface{}, []string:
			data, err := json.Marshal(v)
			if err == nil {
				row[k] = string(data)
				continue
			}
		}
		row[k] = v
	}
	return row
}

// decodeRow turns jsonb byte payloads back into structured values.
func decodeRow(row map[string]interface{}) {
	for k, v := range row {
		b, ok := v.([]byte)
		if !ok {
			continue
		}
		var decoded interface{}
		if err := json.Unmarshal(b, &decoded); err == nil {
			row[k] = decoded
		} else {
			row[k] = string(b)
		}
	}
}
