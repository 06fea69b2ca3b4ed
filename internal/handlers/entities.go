package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/gridpoint-io/meterwms/internal/inventory"
	"github.com/gridpoint-io/meterwms/internal/labels"
	"github.com/gridpoint-io/meterwms/internal/models"
)

func (r *Router) listProducts(w http.ResponseWriter, req *http.Request) {
	records, err := r.inv.Products()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, records)
}

func (r *Router) createProduct(w http.ResponseWriter, req *http.Request) {
	var p models.Product
	if err := json.NewDecoder(req.Body).Decode(&p); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := r.inv.AddProduct(req.Context(), p)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, rec)
}

func (r *Router) updateProductStock(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	var body struct {
		StockQuantity int `json:"stock_quantity"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := r.inv.UpdateProductStock(req.Context(), id, body.StockQuantity)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (r *Router) listMeters(w http.ResponseWriter, req *http.Request) {
	records, err := r.inv.Meters()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, records)
}

func (r *Router) createMeter(w http.ResponseWriter, req *http.Request) {
	var m models.Meter
	if err := json.NewDecoder(req.Body).Decode(&m); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := r.inv.AddMeter(req.Context(), m)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, rec)
}

func (r *Router) updateMeterStatus(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	var body struct {
		Status models.MeterStatus `json:"status"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := r.inv.UpdateMeterStatus(req.Context(), id, body.Status)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// printMeterLabels renders a QR label sheet for the requested serial
// numbers, or for every cached meter when none are given.
func (r *Router) printMeterLabels(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Serials []string           `json:"serials"`
		Sheet   labels.SheetConfig `json:"sheet"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	records, err := r.inv.Meters()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	wanted := map[string]bool{}
	for _, s := range body.Serials {
		wanted[s] = true
	}

	var toPrint []labels.MeterLabel
	for _, rec := range records {
		serial, _ := rec["serial_number"].(string)
		if serial == "" {
			continue
		}
		if len(wanted) > 0 && !wanted[serial] {
			continue
		}
		model, _ := rec["model"].(string)
		toPrint = append(toPrint, labels.MeterLabel{SerialNumber: serial, Model: model})
	}

	pdf, err := labels.GenerateMeterLabelsPDF(body.Sheet, toPrint)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="meter-labels.pdf"`)
	w.WriteHeader(http.StatusOK)
	w.Write(pdf)
}

func (r *Router) listCustomers(w http.ResponseWriter, req *http.Request) {
	records, err := r.inv.Customers()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, records)
}

func (r *Router) createCustomer(w http.ResponseWriter, req *http.Request) {
	var c models.Customer
	if err := json.NewDecoder(req.Body).Decode(&c); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := r.inv.AddCustomer(req.Context(), c)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, rec)
}

func (r *Router) listSales(w http.ResponseWriter, req *http.Request) {
	records, err := r.inv.Sales()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, records)
}

func (r *Router) recordSale(w http.ResponseWriter, req *http.Request) {
	var sale models.Sale
	if err := json.NewDecoder(req.Body).Decode(&sale); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := r.inv.RecordSale(req.Context(), sale)
	if err != nil {
		if errors.Is(err, inventory.ErrMeterUnavailable) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, rec)
}

func (r *Router) deleteEntity(kind models.EntityKind) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		id := mux.Vars(req)["id"]
		if err := r.inv.DeleteEntity(req.Context(), kind, id); err != nil {
			respondError(w, statusFor(err), err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"deleted": id})
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, inventory.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, inventory.ErrInvalidTransition),
		errors.Is(err, inventory.ErrMeterUnavailable):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
