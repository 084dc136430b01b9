package boundary

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lanctl/netsnip/internal/apperrors"
	"github.com/lanctl/netsnip/internal/logger"
	"github.com/lanctl/netsnip/internal/metrics"
)

// Router builds the HTTP surface over a Dispatcher using gorilla/mux.
type Router struct {
	dispatcher *Dispatcher
	logger     *logger.Logger
}

// NewRouter wraps dispatcher in an HTTP router.
func NewRouter(dispatcher *Dispatcher) *Router {
	return &Router{dispatcher: dispatcher, logger: logger.NewComponentLogger("boundary.http")}
}

// Mux returns the configured *mux.Router, ready to be served or mounted.
func (r *Router) Mux() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/api/devices/scan", r.handleScan).Methods(http.MethodPost)
	router.HandleFunc("/api/network", r.handleNetworkInfo).Methods(http.MethodGet)
	router.HandleFunc("/api/devices/{id}/cut", r.handleCut).Methods(http.MethodPost)
	router.HandleFunc("/api/devices/{id}/restore", r.handleRestore).Methods(http.MethodPost)
	router.HandleFunc("/api/devices/{id}/limit", r.handleLimit).Methods(http.MethodPost)
	router.HandleFunc("/api/devices/{id}/limit", r.handleRemoveLimit).Methods(http.MethodDelete)
	router.HandleFunc("/api/devices/{id}/name", r.handleUpdateName).Methods(http.MethodPut)
	router.HandleFunc("/api/bandwidth", r.handleBandwidthUpdates).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.Use(metricsMiddleware)
	return router
}

// metricsMiddleware records every request's route and outcome status.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)

		route := req.URL.Path
		if m := mux.CurrentRoute(req); m != nil {
			if tmpl, err := m.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		metrics.APIRequests.WithLabelValues(route, http.StatusText(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (r *Router) handleScan(w http.ResponseWriter, req *http.Request) {
	devices, err := r.dispatcher.ScanNetwork()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

func (r *Router) handleNetworkInfo(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.dispatcher.GetNetworkInfo())
}

func (r *Router) handleCut(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	result, err := r.dispatcher.CutDevice(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (r *Router) handleRestore(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	result, err := r.dispatcher.RestoreDevice(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (r *Router) handleLimit(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]

	var body struct {
		LimitMbps float64 `json:"limit_mbps"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, apperrors.Wrap(apperrors.InvalidInput, "handleLimit", err))
		return
	}

	result, err := r.dispatcher.LimitBandwidth(id, body.LimitMbps)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (r *Router) handleRemoveLimit(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	result, err := r.dispatcher.RemoveBandwidthLimit(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (r *Router) handleUpdateName(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]

	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, apperrors.Wrap(apperrors.InvalidInput, "handleUpdateName", err))
		return
	}

	if err := r.dispatcher.UpdateDeviceName(id, body.Name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleBandwidthUpdates(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.dispatcher.GetBandwidthUpdates())
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if kind, ok := apperrors.GetKind(err); ok {
		switch kind {
		case apperrors.InvalidInput, apperrors.BadMac, apperrors.SelfCut, apperrors.GatewayCut, apperrors.GatewayNotSet:
			status = http.StatusBadRequest
		case apperrors.DeviceNotFound:
			status = http.StatusNotFound
		case apperrors.AlreadyRunning:
			status = http.StatusConflict
		}
	}
	writeJSON(w, status, Result{Success: false, Message: err.Error()})
}
