package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/victorjacobs/go-duco/bridge"
)

type Bridge interface {
	Devices() []bridge.DeviceStatus
	Device(id string) (bridge.DeviceStatus, bool)
	Discover(ctx context.Context) error
}

type errorResponse struct {
	Error string `json:"error"`
}

func New(b Bridge, gatherer prometheus.Gatherer) *httprouter.Router {
	router := httprouter.New()
	router.GET("/state", State(b))
	router.GET("/state/:id", DeviceState(b))
	router.POST("/discover", Discover(b))
	router.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return router
}

func State(b Bridge) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		writeJSON(w, http.StatusOK, b.Devices())
	}
}

func DeviceState(b Bridge) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		device, ok := b.Device(ps.ByName("id"))
		if !ok {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown device"})
			return
		}

		writeJSON(w, http.StatusOK, device)
	}
}

// Discover runs a discovery pass and returns the devices tracked afterwards.
func Discover(b Bridge) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if err := b.Discover(r.Context()); err != nil {
			log.Warn().Err(err).Msg("Discovery requested over HTTP failed")

			status := http.StatusBadGateway
			if errors.Is(err, bridge.ErrDiscoveryNotFound) {
				status = http.StatusNotFound
			}
			writeJSON(w, status, errorResponse{Error: err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, b.Devices())
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	marshaled, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("Error marshaling response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(marshaled)
}
