// Package plant provides the example plant-monitor application around the
// vigil engine: an equipment registry and HTTP control endpoints for
// starting and stopping the monitoring session.
//
// Authorization is the application's concern, not the engine's: the
// handlers check a shared operator token before touching the session, the
// way the engine contract expects its callers to gate start/stop.
package plant

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/chosenoffset/vigil/pkg/vigil"
)

// Equipment is one registered machine with its monitored sensor.
type Equipment struct {
	Name     string           `json:"name"`
	Location string           `json:"location"`
	SensorID string           `json:"sensor_id"`
	Type     vigil.SensorType `json:"sensor_type"`
}

// Plant ties the engine to the example application's HTTP surface.
type Plant struct {
	engine    *vigil.Engine
	store     vigil.AlertStore
	logger    *slog.Logger
	token     string
	equipment []Equipment
	config    vigil.Config
}

// New builds a plant around the engine. token guards the control
// endpoints; an empty token disables the check (development only).
func New(engine *vigil.Engine, alertStore vigil.AlertStore, cfg vigil.Config, token string, logger *slog.Logger) *Plant {
	p := &Plant{
		engine: engine,
		store:  alertStore,
		logger: logger.With("component", "plant"),
		token:  token,
		config: cfg,
	}
	for t, profile := range cfg.Profiles {
		p.equipment = append(p.equipment, Equipment{
			Name:     profile.Equipment,
			Location: profile.Location,
			SensorID: vigil.DefaultSensorID(t),
			Type:     t,
		})
	}
	return p
}

// Routes registers the control endpoints on the router.
func (p *Plant) Routes(r *mux.Router) {
	r.HandleFunc("/api/equipment", p.handleEquipment).Methods(http.MethodGet)
	r.HandleFunc("/api/monitor/start", p.authorized(p.handleStart)).Methods(http.MethodPost)
	r.HandleFunc("/api/monitor/stop", p.authorized(p.handleStop)).Methods(http.MethodPost)
	r.HandleFunc("/api/monitor/status", p.handleStatus).Methods(http.MethodGet)
}

// authorized wraps a handler with the operator token check. The engine
// itself never re-validates permissions.
func (p *Plant) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p.token != "" && r.Header.Get("X-Operator-Token") != p.token {
			p.logger.Warn("unauthorized monitor control attempt", "remote", r.RemoteAddr)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (p *Plant) handleEquipment(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, p.equipment)
}

func (p *Plant) handleStart(w http.ResponseWriter, r *http.Request) {
	if _, err := p.engine.Start(p.config); err != nil {
		if err == vigil.ErrAlreadyRunning {
			writeJSON(w, http.StatusConflict, map[string]string{"status": "already running"})
			return
		}
		p.logger.Error("session start failed", "error", err)
		http.Error(w, "start failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(p.engine.Status())})
}

func (p *Plant) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := p.engine.Stop(); err != nil {
		p.logger.Error("session stop failed", "error", err)
		http.Error(w, "stop failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(p.engine.Status())})
}

func (p *Plant) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := p.engine.Stats()
	resp := struct {
		vigil.EngineStats
		Time time.Time `json:"time"`
	}{stats, time.Now()}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
