// Package dashboard serves the live monitoring view: a websocket feed of
// readings and alerts, JSON snapshot endpoints for the most recent
// activity, session control, alert acknowledgment against the store, and
// the Prometheus scrape endpoint.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chosenoffset/vigil/pkg/vigil"
)

// Feed buffer sizes for the snapshot endpoints.
const (
	recentReadings = 50
	recentAlerts   = 20
)

// wsMessage is the envelope pushed to websocket clients.
type wsMessage struct {
	Type string `json:"type"` // "reading" or "alert"
	Data any    `json:"data"`
}

// Server is the dashboard HTTP server. It consumes the engine through a
// regular live subscription, so a slow browser behaves exactly like any
// other slow subscriber: the oldest queued items are dropped, never the
// pipeline stalled.
type Server struct {
	addr   string
	engine *vigil.Engine
	store  vigil.AlertStore
	logger *slog.Logger

	server *http.Server

	upgrader   websocket.Upgrader
	clients    map[*websocket.Conn]chan wsMessage
	maxClients int

	mu       sync.RWMutex
	readings []vigil.SensorReading
	alerts   []vigil.Alert

	sub  *vigil.Subscription
	done chan struct{}
}

// NewServer creates a dashboard bound to the engine. store may be nil, in
// which case alert history and acknowledgment answer 404.
func NewServer(addr string, engine *vigil.Engine, store vigil.AlertStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:   addr,
		engine: engine,
		store:  store,
		logger: logger.With("component", "dashboard"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Same-host only; the dashboard is an internal surface.
				origin := r.Header.Get("Origin")
				return origin == "" || origin == "http://"+r.Host
			},
		},
		clients:    make(map[*websocket.Conn]chan wsMessage),
		maxClients: 100,
		done:       make(chan struct{}),
	}
}

// Handler builds the routed handler. Exposed separately from Start so tests
// can mount it on httptest.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/readings", s.handleReadings).Methods(http.MethodGet)
	r.HandleFunc("/api/alerts", s.handleAlerts).Methods(http.MethodGet)
	r.HandleFunc("/api/alerts/history", s.handleAlertHistory).Methods(http.MethodGet)
	r.HandleFunc("/api/alerts/{id}/acknowledge", s.handleAcknowledge).Methods(http.MethodPost)
	r.HandleFunc("/ws", s.handleWebSocket)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return handlers.CORS(
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost}),
	)(handlers.CombinedLoggingHandler(os.Stderr, r))
}

// Start subscribes to the engine and serves until Stop. It blocks like
// http.ListenAndServe.
func (s *Server) Start() error {
	s.sub = s.engine.Subscribe()
	go s.consume()

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info("dashboard listening", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Stop closes the subscription and shuts the server down.
func (s *Server) Stop() error {
	if s.sub != nil {
		s.sub.Close()
		<-s.done
	}
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// consume drains the subscription, maintaining the snapshot buffers and
// fanning out to websocket clients.
func (s *Server) consume() {
	defer close(s.done)
	readings := s.sub.Readings()
	alerts := s.sub.Alerts()
	for readings != nil || alerts != nil {
		select {
		case r, ok := <-readings:
			if !ok {
				readings = nil
				continue
			}
			s.mu.Lock()
			s.readings = append(s.readings, r)
			if len(s.readings) > recentReadings {
				s.readings = s.readings[len(s.readings)-recentReadings:]
			}
			s.mu.Unlock()
			s.broadcast(wsMessage{Type: "reading", Data: r})
		case a, ok := <-alerts:
			if !ok {
				alerts = nil
				continue
			}
			s.mu.Lock()
			s.alerts = append(s.alerts, a)
			if len(s.alerts) > recentAlerts {
				s.alerts = s.alerts[len(s.alerts)-recentAlerts:]
			}
			s.mu.Unlock()
			s.broadcast(wsMessage{Type: "alert", Data: a})
		}
	}
}

func (s *Server) broadcast(msg wsMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.clients {
		select {
		case ch <- msg:
		default:
			// Client writer is saturated; skip it.
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if len(s.clients) >= s.maxClients {
		s.mu.Unlock()
		http.Error(w, "too many clients", http.StatusServiceUnavailable)
		return
	}
	s.mu.Unlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	ch := make(chan wsMessage, 64)
	s.mu.Lock()
	s.clients[conn] = ch
	s.mu.Unlock()

	go s.writeClient(conn, ch)

	// Reader loop exists only to detect close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	close(ch)
	conn.Close()
}

func (s *Server) writeClient(conn *websocket.Conn, ch chan wsMessage) {
	for msg := range ch {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Stats())
}

func (s *Server) handleReadings(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	out := make([]vigil.SensorReading, len(s.readings))
	copy(out, s.readings)
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	out := make([]vigil.Alert, len(s.alerts))
	copy(out, s.alerts)
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, out)
}

// handleAlertHistory queries the store directly; this path bypasses the
// engine by design.
func (s *Server) handleAlertHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "no alert store configured", http.StatusNotFound)
		return
	}
	filter := vigil.AlertFilter{
		SensorID: r.URL.Query().Get("sensor_id"),
		Severity: vigil.Level(r.URL.Query().Get("severity")),
		Limit:    100,
	}
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "bad since timestamp", http.StatusBadRequest)
			return
		}
		filter.Since = t
	}
	alerts, err := s.store.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("alert history query failed", "error", err)
		http.Error(w, "store unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "no alert store configured", http.StatusNotFound)
		return
	}
	id := mux.Vars(r)["id"]
	err := s.store.Acknowledge(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged", "id": id})
	case err == vigil.ErrAlertNotFound:
		http.Error(w, "alert not found", http.StatusNotFound)
	default:
		s.logger.Error("acknowledge failed", "alert_id", id, "error", err)
		http.Error(w, "store unavailable", http.StatusBadGateway)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Vigil Sensor Monitor</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 0; padding: 20px; background: #f5f5f5; }
        .header { background: #2c3e50; color: white; padding: 20px; border-radius: 5px; margin-bottom: 20px; }
        .grid { display: grid; grid-template-columns: 2fr 1fr; gap: 20px; }
        .card { background: white; padding: 20px; border-radius: 5px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        table { width: 100%; border-collapse: collapse; }
        th, td { text-align: left; padding: 6px 10px; border-bottom: 1px solid #ecf0f1; }
        .alerts-list { max-height: 500px; overflow-y: auto; }
        .alert-item { padding: 10px; margin: 5px 0; border-left: 4px solid #f39c12; background: #fef9e7; }
        .alert-item.critical { border-left-color: #e74c3c; background: #fdedec; }
        .timestamp { font-size: 0.8em; color: #7f8c8d; }
    </style>
</head>
<body>
    <div class="header">
        <h1>Vigil Sensor Monitor</h1>
        <p>Live plant sensor readings and anomaly alerts</p>
    </div>
    <div class="grid">
        <div class="card">
            <h3>Live Readings</h3>
            <table>
                <thead><tr><th>Sensor</th><th>Value</th><th>Unit</th><th>Seq</th><th>Time</th></tr></thead>
                <tbody id="readings"></tbody>
            </table>
        </div>
        <div class="card">
            <h3>Recent Alerts</h3>
            <div class="alerts-list" id="alerts">
                <div class="alert-item">Waiting for alerts...</div>
            </div>
        </div>
    </div>
    <script>
        const latest = new Map();
        const ws = new WebSocket('ws://' + location.host + '/ws');
        ws.onmessage = function(ev) {
            const msg = JSON.parse(ev.data);
            if (msg.type === 'reading') {
                latest.set(msg.data.sensor_id, msg.data);
                renderReadings();
            } else if (msg.type === 'alert') {
                addAlert(msg.data);
            }
        };
        function renderReadings() {
            const rows = [];
            for (const r of [...latest.values()].sort((a, b) => a.sensor_id.localeCompare(b.sensor_id))) {
                rows.push('<tr><td>' + r.sensor_id + '</td><td>' + r.value.toFixed(2) + '</td><td>' +
                    r.unit + '</td><td>' + r.sequence + '</td><td class="timestamp">' +
                    new Date(r.timestamp).toLocaleTimeString() + '</td></tr>');
            }
            document.getElementById('readings').innerHTML = rows.join('');
        }
        function addAlert(a) {
            const list = document.getElementById('alerts');
            const div = document.createElement('div');
            div.className = 'alert-item' + (a.severity === 'critical' ? ' critical' : '');
            div.innerHTML = '<div><strong>[' + a.severity.toUpperCase() + '] ' + a.sensor_id + '</strong> ' +
                a.message + '</div><div class="timestamp">' + new Date(a.created_at).toLocaleString() + '</div>';
            list.insertBefore(div, list.firstChild);
            while (list.children.length > 20) list.removeChild(list.lastChild);
        }
        fetch('/api/alerts').then(r => r.json()).then(alerts => (alerts || []).forEach(addAlert));
    </script>
</body>
</html>`
