package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fentz26/calmplan/internal/automation"
	"github.com/fentz26/calmplan/internal/models"
	"github.com/fentz26/calmplan/internal/notify"
	"github.com/fentz26/calmplan/internal/telemetry"
)

// Server provides the HTTP API for CalmPlan.
type Server struct {
	service  *Service
	addr     string
	version  string
	debounce time.Duration
	logger   *slog.Logger
	server   *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(service *Service, addr, version string, debounce time.Duration) *Server {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Server{
		service:  service,
		addr:     addr,
		version:  version,
		debounce: debounce,
		logger:   service.logger,
	}
}

// Handler builds the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	// Task endpoints
	mux.HandleFunc("GET /tasks", s.listTasks)
	mux.HandleFunc("POST /tasks", s.createTask)
	mux.HandleFunc("GET /tasks/{id}", s.getTask)
	mux.HandleFunc("PATCH /tasks/{id}", s.updateTask)
	mux.HandleFunc("DELETE /tasks/{id}", s.deleteTask)
	mux.HandleFunc("POST /tasks/{id}/steps/{key}", s.toggleStep)

	// Client endpoints
	mux.HandleFunc("GET /clients", s.listClients)
	mux.HandleFunc("POST /clients", s.createClient)
	mux.HandleFunc("GET /clients/{name}/node", s.clientNode)
	mux.HandleFunc("POST /clients/{name}/services", s.addClientService)

	mux.HandleFunc("GET /insights", s.insights)
	mux.HandleFunc("GET /templates", s.listTemplates)
	mux.HandleFunc("GET /templates/{category}", s.getTemplate)

	// Automation rules
	mux.HandleFunc("GET /rules", s.getRules)
	mux.HandleFunc("PUT /rules", s.putRules)
	mux.HandleFunc("POST /rules/preview", s.previewRules)

	// Backup
	mux.HandleFunc("GET /backup", s.backupHealth)
	mux.HandleFunc("POST /backup/run", s.runBackup)
	mux.HandleFunc("PUT /backup/auto", s.setAutoBackup)

	mux.HandleFunc("GET /events", s.events)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s.instrument(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.logger.Info("starting calmplan daemon", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach Flush and deadlines.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		telemetry.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrTaskNotFound), errors.Is(err, ErrClientNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrClientExists):
		status = http.StatusConflict
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrUnknownStep):
		status = http.StatusBadRequest
	case errors.Is(err, ErrBackupDisabled):
		status = http.StatusServiceUnavailable
	default:
		s.logger.Error("request failed", "error", err)
	}
	http.Error(w, err.Error(), status)
}

// --- Health ---

// HealthResponse is the /health payload.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Backup  string `json:"backup,omitempty"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{OK: true, DB: "ok", Version: s.version, Time: time.Now().UTC().Format(time.RFC3339)}
	if err := s.service.Ping(r.Context()); err != nil {
		resp.OK = false
		resp.DB = err.Error()
	}
	if h, err := s.service.BackupHealth(); err == nil {
		resp.Backup = string(h.Status)
	}
	status := http.StatusOK
	if !resp.OK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// --- Task Handlers ---

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tasks := s.service.ListTasks(TaskQuery{Client: q.Get("client"), Month: q.Get("month"), Status: q.Get("status")})
	if tasks == nil {
		tasks = []models.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	task, err := s.service.CreateTask(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.service.GetTask(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// writeOutcome renders a cascade outcome. A rolled back update is a
// server error but still reports the restored task.
func (s *Server) writeOutcome(w http.ResponseWriter, out any, rolledBack bool) {
	status := http.StatusOK
	if rolledBack {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, out)
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	var patch models.TaskPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	out, err := s.service.UpdateTask(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeOutcome(w, out, out.RolledBack)
}

func (s *Server) toggleStep(w http.ResponseWriter, r *http.Request) {
	out, err := s.service.ToggleStep(r.Context(), r.PathValue("id"), r.PathValue("key"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeOutcome(w, out, out.RolledBack)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteTask(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) insights(w http.ResponseWriter, r *http.Request) {
	insights, err := s.service.Insights(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if insights == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, insights)
}

// --- Client Handlers ---

func (s *Server) listClients(w http.ResponseWriter, r *http.Request) {
	clients, err := s.service.ListClients(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if clients == nil {
		clients = []models.Client{}
	}
	writeJSON(w, http.StatusOK, clients)
}

func (s *Server) createClient(w http.ResponseWriter, r *http.Request) {
	var c models.Client
	if !decodeJSON(w, r, &c) {
		return
	}
	c.Active = true
	res, err := s.service.CreateClient(r.Context(), c)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type addServiceRequest struct {
	Service string `json:"service"`
}

func (s *Server) addClientService(w http.ResponseWriter, r *http.Request) {
	var req addServiceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.service.AddClientService(r.Context(), r.PathValue("name"), req.Service)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) clientNode(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.ClientNode(r.PathValue("name")))
}

// --- Templates ---

func (s *Server) listTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Templates())
}

func (s *Server) getTemplate(w http.ResponseWriter, r *http.Request) {
	t, ok := s.service.Template(r.PathValue("category"))
	if !ok {
		http.Error(w, "template not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// --- Rules ---

func (s *Server) getRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Rules(r.Context()))
}

func (s *Server) putRules(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rules automation.RuleSet `json:"rules"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid rules: %v", err), http.StatusBadRequest)
		return
	}
	resp, err := s.service.SaveRules(r.Context(), req.Rules)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) previewRules(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.service.PreviewRules(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Backup ---

func (s *Server) backupHealth(w http.ResponseWriter, r *http.Request) {
	h, err := s.service.BackupHealth()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) runBackup(w http.ResponseWriter, r *http.Request) {
	h, err := s.service.RunBackup(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

type autoBackupRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) setAutoBackup(w http.ResponseWriter, r *http.Request) {
	var req autoBackupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h, err := s.service.SetAutoBackup(r.Context(), req.Enabled)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

// --- Events ---

// events streams debounced change notifications as server-sent events.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	bus := s.service.Bus()
	if bus == nil {
		http.Error(w, "events unavailable", http.StatusServiceUnavailable)
		return
	}

	rc := http.NewResponseController(w)
	// Streams outlive the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	sub, cancel := bus.Subscribe(32)
	defer cancel()
	debounced := notify.Debounce(sub, s.debounce)

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-debounced:
			if !ok {
				return
			}
			data, _ := json.Marshal(e)
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Collection, data); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
