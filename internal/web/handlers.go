package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/user/circuitdiag/internal/daemon"
	"github.com/user/circuitdiag/internal/diagnose"
	"github.com/user/circuitdiag/internal/model"
	"github.com/user/circuitdiag/internal/report"
	"github.com/user/circuitdiag/internal/storage"
	"github.com/user/circuitdiag/internal/util"
)

// Handlers contains HTTP handlers.
type Handlers struct {
	db        *storage.DB
	config    *util.Config
	engine    *diagnose.Engine
	diagnoses *storage.DiagnosisStorage
	hub       *Hub

	// ctx bounds asynchronous diagnoses; wg tracks them.
	ctx      context.Context
	wg       sync.WaitGroup
	mu       sync.Mutex
	inflight map[string]bool
	log      *slog.Logger
}

// NewHandlers creates new handlers. Asynchronous diagnoses are
// cancelled when ctx is done.
func NewHandlers(ctx context.Context, db *storage.DB, cfg *util.Config, engine *diagnose.Engine, hub *Hub) *Handlers {
	return &Handlers{
		db:        db,
		config:    cfg,
		engine:    engine,
		diagnoses: storage.NewDiagnosisStorage(db),
		hub:       hub,
		ctx:       ctx,
		inflight:  make(map[string]bool),
		log:       util.Component("web"),
	}
}

type diagnoseRequest struct {
	ServiceID     string `json:"service_id"`
	LookbackHours int    `json:"lookback_hours,omitempty"`
	Wait          bool   `json:"wait,omitempty"`
}

// Dashboard serves the main dashboard page.
func (h *Handlers) Dashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	data := map[string]any{}
	running, pid := daemon.CheckRunning(h.config.DataDir)
	data["daemon_running"] = running
	data["daemon_pid"] = pid
	if services, err := h.diagnoses.Services(); err == nil {
		data["services"] = services
	} else {
		data["services"] = []string{}
	}
	if diagnoses, err := h.diagnoses.List("", time.Now().Add(-24*time.Hour), 50); err == nil {
		data["diagnoses"] = diagnoses
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := getDashboardTemplate().Execute(w, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// APIDiagnose starts a diagnosis. With "wait" it responds with the
// stored diagnosis; otherwise it responds 202 and progress is streamed
// on /ws/progress.
func (h *Handlers) APIDiagnose(w http.ResponseWriter, r *http.Request) {
	var req diagnoseRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("invalid request body: %w", err), http.StatusBadRequest)
		return
	}
	if req.ServiceID == "" {
		writeError(w, errors.New("service_id is required"), http.StatusBadRequest)
		return
	}
	if !h.claim(req.ServiceID) {
		writeError(w, fmt.Errorf("diagnosis of %s already running", req.ServiceID), http.StatusConflict)
		return
	}

	if req.Wait {
		defer h.release(req.ServiceID)
		d, err := h.run(r.Context(), req)
		if err != nil {
			writeError(w, err, http.StatusInternalServerError)
			return
		}
		writeJSON(w, d)
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer h.release(req.ServiceID)
		if _, err := h.run(h.ctx, req); err != nil {
			h.log.Warn("diagnosis failed", "service", req.ServiceID, "error", err)
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"service_id": req.ServiceID, "status": "accepted"})
}

func (h *Handlers) run(ctx context.Context, req diagnoseRequest) (*model.Diagnosis, error) {
	d, err := h.engine.Observe(h.hub.Observer(req.ServiceID)).Diagnose(ctx, req.ServiceID, req.LookbackHours)
	if err != nil {
		h.hub.Publish(Event{ServiceID: req.ServiceID, Percent: 100, Message: "diagnosis failed", Done: true, Error: err.Error()})
		return nil, err
	}
	if err := h.diagnoses.Save(&d); err != nil {
		h.hub.Publish(Event{ServiceID: req.ServiceID, Percent: 100, Message: "diagnosis not stored", Done: true, Error: err.Error()})
		return nil, err
	}
	h.hub.Publish(Event{
		ServiceID:   req.ServiceID,
		Percent:     100,
		Message:     fmt.Sprintf("%s: %s", d.Responsibility, d.Reason),
		Done:        true,
		DiagnosisID: d.ID,
	})
	return &d, nil
}

func (h *Handlers) claim(serviceID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.inflight[serviceID] {
		return false
	}
	h.inflight[serviceID] = true
	return true
}

func (h *Handlers) release(serviceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.inflight, serviceID)
}

func (h *Handlers) running() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.inflight))
	for id := range h.inflight {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Wait blocks until asynchronous diagnoses have returned.
func (h *Handlers) Wait() {
	h.wg.Wait()
}

// APIGetDiagnoses lists stored diagnoses without evidence.
func (h *Handlers) APIGetDiagnoses(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-24 * time.Hour)
	if s := r.URL.Query().Get("since"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			writeError(w, fmt.Errorf("invalid since: %w", err), http.StatusBadRequest)
			return
		}
		since = time.Now().Add(-d)
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	diagnoses, err := h.diagnoses.List(r.URL.Query().Get("service"), since, limit)
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	if diagnoses == nil {
		diagnoses = []model.Diagnosis{}
	}
	writeJSON(w, diagnoses)
}

// APIGetDiagnosis returns one diagnosis with its evidence.
func (h *Handlers) APIGetDiagnosis(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, fmt.Errorf("invalid diagnosis id %q", r.PathValue("id")), http.StatusBadRequest)
		return
	}

	d, err := h.diagnoses.Get(id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, err, http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, d)
}

// APIGetStatus returns daemon and server status.
func (h *Handlers) APIGetStatus(w http.ResponseWriter, r *http.Request) {
	running, pid := daemon.CheckRunning(h.config.DataDir)

	status := map[string]any{
		"running":   running,
		"pid":       pid,
		"in_flight": h.running(),
	}
	if ds, err := daemon.ReadStatusFile(h.config.DataDir); err == nil {
		status["daemon"] = ds
	}
	if services, err := h.diagnoses.Services(); err == nil {
		status["services"] = services
	}

	writeJSON(w, status)
}

// DownloadReport generates and downloads a markdown report for one
// service.
func (h *Handlers) DownloadReport(w http.ResponseWriter, r *http.Request) {
	data, err := h.generate(r)
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=circuitdiag_%s.md", data.ServiceID))
	w.Write([]byte(report.FormatMarkdown(data)))
}

// HistoryChart renders the recorded history of a service as a PNG.
func (h *Handlers) HistoryChart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	q.Set("service", r.PathValue("id"))
	r.URL.RawQuery = q.Encode()

	data, err := h.generate(r)
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	if err := report.RenderHistoryChart(w, data); err != nil {
		if errors.Is(err, report.ErrNoChartData) {
			writeError(w, err, http.StatusNotFound)
			return
		}
		writeError(w, err, http.StatusInternalServerError)
	}
}

func (h *Handlers) generate(r *http.Request) (*report.ReportData, error) {
	service := r.URL.Query().Get("service")
	if service == "" {
		return nil, errors.New("service is required")
	}
	last := 24 * time.Hour
	if s := r.URL.Query().Get("last"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("invalid last: %w", err)
		}
		last = d
	}

	gen := report.NewGenerator(h.db, h.config)
	return gen.Generate(model.ReportOptions{
		ServiceID: service,
		Since:     time.Now().Add(-last),
		Until:     time.Now(),
	})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
