package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/tazhate/packreminder/internal/domain"
	"github.com/tazhate/packreminder/internal/service"
)

// API Response types
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type ReminderResponse struct {
	ListID       string                `json:"list_id"`
	Title        string                `json:"title"`
	Body         string                `json:"body,omitempty"`
	BaseDateTime string                `json:"base_date_time"`
	Rule         domain.RecurrenceRule `json:"rule"`
	Type         string                `json:"type"`
	AlertIDs     []string              `json:"alert_ids"`
	UpdatedAt    string                `json:"updated_at"`
}

type AlertResponse struct {
	AlertID string `json:"alert_id"`
	ListID  string `json:"list_id"`
	FiresAt string `json:"fires_at"`
	Kind    string `json:"kind"`
}

type ScheduleResponse struct {
	ListID       string        `json:"list_id"`
	PrimaryAlert string        `json:"primary_alert_id,omitempty"`
	Armed        int           `json:"armed"`
	Failed       []FailureInfo `json:"failed,omitempty"`
}

type FailureInfo struct {
	FiresAt string `json:"fires_at"`
	Kind    string `json:"kind"`
	Error   string `json:"error"`
}

type Options struct {
	Port     string
	Username string
	Password string
}

type Server struct {
	opts      Options
	reminders *service.ReminderService
	mux       *http.ServeMux
	server    *http.Server
}

func New(opts Options, reminderSvc *service.ReminderService) *Server {
	s := &Server{
		opts:      opts,
		reminders: reminderSvc,
		mux:       http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	// Health check endpoint
	s.mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	s.mux.HandleFunc("/api/reminders", s.basicAuth(s.apiReminders))
	s.mux.HandleFunc("/api/reminder/", s.basicAuth(s.apiReminder))
	s.mux.HandleFunc("/api/restore", s.basicAuth(s.apiRestore))
	s.mux.HandleFunc("/api/alerts", s.basicAuth(s.apiAlerts))
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              ":" + s.opts.Port,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting API server on :%s", s.opts.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// basicAuth middleware. Without configured credentials the API is open.
func (s *Server) basicAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Username == "" && s.opts.Password == "" {
			next(w, r)
			return
		}
		username, password, ok := r.BasicAuth()
		if !ok || username != s.opts.Username || password != s.opts.Password {
			w.Header().Set("WWW-Authenticate", `Basic realm="PackReminder API"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(APIResponse{Success: true, Data: data})
}

func (s *Server) jsonError(w http.ResponseWriter, err string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{Success: false, Error: err})
}

// GET /api/reminders - list persisted reminders
// POST /api/reminders - schedule a reminder
func (s *Server) apiReminders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		indexes, err := s.reminders.List(r.Context())
		if err != nil {
			s.jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		out := make([]ReminderResponse, 0, len(indexes))
		for _, idx := range indexes {
			out = append(out, reminderToResponse(idx))
		}
		s.jsonResponse(w, out)

	case http.MethodPost:
		var spec domain.ReminderSpec
		if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
			s.jsonError(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
		s.schedule(w, r, spec, false)

	default:
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// GET|PUT|DELETE /api/reminder/{listId}
func (s *Server) apiReminder(w http.ResponseWriter, r *http.Request) {
	listID := strings.TrimPrefix(r.URL.Path, "/api/reminder/")
	if listID == "" {
		s.jsonError(w, "List ID required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		idx, err := s.reminders.Get(r.Context(), listID)
		if err != nil {
			s.jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if idx == nil {
			s.jsonError(w, "Reminder not found", http.StatusNotFound)
			return
		}
		s.jsonResponse(w, reminderToResponse(idx))

	case http.MethodPut:
		var spec domain.ReminderSpec
		if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
			s.jsonError(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
		spec.ListID = listID
		s.schedule(w, r, spec, true)

	case http.MethodDelete:
		if err := s.reminders.CancelReminders(r.Context(), listID); err != nil {
			s.jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.jsonResponse(w, map[string]string{"message": "Reminders cancelled"})

	default:
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) schedule(w http.ResponseWriter, r *http.Request, spec domain.ReminderSpec, update bool) {
	if !s.reminders.Enabled() && spec.Active() {
		s.jsonError(w, service.ErrNotificationsDisabled.Error(), http.StatusConflict)
		return
	}

	var res *service.BatchResult
	var err error
	if update {
		res, err = s.reminders.Edit(r.Context(), spec)
	} else {
		res, err = s.reminders.Update(r.Context(), spec)
	}
	switch {
	case errors.Is(err, service.ErrInvalidSpec):
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, service.ErrNothingArmed):
		s.jsonError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	case err != nil:
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := ScheduleResponse{
		ListID:       spec.ListID,
		PrimaryAlert: res.PrimaryAlertID(),
		Armed:        len(res.Armed),
	}
	for _, f := range res.Failed {
		resp.Failed = append(resp.Failed, FailureInfo{
			FiresAt: f.FiresAt.Format(time.RFC3339),
			Kind:    string(f.Kind),
			Error:   f.Err.Error(),
		})
	}
	s.jsonResponse(w, resp)
}

// POST /api/restore - run the resume restore pass
func (s *Server) apiRestore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.jsonResponse(w, s.reminders.RestoreOnResume(r.Context()))
}

// GET /api/alerts - live armed alerts
func (s *Server) apiAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	armed, err := s.reminders.Armed(r.Context())
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]AlertResponse, 0, len(armed))
	for _, a := range armed {
		out = append(out, AlertResponse{
			AlertID: a.AlertID,
			ListID:  a.ListID,
			FiresAt: a.FiresAt.Format(time.RFC3339),
			Kind:    string(a.Kind),
		})
	}
	s.jsonResponse(w, out)
}

func reminderToResponse(idx *domain.PersistedIndex) ReminderResponse {
	return ReminderResponse{
		ListID:       idx.ListID,
		Title:        idx.Spec.Title,
		Body:         idx.Spec.Body,
		BaseDateTime: idx.Spec.BaseDateTime.Format(time.RFC3339),
		Rule:         idx.Spec.Rule,
		Type:         string(idx.Spec.Type),
		AlertIDs:     idx.AlertIDs,
		UpdatedAt:    idx.UpdatedAt.Format(time.RFC3339),
	}
}
