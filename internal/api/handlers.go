package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/sdcp-bridge/sdcp-bridge/internal/auth"
	"github.com/sdcp-bridge/sdcp-bridge/internal/command"
	"github.com/sdcp-bridge/sdcp-bridge/internal/models"
	"github.com/sdcp-bridge/sdcp-bridge/internal/session"
	"github.com/sdcp-bridge/sdcp-bridge/internal/storage"
)

const maxBody = 64 << 10

// ========== Auth handlers ==========

// HandleLogin exchanges the admin credentials for an access token
func (s *RESTServer) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.auth.Enabled() {
		s.respondError(w, http.StatusNotFound, "authentication is disabled")
		return
	}

	var req struct {
		Username string `json:"username" validate:"required,max=64"`
		Password string `json:"password" validate:"required,max=256"`
	}

	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, expires, err := s.auth.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			log.Warn().Str("username", req.Username).Msg("Rejected login")
			s.respondError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		s.respondError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_at":   expires,
		"expires_in":   int(time.Until(expires).Seconds()),
	})
}

// ========== Status handlers ==========

// HandleHealth health check
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"time":    time.Now(),
		"printer": s.printer.State().String(),
	})
}

// HandleStatus returns the connection state and the latest snapshot
func (s *RESTServer) HandleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.printer.State()
	resp := map[string]interface{}{
		"state":     st.String(),
		"connected": st == session.StateConnected,
		"snapshot":  nil,
	}

	if at := s.printer.LastFrameAt(); !at.IsZero() {
		resp["last_frame_at"] = at
	}
	if snap, ok := s.printer.Snapshot(); ok {
		resp["snapshot"] = snap
	}

	s.respondJSON(w, http.StatusOK, resp)
}

// HandleAlerts returns every alert flag with the counter
func (s *RESTServer) HandleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts := s.printer.Alerts()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":      alerts.Count(),
		"last_alert": alerts.LastAlert(),
		"alerts":     alerts.Records(),
	})
}

// HandleAlertHistory lists stored events
func (s *RESTServer) HandleAlertHistory(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.respondError(w, http.StatusNotFound, "event history is disabled")
		return
	}

	filters, limit, offset, err := parseHistoryQuery(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, total, err := s.events.ListEvents(r.Context(), filters, limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list events")
		s.respondError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []*models.PrinterEvent{}
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"total":  total,
		"limit":  limit,
		"offset": offset,
		"events": events,
	})
}

func parseHistoryQuery(r *http.Request) (storage.EventFilters, int, int, error) {
	q := r.URL.Query()
	var f storage.EventFilters

	if v := q.Get("type"); v != "" {
		t := models.EventType(v)
		f.Type = &t
	}
	if v := q.Get("level"); v != "" {
		l := models.EventLevel(v)
		f.Level = &l
	}
	if v := q.Get("kind"); v != "" {
		k := models.AlertKind(v)
		if !k.Valid() {
			return f, 0, 0, errors.New("unknown alert kind " + strconv.Quote(v))
		}
		f.Kind = &k
	}
	if v := q.Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, 0, 0, errors.New("active must be a boolean")
		}
		f.Active = &b
	}
	for name, dst := range map[string]**time.Time{"start": &f.StartTime, "end": &f.EndTime} {
		if v := q.Get(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return f, 0, 0, errors.New(name + " must be an RFC 3339 time")
			}
			*dst = &t
		}
	}

	limit, err := intParam(q.Get("limit"), 50)
	if err != nil || limit < 1 || limit > 500 {
		return f, 0, 0, errors.New("limit must be between 1 and 500")
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		return f, 0, 0, errors.New("offset must not be negative")
	}

	return f, limit, offset, nil
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// ========== Control handlers ==========

// HandleControl runs a named action. The optional body is a trigger
// payload: empty or true runs the action, a JSON string passes an argument.
func (s *RESTServer) HandleControl(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	arg, fire := command.ParseTrigger(body)
	if !fire {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "fired": false})
		return
	}

	s.runControl(w, r, action, func() error {
		return s.control.Execute(r.Context(), action, arg)
	})
}

// HandleSetFan sets one fan's speed
func (s *RESTServer) HandleSetFan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Fan   string `json:"fan" validate:"required,oneof=model auxiliary box"`
		Speed *int   `json:"speed" validate:"required,min=0,max=100"`
	}

	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validator.Validate(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.runControl(w, r, "set_fan", func() error {
		return s.control.SetFan(r.Context(), req.Fan, *req.Speed)
	})
}

// HandleSetPrintFile stores the file StartPrint falls back to
func (s *RESTServer) HandleSetPrintFile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filename string `json:"filename" validate:"max=255"`
	}

	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validator.Validate(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.runControl(w, r, "print_file", func() error {
		return s.control.SetPrintFile(r.Context(), req.Filename)
	})
}

func (s *RESTServer) runControl(w http.ResponseWriter, r *http.Request, action string, run func() error) {
	ev := log.Info().Str("action", action).Str("request_id", middleware.GetReqID(r.Context()))
	if c := claimsFrom(r.Context()); c != nil {
		ev = ev.Str("user", c.Username)
	}
	ev.Msg("Control request")

	if err := run(); err != nil {
		s.respondError(w, controlStatus(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]interface{}{"ok": true, "action": action})
}

func controlStatus(err error) int {
	switch {
	case errors.Is(err, command.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, command.ErrUnknownAction):
		return http.StatusNotFound
	case errors.Is(err, command.ErrNoFilename), errors.Is(err, command.ErrInvalidFan):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// respondJSON responds with JSON
func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

// respondError responds with error
func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}
